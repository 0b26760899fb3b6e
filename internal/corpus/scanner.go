package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Config controls which files the scanner picks up.
type Config struct {
	Folders      []string
	Extensions   []string // e.g. ".md"; matched case-insensitively
	OutputFolder string   // directory name skipped during the walk
	Logger       zerolog.Logger
}

// Scanner walks the input folders over an afero filesystem.
type Scanner struct {
	fs     afero.Fs
	cfg    Config
	exts   map[string]bool
	logger zerolog.Logger
}

// NewScanner creates a scanner. Extensions default to ".md".
func NewScanner(fsys afero.Fs, cfg Config) *Scanner {
	exts := make(map[string]bool)
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	if len(exts) == 0 {
		exts[".md"] = true
	}
	return &Scanner{fs: fsys, cfg: cfg, exts: exts, logger: cfg.Logger}
}

// Scan returns every matching note, sorted by ID. Unreadable files and
// missing folders are logged and skipped. Only context cancellation fails
// the scan.
func (s *Scanner) Scan(ctx context.Context) ([]Item, error) {
	seen := make(map[string]string)
	var items []Item

	for _, root := range s.cfg.Folders {
		found, err := s.scanFolder(ctx, root)
		if err != nil {
			return nil, err
		}
		for _, it := range found {
			if prev, dup := seen[it.ID]; dup {
				s.logger.Warn().
					Str("item_id", it.ID).
					Str("kept", prev).
					Str("skipped", it.Path).
					Msg("duplicate note id across input folders")
				continue
			}
			seen[it.ID] = it.Path
			items = append(items, it)
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	s.logger.Debug().Int("items", len(items)).Msg("corpus scanned")
	return items, nil
}

func (s *Scanner) scanFolder(ctx context.Context, root string) ([]Item, error) {
	info, err := s.fs.Stat(root)
	if err != nil || !info.IsDir() {
		s.logger.Warn().Str("folder", root).Msg("input folder missing or not a directory")
		return nil, nil
	}

	var items []Item
	walkErr := afero.Walk(s.fs, root, func(p string, fi fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("path", p).Msg("walk error")
			if fi != nil && fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.IsDir() {
			if p != root && s.skipDir(fi.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.exts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}

		it, err := s.readItem(root, p, fi)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", p).Msg("skipping unreadable note")
			return nil
		}
		items = append(items, it)
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, walkErr
		}
		s.logger.Warn().Err(walkErr).Str("folder", root).Msg("folder scan aborted")
	}
	return items, nil
}

func (s *Scanner) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return s.cfg.OutputFolder != "" && strings.HasPrefix(name, s.cfg.OutputFolder)
}

func (s *Scanner) readItem(root, p string, fi fs.FileInfo) (Item, error) {
	raw, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return Item{}, fmt.Errorf("read %s: %w", p, err)
	}

	rel, err := filepath.Rel(root, p)
	if err != nil {
		rel = fi.Name()
	}

	it := Item{
		ID:         filepath.ToSlash(rel),
		Path:       p,
		Root:       root,
		ModifiedAt: fi.ModTime(),
		Size:       fi.Size(),
	}

	meta, body := splitFrontmatter(raw)
	if err := parseMeta(meta, &it); err != nil {
		s.logger.Warn().Err(err).Str("path", p).Msg("ignoring malformed frontmatter")
	}
	it.UncheckedCount, it.CheckedCount = countCheckboxes(body)
	return it, nil
}

// ReadContent returns the note body without its frontmatter.
func (s *Scanner) ReadContent(it Item) (string, error) {
	raw, err := afero.ReadFile(s.fs, it.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", it.ID, err)
	}
	_, body := splitFrontmatter(raw)
	return string(body), nil
}

// Resolve finds the file a topic key or item id points at. Topic keys have
// the form "<item id>#<section>"; the section is ignored here.
func (s *Scanner) Resolve(key string) (string, bool) {
	id, _, _ := strings.Cut(key, "#")
	id = path.Clean(strings.TrimPrefix(id, "/"))
	if id == "." || strings.HasPrefix(id, "..") {
		return "", false
	}
	for _, root := range s.cfg.Folders {
		p := filepath.Join(root, filepath.FromSlash(id))
		if fi, err := s.fs.Stat(p); err == nil && !fi.IsDir() {
			return p, true
		}
	}
	return "", false
}
