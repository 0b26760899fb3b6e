// Package output writes finished briefings to disk and announces them.
package output

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Kind distinguishes the two briefing families.
type Kind string

const (
	KindNews Kind = "news"
	KindQuiz Kind = "quiz"
)

// TimestampLayout is the time part of a briefing filename.
const TimestampLayout = "2006-01-02_150405"

// Artifact is a generated briefing ready to be written.
type Artifact struct {
	Kind      Kind
	Content   string
	CreatedAt time.Time
}

// Filename returns briefing_<kind>_<timestamp>.md in local time.
func (a Artifact) Filename() string {
	return fmt.Sprintf("briefing_%s_%s.md", a.Kind, a.CreatedAt.Local().Format(TimestampLayout))
}

// FileSink writes artifacts into one directory.
type FileSink struct {
	fs     afero.Fs
	dir    string
	logger zerolog.Logger
}

// NewFileSink creates a sink rooted at dir. The directory is created on
// first write.
func NewFileSink(fsys afero.Fs, dir string, logger zerolog.Logger) *FileSink {
	return &FileSink{fs: fsys, dir: dir, logger: logger}
}

// Dir returns the output directory.
func (s *FileSink) Dir() string { return s.dir }

// Write stores a atomically and returns its path. A name collision within
// the same second gets a numeric suffix rather than overwriting.
func (s *FileSink) Write(ctx context.Context, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("output: mkdir: %w", err)
	}

	target, err := s.freePath(a.Filename())
	if err != nil {
		return "", err
	}

	// Temp file in the same directory, then rename.
	tmp, err := afero.TempFile(s.fs, s.dir, ".briefing-*.tmp")
	if err != nil {
		return "", fmt.Errorf("output: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(a.Content); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return "", fmt.Errorf("output: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return "", fmt.Errorf("output: close temp: %w", err)
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		s.fs.Remove(tmpName)
		return "", fmt.Errorf("output: rename: %w", err)
	}

	s.logger.Info().Str("path", target).Str("kind", string(a.Kind)).Int("bytes", len(a.Content)).Msg("briefing written")
	return target, nil
}

func (s *FileSink) freePath(name string) (string, error) {
	base := filepath.Join(s.dir, name)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	candidate := base
	for i := 1; i < 100; i++ {
		_, err := s.fs.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("output: stat %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	return "", fmt.Errorf("output: no free filename for %s", name)
}

// Read returns the content of a previously written artifact.
func (s *FileSink) Read(ref string) (string, error) {
	b, err := afero.ReadFile(s.fs, ref)
	if err != nil {
		return "", fmt.Errorf("output: read %s: %w", ref, err)
	}
	return string(b), nil
}
