package corpus

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	fmDelim        = []byte("---")
	uncheckedRegex = regexp.MustCompile(`- \[ \]`)
	checkedRegex   = regexp.MustCompile(`(?i)- \[x\]`)
)

// frontmatter holds the metadata keys notebrief understands. Unknown keys
// are ignored.
type frontmatter struct {
	Priority string    `yaml:"priority"`
	Deadline string    `yaml:"deadline"`
	Tags     yaml.Node `yaml:"tags"`
}

// splitFrontmatter separates a leading YAML block delimited by "---" lines
// from the body. A file without a well-formed block is all body.
func splitFrontmatter(raw []byte) (meta []byte, body []byte) {
	if !bytes.HasPrefix(raw, fmDelim) {
		return nil, raw
	}
	firstNL := bytes.IndexByte(raw, '\n')
	if firstNL < 0 || strings.TrimSpace(string(raw[:firstNL])) != "---" {
		return nil, raw
	}

	rest := raw[firstNL+1:]
	offset := 0
	for offset < len(rest) {
		nl := bytes.IndexByte(rest[offset:], '\n')
		var line []byte
		if nl < 0 {
			line = rest[offset:]
		} else {
			line = rest[offset : offset+nl]
		}
		if strings.TrimSpace(string(line)) == "---" {
			end := offset + len(line)
			if nl >= 0 {
				end++
			}
			return rest[:offset], rest[end:]
		}
		if nl < 0 {
			break
		}
		offset += nl + 1
	}
	return nil, raw
}

// parseMeta decodes the frontmatter into the item. Malformed YAML leaves the
// item untouched and is reported to the caller.
func parseMeta(meta []byte, it *Item) error {
	if len(bytes.TrimSpace(meta)) == 0 {
		return nil
	}
	var fm frontmatter
	if err := yaml.Unmarshal(meta, &fm); err != nil {
		return fmt.Errorf("parse frontmatter: %w", err)
	}

	switch p := Priority(strings.ToLower(strings.TrimSpace(fm.Priority))); p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		it.Priority = p
	}

	if d := strings.TrimSpace(fm.Deadline); d != "" {
		if t, err := time.ParseInLocation(time.DateOnly, d, time.Local); err == nil {
			it.Deadline = t
		}
	}

	it.Tags = decodeTags(&fm.Tags)
	return nil
}

// decodeTags accepts both a YAML list and a comma-separated string.
func decodeTags(n *yaml.Node) []string {
	switch n.Kind {
	case yaml.SequenceNode:
		var tags []string
		if err := n.Decode(&tags); err == nil {
			return compactTags(tags)
		}
	case yaml.ScalarNode:
		return compactTags(strings.Split(n.Value, ","))
	}
	return nil
}

func compactTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func countCheckboxes(body []byte) (unchecked, checked int) {
	return len(uncheckedRegex.FindAllIndex(body, -1)), len(checkedRegex.FindAllIndex(body, -1))
}
