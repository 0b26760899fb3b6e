package quiz

import (
	"regexp"
	"strings"

	"github.com/abhisek/notebrief/internal/state"
)

var (
	topicMarkerRegex = regexp.MustCompile(`<!--\s*topic_key:\s*(.+?)\s*-->\s*\n\s*###\s*(.+)`)
	anyMarkerRegex   = regexp.MustCompile(`<!--\s*topic_key:\s*(.+?)\s*-->`)
	questionTitle    = regexp.MustCompile(`^Q[12]\b`)
	q1Heading        = regexp.MustCompile(`(?i)^\s*(?:#{1,4}\s+)?(?:\*\*)?Q1\b`)
	q2Heading        = regexp.MustCompile(`(?i)^\s*(?:#{1,4}\s+)?(?:\*\*)?Q2\b`)
	resultsHeading   = regexp.MustCompile(`(?m)^## .*Quiz Results`)
)

const (
	learningMark = "📘"
	reviewMark   = "📗"
)

// Topic is one quiz block found in a generated briefing.
type Topic struct {
	Key     string
	Title   string
	Pattern state.Pattern
	Q1      string
	Q2      string
}

// ExtractTopics finds every "<!-- topic_key: path#section -->" marker that
// is followed by a "###" heading. Markers placed on "### Q1"/"### Q2"
// headings belong to the enclosing topic and are skipped. The pattern is
// read from the nearest preceding learning/review mark, or fallback.
func ExtractTopics(markdown string, fallback state.Pattern) []Topic {
	all := topicMarkerRegex.FindAllStringSubmatchIndex(markdown, -1)

	type match struct {
		start, end int
		key, title string
	}
	var topics []match
	for _, m := range all {
		title := strings.TrimSpace(markdown[m[4]:m[5]])
		if questionTitle.MatchString(title) {
			continue
		}
		topics = append(topics, match{
			start: m[0],
			end:   m[1],
			key:   strings.TrimSpace(markdown[m[2]:m[3]]),
			title: title,
		})
	}

	out := make([]Topic, 0, len(topics))
	seen := make(map[string]bool)
	for i, m := range topics {
		if seen[m.key] {
			continue
		}
		seen[m.key] = true

		blockEnd := len(markdown)
		if i+1 < len(topics) {
			blockEnd = topics[i+1].start
		}
		block := cutResults(markdown[m.end:blockEnd])
		q1, q2 := splitQuestions(block)

		out = append(out, Topic{
			Key:     m.key,
			Title:   m.title,
			Pattern: patternBefore(markdown[:m.start], fallback),
			Q1:      q1,
			Q2:      q2,
		})
	}
	return out
}

// ExtractQuestions returns the Q1 and Q2 text of the block that belongs to
// topicKey. ok is false when the marker is missing.
func ExtractQuestions(markdown, topicKey string) (q1, q2 string, ok bool) {
	var start = -1
	for _, m := range anyMarkerRegex.FindAllStringSubmatchIndex(markdown, -1) {
		if strings.TrimSpace(markdown[m[2]:m[3]]) == topicKey {
			start = m[1]
			break
		}
	}
	if start < 0 {
		return "", "", false
	}

	section := cutResults(markdown[start:])

	// The block ends at the next marker that does not sit on a Q1/Q2 heading.
	pos := 0
	for {
		loc := anyMarkerRegex.FindStringIndex(section[pos:])
		if loc == nil {
			break
		}
		after := strings.TrimLeft(section[pos+loc[1]:], " \t\r\n")
		after = strings.TrimLeft(after, "# ")
		if questionTitle.MatchString(after) {
			pos += loc[1]
			continue
		}
		section = section[:pos+loc[0]]
		break
	}

	q1, q2 = splitQuestions(section)
	return q1, q2, true
}

func cutResults(block string) string {
	if loc := resultsHeading.FindStringIndex(block); loc != nil {
		return block[:loc[0]]
	}
	return block
}

// splitQuestions pulls the Q1 section (heading through the line before Q2)
// and the Q2 section (heading through the next horizontal rule).
func splitQuestions(block string) (q1, q2 string) {
	var (
		cur      *[]string
		q1Lines  []string
		q2Lines  []string
		finished bool
	)
	for _, line := range strings.Split(block, "\n") {
		if finished {
			break
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case anyMarkerRegex.MatchString(trimmed) && strings.HasPrefix(trimmed, "<!--"):
			continue
		case q1Heading.MatchString(line) && q1Lines == nil:
			cur = &q1Lines
		case q2Heading.MatchString(line) && q2Lines == nil:
			cur = &q2Lines
		case trimmed == "---" && cur == &q2Lines:
			finished = true
			continue
		}
		if cur != nil {
			*cur = append(*cur, strings.TrimPrefix(strings.TrimPrefix(line, ">"), " "))
		}
	}
	return strings.TrimSpace(strings.Join(q1Lines, "\n")), strings.TrimSpace(strings.Join(q2Lines, "\n"))
}

func patternBefore(preceding string, fallback state.Pattern) state.Pattern {
	l := strings.LastIndex(preceding, learningMark)
	r := strings.LastIndex(preceding, reviewMark)
	switch {
	case l < 0 && r < 0:
		return fallback
	case l > r:
		return state.PatternLearning
	}
	return state.PatternReview
}
