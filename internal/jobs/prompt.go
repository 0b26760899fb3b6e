package jobs

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/abhisek/notebrief/internal/corpus"
	"github.com/abhisek/notebrief/internal/spacedrep"
	"github.com/abhisek/notebrief/internal/state"
)

const newsSystemPrompt = `You are a personal daily briefing agent.
Read the user's Markdown notes below and, for the topics they cover, summarize the latest news, technical updates, blog posts and release notes you know of.
Always include source URLs.

## Output rules
- Markdown, with a ## heading per section.
- Omit sections with nothing to say.
- Keep it readable in five minutes.
- Return JSON: {"markdown": "<the briefing>"}.`

const quizSystemTemplate = `You are a personal daily briefing agent.
Read the user's Markdown notes below and write a review quiz, taking each note's last modification date into account.

## Quiz rules
- Exactly one topic per run: Q1 and Q2, two questions in total.
- Pattern for this run: **%s**
%s
- If no note fits this pattern, use the other one.

## topic_key rules
- Directly before the topic heading (the ### line) insert an HTML comment:
  <!-- topic_key: {relative path of source file}#{section identifier} -->
- Use the relative path exactly as listed under "File List and Metadata".
- The section identifier is a short lowercase-and-hyphen slug, e.g. hosting-plans.
- Example: <!-- topic_key: learning/azure-functions.md#hosting-plans -->

## Output rules
- Markdown, with a ## heading per section.
- Do NOT include the Q1 answer, its explanation, or a model answer for Q2. Answers are scored separately.
- Keep it readable in five minutes.
- Return JSON: {"markdown": "<the quiz>"}.`

const learningInstruction = `- Pick one topic from notes updated in the last one to two weeks.
  Start with a "💡 Key Points Reminder", then ask Q1 (multiple choice, four options) and Q2 (free text).
  Include applied scenarios or troubleshooting; difficulty moderately high.`

const reviewInstruction = `- Pick one topic from notes last updated more than a month ago.
  Start with a "💡 Key Points Reminder", then ask Q1 (multiple choice, four options) and Q2 (free text).
  Difficulty basic to moderate.`

const discoveryAppendix = `

## Discovery run
This run includes notes that are rarely reviewed. Prioritize new discoveries and forgotten topics.`

// PatternFor alternates quiz patterns: odd runs cover new material, even
// runs review.
func PatternFor(runIndex int) state.Pattern {
	if runIndex%2 == 1 {
		return state.PatternLearning
	}
	return state.PatternReview
}

func quizSystemPrompt(p state.Pattern) string {
	if p == state.PatternLearning {
		return fmt.Sprintf(quizSystemTemplate, "📘 Active learning", learningInstruction)
	}
	return fmt.Sprintf(quizSystemTemplate, "📗 Review", reviewInstruction)
}

func systemPrompt(base string, discovery bool) string {
	if discovery {
		return base + discoveryAppendix
	}
	return base
}

// Note is a selected item together with its body.
type Note struct {
	Item    corpus.Item
	Content string
}

type promptInput struct {
	Now      time.Time
	Folders  []string
	Notes    []Note
	Budget   int // max tokens for the file contents section
	Schedule *spacedrep.ScheduleSummary
}

func buildUserPrompt(in promptInput) (string, error) {
	var b strings.Builder
	b.WriteString("## Execution Info\n")
	fmt.Fprintf(&b, "- Current date/time: %s\n", in.Now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- Target folders: %s\n\n", strings.Join(in.Folders, ", "))

	b.WriteString("## File List and Metadata\n")
	b.WriteString(fileList(in.Notes))
	b.WriteString("\n\n## File Contents\n")
	b.WriteString(fileContents(in.Notes, in.Budget))
	b.WriteString("\n")

	if in.Schedule == nil {
		b.WriteString("\nBased on the notes above, write today's briefing.\n")
		return b.String(), nil
	}

	sched, err := json.MarshalIndent(in.Schedule, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode schedule summary: %w", err)
	}
	b.WriteString("\n## Spaced Repetition Info\n")
	b.WriteString("Topics due for review, most overdue first:\n```json\n")
	b.Write(sched)
	b.WriteString("\n```\n\nBased on the notes above, write today's review quiz. Prefer topics that are due.\n")
	return b.String(), nil
}

func fileList(notes []Note) string {
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		it := n.Item
		parts := []string{fmt.Sprintf("- **%s** (modified %s)", it.ID, it.ModifiedAt.Local().Format("2006-01-02 15:04"))}
		if it.Priority != "" {
			parts = append(parts, "  priority: "+string(it.Priority))
		}
		if it.HasDeadline() {
			parts = append(parts, "  deadline: "+it.Deadline.Format(time.DateOnly))
		}
		if len(it.Tags) > 0 {
			parts = append(parts, "  tags: "+strings.Join(it.Tags, ", "))
		}
		if it.UncheckedCount > 0 {
			parts = append(parts, fmt.Sprintf("  unchecked tasks: %d", it.UncheckedCount))
		}
		lines = append(lines, strings.Join(parts, "\n"))
	}
	return strings.Join(lines, "\n")
}

// charsPerToken is the rough size of one token.
const charsPerToken = 4

// minPartialTokens is the smallest remaining budget worth a truncated
// section.
const minPartialTokens = 200

const truncatedMarker = "\n\n(truncated)"

func estimateTokens(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// fileContents renders notes newest first until budget tokens are used.
// The note that overflows is cut proportionally when more than
// minPartialTokens remain; everything after it is dropped.
func fileContents(notes []Note, budget int) string {
	sorted := append([]Note(nil), notes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Item.ModifiedAt.After(sorted[j].Item.ModifiedAt)
	})

	var parts []string
	used := 0
	for _, n := range sorted {
		section := fmt.Sprintf("### %s\n\n%s\n", n.Item.ID, n.Content)
		tokens := estimateTokens(section)

		if budget > 0 && used+tokens > budget {
			remaining := budget - used
			if remaining > minPartialTokens {
				cut := len(section) * remaining / tokens
				parts = append(parts, truncateUTF8(section, cut)+truncatedMarker)
			}
			break
		}
		parts = append(parts, section)
		used += tokens
	}
	return strings.Join(parts, "\n---\n\n")
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
