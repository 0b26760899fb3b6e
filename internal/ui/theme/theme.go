// Package theme holds the lipgloss styles used by CLI reports.
package theme

import (
	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

// Palette
var (
	Primary = lipgloss.Color("#8B5CF6")
	Accent  = lipgloss.Color("#F97316")
	Success = lipgloss.Color("#22C55E")
	Error   = lipgloss.Color("#F43F5E")
	TextDim = lipgloss.Color("#94A3B8")
	Border  = lipgloss.Color("#334155")
)

// Typography
var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Section = lipgloss.NewStyle().
		Bold(true).
		Foreground(Accent).
		MarginTop(1)

	Label = lipgloss.NewStyle().
		Foreground(TextDim).
		Width(16)

	Hint = lipgloss.NewStyle().
		Foreground(TextDim).
		Italic(true)
)

// Outcome colors
var (
	OK      = lipgloss.NewStyle().Foreground(Success)
	Failed  = lipgloss.NewStyle().Foreground(Error)
	Skipped = lipgloss.NewStyle().Foreground(TextDim)
)

// Card frames a block of report lines.
var Card = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Border).
	Padding(0, 1)

// Table cells
var (
	Header = lipgloss.NewStyle().Bold(true).Foreground(Primary).Padding(0, 1)
	Cell   = lipgloss.NewStyle().Padding(0, 1)
)

// Table renders rows under a header row.
func Table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Border)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Header
			}
			return Cell
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

// Outcome styles a job outcome word.
func Outcome(outcome string) string {
	switch outcome {
	case "ok":
		return OK.Render(outcome)
	case "failed":
		return Failed.Render(outcome)
	}
	return Skipped.Render(outcome)
}

// Row renders a label/value line.
func Row(label, value string) string {
	return Label.Render(label) + value
}
