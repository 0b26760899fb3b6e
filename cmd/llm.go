package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/notebrief/internal/llm"
	"github.com/abhisek/notebrief/internal/store"
	"github.com/abhisek/notebrief/internal/ui/theme"
)

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Inspect recorded LLM requests, token usage and cost",
}

var llmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent LLM requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		purpose, _ := cmd.Flags().GetString("purpose")

		s, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		events, err := s.EventRepo().QueryLLMEvents(cmd.Context(), purpose, store.QueryOpts{Limit: limit})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No LLM events found.")
			return nil
		}

		rows := make([][]string, 0, len(events))
		for _, e := range events {
			ok := theme.OK.Render("yes")
			if !e.Success {
				ok = theme.Failed.Render("no")
			}
			rows = append(rows, []string{
				strconv.Itoa(e.ID),
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				e.Purpose,
				truncate(e.Model, 28),
				strconv.Itoa(e.InputTokens),
				strconv.Itoa(e.OutputTokens),
				strconv.FormatInt(e.LatencyMs, 10),
				ok,
			})
		}
		fmt.Fprintln(out, theme.Table([]string{"ID", "Time", "Purpose", "Model", "In", "Out", "Ms", "OK"}, rows))
		return nil
	},
}

var llmViewCmd = &cobra.Command{
	Use:   "view <id>",
	Short: "Show the full prompt and response of one LLM request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid event id %q", args[0])
		}

		s, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		e, err := s.EventRepo().GetLLMEvent(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if e == nil {
			return fmt.Errorf("event %d not found", id)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, theme.Title.Render(fmt.Sprintf("LLM request #%d", e.ID)))
		fmt.Fprintln(out, theme.Row("time", e.Timestamp.Local().Format("2006-01-02 15:04:05")))
		fmt.Fprintln(out, theme.Row("provider", e.Provider))
		fmt.Fprintln(out, theme.Row("model", e.Model))
		fmt.Fprintln(out, theme.Row("purpose", e.Purpose))
		fmt.Fprintln(out, theme.Row("tokens", fmt.Sprintf("%d in / %d out", e.InputTokens, e.OutputTokens)))
		fmt.Fprintln(out, theme.Row("latency", fmt.Sprintf("%dms", e.LatencyMs)))
		if e.Success {
			fmt.Fprintln(out, theme.Row("result", theme.OK.Render("ok")))
		} else {
			fmt.Fprintln(out, theme.Row("result", theme.Failed.Render(e.ErrorMessage)))
		}

		printBody(out, "Request", e.RequestBody)
		printBody(out, "Response", e.ResponseBody)
		return nil
	},
}

var llmStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show token usage per purpose and estimated cost per model",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		byPurpose, err := s.EventRepo().LLMUsageByPurpose(ctx)
		if err != nil {
			return fmt.Errorf("query usage: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(byPurpose) == 0 {
			fmt.Fprintln(out, "No LLM usage recorded yet.")
			return nil
		}

		var calls, in, outTok int
		rows := make([][]string, 0, len(byPurpose)+1)
		for _, u := range byPurpose {
			rows = append(rows, []string{u.Purpose, strconv.Itoa(u.Calls), strconv.Itoa(u.InputTokens),
				strconv.Itoa(u.OutputTokens), strconv.FormatInt(u.AvgLatencyMs, 10)})
			calls += u.Calls
			in += u.InputTokens
			outTok += u.OutputTokens
		}
		rows = append(rows, []string{"total", strconv.Itoa(calls), strconv.Itoa(in), strconv.Itoa(outTok), ""})
		fmt.Fprintln(out, theme.Section.Render("Usage by purpose"))
		fmt.Fprintln(out, theme.Table([]string{"Purpose", "Calls", "Input", "Output", "Avg ms"}, rows))

		byModel, err := s.EventRepo().LLMUsageByModel(ctx)
		if err != nil {
			return fmt.Errorf("query model usage: %w", err)
		}
		if len(byModel) == 0 {
			return nil
		}

		var (
			total   float64
			unknown []string
		)
		rows = rows[:0]
		for _, u := range byModel {
			cost := "?"
			if c := llm.LookupCost(u.Model); c != nil {
				usd := c.Cost(u.InputTokens, u.OutputTokens)
				total += usd
				cost = formatCost(usd)
			} else {
				unknown = append(unknown, u.Model)
			}
			rows = append(rows, []string{truncate(u.Model, 32), strconv.Itoa(u.Calls),
				strconv.Itoa(u.InputTokens), strconv.Itoa(u.OutputTokens), cost})
		}
		label := "total"
		if len(unknown) > 0 {
			label = "total (partial)"
		}
		rows = append(rows, []string{label, "", "", "", formatCost(total)})
		fmt.Fprintln(out, theme.Section.Render("Estimated cost (USD)"))
		fmt.Fprintln(out, theme.Table([]string{"Model", "Calls", "Input", "Output", "Cost"}, rows))
		if len(unknown) > 0 {
			fmt.Fprintln(out, theme.Hint.Render("No pricing for: "+strings.Join(unknown, ", ")))
		}
		return nil
	},
}

func printBody(out io.Writer, title, body string) {
	fmt.Fprintln(out, theme.Section.Render(title))
	if body == "" {
		fmt.Fprintln(out, theme.Hint.Render("(not captured)"))
		return
	}
	fmt.Fprintln(out, body)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

func init() {
	llmListCmd.Flags().IntP("limit", "n", 20, "Number of events to show")
	llmListCmd.Flags().StringP("purpose", "p", "", "Only show one purpose ("+
		strings.Join([]string{llm.PurposeBriefing, llm.PurposeQuiz, llm.PurposeScoring}, ", ")+")")

	llmCmd.AddCommand(llmListCmd, llmViewCmd, llmStatsCmd)
}
