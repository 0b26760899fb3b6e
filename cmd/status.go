package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/notebrief/internal/spacedrep"
	"github.com/abhisek/notebrief/internal/state"
	"github.com/abhisek/notebrief/internal/store"
	"github.com/abhisek/notebrief/internal/ui/theme"
)

const timeLayout = "2006-01-02 15:04"

var featureNames = map[state.Feature]string{
	state.FeatureA: "news briefing",
	state.FeatureB: "review quiz",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run counters, due topics, pending quizzes and upcoming runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, _ := cmd.Flags().GetInt("runs")

		s, cfg, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		st, err := s.StateRepo().Load(ctx)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		now := time.Now().In(cfg.Location())

		var b strings.Builder
		b.WriteString(theme.Title.Render("notebrief status") + "\n")

		b.WriteString(theme.Section.Render("Features") + "\n")
		schedules, schedErr := cfg.BuildSchedules()
		for _, f := range state.Features {
			c := st.Counters[f]
			last := "never"
			if !c.LastRunAt.IsZero() {
				last = c.LastRunAt.In(now.Location()).Format(timeLayout)
			}
			next := "unscheduled"
			if schedErr == nil {
				if t := schedules[f].Next(now); !t.IsZero() {
					next = t.Format(timeLayout)
				}
			}
			b.WriteString(theme.Row(featureNames[f], fmt.Sprintf("%d runs, last %s, next %s", c.RunCount, last, next)) + "\n")
		}
		if schedErr != nil {
			b.WriteString(theme.Hint.Render("schedules: "+schedErr.Error()) + "\n")
		}

		b.WriteString(theme.Section.Render("Topics") + "\n")
		due := spacedrep.DueTopics(st.Topics, now)
		b.WriteString(theme.Row("tracked", fmt.Sprintf("%d", len(st.Topics))) + "\n")
		b.WriteString(theme.Row("due", fmt.Sprintf("%d", len(due))) + "\n")
		for _, ts := range due {
			b.WriteString(theme.Hint.Render(fmt.Sprintf("  %s  L%d  %.1fd overdue", ts.TopicKey, spacedrep.ClampLevel(ts.Level), ts.OverdueDays(now))) + "\n")
		}

		b.WriteString(theme.Section.Render("Pending quizzes") + "\n")
		open := 0
		for _, q := range st.Pending {
			if q.Status != state.QuizOpen {
				continue
			}
			open++
			b.WriteString(theme.Row(string(q.Pattern), fmt.Sprintf("%s  due %s", q.TopicKey, q.Deadline.In(now.Location()).Format(timeLayout))) + "\n")
		}
		if open == 0 {
			b.WriteString(theme.Hint.Render("none") + "\n")
		}

		b.WriteString(theme.Section.Render("Recent runs") + "\n")
		history, err := s.EventRepo().QueryJobRuns(ctx, "", store.QueryOpts{Limit: runs})
		if err != nil {
			return fmt.Errorf("query job runs: %w", err)
		}
		if len(history) == 0 {
			b.WriteString(theme.Hint.Render("none") + "\n")
		}
		for _, r := range history {
			line := fmt.Sprintf("%-12s %-9s %s", r.Feature, r.Trigger, theme.Outcome(r.Outcome))
			if r.ErrorMessage != "" {
				line += "  " + theme.Hint.Render(truncate(r.ErrorMessage, 60))
			}
			b.WriteString(theme.Row(r.StartedAt.In(now.Location()).Format(timeLayout), line) + "\n")
		}

		fmt.Fprintln(cmd.OutOrStdout(), theme.Card.Render(strings.TrimRight(b.String(), "\n")))
		return nil
	},
}

func init() {
	statusCmd.Flags().IntP("runs", "n", 10, "Number of recent job runs to show")
}
