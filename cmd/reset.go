package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard selection history, topic levels and pending quizzes",
	Long:  "Writes a fresh default state. Recorded LLM events and job runs are kept.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("reset discards all learning progress; rerun with --yes to confirm")
		}
		s, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.StateRepo().Reset(cmd.Context()); err != nil {
			return fmt.Errorf("reset state: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "State reset.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolP("yes", "y", false, "Confirm the reset")
}
