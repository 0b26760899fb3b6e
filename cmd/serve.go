package cmd

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the local answer endpoint until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, logger, cleanup, err := startApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		err = a.Serve(cmd.Context())
		logger.Info().Msg("notebrief stopped")
		return err
	},
}
