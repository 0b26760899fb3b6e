package cmd

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abhisek/notebrief/internal/app"
	"github.com/abhisek/notebrief/internal/state"
)

var runCmd = &cobra.Command{
	Use:       "run <a|b|both>",
	Short:     "Run the news briefing (a), the review quiz (b) or both once",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"a", "b", "both"},
	RunE: func(cmd *cobra.Command, args []string) error {
		features, err := parseFeatures(args[0])
		if err != nil {
			return err
		}

		a, logger, cleanup, err := startApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.RunManual(cmd.Context(), features...); err != nil {
			return err
		}
		logger.Info().Str("features", args[0]).Msg("manual run finished")
		return nil
	},
}

func parseFeatures(arg string) ([]state.Feature, error) {
	switch strings.ToLower(arg) {
	case "a":
		return []state.Feature{state.FeatureA}, nil
	case "b":
		return []state.Feature{state.FeatureB}, nil
	case "both":
		return []state.Feature{state.FeatureA, state.FeatureB}, nil
	}
	return nil, fmt.Errorf("unknown feature %q (want a, b or both)", arg)
}

// startApp loads the validated config and wires the application.
func startApp(cmd *cobra.Command) (*app.App, zerolog.Logger, func(), error) {
	cfg, path, err := loadConfig(cmd, true)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	dbPath, err := resolveDBPath(cmd, cfg)
	if err != nil {
		logCloser.Close()
		return nil, zerolog.Nop(), nil, fmt.Errorf("resolve database path: %w", err)
	}

	a, err := app.New(cmd.Context(), app.Options{
		Config:     cfg,
		ConfigPath: path,
		DBPath:     dbPath,
		Logger:     logger,
	})
	if err != nil {
		logCloser.Close()
		return nil, zerolog.Nop(), nil, err
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("close store")
		}
		logCloser.Close()
	}
	return a, logger, cleanup, nil
}
