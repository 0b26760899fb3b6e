package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abhisek/notebrief/internal/config"
	"github.com/abhisek/notebrief/internal/logging"
	"github.com/abhisek/notebrief/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "notebrief",
	Short:         "Daily briefings and review quizzes from your Markdown notes",
	Long:          "notebrief reads your Markdown notes on a schedule, writes a news briefing and a spaced-repetition review quiz, and scores your answers.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides NOTEBRIEF_DB and the config file)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file (default: NOTEBRIEF_CONFIG, ./notebrief.yaml, then the user config dir)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// configPath returns --config or the first default location found.
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// loadConfig reads the configuration. Commands that only inspect the
// database pass strict=false so they work before setup is complete.
func loadConfig(cmd *cobra.Command, strict bool) (*config.Config, string, error) {
	path := configPath(cmd)
	load := config.Read
	if strict {
		load = config.Load
	}
	cfg, err := load(path)
	if err != nil {
		return nil, path, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, path, nil
}

// resolveDBPath returns --db, then the db setting (config file or
// NOTEBRIEF_DB), then the default XDG path.
func resolveDBPath(cmd *cobra.Command, cfg *config.Config) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	if cfg != nil && cfg.DB != "" {
		return cfg.DB, store.EnsureDir(cfg.DB)
	}
	return store.DefaultDBPath()
}

// openStore opens the database for inspection commands.
func openStore(cmd *cobra.Command) (*store.Store, *config.Config, error) {
	cfg, _, err := loadConfig(cmd, false)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	dbPath, err := resolveDBPath(cmd, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve database path: %w", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return s, cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return zerolog.Nop(), closer, fmt.Errorf("init logging: %w", err)
	}
	return logger.With().Str("version", version).Logger(), closer, nil
}
