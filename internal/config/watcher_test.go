package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatcher_AppliesValidReload(t *testing.T) {
	p := writeConfig(t, minimalYAML)

	got := make(chan *Config, 4)
	w := NewWatcher(p, func(c *Config) { got <- c }, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	// An invalid edit is ignored.
	require.NoError(t, os.WriteFile(p, []byte("input_folders: []\n"), 0o644))

	updated := minimalYAML + "schedules:\n  feature_a:\n    - days: daily\n      hour: 6\n"
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-got:
			if len(c.Schedules.FeatureA) == 1 && c.Schedules.FeatureA[0].Hour == 6 {
				cancel()
				<-done
				return
			}
		case <-tick.C:
			// Rewrite until the watcher is registered.
			_ = os.WriteFile(p, []byte(updated), 0o644)
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}
