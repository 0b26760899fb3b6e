// Package supervisor runs the daemon's long-lived services under a suture
// tree so a crashed service is restarted without taking the others down.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// TreeConfig tunes restart behavior.
type TreeConfig struct {
	// FailureThreshold is the failure count that triggers backoff.
	FailureThreshold float64
	// FailureDecay is the half-life of the failure count, in seconds.
	FailureDecay float64
	// FailureBackoff is the pause once the threshold is crossed.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long a service may take to stop.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns the standard restart policy.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Tree has one layer for scheduling and one for the answer endpoint and
// config reloads.
type Tree struct {
	root      *suture.Supervisor
	scheduler *suture.Supervisor
	api       *suture.Supervisor
}

// NewTree builds the tree. Zero config fields take the defaults.
func NewTree(logger zerolog.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		EventHook:        EventHook(logger),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("notebrief", spec)
	scheduler := suture.New("scheduler", spec)
	api := suture.New("api", spec)
	root.Add(scheduler)
	root.Add(api)

	return &Tree{root: root, scheduler: scheduler, api: api}
}

// AddScheduler adds a service to the scheduling layer.
func (t *Tree) AddScheduler(svc suture.Service) suture.ServiceToken {
	return t.scheduler.Add(svc)
}

// AddAPI adds a service to the API layer.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve blocks until ctx is done or the tree terminates.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree and returns its result channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// EventHook logs supervisor events through zerolog.
func EventHook(logger zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		ev := logger.Warn()
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			ev = logger.Error()
		case suture.EventTypeResume:
			ev = logger.Info()
		}
		ev.Fields(e.Map()).Msg("supervisor event")
	}
}
