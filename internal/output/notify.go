package output

import (
	"context"

	"github.com/rs/zerolog"
)

// Delivery announces one written briefing.
type Delivery struct {
	Kind  Kind
	Path  string
	Title string
	// Topics lists the quiz topic keys, empty for news briefings.
	Topics []string
}

// Notifier delivers briefing announcements. Implementations must not block
// for long; callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, d Delivery) error
}

// LogNotifier announces deliveries through the logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, d Delivery) error {
	n.Logger.Info().
		Str("kind", string(d.Kind)).
		Str("path", d.Path).
		Str("title", d.Title).
		Strs("topics", d.Topics).
		Msg("briefing ready")
	return nil
}

// Multi fans a delivery out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, d Delivery) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, d); err != nil && first == nil {
			first = err
		}
	}
	return first
}
