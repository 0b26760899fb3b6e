package selector

import (
	"math"
	"time"

	"github.com/abhisek/notebrief/internal/corpus"
	"github.com/abhisek/notebrief/internal/state"
)

const day = 24 * time.Hour

// Options tunes selection. Zero fields take the defaults from
// DefaultOptions, so discovery and recency cannot be switched off; the
// config layer rejects explicit zeros.
type Options struct {
	MaxCount       int     `koanf:"max_count" validate:"gt=0"`
	DiscoveryEvery int     `koanf:"discovery_every" validate:"gt=0"`
	DiscoveryShare float64 `koanf:"discovery_share" validate:"gt=0,lte=1"`

	RecencyBoost        float64 `koanf:"recency_boost" validate:"gt=0"`
	RecencyHalfLifeDays float64 `koanf:"recency_half_life_days" validate:"gt=0"`
	CoverageCapDays     float64 `koanf:"coverage_cap_days" validate:"gt=0"`
	Jitter              float64 `koanf:"jitter" validate:"gt=0,lte=1"`
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		MaxCount:            20,
		DiscoveryEvery:      5,
		DiscoveryShare:      0.5,
		RecencyBoost:        2,
		RecencyHalfLifeDays: 7,
		CoverageCapDays:     30,
		Jitter:              0.05,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxCount <= 0 {
		o.MaxCount = d.MaxCount
	}
	if o.DiscoveryEvery <= 0 {
		o.DiscoveryEvery = d.DiscoveryEvery
	}
	if o.DiscoveryShare <= 0 {
		o.DiscoveryShare = d.DiscoveryShare
	}
	if o.RecencyBoost <= 0 {
		o.RecencyBoost = d.RecencyBoost
	}
	if o.Jitter <= 0 {
		o.Jitter = d.Jitter
	}
	if o.RecencyHalfLifeDays <= 0 {
		o.RecencyHalfLifeDays = d.RecencyHalfLifeDays
	}
	if o.CoverageCapDays <= 0 {
		o.CoverageCapDays = d.CoverageCapDays
	}
	return o
}

func daysBetween(from, to time.Time) float64 {
	d := to.Sub(from).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// recencyFactor decays from 1+boost towards 1 as the note ages.
func recencyFactor(ageDays float64, o Options) float64 {
	return 1 + o.RecencyBoost*math.Exp(-ageDays/o.RecencyHalfLifeDays)
}

// coverageFactor favours notes that were picked rarely or long ago. A note
// that was never picked gets the maximum of 2.
func coverageFactor(rec state.SelectionRecord, now time.Time, o Options) float64 {
	if rec.PickCount == 0 {
		return 2
	}
	since := math.Min(daysBetween(rec.LastPickedAt, now), o.CoverageCapDays)
	return (1 + since/o.CoverageCapDays) / float64(1+rec.PickCount)
}

func metadataBoost(it corpus.Item, now time.Time) float64 {
	boost := 1.0
	switch it.Priority {
	case corpus.PriorityHigh:
		boost *= 1.5
	case corpus.PriorityMedium:
		boost *= 1.25
	}
	if it.HasDeadline() {
		until := it.Deadline.Sub(now)
		switch {
		case until >= -day && until <= 3*day:
			boost *= 1.5
		case until > 3*day && until <= 7*day:
			boost *= 1.25
		}
	}
	if it.UncheckedCount > 0 {
		boost *= 1.1
	}
	return boost
}

// Weight is the sampling weight of an item before jitter.
func Weight(it corpus.Item, rec state.SelectionRecord, now time.Time, o Options) float64 {
	o = o.withDefaults()
	return recencyFactor(daysBetween(it.ModifiedAt, now), o) *
		coverageFactor(rec, now, o) *
		metadataBoost(it, now)
}
