// Package selector picks the notes that feed a briefing.
package selector

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/abhisek/notebrief/internal/corpus"
	"github.com/abhisek/notebrief/internal/state"
)

// Result is the outcome of one selection round.
type Result struct {
	Items       []corpus.Item
	IsDiscovery bool
	RunIndex    int

	// Discovered holds the IDs that filled the discovery quota.
	Discovered map[string]bool
}

// IDs returns the selected item IDs in selection order.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.ID
	}
	return ids
}

// IsDiscoveryRun reports whether runIndex is a discovery round.
func IsDiscoveryRun(runIndex, every int) bool {
	return every > 0 && runIndex > 0 && runIndex%every == 0
}

// DiscoveryQuota is the number of slots reserved for discovery picks.
func DiscoveryQuota(maxCount int, share float64) int {
	if share <= 0 || maxCount <= 0 {
		return 0
	}
	return min(int(math.Floor(float64(maxCount)*share)), maxCount)
}

// Select chooses up to opts.MaxCount items. It does not modify history;
// call Record inside the same state mutation to commit the picks.
func Select(items []corpus.Item, history map[string]state.SelectionRecord, opts Options, runIndex int, now time.Time, rng *rand.Rand) Result {
	opts = opts.withDefaults()
	res := Result{
		RunIndex:    runIndex,
		IsDiscovery: IsDiscoveryRun(runIndex, opts.DiscoveryEvery),
		Discovered:  make(map[string]bool),
	}
	if len(items) == 0 {
		return res
	}

	quota := 0
	if res.IsDiscovery {
		quota = DiscoveryQuota(opts.MaxCount, opts.DiscoveryShare)
	}

	if len(items) <= opts.MaxCount {
		res.Items = append([]corpus.Item(nil), items...)
		for _, it := range items {
			if len(res.Discovered) >= quota {
				break
			}
			if history[it.ID].PickCount == 0 {
				res.Discovered[it.ID] = true
			}
		}
		return res
	}

	remaining := items
	if quota > 0 {
		ordered := discoveryOrder(items, history)
		for _, it := range ordered[:quota] {
			res.Items = append(res.Items, it)
			res.Discovered[it.ID] = true
		}
		remaining = make([]corpus.Item, 0, len(items)-quota)
		for _, it := range items {
			if !res.Discovered[it.ID] {
				remaining = append(remaining, it)
			}
		}
	}

	res.Items = append(res.Items, weightedSample(remaining, history, opts, now, rng, opts.MaxCount-len(res.Items))...)
	return res
}

// discoveryOrder sorts never-picked items first (by ID) and then the rest
// by oldest LastPickedAt, ties by ID.
func discoveryOrder(items []corpus.Item, history map[string]state.SelectionRecord) []corpus.Item {
	ordered := append([]corpus.Item(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := history[ordered[i].ID], history[ordered[j].ID]
		ni, nj := ri.PickCount == 0, rj.PickCount == 0
		if ni != nj {
			return ni
		}
		if !ni && !ri.LastPickedAt.Equal(rj.LastPickedAt) {
			return ri.LastPickedAt.Before(rj.LastPickedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

type keyed struct {
	item corpus.Item
	key  float64
}

// weightedSample draws k items without replacement using
// Efraimidis-Spirakis keys u^(1/w), compared in log space.
func weightedSample(items []corpus.Item, history map[string]state.SelectionRecord, opts Options, now time.Time, rng *rand.Rand, k int) []corpus.Item {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	keys := make([]keyed, 0, len(items))
	for _, it := range items {
		w := Weight(it, history[it.ID], now, opts)
		w *= 1 + opts.Jitter*rng.Float64()
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		keys = append(keys, keyed{item: it, key: math.Log(u) / w})
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].key != keys[j].key {
			return keys[i].key > keys[j].key
		}
		return keys[i].item.ID < keys[j].item.ID
	})

	k = min(k, len(keys))
	out := make([]corpus.Item, k)
	for i := range out {
		out[i] = keys[i].item
	}
	return out
}

// Record commits a selection into history.
func Record(history map[string]state.SelectionRecord, res Result, now time.Time) {
	for _, it := range res.Items {
		rec := history[it.ID]
		rec.ItemID = it.ID
		rec.PickCount++
		rec.LastPickedAt = now
		if res.Discovered[it.ID] {
			rec.LastDiscoveryPickedAt = now
		}
		history[it.ID] = rec
	}
}
