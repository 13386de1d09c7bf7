package marketdata

import "time"

// Source tells where a facade result came from.
type Source int

const (
	// SourceLive is a value fetched from the API for this call.
	SourceLive Source = iota
	// SourceCached is a fresh cached value; no request was made.
	SourceCached
	// SourceStale is the last good value, returned because the fetch failed.
	SourceStale
	// SourceSynthetic is a generated placeholder; nothing real was available.
	SourceSynthetic
	// SourceUnavailable carries no value.
	SourceUnavailable
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceCached:
		return "cached"
	case SourceStale:
		return "stale"
	case SourceSynthetic:
		return "synthetic"
	case SourceUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Degraded reports whether the value is anything other than current real
// data.
func (s Source) Degraded() bool { return s >= SourceStale }

// Result is the outcome of a facade read. Value is meaningful unless Source
// is SourceUnavailable. Err holds the fetch error behind a degraded result.
type Result[V any] struct {
	Value     V
	Source    Source
	FetchedAt time.Time
	Err       error
}

// OK reports whether Value can be used.
func (r Result[V]) OK() bool { return r.Source != SourceUnavailable }

// Item is one entry of a batched read, in request order.
type Item[V any] struct {
	ID string
	Result[V]
}

// Values collects the usable values of a batch keyed by id.
func Values[V any](items []Item[V]) map[string]V {
	out := make(map[string]V, len(items))
	for _, it := range items {
		if it.OK() {
			out[it.ID] = it.Value
		}
	}
	return out
}
