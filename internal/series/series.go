// Package series implements the merge semantics of the price history:
// deduplication of freshly fetched samples against the persisted series,
// the incremental fetch window, and the sorted combination that gets
// written back.
package series

import (
	"sort"
	"time"

	"github.com/taometrics/pricehist/internal/models"
)

// Index builds the set of timestamps already present in the series, used
// for O(1) membership tests during a merge.
func Index(points []models.PricePoint) map[int64]struct{} {
	idx := make(map[int64]struct{}, len(points))
	for _, p := range points {
		idx[p.Timestamp] = struct{}{}
	}
	return idx
}

// LastTimestamp returns the timestamp of the final element, or 0 when the
// series is empty. 0 is the "no prior data" sentinel: no real sample
// predates the Unix epoch.
func LastTimestamp(points []models.PricePoint) int64 {
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].Timestamp
}

// FetchWindow computes the [from, to] bounds for an incremental fetch.
// With no prior data the window opens at the configured fallback start;
// otherwise it opens one second past the last stored point so the boundary
// point is never re-fetched. The window is returned as-is even when
// from > to (clock skew, or the series already current): the provider
// answers such a request with an empty result and the merge handles it.
func FetchWindow(lastTimestamp int64, fallback time.Time, now time.Time) (from, to int64) {
	if lastTimestamp == 0 {
		return fallback.Unix(), now.Unix()
	}
	return lastTimestamp + 1, now.Unix()
}

// MergeNew filters raw provider samples down to the genuinely new points.
// Samples are visited in provider-delivery order; each is truncated to
// second resolution and skipped if its timestamp is already known, either
// from the persisted series or from an earlier sample in this same batch.
// Accepted timestamps enter idx immediately, so several sub-second samples
// collapsing onto one second keep only the first-seen price. That
// first-wins tie-break is deliberate: it makes two runs over identical
// provider data byte-identical.
//
// idx is mutated in place.
func MergeNew(idx map[int64]struct{}, raw []models.RawPoint) []models.PricePoint {
	added := make([]models.PricePoint, 0, len(raw))
	for _, r := range raw {
		p := r.Point()
		if _, seen := idx[p.Timestamp]; seen {
			continue
		}
		idx[p.Timestamp] = struct{}{}
		added = append(added, p)
	}
	return added
}

// Combine concatenates the existing series with the accepted new points
// and sorts the result ascending by timestamp. The sort is stable, which
// together with MergeNew's first-wins policy makes the persisted output
// deterministic for identical inputs.
func Combine(existing, added []models.PricePoint) []models.PricePoint {
	combined := make([]models.PricePoint, 0, len(existing)+len(added))
	combined = append(combined, existing...)
	combined = append(combined, added...)
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Timestamp < combined[j].Timestamp
	})
	return combined
}
