package forensic

import (
	"sort"
	"time"

	"github.com/rug-tracer/pkg/model"
)

const (
	minNarrativeSamples = 10
	narrativeLookback   = 90 * 24 * time.Hour
	peakWindow          = 7 * 24 * time.Hour
)

// NarrativeFor places a token inside its narrative's hype cycle.
func (e *Engine) NarrativeFor(narrative string, currentCreated time.Time) *model.NarrativeTiming {
	if narrative == "" || e.store == nil {
		return nil
	}
	events, err := e.store.QueryEvents("event_type=? AND narrative=?",
		[]any{model.EventTokenCreated, narrative}, "recorded_at", 0)
	if err != nil {
		return nil
	}

	cutoff := time.Now().Add(-narrativeLookback)
	var times []time.Time
	for _, ev := range events {
		if at := ev.CreatedTime(); !at.IsZero() && at.After(cutoff) {
			times = append(times, at)
		}
	}
	return NarrativeTiming(narrative, times, currentCreated)
}

// NarrativeTiming computes the cycle percentile, 7-day peak window and
// momentum for a creation timestamp within its category.
func NarrativeTiming(narrative string, creations []time.Time, current time.Time) *model.NarrativeTiming {
	if len(creations) < minNarrativeSamples || current.IsZero() {
		return nil
	}

	sorted := append([]time.Time(nil), creations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	// Rank of the current token among all launches in the category.
	rank := 0
	for _, at := range sorted {
		if !at.After(current) {
			rank++
		}
	}
	percentile := float64(rank) / float64(len(sorted))

	// Sliding 7-day window with the most launches.
	peakCount, peakStart := 0, sorted[0]
	for i, start := range sorted {
		count := 0
		for _, at := range sorted[i:] {
			if at.Sub(start) <= peakWindow {
				count++
			} else {
				break
			}
		}
		if count > peakCount {
			peakCount = count
			peakStart = start
		}
	}

	recent := 0
	weekAgo := current.Add(-peakWindow)
	for _, at := range sorted {
		if at.After(weekAgo) && !at.After(current) {
			recent++
		}
	}
	momentum := 0.0
	if peakCount > 0 {
		momentum = float64(recent) / float64(peakCount)
	}

	status := "late"
	switch {
	case percentile < 0.2:
		status = "early"
	case percentile < 0.5:
		status = "rising"
	case percentile < 0.75:
		status = "peak"
	}

	return &model.NarrativeTiming{
		Narrative:       narrative,
		CyclePercentile: percentile,
		PeakWindowStart: peakStart.UTC(),
		Momentum:        momentum,
		Status:          status,
		SampleCount:     len(sorted),
	}
}
