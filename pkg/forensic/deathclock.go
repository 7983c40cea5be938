package forensic

import (
	"math"
	"sort"
	"time"

	"github.com/rug-tracer/pkg/model"
)

const minLifespanSamples = 2

// DeathClockFor predicts the current token's remaining life from the
// deployer's past rug cadence. Nil with fewer than two completed lifespans.
func (e *Engine) DeathClockFor(deployer string, currentCreated time.Time) *model.DeathClock {
	if currentCreated.IsZero() {
		return nil
	}
	created, ruggedAt := e.deployerHistory(deployer)

	var lifespans []float64
	for _, ev := range created {
		createdAt := ev.CreatedTime()
		rugged, ok := ruggedAt[ev.Mint]
		if !ok || createdAt.IsZero() || !rugged.After(createdAt) {
			continue
		}
		lifespans = append(lifespans, rugged.Sub(createdAt).Hours())
	}

	return DeathClock(lifespans, time.Since(currentCreated).Hours())
}

// DeathClock classifies elapsed/median into a risk tier.
func DeathClock(lifespanHours []float64, elapsedHours float64) *model.DeathClock {
	if len(lifespanHours) < minLifespanSamples || elapsedHours < 0 {
		return nil
	}

	median := medianOf(lifespanHours)
	if median <= 0 {
		return nil
	}
	ratio := elapsedHours / median

	risk := "critical"
	switch {
	case ratio < 0.5:
		risk = "low"
	case ratio < 0.8:
		risk = "medium"
	case ratio < 1.0:
		risk = "high"
	}

	return &model.DeathClock{
		MedianLifespanHours: median,
		StdevHours:          stdevOf(lifespanHours),
		ElapsedHours:        elapsedHours,
		Ratio:               ratio,
		Risk:                risk,
		SampleCount:         len(lifespanHours),
	}
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdevOf(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := meanOf(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
