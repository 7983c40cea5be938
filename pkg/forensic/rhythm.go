package forensic

import (
	"regexp"
	"strings"
	"time"

	"github.com/rug-tracer/pkg/model"
)

const (
	minRhythmSamples = 3
	factoryThreshold = 0.65
)

var trailingDigits = regexp.MustCompile(`^(.*?)[\s_-]*(\d+)$`)

// RhythmFor derives the launch cadence profile for a deployer.
func (e *Engine) RhythmFor(deployer string) *model.FactoryRhythm {
	created, _ := e.deployerHistory(deployer)

	var times []time.Time
	var names []string
	var mcaps []float64
	for _, ev := range created {
		if at := ev.CreatedTime(); !at.IsZero() {
			times = append(times, at)
			names = append(names, ev.Name)
			if ev.McapUSD > 0 {
				mcaps = append(mcaps, ev.McapUSD)
			}
		}
	}
	return FactoryRhythm(times, names, mcaps)
}

// FactoryRhythm scores how machine-like a deployer's launch pattern is.
// Needs at least three timestamped creations.
func FactoryRhythm(createdAt []time.Time, names []string, mcaps []float64) *model.FactoryRhythm {
	if len(createdAt) < minRhythmSamples {
		return nil
	}

	var intervals []float64
	for i := 1; i < len(createdAt); i++ {
		h := createdAt[i].Sub(createdAt[i-1]).Hours()
		if h > 0 {
			intervals = append(intervals, h)
		}
	}
	if len(intervals) < minRhythmSamples-1 {
		return nil
	}

	median := medianOf(intervals)
	regularity := 0.0
	if median > 0 {
		regularity = clamp01(1 - stdevOf(intervals)/median)
	}

	pattern := namingPattern(names)
	incremental := 0.0
	if pattern == "incremental" {
		incremental = 1.0
	}

	mcapConsistency := 0.0
	if mean := meanOf(mcaps); mean > 0 {
		mcapConsistency = clamp01(1 - stdevOf(mcaps)/mean)
	}

	score := 0.55*regularity + 0.30*incremental + 0.15*mcapConsistency
	return &model.FactoryRhythm{
		MedianIntervalHours: median,
		Regularity:          regularity,
		NamingPattern:       pattern,
		McapConsistency:     mcapConsistency,
		FactoryScore:        score,
		IsFactory:           score >= factoryThreshold,
		TokenCount:          len(createdAt),
	}
}

// namingPattern distinguishes "Doge 1/Doge 2/Doge 3" factories from themed
// families and unrelated names.
func namingPattern(names []string) string {
	if len(names) < 2 {
		return "random"
	}

	stems := map[string]int{}
	numbered := 0
	for _, name := range names {
		if m := trailingDigits.FindStringSubmatch(strings.TrimSpace(name)); m != nil && m[1] != "" {
			numbered++
			stems[strings.ToLower(m[1])]++
		}
	}
	for _, n := range stems {
		if n >= 2 && numbered >= 2 {
			return "incremental"
		}
	}

	if len(commonPrefix(names)) >= 3 {
		return "themed"
	}
	return "random"
}

func commonPrefix(names []string) string {
	if len(names) == 0 {
		return ""
	}
	prefix := strings.ToLower(names[0])
	for _, name := range names[1:] {
		lower := strings.ToLower(name)
		i := 0
		for i < len(prefix) && i < len(lower) && prefix[i] == lower[i] {
			i++
		}
		prefix = prefix[:i]
		if prefix == "" {
			break
		}
	}
	return strings.TrimSpace(prefix)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
