package cartel

import "github.com/rug-tracer/pkg/model"

// Rate is the tiered extraction estimator: the fraction of peak market cap an
// operator typically pulls out before the rug. Small caps are drained harder.
func Rate(peakMcapUSD float64) float64 {
	switch {
	case peakMcapUSD <= 0:
		return 0.15
	case peakMcapUSD < 5_000:
		return 0.40
	case peakMcapUSD < 50_000:
		return 0.30
	case peakMcapUSD < 500_000:
		return 0.15
	default:
		return 0.08
	}
}

// EstimateExtractedUSD sums peak_mcap x rate over rugged-token events.
func EstimateExtractedUSD(rugged []model.TokenEvent) float64 {
	total := 0.0
	for _, ev := range rugged {
		total += ev.McapUSD * Rate(ev.McapUSD)
	}
	return total
}
