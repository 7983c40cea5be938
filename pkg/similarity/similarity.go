// Package similarity scores how alike two tokens are across name, symbol,
// image, deployer and launch timing. Scores are all in [0,1].
package similarity

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// Weights combine the five per-signal scores into a composite.
type Weights struct {
	Name     float64
	Symbol   float64
	Image    float64
	Deployer float64
	Temporal float64
}

type Scores struct {
	Name     float64
	Symbol   float64
	Image    float64
	Deployer float64
	Temporal float64
}

func (w Weights) Composite(s Scores) float64 {
	return w.Name*s.Name + w.Symbol*s.Symbol + w.Image*s.Image + w.Deployer*s.Deployer + w.Temporal*s.Temporal
}

// Normalize lowercases and strips everything but letters and digits, so
// "Doge Wif Hat!" and "dogewifhat" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NameScore is a bigram Dice coefficient over normalised names.
func NameScore(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return dice(na, nb)
}

// SymbolScore is stricter: tickers are short, so prefix containment counts.
func SymbolScore(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na) {
		return 0.8
	}
	return dice(na, nb)
}

// DeployerScore: same wallet is proof, a shared operator fingerprint is
// strong partial credit.
func DeployerScore(a, b string, sharedFingerprint bool) float64 {
	if a != "" && a == b {
		return 1
	}
	if sharedFingerprint {
		return 0.8
	}
	return 0
}

// TemporalScore decays linearly over a 30-day window between launches.
// Copycats launch within days of the original.
func TemporalScore(a, b time.Time) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	days := math.Abs(a.Sub(b).Hours()) / 24
	if days >= 30 {
		return 0
	}
	return 1 - days/30
}

func dice(a, b string) float64 {
	if len(a) < 2 || len(b) < 2 {
		if a == b {
			return 1
		}
		return 0
	}

	grams := map[string]int{}
	for i := 0; i+2 <= len(a); i++ {
		grams[a[i:i+2]]++
	}
	matches := 0
	for i := 0; i+2 <= len(b); i++ {
		if grams[b[i:i+2]] > 0 {
			grams[b[i:i+2]]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(len(a)-1+len(b)-1)
}
