// Package narrative buckets memecoins into hype categories from their name
// and symbol, and pulls mint addresses out of free-form text (bot messages,
// search queries).
package narrative

import (
	"regexp"
	"strings"
)

var (
	solanaAddrRe = regexp.MustCompile(`\b([1-9A-HJ-NP-Za-km-z]{32,44})\b`)

	// Category patterns, checked in order; first hit wins.
	categories = []struct {
		name string
		re   *regexp.Regexp
	}{
		{"dogs", regexp.MustCompile(`(?i)\b(dog|doge|shib|inu|pup|wif|bonk|floki|corgi|hound)\b`)},
		{"cats", regexp.MustCompile(`(?i)\b(cat|kitty|kitten|meow|popcat|paws?)\b`)},
		{"frogs", regexp.MustCompile(`(?i)\b(frog|pepe|toad|kek|ribbit)\b`)},
		{"ai", regexp.MustCompile(`(?i)\b(ai|agent|gpt|neural|robot|terminal|sentient)\b`)},
		{"politics", regexp.MustCompile(`(?i)\b(trump|maga|biden|kamala|election|president)\b`)},
		{"celebrity", regexp.MustCompile(`(?i)\b(elon|musk|kanye|drake|taylor|celeb)\b`)},
		{"food", regexp.MustCompile(`(?i)\b(pizza|burger|taco|sushi|coffee|banana)\b`)},
		{"space", regexp.MustCompile(`(?i)\b(moon|mars|rocket|galaxy|cosmic|astro)\b`)},
		{"anime", regexp.MustCompile(`(?i)\b(anime|waifu|senpai|chan|kun|manga)\b`)},
	}

	// Ticker noise that should not influence classification.
	noiseWords = map[string]bool{
		"THE": true, "COIN": true, "TOKEN": true, "OFFICIAL": true,
		"SOL": true, "ON": true, "OF": true,
	}
)

// Classify returns the narrative bucket for a token, or "" when nothing
// matches.
func Classify(name, symbol string) string {
	text := clean(name) + " " + clean(symbol)
	for _, c := range categories {
		if c.re.MatchString(text) {
			return c.name
		}
	}
	return ""
}

func clean(s string) string {
	fields := strings.Fields(s)
	var kept []string
	for _, f := range fields {
		if noiseWords[strings.ToUpper(f)] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// FirstMint extracts the first plausible Solana address from free text.
// Returns "" when none is present.
func FirstMint(text string) string {
	return solanaAddrRe.FindString(text)
}
