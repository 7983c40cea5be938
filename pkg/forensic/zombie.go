package forensic

import (
	"time"

	"github.com/rug-tracer/pkg/model"
)

const (
	deadLiquidityUSD = 100.0
	deadMinAge       = 24 * time.Hour

	zombieSameDeployer = 0.72
	zombieDiffProbable = 0.92
	zombieDiffPossible = 0.80
)

// isDead: drained pool and old enough that it is not just a slow start.
// Exactly 24 hours counts as dead.
func isDead(tok model.Token, now time.Time) bool {
	if tok.CreatedAt.IsZero() {
		return false
	}
	return tok.LiquidityUSD < deadLiquidityUSD && now.Sub(tok.CreatedAt) >= deadMinAge
}

// DetectZombie scans a lineage for a dead predecessor the live query token
// appears to resurrect. Image scores are the precomputed per-derivative
// similarity against the query token.
func DetectZombie(query model.Token, family []model.ScoredToken, now time.Time) *model.ZombieAlert {
	if isDead(query, now) {
		return nil
	}

	var best *model.ZombieAlert
	rank := map[string]int{"confirmed": 3, "probable": 2, "possible": 1}
	bestScore := 0.0

	for _, member := range family {
		if member.Mint == query.Mint || !isDead(member.Token, now) {
			continue
		}

		sameDeployer := query.Deployer != "" && query.Deployer == member.Deployer
		confidence := ""
		switch {
		case sameDeployer && member.ImageScore >= zombieSameDeployer:
			confidence = "confirmed"
		case !sameDeployer && member.ImageScore >= zombieDiffProbable:
			confidence = "probable"
		case !sameDeployer && member.ImageScore >= zombieDiffPossible:
			confidence = "possible"
		default:
			continue
		}

		if best == nil || rank[confidence] > rank[best.Confidence] ||
			(rank[confidence] == rank[best.Confidence] && member.ImageScore > bestScore) {
			best = &model.ZombieAlert{
				DeadMint:         member.Mint,
				ResurrectionMint: query.Mint,
				SameDeployer:     sameDeployer,
				ImageScore:       member.ImageScore,
				Confidence:       confidence,
			}
			bestScore = member.ImageScore
		}
	}
	return best
}
