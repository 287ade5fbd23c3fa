package kyc

import (
	"fmt"
	"math"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

// confidence computes a destination's 0-1 confidence score by starting at
// 1.0 and multiplying in the path-length, CoinJoin-count, value-ratio,
// change-flag, and terminal-type factors, clamped into [0, 1].
func confidence(path []models.KYCPathNode, trail models.TrailStatus, originalSats int64, electrumEnabled bool) (float64, []string) {
	score := 1.0
	var reasoning []string

	pathLen := len(path)
	switch {
	case pathLen == 2 || pathLen == 3:
		score *= 0.9
		reasoning = append(reasoning, fmt.Sprintf("path length %d applies a 0.9x multiplier", pathLen))
	case pathLen >= 4 && pathLen <= 6:
		score *= 0.7
		reasoning = append(reasoning, fmt.Sprintf("path length %d applies a 0.7x multiplier", pathLen))
	case pathLen > 6:
		score *= 0.5
		reasoning = append(reasoning, fmt.Sprintf("path length %d applies a 0.5x multiplier", pathLen))
	}

	cjCount := 0
	if pathLen > 0 {
		cjCount = path[pathLen-1].CoinjoinCountInPath
	}
	switch {
	case cjCount == 1:
		score *= 0.4
		reasoning = append(reasoning, "one CoinJoin hop on the path applies a 0.4x multiplier")
	case cjCount >= 2:
		score *= 0.1
		reasoning = append(reasoning, "two or more CoinJoin hops on the path applies a 0.1x multiplier")
	}

	var finalValue int64
	if pathLen > 0 {
		finalValue = path[pathLen-1].ValueSats
	}
	var valueRatio float64
	if originalSats > 0 {
		valueRatio = float64(finalValue) / float64(originalSats)
	}
	switch {
	case valueRatio >= 0.5 && valueRatio <= 0.9:
		score *= 0.8
		reasoning = append(reasoning, fmt.Sprintf("value ratio %.2f applies a 0.8x multiplier", valueRatio))
	case valueRatio >= 0.1 && valueRatio < 0.5:
		score *= 0.6
		reasoning = append(reasoning, fmt.Sprintf("value ratio %.2f applies a 0.6x multiplier", valueRatio))
	case valueRatio < 0.1:
		score *= 0.4
		reasoning = append(reasoning, fmt.Sprintf("value ratio %.2f applies a 0.4x multiplier", valueRatio))
	}

	var changeSum float64
	var changeCount int
	for _, n := range path {
		if n.IsChange {
			changeSum += n.ChangeProbability
			changeCount++
		}
	}
	if changeCount > 0 {
		factor := 0.7 + 0.3*(changeSum/float64(changeCount))
		score *= factor
		reasoning = append(reasoning, fmt.Sprintf("%d change-flagged node(s) on the path apply a %.2fx multiplier", changeCount, factor))
	}

	switch trail {
	case models.TrailDepthLimit:
		score *= 0.5
		reasoning = append(reasoning, "path was cut off by the depth limit, applying a 0.5x multiplier")
	case models.TrailLost:
		if electrumEnabled {
			score *= 0.3
			reasoning = append(reasoning, "trail was lost with Electrum available, applying a 0.3x multiplier")
		} else {
			score *= 0.5
			reasoning = append(reasoning, "trail was lost without Electrum available, applying a 0.5x multiplier")
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, reasoning
}

// privacyScore composes the 0-100 overall privacy score from the
// destination set, per the weighted sum of untraceable value share,
// CoinJoin usage, traceable-destination count, and average path length.
// An empty destination set means nothing left the seed output traceably,
// which scores the maximum 100.
func privacyScore(destinations []models.ProbableDestination, originalSats int64, coinjoinsEncountered int) float64 {
	if len(destinations) == 0 {
		return 100
	}

	var untraceable int64
	var highConfidence int
	var pathLenSum int
	for _, d := range destinations {
		if d.TrailStatus == models.TrailCold {
			untraceable += d.ValueSats
		}
		if d.ConfidenceLevel == models.ConfidenceHigh {
			highConfidence++
		}
		pathLenSum += d.PathLength
	}

	var untraceableComponent float64
	if originalSats > 0 {
		untraceableComponent = 40 * (float64(untraceable) / float64(originalSats))
	}

	var coinjoinComponent float64
	switch {
	case coinjoinsEncountered >= 2:
		coinjoinComponent = 30
	case coinjoinsEncountered == 1:
		coinjoinComponent = 15
	}

	var destinationComponent float64
	switch highConfidence {
	case 0:
		destinationComponent = 20
	case 1:
		destinationComponent = 5
	}

	meanPathLen := float64(pathLenSum) / float64(len(destinations))
	pathLenComponent := math.Min(10, 2*meanPathLen)

	return untraceableComponent + coinjoinComponent + destinationComponent + pathLenComponent
}

// buildRecommendations maps the fixed signal set (no CoinJoin encountered,
// high-confidence destinations present, a low overall score, Electrum
// disabled, repeated addresses across all collected path nodes) onto the
// fixed recommendation string set.
func buildRecommendations(destinations []models.ProbableDestination, coinjoinsEncountered int, score float64, electrumEnabled bool) []string {
	var recs []string

	if coinjoinsEncountered == 0 {
		recs = append(recs, "Consider using CoinJoin (Whirlpool, Wasabi, or JoinMarket) to break the transaction trail")
	}

	highCount := 0
	for _, d := range destinations {
		if d.ConfidenceLevel == models.ConfidenceHigh {
			highCount++
		}
	}
	if highCount > 0 {
		recs = append(recs, fmt.Sprintf("You have %d easily traceable destination(s). Consider moving these funds through a CoinJoin", highCount))
	}

	if score < 60 {
		recs = append(recs, "Avoid consolidating UTXOs from different sources without mixing first")
		recs = append(recs, "Use a new address for each transaction to prevent address clustering")
	}

	if !electrumEnabled {
		recs = append(recs, "Enable Electrs for more accurate forward tracing analysis")
	}

	if hasRepeatedAddress(destinations) {
		recs = append(recs, "Address reuse detected in your transaction history - this hurts privacy")
	}

	if len(recs) == 0 {
		recs = append(recs, "Your privacy practices look good! Continue using CoinJoin and avoiding address reuse")
	}
	return recs
}

func hasRepeatedAddress(destinations []models.ProbableDestination) bool {
	seen := make(map[string]bool)
	for _, d := range destinations {
		for _, n := range d.Path {
			if n.Address == "" {
				continue
			}
			if seen[n.Address] {
				return true
			}
			seen[n.Address] = true
		}
	}
	return false
}
