// Package coinjoin scores a decoded transaction for how closely its output
// structure resembles a known CoinJoin implementation (Whirlpool, Wasabi,
// JoinMarket). It is a pure, allocation-light decision table over output
// value multiplicities — no network calls, no state.
package coinjoin

import (
	"math"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

// Threshold is the score above which the traversal engine counts a hop as
// mixed.
const Threshold = 0.7

// AnalyserThreshold is the score at or above which the KYC analyser counts
// a hop as mixed — inclusive, unlike the traversal engine's Threshold.
const AnalyserThreshold = 0.7

// whirlpoolDenominations are the common Samourai Whirlpool pool sizes, in
// BTC.
var whirlpoolDenominations = []float64{0.001, 0.01, 0.05, 0.5}

const denominationTolerance = 1e-4

// Score returns a value in [0, 1] estimating how likely tx is a CoinJoin,
// based purely on its output value multiset.
func Score(tx *models.Transaction) float64 {
	nOut := len(tx.Outputs)
	nIn := len(tx.Inputs)
	if nOut < 2 {
		return 0.0
	}

	counts := make(map[int64]int, nOut)
	for _, out := range tx.Outputs {
		counts[out.Value]++
	}

	maxEq := 0
	var maxEqValue int64
	for value, count := range counts {
		if count > maxEq {
			maxEq = count
			maxEqValue = value
		}
	}

	switch {
	case nOut == 5 && maxEq == 5:
		if isWhirlpoolDenomination(maxEqValue) {
			return 0.95
		}
		return 0.85
	case maxEq >= 10:
		return 0.85
	case maxEq >= 5 && nIn >= 3:
		return 0.70
	case maxEq >= 3 && nIn >= 2:
		return 0.40
	}

	uniqueRatio := float64(len(counts)) / float64(nOut)
	if uniqueRatio < 0.3 && nOut >= 5 {
		return 0.50
	}

	return 0.0
}

func isWhirlpoolDenomination(valueSats int64) bool {
	valueBTC := models.ValueBTC(valueSats)
	for _, denom := range whirlpoolDenominations {
		if math.Abs(valueBTC-denom) <= denominationTolerance {
			return true
		}
	}
	return false
}
