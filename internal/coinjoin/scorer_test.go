package coinjoin

import (
	"testing"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

func outputs(valuesSats ...int64) []models.TxOut {
	out := make([]models.TxOut, len(valuesSats))
	for i, v := range valuesSats {
		out[i] = models.TxOut{Vout: uint32(i), Value: v}
	}
	return out
}

func TestScore_WhirlpoolPool(t *testing.T) {
	// Exactly 5 outputs, each of 0.001 BTC (100_000 sats), and no change.
	tx := &models.Transaction{
		Inputs:  make([]models.TxIn, 5),
		Outputs: outputs(100_000, 100_000, 100_000, 100_000, 100_000),
	}
	if got := Score(tx); got != 0.95 {
		t.Fatalf("Score = %v, want 0.95", got)
	}
}

func TestScore_FiveEqualNonWhirlpoolDenomination(t *testing.T) {
	tx := &models.Transaction{
		Inputs:  make([]models.TxIn, 5),
		Outputs: outputs(123_456, 123_456, 123_456, 123_456, 123_456),
	}
	if got := Score(tx); got != 0.85 {
		t.Fatalf("Score = %v, want 0.85", got)
	}
}

func TestScore_WasabiLikeManyEqual(t *testing.T) {
	vals := make([]int64, 12)
	for i := range vals {
		vals[i] = 10_000_000
	}
	tx := &models.Transaction{
		Inputs:  make([]models.TxIn, 3),
		Outputs: outputs(vals...),
	}
	if got := Score(tx); got != 0.85 {
		t.Fatalf("Score = %v, want 0.85", got)
	}
}

func TestScore_JoinMarketLike(t *testing.T) {
	vals := []int64{5_000_000, 5_000_000, 5_000_000, 5_000_000, 5_000_000, 999_000}
	tx := &models.Transaction{
		Inputs:  make([]models.TxIn, 3),
		Outputs: outputs(vals...),
	}
	if got := Score(tx); got != 0.70 {
		t.Fatalf("Score = %v, want 0.70", got)
	}
}

func TestScore_WeakStructuralMatch(t *testing.T) {
	vals := []int64{1_000_000, 1_000_000, 1_000_000, 500_000}
	tx := &models.Transaction{
		Inputs:  make([]models.TxIn, 2),
		Outputs: outputs(vals...),
	}
	if got := Score(tx); got != 0.40 {
		t.Fatalf("Score = %v, want 0.40", got)
	}
}

func TestScore_LowUniqueRatioFallsThroughWhenInputCountTooLow(t *testing.T) {
	// 6 outputs, 2 distinct values of multiplicity 3 each: max_eq=3 but
	// n_in=1 misses the max_eq>=3 && n_in>=2 branch, and the unique ratio
	// 2/6=0.33 does not clear the <0.3 bar either, so this scores 0.
	vals := []int64{1_000_000, 1_000_000, 1_000_000, 2_000_000, 2_000_000, 2_000_000}
	tx := &models.Transaction{
		Inputs:  make([]models.TxIn, 1),
		Outputs: outputs(vals...),
	}
	if got := Score(tx); got != 0.0 {
		t.Fatalf("Score = %v, want 0.0", got)
	}
}

func TestScore_LowUniqueRatioWithEnoughOutputs(t *testing.T) {
	// 7 outputs, values with unique ratio 2/7=0.286 < 0.3, no other branch
	// fires first (max_eq=4 but n_in=1 misses both multiplicity branches).
	vals := []int64{1_000_000, 1_000_000, 1_000_000, 1_000_000, 2_000_000, 2_000_000, 2_000_000}
	tx := &models.Transaction{
		Inputs:  make([]models.TxIn, 1),
		Outputs: outputs(vals...),
	}
	if got := Score(tx); got != 0.50 {
		t.Fatalf("Score = %v, want 0.50", got)
	}
}

func TestScore_OrdinaryPayment(t *testing.T) {
	tx := &models.Transaction{
		Inputs:  make([]models.TxIn, 1),
		Outputs: outputs(5_000_000, 499_000),
	}
	if got := Score(tx); got != 0.0 {
		t.Fatalf("Score = %v, want 0.0", got)
	}
}

func TestScore_SingleOutputNeverScores(t *testing.T) {
	tx := &models.Transaction{
		Inputs:  make([]models.TxIn, 1),
		Outputs: outputs(5_000_000),
	}
	if got := Score(tx); got != 0.0 {
		t.Fatalf("Score = %v, want 0.0 for n_out<2", got)
	}
}
