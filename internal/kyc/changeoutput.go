package kyc

import "github.com/rawblock/utxo-provenance/pkg/models"

// roundBTCSats is 0.001 BTC in satoshis, the denomination change-output
// detection treats as "round" payment-sized amounts.
const roundBTCSats = 100_000

// changeOutputThreshold is the probability above which an output is
// flagged as change rather than a payment to a third party.
const changeOutputThreshold = 0.3

// inputAttrs collects the distinct addresses and script types among a
// transaction's resolved inputs, which the change-output heuristic
// compares each output against.
type inputAttrs struct {
	addresses map[string]bool
	types     map[models.ScriptType]bool
}

// changeProbability scores how likely out is the change output of tx,
// summing independent weighted signals and capping at 0.95 — a change
// output is inferred, never certain.
func changeProbability(out models.TxOut, tx *models.Transaction, attrs inputAttrs) (probability float64, isChange bool) {
	var sum float64

	if out.Address != "" && attrs.addresses[out.Address] {
		sum += 0.40
	}
	if out.ScriptType != "" && attrs.types[out.ScriptType] {
		sum += 0.10
	}
	if out.Value%roundBTCSats != 0 {
		sum += 0.15
	}

	var maxValue int64
	for _, o := range tx.Outputs {
		if o.Value > maxValue {
			maxValue = o.Value
		}
	}
	if out.Value < maxValue {
		sum += 0.10
	}

	if isLastOutput(out, tx) {
		sum += 0.05
	}

	if sum > 0.95 {
		sum = 0.95
	}
	return sum, sum > changeOutputThreshold
}

func isLastOutput(out models.TxOut, tx *models.Transaction) bool {
	if len(tx.Outputs) == 0 {
		return false
	}
	last := tx.Outputs[0]
	for _, o := range tx.Outputs {
		if o.Vout > last.Vout {
			last = o
		}
	}
	return out.Vout == last.Vout
}
