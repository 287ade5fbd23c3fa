package kyc

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

const destAddr = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

type fakeRPC struct {
	txs   map[string]*models.Transaction
	utxos map[string]*models.UTXODescriptor
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{txs: make(map[string]*models.Transaction), utxos: make(map[string]*models.UTXODescriptor)}
}

func (f *fakeRPC) GetRawTransaction(txid string) (*models.Transaction, error) {
	return f.txs[txid], nil
}

func (f *fakeRPC) GetTxOut(txid string, vout uint32) (*models.UTXODescriptor, error) {
	return f.utxos[utxoKey(txid, vout)], nil
}

func utxoKey(txid string, vout uint32) string {
	return txid + ":" + string(rune('0'+vout))
}

type spend struct {
	txid string
	vin  int
}

type fakeElectrum struct {
	spends map[string]spend
}

func (f *fakeElectrum) FindSpendingTx(ctx context.Context, txid string, vout uint32, scripthash string) (string, int, error) {
	s, ok := f.spends[txid]
	if !ok {
		return "", 0, nil
	}
	return s.txid, s.vin, nil
}

func (f *fakeElectrum) Close() {}

func TestTraceKYCWithdrawal_DestinationNotFound(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["EX"] = &models.Transaction{Txid: "EX", Outputs: []models.TxOut{{Vout: 0, Value: 1000, Address: "someone-else"}}}
	a := NewAnalyzer(rpc, nil, &chaincfg.MainNetParams)
	result, err := a.TraceKYCWithdrawal(context.Background(), "EX", destAddr, models.PresetStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning about the missing destination")
	}
	if result.OverallPrivacyScore != 100 {
		t.Fatalf("expected score 100 for an empty destination set, got %v", result.OverallPrivacyScore)
	}
}

func TestTraceKYCWithdrawal_ImmediateDeadEnd(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["EX"] = &models.Transaction{Txid: "EX", Outputs: []models.TxOut{{Vout: 0, Value: 1_000_000, Address: destAddr}}}
	rpc.utxos["EX:0"] = &models.UTXODescriptor{Txid: "EX", Vout: 0, Value: 1_000_000}

	a := NewAnalyzer(rpc, nil, &chaincfg.MainNetParams)
	result, err := a.TraceKYCWithdrawal(context.Background(), "EX", destAddr, models.PresetStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Destinations) != 1 {
		t.Fatalf("expected 1 destination, got %d", len(result.Destinations))
	}
	if result.Destinations[0].TrailStatus != models.TrailDeadEnd {
		t.Fatalf("expected dead_end, got %s", result.Destinations[0].TrailStatus)
	}
}

func TestTraceKYCWithdrawal_LostWithoutElectrum(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["EX"] = &models.Transaction{Txid: "EX", Outputs: []models.TxOut{{Vout: 0, Value: 1_000_000, Address: destAddr}}}
	// No utxo entry: the output is spent, but no electrum backend exists to
	// find who spent it.
	a := NewAnalyzer(rpc, nil, &chaincfg.MainNetParams)
	result, err := a.TraceKYCWithdrawal(context.Background(), "EX", destAddr, models.PresetStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Destinations) != 1 || result.Destinations[0].TrailStatus != models.TrailLost {
		t.Fatalf("expected a single lost destination, got %+v", result.Destinations)
	}
}

func TestTraceKYCWithdrawal_TwoCoinjoinHopsGoesCold(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["EX"] = &models.Transaction{Txid: "EX", Outputs: []models.TxOut{{Vout: 0, Value: 5_000_000, Address: destAddr}}}
	rpc.txs["CJ1"] = &models.Transaction{
		Txid:   "CJ1",
		Inputs: make([]models.TxIn, 5),
		Outputs: []models.TxOut{
			{Vout: 0, Value: 1_000_000, Address: destAddr}, {Vout: 1, Value: 1_000_000}, {Vout: 2, Value: 1_000_000},
			{Vout: 3, Value: 1_000_000}, {Vout: 4, Value: 1_000_000},
		},
	}
	rpc.txs["CJ2"] = &models.Transaction{
		Txid:   "CJ2",
		Inputs: make([]models.TxIn, 5),
		Outputs: []models.TxOut{
			{Vout: 0, Value: 900_000}, {Vout: 1, Value: 900_000}, {Vout: 2, Value: 900_000},
			{Vout: 3, Value: 900_000}, {Vout: 4, Value: 900_000},
		},
	}
	electrum := &fakeElectrum{spends: map[string]spend{
		"EX":  {txid: "CJ1", vin: 0},
		"CJ1": {txid: "CJ2", vin: 0},
	}}
	a := NewAnalyzer(rpc, electrum, &chaincfg.MainNetParams)
	result, err := a.TraceKYCWithdrawal(context.Background(), "EX", destAddr, models.PresetStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CoinjoinsEncountered != 2 {
		t.Fatalf("expected 2 coinjoins encountered, got %d", result.CoinjoinsEncountered)
	}
	foundCold := false
	for _, d := range result.Destinations {
		if d.TrailStatus == models.TrailCold {
			foundCold = true
		}
	}
	if !foundCold {
		t.Fatalf("expected at least one cold destination, got %+v", result.Destinations)
	}
}

func TestTraceKYCWithdrawal_DepthLimitTerminatesPath(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["EX"] = &models.Transaction{Txid: "EX", Outputs: []models.TxOut{{Vout: 0, Value: 1_000_000, Address: destAddr}}}
	electrum := &fakeElectrum{spends: map[string]spend{}}
	chainLen := 20
	prev := "EX"
	spends := map[string]spend{}
	for i := 0; i < chainLen; i++ {
		txid := "H" + string(rune('A'+i))
		rpc.txs[txid] = &models.Transaction{Txid: txid, Outputs: []models.TxOut{{Vout: 0, Value: int64(chainLen - i), Address: destAddr}}}
		spends[prev] = spend{txid: txid, vin: 0}
		prev = txid
	}
	electrum.spends = spends

	a := NewAnalyzer(rpc, electrum, &chaincfg.MainNetParams)
	result, err := a.TraceKYCWithdrawal(context.Background(), "EX", destAddr, models.PresetQuick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Destinations) != 1 {
		t.Fatalf("expected 1 destination, got %d: %+v", len(result.Destinations), result.Destinations)
	}
	if result.Destinations[0].TrailStatus != models.TrailDepthLimit {
		t.Fatalf("expected depth_limit, got %s", result.Destinations[0].TrailStatus)
	}
	if result.Destinations[0].PathLength != models.DepthForPreset(models.PresetQuick)+1 {
		t.Fatalf("expected path length %d, got %d", models.DepthForPreset(models.PresetQuick)+1, result.Destinations[0].PathLength)
	}
}
