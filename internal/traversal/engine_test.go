package traversal

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

// testAddr is a well-formed mainnet bech32 address so AddressToScripthash
// succeeds; the fake Electrum backends below don't care about its value,
// only that it decodes.
const testAddr = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

type fakeRPC struct {
	txs    map[string]*models.Transaction
	utxos  map[string]*models.UTXODescriptor // key: txid:vout
	errors map[string]error
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		txs:   make(map[string]*models.Transaction),
		utxos: make(map[string]*models.UTXODescriptor),
	}
}

func utxoKey(txid string, vout uint32) string {
	return txid + ":" + string(rune('0'+vout))
}

func (f *fakeRPC) GetRawTransaction(txid string) (*models.Transaction, error) {
	if err, ok := f.errors[txid]; ok {
		return nil, err
	}
	tx, ok := f.txs[txid]
	if !ok {
		return nil, nil
	}
	return tx, nil
}

func (f *fakeRPC) GetTxOut(txid string, vout uint32) (*models.UTXODescriptor, error) {
	return f.utxos[utxoKey(txid, vout)], nil
}

type fakeElectrum struct {
	spends map[string]struct {
		txid string
		vin  int
	}
	closed bool
}

func (f *fakeElectrum) FindSpendingTx(ctx context.Context, txid string, vout uint32, scripthash string) (string, int, error) {
	entry, ok := f.spends[utxoKey(txid, vout)]
	if !ok {
		return "", 0, nil
	}
	return entry.txid, entry.vin, nil
}

func (f *fakeElectrum) Close() { f.closed = true }

func TestTraceForward_UnspentSeed(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["T0"] = &models.Transaction{
		Txid:    "T0",
		Outputs: []models.TxOut{{Vout: 0, Value: 100_000_000, Address: "addr0"}},
	}
	rpc.utxos[utxoKey("T0", 0)] = &models.UTXODescriptor{Txid: "T0", Vout: 0, Value: 100_000_000}

	e := NewEngine(rpc, nil, &chaincfg.MainNetParams)
	result, err := e.TraceForward(context.Background(), "T0", 0, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(result.Nodes))
	}
	if result.Nodes[0].Status != models.StatusUnspent {
		t.Fatalf("expected unspent status, got %s", result.Nodes[0].Status)
	}
	if len(result.UnspentEndpoints) != 1 {
		t.Fatalf("expected 1 unspent endpoint, got %d", len(result.UnspentEndpoints))
	}
	if result.TotalValueTracedSats != 100_000_000 {
		t.Fatalf("expected total value 100_000_000, got %d", result.TotalValueTracedSats)
	}
}

func TestTraceForward_SimpleSpendChain(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["T0"] = &models.Transaction{
		Txid:    "T0",
		Outputs: []models.TxOut{{Vout: 0, Value: 50_000_000, Address: testAddr}},
	}
	rpc.txs["T1"] = &models.Transaction{
		Txid:    "T1",
		Inputs:  []models.TxIn{{Txid: "T0", Vout: 0}},
		Outputs: []models.TxOut{{Vout: 0, Value: 49_000_000, Address: "addr1"}},
	}
	rpc.utxos[utxoKey("T1", 0)] = &models.UTXODescriptor{Txid: "T1", Vout: 0, Value: 49_000_000}

	electrum := &fakeElectrum{spends: map[string]struct {
		txid string
		vin  int
	}{
		utxoKey("T0", 0): {txid: "T1", vin: 0},
	}}

	e := NewEngine(rpc, electrum, &chaincfg.MainNetParams)
	result, err := e.TraceForward(context.Background(), "T0", 0, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d: %+v", len(result.Nodes), result.Nodes)
	}
	if len(result.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(result.Edges))
	}
	if len(result.UnspentEndpoints) != 1 || result.UnspentEndpoints[0].Txid != "T1" {
		t.Fatalf("expected unspent endpoint T1:0, got %+v", result.UnspentEndpoints)
	}
}

func TestTraceForward_WhirlpoolHopIsCounted(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["T0"] = &models.Transaction{
		Txid:    "T0",
		Outputs: []models.TxOut{{Vout: 0, Value: 5_000_000, Address: testAddr}},
	}
	rpc.txs["T1"] = &models.Transaction{
		Txid:   "T1",
		Inputs: []models.TxIn{{Txid: "T0", Vout: 0}, {Txid: "X", Vout: 0}},
		Outputs: []models.TxOut{
			{Vout: 0, Value: 5_000_000}, {Vout: 1, Value: 5_000_000},
			{Vout: 2, Value: 5_000_000}, {Vout: 3, Value: 5_000_000},
			{Vout: 4, Value: 5_000_000},
		},
	}
	rpc.utxos[utxoKey("T1", 0)] = &models.UTXODescriptor{Txid: "T1", Vout: 0, Value: 5_000_000}

	electrum := &fakeElectrum{spends: map[string]struct {
		txid string
		vin  int
	}{
		utxoKey("T0", 0): {txid: "T1", vin: 0},
	}}

	e := NewEngine(rpc, electrum, &chaincfg.MainNetParams)
	result, err := e.TraceForward(context.Background(), "T0", 0, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.CoinjoinTxids) != 1 || result.CoinjoinTxids[0] != "T1" {
		t.Fatalf("expected T1 flagged as coinjoin, got %+v", result.CoinjoinTxids)
	}
}

func TestTraceForward_DepthCap(t *testing.T) {
	rpc := newFakeRPC()
	const chainLen = 20
	for i := 0; i < chainLen; i++ {
		txid := txidFor(i)
		tx := &models.Transaction{Txid: txid, Outputs: []models.TxOut{{Vout: 0, Value: int64(chainLen - i), Address: testAddr}}}
		if i > 0 {
			tx.Inputs = []models.TxIn{{Txid: txidFor(i - 1), Vout: 0}}
		}
		rpc.txs[txid] = tx
	}
	rpc.utxos[utxoKey(txidFor(chainLen-1), 0)] = &models.UTXODescriptor{Txid: txidFor(chainLen - 1), Vout: 0, Value: 1}

	spends := map[string]struct {
		txid string
		vin  int
	}{}
	for i := 0; i < chainLen-1; i++ {
		spends[utxoKey(txidFor(i), 0)] = struct {
			txid string
			vin  int
		}{txid: txidFor(i + 1), vin: 0}
	}
	electrum := &fakeElectrum{spends: spends}

	e := NewEngine(rpc, electrum, &chaincfg.MainNetParams)
	result, err := e.TraceForward(context.Background(), txidFor(0), 0, 5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalTransactions != 6 {
		t.Fatalf("expected 6 transactions fetched, got %d", result.TotalTransactions)
	}
	lastNode := result.Nodes[len(result.Nodes)-1]
	if lastNode.Depth != 5 {
		t.Fatalf("expected last node depth 5, got %d", lastNode.Depth)
	}
}

func txidFor(i int) string {
	return "T" + string(rune('A'+i))
}

func TestTraceForward_UnknownSeedReturnsEmptyResultWithWarning(t *testing.T) {
	rpc := newFakeRPC()
	e := NewEngine(rpc, nil, &chaincfg.MainNetParams)
	result, err := e.TraceForward(context.Background(), "missing", 0, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Nodes) != 0 {
		t.Fatalf("expected no nodes, got %d", len(result.Nodes))
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning about the missing transaction")
	}
}

func TestTraceForward_ZeroDepthEmitsSeedOnly(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["T0"] = &models.Transaction{
		Txid:    "T0",
		Outputs: []models.TxOut{{Vout: 0, Value: 1000, Address: "addr0"}},
	}
	electrum := &fakeElectrum{spends: map[string]struct {
		txid string
		vin  int
	}{
		utxoKey("T0", 0): {txid: "T1", vin: 0},
	}}
	e := NewEngine(rpc, electrum, &chaincfg.MainNetParams)
	// T0:0 is spent and electrum has a spend for it queued up, so this
	// only stays seed-only if max_depth=0 survives the clamp unchanged —
	// if it were forced up to 1, the extension gate at depth 0 would
	// follow the spend and emit a second node plus an edge.
	result, err := e.TraceForward(context.Background(), "T0", 0, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MaxDepth != 0 {
		t.Fatalf("expected max depth to stay 0, got %d", result.MaxDepth)
	}
	if len(result.Nodes) != 1 {
		t.Fatalf("expected exactly one node (the seed), got %d", len(result.Nodes))
	}
	if len(result.Edges) != 0 {
		t.Fatalf("expected zero edges, got %d", len(result.Edges))
	}
}

func TestTraceBackward_CoinbaseOrigin(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["Tcb"] = &models.Transaction{
		Txid:    "Tcb",
		Inputs:  []models.TxIn{{Coinbase: true}},
		Outputs: []models.TxOut{{Vout: 0, Value: 625_000_000}},
	}
	e := NewEngine(rpc, nil, &chaincfg.MainNetParams)
	result, err := e.TraceBackward(context.Background(), "Tcb", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.CoinbaseOrigins) != 1 {
		t.Fatalf("expected 1 coinbase origin, got %d", len(result.CoinbaseOrigins))
	}
	if result.CoinbaseOrigins[0].ValueSats != 625_000_000 {
		t.Fatalf("expected aggregated value 625_000_000, got %d", result.CoinbaseOrigins[0].ValueSats)
	}
}

func TestTraceBackward_FollowsInputsToCoinbase(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txs["Tcb"] = &models.Transaction{
		Txid:    "Tcb",
		Inputs:  []models.TxIn{{Coinbase: true}},
		Outputs: []models.TxOut{{Vout: 0, Value: 5_000_000_000}},
	}
	rpc.txs["T1"] = &models.Transaction{
		Txid:    "T1",
		Inputs:  []models.TxIn{{Txid: "Tcb", Vout: 0, Value: 5_000_000_000}},
		Outputs: []models.TxOut{{Vout: 0, Value: 4_999_000_000}},
	}
	e := NewEngine(rpc, nil, &chaincfg.MainNetParams)
	result, err := e.TraceBackward(context.Background(), "T1", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(result.Nodes))
	}
	if len(result.CoinbaseOrigins) != 1 {
		t.Fatalf("expected to reach the coinbase origin, got %d", len(result.CoinbaseOrigins))
	}
	if len(result.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(result.Edges))
	}
}

func TestElectrumDisabledAfterThreeConsecutiveFailures(t *testing.T) {
	rpc := newFakeRPC()
	failer := &failingElectrum{}
	e := NewEngine(rpc, failer, &chaincfg.MainNetParams)

	result := &models.TraceResult{}
	for i := 0; i < 2; i++ {
		if _, _, found := e.findSpendingTx(context.Background(), "T0", 0, testAddr, result); found {
			t.Fatal("expected no match from a failing electrum backend")
		}
		if !e.electrumEnabled {
			t.Fatalf("electrum disabled too early, after %d failures", i+1)
		}
	}
	if _, _, found := e.findSpendingTx(context.Background(), "T0", 0, testAddr, result); found {
		t.Fatal("expected no match from a failing electrum backend")
	}
	if e.electrumEnabled {
		t.Fatal("expected electrum to be disabled after 3 consecutive failures")
	}

	found := false
	for _, w := range result.Warnings {
		if w == "Electrum disabled after repeated failures; continuing in spent/unspent-only mode" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning about electrum being disabled, got %+v", result.Warnings)
	}
}

type failingElectrum struct{ failures int }

func (f *failingElectrum) FindSpendingTx(ctx context.Context, txid string, vout uint32, scripthash string) (string, int, error) {
	return "", 0, context.DeadlineExceeded
}

func (f *failingElectrum) Close() {}
