package indexer

import (
	"context"
	"sync"
	"testing"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

type fakeRPC struct {
	mempool []string
	txs     map[string]*models.Transaction
}

func (f *fakeRPC) GetRawMempool() ([]string, error) { return f.mempool, nil }

func (f *fakeRPC) GetRawTransaction(txid string) (*models.Transaction, error) {
	return f.txs[txid], nil
}

type fakeCache struct {
	mu     sync.Mutex
	scores map[string]float64
}

func newFakeCache() *fakeCache { return &fakeCache{scores: make(map[string]float64)} }

func (f *fakeCache) CacheCoinjoinScore(ctx context.Context, txid string, score float64, isCoinjoin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[txid] = score
	return nil
}

func coinjoinLikeTx(txid string) *models.Transaction {
	outputs := make([]models.TxOut, 5)
	for i := range outputs {
		outputs[i] = models.TxOut{Vout: uint32(i), Value: 100000000}
	}
	return &models.Transaction{Txid: txid, Inputs: make([]models.TxIn, 5), Outputs: outputs}
}

func plainTx(txid string) *models.Transaction {
	return &models.Transaction{
		Txid:    txid,
		Inputs:  []models.TxIn{{Txid: "x", Vout: 0, Value: 50000}},
		Outputs: []models.TxOut{{Vout: 0, Value: 30000}, {Vout: 1, Value: 19000}},
	}
}

func TestTick_CachesScoreForEveryNewMempoolTx(t *testing.T) {
	rpc := &fakeRPC{
		mempool: []string{"a", "b"},
		txs:     map[string]*models.Transaction{"a": coinjoinLikeTx("a"), "b": plainTx("b")},
	}
	cache := newFakeCache()
	p := New(rpc, nil, cache)

	p.tick(context.Background())

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.scores) != 2 {
		t.Fatalf("expected 2 cached scores, got %d", len(cache.scores))
	}
	if cache.scores["a"] <= cache.scores["b"] {
		t.Fatalf("expected the 5x-equal-output tx to score higher than the plain tx: a=%v b=%v", cache.scores["a"], cache.scores["b"])
	}
}

func TestTick_SkipsAlreadySeenTxids(t *testing.T) {
	rpc := &fakeRPC{
		mempool: []string{"a"},
		txs:     map[string]*models.Transaction{"a": plainTx("a")},
	}
	cache := newFakeCache()
	p := New(rpc, nil, cache)

	p.tick(context.Background())
	p.tick(context.Background())

	if got := p.Progress().TotalScanned; got != 1 {
		t.Fatalf("TotalScanned = %d, want 1 (second tick should skip the already-seen txid)", got)
	}
}

func TestTick_CountsCoinjoinsSeparatelyFromTotal(t *testing.T) {
	rpc := &fakeRPC{
		mempool: []string{"a", "b"},
		txs:     map[string]*models.Transaction{"a": coinjoinLikeTx("a"), "b": plainTx("b")},
	}
	p := New(rpc, nil, nil)

	p.tick(context.Background())

	progress := p.Progress()
	if progress.TotalScanned != 2 {
		t.Fatalf("TotalScanned = %d, want 2", progress.TotalScanned)
	}
	if progress.TotalCoinjoins != 1 {
		t.Fatalf("TotalCoinjoins = %d, want 1", progress.TotalCoinjoins)
	}
}

func TestTick_NilCacheAndHubDoNotPanic(t *testing.T) {
	rpc := &fakeRPC{
		mempool: []string{"a"},
		txs:     map[string]*models.Transaction{"a": coinjoinLikeTx("a")},
	}
	p := New(rpc, nil, nil)
	p.tick(context.Background())
}
