// Package indexer runs an optional background mempool poller that scores
// every new transaction for CoinJoin structure as it arrives, broadcasts a
// lightweight alert over the websocket hub, and caches the result so a
// later /analysis/coinjoin/{txid} lookup skips the node round-trip. It is
// enabled only when ENABLE_BACKGROUND_INDEXER is set — tracing and KYC
// analysis work fine without it, since both call internal/coinjoin.Score
// directly against a freshly fetched transaction.
package indexer

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/rawblock/utxo-provenance/internal/api"
	"github.com/rawblock/utxo-provenance/internal/coinjoin"
	"github.com/rawblock/utxo-provenance/pkg/models"
)

const pollInterval = 3 * time.Second

// NodeRPC is the subset of *rpcclient.Client the poller needs.
type NodeRPC interface {
	GetRawMempool() ([]string, error)
	GetRawTransaction(txid string) (*models.Transaction, error)
}

// Cache is the subset of *store.Store the poller needs; nil means "run
// without caching" rather than forcing every deployment to configure a
// database before enabling the indexer.
type Cache interface {
	CacheCoinjoinScore(ctx context.Context, txid string, score float64, isCoinjoin bool) error
}

// Poller watches the node's mempool for new transactions and scores each
// one once, the way internal/scanner/block_scanner.go in the example
// corpus does for confirmed blocks — here against unconfirmed ones.
type Poller struct {
	rpc   NodeRPC
	hub   *api.Hub
	cache Cache

	seen atomic.Pointer[map[string]bool]

	totalScanned   atomic.Int64
	totalCoinjoins atomic.Int64
}

// Alert is the payload broadcast over the websocket hub when a mempool
// transaction scores above the CoinJoin threshold.
type Alert struct {
	Type  string  `json:"type"`
	Txid  string  `json:"txid"`
	Score float64 `json:"score"`
}

func New(rpc NodeRPC, hub *api.Hub, cache Cache) *Poller {
	p := &Poller{rpc: rpc, hub: hub, cache: cache}
	seen := make(map[string]bool)
	p.seen.Store(&seen)
	return p
}

// Progress reports the poller's running totals, for a future status
// endpoint or for tests.
type Progress struct {
	TotalScanned   int64
	TotalCoinjoins int64
}

func (p *Poller) Progress() Progress {
	return Progress{
		TotalScanned:   p.totalScanned.Load(),
		TotalCoinjoins: p.totalCoinjoins.Load(),
	}
}

// Run polls the mempool every pollInterval until ctx is cancelled. It
// scores at most 20 new transactions per tick, the same per-tick cap the
// teacher's mempool poller uses to avoid lagging the node.
func (p *Poller) Run(ctx context.Context) {
	log.Println("[Indexer] starting mempool CoinJoin poller")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Indexer] stopping mempool poller")
			return
		case <-cleanup.C:
			fresh := make(map[string]bool)
			p.seen.Store(&fresh)
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	txids, err := p.rpc.GetRawMempool()
	if err != nil {
		log.Printf("[Indexer] fetching mempool: %v", err)
		return
	}

	seen := *p.seen.Load()
	processed := 0
	for _, txid := range txids {
		if processed >= 20 {
			break
		}
		if seen[txid] {
			continue
		}
		seen[txid] = true

		tx, err := p.rpc.GetRawTransaction(txid)
		if err != nil || tx == nil {
			continue
		}
		processed++
		p.totalScanned.Add(1)

		score := coinjoin.Score(tx)
		isCoinjoin := score > coinjoin.Threshold
		if isCoinjoin {
			p.totalCoinjoins.Add(1)
		}

		if p.cache != nil {
			if err := p.cache.CacheCoinjoinScore(ctx, txid, score, isCoinjoin); err != nil {
				log.Printf("[Indexer] caching score for %s: %v", txid, err)
			}
		}

		if isCoinjoin && p.hub != nil {
			payload, err := json.Marshal(Alert{Type: "coinjoin_detected", Txid: txid, Score: score})
			if err == nil {
				p.hub.Broadcast(payload)
			}
		}
	}
}
