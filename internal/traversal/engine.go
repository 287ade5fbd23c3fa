// Package traversal implements the forward and backward BFS walks over the
// UTXO spend graph: forward follows where coins went (via gettxout and,
// when available, an Electrum find_spending_tx lookup), backward follows
// where they came from (via each input's previous outpoint, which the node
// already supplies).
package traversal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/rawblock/utxo-provenance/internal/address"
	"github.com/rawblock/utxo-provenance/internal/coinjoin"
	"github.com/rawblock/utxo-provenance/pkg/models"
)

// NodeRPC is the subset of the node RPC client the engine needs. Accepting
// an interface here (rather than *rpcclient.Client directly) lets tests
// exercise the BFS logic against fixture data instead of a live node.
type NodeRPC interface {
	GetRawTransaction(txid string) (*models.Transaction, error)
	GetTxOut(txid string, vout uint32) (*models.UTXODescriptor, error)
}

// SpendFinder is the subset of the Electrum client the engine needs.
type SpendFinder interface {
	FindSpendingTx(ctx context.Context, txid string, vout uint32, scripthash string) (string, int, error)
	Close()
}

const (
	// MaxTxPerTrace bounds the number of fetched transactions in a single
	// trace.
	MaxTxPerTrace = 200
	// MaxQueue hard-caps the BFS frontier; excess entries are dropped and
	// the trace is flagged hit_limit.
	MaxQueue = 1000
	// MaxTraceTime is the wall-clock deadline for a single trace.
	MaxTraceTime = 60 * time.Second
	// findSpendingTxDeadline bounds a single Electrum find_spending_tx
	// lookup; on expiry the connection is torn down and the failure
	// streak counter advances.
	findSpendingTxDeadline = 30 * time.Second
	// electrumFailureThreshold is the number of consecutive
	// find_spending_tx failures after which Electrum is disabled for the
	// remainder of the trace.
	electrumFailureThreshold = 3

	// MinDepth and MaxDepth bound the clamp range for max_depth. MinDepth
	// is 0, not 1: a caller asking for max_depth=0 wants exactly the seed
	// node and no edges, and the extension gate (frame.Depth < maxDepth)
	// only holds that boundary if 0 survives the clamp unchanged.
	MinDepth = 0
	MaxDepth = 50
)

// ProgressFunc is invoked after each visited transaction with the running
// transaction count, visited-set size, and current depth.
type ProgressFunc func(txCount, visitedSize, depth int)

// Engine owns a transaction cache and Electrum degradation state. The
// Electrum state is reset at the start of every trace; the cache lives
// until ClearCache or the Engine itself is dropped. Neither is guarded by
// a lock, so an Engine is not safe for concurrent traces.
type Engine struct {
	rpc      NodeRPC
	electrum SpendFinder
	params   *chaincfg.Params

	electrumEnabled    bool
	electrumFailStreak int
	txCache            map[string]*models.Transaction
}

// NewEngine builds an Engine. electrumClient may be nil (pass the literal
// nil, not a nil-valued typed pointer), in which case the forward trace
// degrades to spent/unspent-only mode from the start.
func NewEngine(rpc NodeRPC, electrumClient SpendFinder, params *chaincfg.Params) *Engine {
	return &Engine{
		rpc:             rpc,
		electrum:        electrumClient,
		params:          params,
		electrumEnabled: electrumClient != nil,
		txCache:         make(map[string]*models.Transaction),
	}
}

// ClearCache resets the per-instance transaction cache.
func (e *Engine) ClearCache() {
	e.txCache = make(map[string]*models.Transaction)
}

// ClampDepth forces a requested max_depth into [MinDepth, MaxDepth].
func ClampDepth(d int) int {
	if d < MinDepth {
		return MinDepth
	}
	if d > MaxDepth {
		return MaxDepth
	}
	return d
}

// getTransaction consults the cache, then the node. A response whose
// payload is not a decoded transaction object never enters the cache —
// rpcclient.GetRawTransaction already enforces that by returning (nil,
// nil) for hex-string (verbose-not-honoured) responses, so there is
// nothing of the wrong shape for this cache to ever hold.
func (e *Engine) getTransaction(txid string) (*models.Transaction, error) {
	if tx, ok := e.txCache[txid]; ok {
		return tx, nil
	}
	tx, err := e.rpc.GetRawTransaction(txid)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, nil
	}
	e.txCache[txid] = tx
	return tx, nil
}

func addCoinjoinOnce(result *models.TraceResult, txid string) {
	for _, t := range result.CoinjoinTxids {
		if t == txid {
			return
		}
	}
	result.CoinjoinTxids = append(result.CoinjoinTxids, txid)
}

func nodeFromOutput(tx *models.Transaction, vout uint32, depth int, score float64) models.TraceNode {
	for _, out := range tx.Outputs {
		if out.Vout == vout {
			return models.TraceNode{
				Txid:          tx.Txid,
				Vout:          vout,
				ValueSats:     out.Value,
				Address:       out.Address,
				ScriptType:    out.ScriptType,
				BlockTime:     tx.BlockTime,
				Depth:         depth,
				CoinjoinScore: score,
			}
		}
	}
	return models.TraceNode{Txid: tx.Txid, Vout: vout, Depth: depth, CoinjoinScore: score}
}

type forwardFrame struct {
	Txid  string
	Vout  uint32
	Depth int
}

// TraceForward walks the spend graph starting at (txid, vout), following
// each output forward to the transaction that spends it.
func (e *Engine) TraceForward(ctx context.Context, txid string, vout uint32, maxDepth int, progress ProgressFunc) (*models.TraceResult, error) {
	maxDepth = ClampDepth(maxDepth)
	start := time.Now()
	deadline := start.Add(MaxTraceTime)

	// Electrum degradation is per trace: start with the configured backend
	// and a clean failure streak.
	e.electrumEnabled = e.electrum != nil
	e.electrumFailStreak = 0

	result := &models.TraceResult{
		StartTxid:      txid,
		StartVout:      vout,
		Direction:      models.DirectionForward,
		MaxDepth:       maxDepth,
		ElectrsEnabled: e.electrumEnabled,
	}

	visited := make(map[models.VisitedKey]bool)
	queue := []forwardFrame{{Txid: txid, Vout: vout, Depth: 0}}
	txCount := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			result.Warnings = append(result.Warnings, "Trace cancelled, returning partial results")
			result.HitLimit = true
			break
		}
		if time.Now().After(deadline) {
			result.Warnings = append(result.Warnings, "Trace exceeded time limit, returning partial results")
			result.HitLimit = true
			break
		}
		if txCount >= MaxTxPerTrace {
			result.Warnings = append(result.Warnings, "Reached maximum transactions per trace")
			result.HitLimit = true
			break
		}

		frame := queue[0]
		queue = queue[1:]

		key := models.VisitedKey{Txid: frame.Txid, Vout: frame.Vout}
		if visited[key] {
			continue
		}
		visited[key] = true

		if frame.Depth > maxDepth {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Depth limit reached at %s:%d", frame.Txid, frame.Vout))
			continue
		}

		tx, err := e.getTransaction(frame.Txid)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Error fetching transaction %s: %v", frame.Txid, err))
			continue
		}
		if tx == nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Transaction %s not found", frame.Txid))
			continue
		}
		txCount++
		if progress != nil {
			progress(txCount, len(visited), frame.Depth)
		}

		score := coinjoin.Score(tx)
		if score > coinjoin.Threshold {
			addCoinjoinOnce(result, frame.Txid)
		}

		node := nodeFromOutput(tx, frame.Vout, frame.Depth, score)

		utxo, err := e.rpc.GetTxOut(frame.Txid, frame.Vout)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Error checking output %s:%d: %v", frame.Txid, frame.Vout, err))
		}
		if utxo != nil {
			node.Status = models.StatusUnspent
			result.Nodes = append(result.Nodes, node)
			result.UnspentEndpoints = append(result.UnspentEndpoints, node)
			result.TotalValueTracedSats += node.ValueSats
			continue
		}

		node.Status = models.StatusSpent
		if e.electrumEnabled && node.Address != "" && frame.Depth < maxDepth {
			spendTxid, spendVin, found := e.findSpendingTx(ctx, frame.Txid, frame.Vout, node.Address, result)
			if found {
				node.SpentByTxid = spendTxid
				node.SpentByVin = spendVin
				result.Edges = append(result.Edges, models.TraceEdge{
					FromTxid: frame.Txid, FromVout: frame.Vout,
					ToTxid: spendTxid, ToVin: spendVin, ValueSats: node.ValueSats,
				})
				if spendTx, err := e.getTransaction(spendTxid); err == nil && spendTx != nil {
					for _, out := range spendTx.Outputs {
						if len(queue) >= MaxQueue {
							result.Warnings = append(result.Warnings, "Queue truncated at maximum length")
							result.HitLimit = true
							break
						}
						queue = append(queue, forwardFrame{Txid: spendTxid, Vout: out.Vout, Depth: frame.Depth + 1})
					}
				}
			}
		}

		result.Nodes = append(result.Nodes, node)
		result.TotalValueTracedSats += node.ValueSats
	}

	result.TotalTransactions = txCount
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// findSpendingTx resolves an output's spending transaction via Electrum,
// applying the adaptive degradation rule: three consecutive failures
// disable Electrum for the remainder of the trace. It reports (txid, vin,
// true) on a match, ("", 0, false) when there is no match or Electrum is
// unavailable.
func (e *Engine) findSpendingTx(ctx context.Context, txid string, vout uint32, addr string, result *models.TraceResult) (string, int, bool) {
	scripthash, err := address.AddressToScripthash(addr, e.params)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Could not derive scripthash for %s: %v", addr, err))
		return "", 0, false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, findSpendingTxDeadline)
	spendTxid, spendVin, err := e.electrum.FindSpendingTx(lookupCtx, txid, vout, scripthash)
	timedOut := errors.Is(lookupCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if timedOut {
			// The read framing may have desynchronised; never reuse this
			// session.
			e.electrum.Close()
		}
		e.electrumFailStreak++
		if e.electrumFailStreak >= electrumFailureThreshold {
			e.electrumEnabled = false
			result.Warnings = append(result.Warnings, "Electrum disabled after repeated failures; continuing in spent/unspent-only mode")
		}
		return "", 0, false
	}

	e.electrumFailStreak = 0
	if spendTxid == "" {
		return "", 0, false
	}
	return spendTxid, spendVin, true
}

type backwardFrame struct {
	Txid  string
	Depth int
}

// TraceBackward walks the spend graph starting at txid, following each
// input back to the transaction (and output) it spent.
func (e *Engine) TraceBackward(ctx context.Context, txid string, maxDepth int, progress ProgressFunc) (*models.TraceResult, error) {
	maxDepth = ClampDepth(maxDepth)
	start := time.Now()
	deadline := start.Add(MaxTraceTime)

	e.electrumEnabled = e.electrum != nil
	e.electrumFailStreak = 0

	result := &models.TraceResult{
		StartTxid:      txid,
		Direction:      models.DirectionBackward,
		MaxDepth:       maxDepth,
		ElectrsEnabled: e.electrumEnabled,
	}

	visited := make(map[string]bool)
	queue := []backwardFrame{{Txid: txid, Depth: 0}}
	txCount := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			result.Warnings = append(result.Warnings, "Trace cancelled, returning partial results")
			result.HitLimit = true
			break
		}
		if time.Now().After(deadline) {
			result.Warnings = append(result.Warnings, "Trace exceeded time limit, returning partial results")
			result.HitLimit = true
			break
		}
		if txCount >= MaxTxPerTrace {
			result.Warnings = append(result.Warnings, "Reached maximum transactions per trace")
			result.HitLimit = true
			break
		}

		frame := queue[0]
		queue = queue[1:]

		if visited[frame.Txid] {
			continue
		}
		visited[frame.Txid] = true

		if frame.Depth > maxDepth {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Depth limit reached at %s", frame.Txid))
			continue
		}

		tx, err := e.getTransaction(frame.Txid)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Error fetching transaction %s: %v", frame.Txid, err))
			continue
		}
		if tx == nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Transaction %s not found", frame.Txid))
			continue
		}
		txCount++
		if progress != nil {
			progress(txCount, len(visited), frame.Depth)
		}

		score := coinjoin.Score(tx)
		if score > coinjoin.Threshold {
			addCoinjoinOnce(result, frame.Txid)
		}

		if hasCoinbaseInput(tx) {
			var aggregate int64
			for _, out := range tx.Outputs {
				aggregate += out.Value
			}
			node := models.TraceNode{
				Txid:          tx.Txid,
				ValueSats:     aggregate,
				Status:        models.StatusCoinbase,
				BlockTime:     tx.BlockTime,
				Depth:         frame.Depth,
				CoinjoinScore: score,
			}
			result.Nodes = append(result.Nodes, node)
			result.CoinbaseOrigins = append(result.CoinbaseOrigins, node)
			result.TotalValueTracedSats += aggregate
			continue
		}

		node := models.TraceNode{
			Txid:          tx.Txid,
			Status:        models.StatusSpent,
			BlockTime:     tx.BlockTime,
			Depth:         frame.Depth,
			CoinjoinScore: score,
		}
		result.Nodes = append(result.Nodes, node)

		for vin, in := range tx.Inputs {
			if in.Coinbase {
				continue
			}
			result.Edges = append(result.Edges, models.TraceEdge{
				FromTxid: in.Txid, FromVout: in.Vout,
				ToTxid: tx.Txid, ToVin: vin, ValueSats: in.Value,
			})
			if !visited[in.Txid] && frame.Depth < maxDepth {
				if len(queue) >= MaxQueue {
					result.Warnings = append(result.Warnings, "Queue truncated at maximum length")
					result.HitLimit = true
					break
				}
				queue = append(queue, backwardFrame{Txid: in.Txid, Depth: frame.Depth + 1})
			}
		}
	}

	result.TotalTransactions = txCount
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func hasCoinbaseInput(tx *models.Transaction) bool {
	for _, in := range tx.Inputs {
		if in.Coinbase {
			return true
		}
	}
	return false
}
