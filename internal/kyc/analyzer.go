// Package kyc answers the question an exchange-withdrawal trail poses: once
// coins left an exchange to a known destination, how easy would it be for
// an outside observer to keep following them? It reuses the traversal
// engine's node/Electrum interfaces but walks a richer per-path payload so
// it can score CoinJoin exposure and change-output likelihood, giving a
// confidence per terminated path and one overall 0-100 privacy score per
// trace.
package kyc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/rawblock/utxo-provenance/internal/address"
	"github.com/rawblock/utxo-provenance/internal/coinjoin"
	"github.com/rawblock/utxo-provenance/internal/traversal"
	"github.com/rawblock/utxo-provenance/pkg/models"
)

const (
	// MinDepth and MaxDepth bound the clamp range for a KYC trace's
	// max_depth, tighter than the general traversal engine's since KYC
	// presets only go up to "thorough".
	MinDepth = 1
	MaxDepth = 15

	findSpendingTxDeadline   = 30 * time.Second
	electrumFailureThreshold = 3
)

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

// Analyzer owns a transaction cache and Electrum degradation state,
// mirroring the traversal engine. The Electrum state is reset at the start
// of every TraceKYCWithdrawal; the cache lives as long as the Analyzer.
// Neither is guarded by a lock, so an Analyzer is not safe for concurrent
// traces.
type Analyzer struct {
	rpc      traversal.NodeRPC
	electrum traversal.SpendFinder
	params   *chaincfg.Params

	electrumEnabled    bool
	electrumFailStreak int
	txCache            map[string]*models.Transaction
}

// NewAnalyzer builds an Analyzer. electrumClient may be nil (pass the
// literal nil, not a nil-valued typed pointer).
func NewAnalyzer(rpc traversal.NodeRPC, electrumClient traversal.SpendFinder, params *chaincfg.Params) *Analyzer {
	return &Analyzer{
		rpc:             rpc,
		electrum:        electrumClient,
		params:          params,
		electrumEnabled: electrumClient != nil,
		txCache:         make(map[string]*models.Transaction),
	}
}

func (a *Analyzer) getTransaction(txid string) (*models.Transaction, error) {
	if tx, ok := a.txCache[txid]; ok {
		return tx, nil
	}
	tx, err := a.rpc.GetRawTransaction(txid)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, nil
	}
	a.txCache[txid] = tx
	return tx, nil
}

// resolveInputAttrs resolves each non-coinbase input's own prevout to
// collect the set of addresses and script types tx's inputs spend from,
// which the change-output heuristic compares outputs against.
func (a *Analyzer) resolveInputAttrs(tx *models.Transaction) inputAttrs {
	attrs := inputAttrs{addresses: make(map[string]bool), types: make(map[models.ScriptType]bool)}
	for _, in := range tx.Inputs {
		if in.Coinbase {
			continue
		}
		prevTx, err := a.getTransaction(in.Txid)
		if err != nil || prevTx == nil {
			continue
		}
		for _, out := range prevTx.Outputs {
			if out.Vout == in.Vout {
				if out.Address != "" {
					attrs.addresses[out.Address] = true
				}
				if out.ScriptType != "" {
					attrs.types[out.ScriptType] = true
				}
				break
			}
		}
	}
	return attrs
}

type kycFrame struct {
	Txid         string
	Vout         uint32
	Depth        int
	CJCount      int
	Path         []models.KYCPathNode
	TrackedValue int64
}

// TraceKYCWithdrawal locates destinationAddress among exchangeTxid's
// outputs and follows it forward, scoring every terminated path for
// traceability and composing an overall privacy score.
func (a *Analyzer) TraceKYCWithdrawal(ctx context.Context, exchangeTxid, destinationAddress string, preset models.DepthPreset) (*models.KYCResult, error) {
	maxDepth := ClampDepth(models.DepthForPreset(preset))
	start := time.Now()
	deadline := start.Add(traversal.MaxTraceTime)

	// Electrum degradation is per trace: start with the configured backend
	// and a clean failure streak.
	a.electrumEnabled = a.electrum != nil
	a.electrumFailStreak = 0

	result := &models.KYCResult{
		ExchangeTxid:       exchangeTxid,
		DestinationAddress: destinationAddress,
		MaxDepth:           maxDepth,
		ElectrsEnabled:     a.electrumEnabled,
	}

	seedTx, err := a.getTransaction(exchangeTxid)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Error fetching transaction %s: %v", exchangeTxid, err))
		result.OverallPrivacyScore = 100
		result.Rating = models.PrivacyRatingFor(result.OverallPrivacyScore)
		return result, nil
	}
	if seedTx == nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Transaction %s not found", exchangeTxid))
		result.OverallPrivacyScore = 100
		result.Rating = models.PrivacyRatingFor(result.OverallPrivacyScore)
		return result, nil
	}

	var seedVout uint32
	var seedValue int64
	found := false
	for _, out := range seedTx.Outputs {
		if out.Address == destinationAddress {
			seedVout, seedValue, found = out.Vout, out.Value, true
			break
		}
	}
	if !found {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Address %s not found among the outputs of %s", destinationAddress, exchangeTxid))
		result.OverallPrivacyScore = 100
		result.Rating = models.PrivacyRatingFor(result.OverallPrivacyScore)
		return result, nil
	}
	result.StartVout = seedVout
	result.StartValueSats = seedValue

	queue := []kycFrame{{Txid: exchangeTxid, Vout: seedVout, Depth: 0, TrackedValue: seedValue}}
	visited := make(map[models.VisitedKey]bool)
	coinjoinSeen := make(map[string]bool)
	var destinations []models.ProbableDestination
	txCount := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			result.Warnings = append(result.Warnings, "Trace cancelled, returning partial results")
			break
		}
		if time.Now().After(deadline) {
			result.Warnings = append(result.Warnings, "Trace exceeded time limit, returning partial results")
			break
		}
		if txCount >= traversal.MaxTxPerTrace {
			result.Warnings = append(result.Warnings, "Reached maximum transactions per trace")
			break
		}

		frame := queue[0]
		queue = queue[1:]

		key := models.VisitedKey{Txid: frame.Txid, Vout: frame.Vout}
		if visited[key] {
			continue
		}
		visited[key] = true

		tx, err := a.getTransaction(frame.Txid)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Error fetching transaction %s: %v", frame.Txid, err))
			continue
		}
		if tx == nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Transaction %s not found", frame.Txid))
			continue
		}
		txCount++

		score := coinjoin.Score(tx)
		isCoinjoin := score >= coinjoin.AnalyserThreshold
		if isCoinjoin {
			coinjoinSeen[tx.Txid] = true
		}
		cjCount := frame.CJCount
		if isCoinjoin {
			cjCount++
		}

		var out models.TxOut
		for _, o := range tx.Outputs {
			if o.Vout == frame.Vout {
				out = o
				break
			}
		}
		attrs := a.resolveInputAttrs(tx)
		changeProb, isChange := changeProbability(out, tx, attrs)

		pathNode := models.KYCPathNode{
			TraceNode: models.TraceNode{
				Txid:          tx.Txid,
				Vout:          frame.Vout,
				ValueSats:     out.Value,
				Address:       out.Address,
				ScriptType:    out.ScriptType,
				BlockTime:     tx.BlockTime,
				Depth:         frame.Depth,
				CoinjoinScore: score,
			},
			IsCoinjoin:          isCoinjoin,
			CoinjoinCountInPath: cjCount,
			IsChange:            isChange,
			ChangeProbability:   changeProb,
		}
		path := make([]models.KYCPathNode, len(frame.Path), len(frame.Path)+1)
		copy(path, frame.Path)
		path = append(path, pathNode)

		utxo, err := a.rpc.GetTxOut(frame.Txid, frame.Vout)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Error checking output %s:%d: %v", frame.Txid, frame.Vout, err))
		}

		switch {
		case utxo != nil:
			path[len(path)-1].Status = models.StatusUnspent
			destinations = append(destinations, a.emit(path, models.TrailDeadEnd, seedValue))
			continue
		case cjCount >= 2:
			path[len(path)-1].Status = models.StatusSpent
			destinations = append(destinations, a.emit(path, models.TrailCold, seedValue))
			continue
		case frame.Depth >= maxDepth:
			path[len(path)-1].Status = models.StatusSpent
			destinations = append(destinations, a.emit(path, models.TrailDepthLimit, seedValue))
			continue
		}

		path[len(path)-1].Status = models.StatusSpent
		if !a.electrumEnabled || out.Address == "" {
			destinations = append(destinations, a.emit(path, models.TrailLost, seedValue))
			continue
		}

		spendTxid, spendVin, foundSpend := a.findSpendingTx(ctx, frame.Txid, frame.Vout, out.Address, result)
		if !foundSpend {
			destinations = append(destinations, a.emit(path, models.TrailLost, seedValue))
			continue
		}
		path[len(path)-1].SpentByTxid = spendTxid
		path[len(path)-1].SpentByVin = spendVin

		spendTx, err := a.getTransaction(spendTxid)
		if err != nil || spendTx == nil {
			destinations = append(destinations, a.emit(path, models.TrailLost, seedValue))
			continue
		}
		for _, spendOut := range spendTx.Outputs {
			if len(queue) >= traversal.MaxQueue {
				result.Warnings = append(result.Warnings, "Queue truncated at maximum length")
				break
			}
			queue = append(queue, kycFrame{
				Txid: spendTxid, Vout: spendOut.Vout, Depth: frame.Depth + 1,
				CJCount: cjCount, Path: path, TrackedValue: spendOut.Value,
			})
		}
	}

	sort.SliceStable(destinations, func(i, j int) bool {
		return destinations[i].ConfidenceScore > destinations[j].ConfidenceScore
	})
	result.Destinations = destinations
	result.CoinjoinsEncountered = len(coinjoinSeen)
	result.OverallPrivacyScore = privacyScore(destinations, seedValue, result.CoinjoinsEncountered)
	result.Rating = models.PrivacyRatingFor(result.OverallPrivacyScore)
	result.Recommendations = buildRecommendations(destinations, result.CoinjoinsEncountered, result.OverallPrivacyScore, a.electrumEnabled)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func (a *Analyzer) emit(path []models.KYCPathNode, trail models.TrailStatus, originalSats int64) models.ProbableDestination {
	last := path[len(path)-1]
	score, reasoning := confidence(path, trail, originalSats, a.electrumEnabled)
	return models.ProbableDestination{
		Address:         last.Address,
		ValueSats:       last.ValueSats,
		ConfidenceScore: score,
		ConfidenceLevel: models.ConfidenceLevelFor(score),
		PathLength:      len(path),
		CoinjoinsPassed: last.CoinjoinCountInPath,
		TrailStatus:     trail,
		Reasoning:       reasoning,
		Path:            path,
	}
}

// findSpendingTx mirrors the traversal engine's adaptive-degradation
// Electrum lookup: three consecutive failures disable Electrum for the
// remainder of this trace.
func (a *Analyzer) findSpendingTx(ctx context.Context, txid string, vout uint32, addr string, result *models.KYCResult) (string, int, bool) {
	scripthash, err := address.AddressToScripthash(addr, a.params)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Could not derive scripthash for %s: %v", addr, err))
		return "", 0, false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, findSpendingTxDeadline)
	spendTxid, spendVin, err := a.electrum.FindSpendingTx(lookupCtx, txid, vout, scripthash)
	timedOut := errors.Is(lookupCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if timedOut {
			a.electrum.Close()
		}
		a.electrumFailStreak++
		if a.electrumFailStreak >= electrumFailureThreshold {
			a.electrumEnabled = false
			result.Warnings = append(result.Warnings, "Electrum disabled after repeated failures; continuing in spent/unspent-only mode")
		}
		return "", 0, false
	}

	a.electrumFailStreak = 0
	if spendTxid == "" {
		return "", 0, false
	}
	return spendTxid, spendVin, true
}
