package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxo-provenance/internal/apierr"
	"github.com/rawblock/utxo-provenance/internal/coinjoin"
	"github.com/rawblock/utxo-provenance/internal/traversal"
	"github.com/rawblock/utxo-provenance/pkg/models"
)

// depthCeiling resolves the deployment's configured upper bound on
// max_depth (MAX_TRACE_DEPTH, surfaced as h.MaxDepth), falling back to the
// engine's own hard cap when unset or out of range.
func (h *Handler) depthCeiling() int {
	if h.MaxDepth > 0 && h.MaxDepth < traversal.MaxDepth {
		return h.MaxDepth
	}
	return traversal.MaxDepth
}

func (h *Handler) queryDepth(c *gin.Context) int {
	ceiling := h.depthCeiling()
	if raw := c.Query("max_depth"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			if d := traversal.ClampDepth(n); d < ceiling {
				return d
			}
			return ceiling
		}
	}
	if d := traversal.ClampDepth(h.DefaultDepth); d < ceiling {
		return d
	}
	return ceiling
}

func (h *Handler) queryVout(c *gin.Context) (uint32, bool) {
	raw := c.Query("vout")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// handleTraceForward serves GET /analysis/trace/forward?txid&vout&max_depth.
func (h *Handler) handleTraceForward(c *gin.Context) {
	txid := c.Query("txid")
	if txid == "" {
		detail(c, http.StatusBadRequest, "txid is required")
		return
	}
	vout, ok := h.queryVout(c)
	if !ok {
		detail(c, http.StatusBadRequest, "vout must be a non-negative integer")
		return
	}
	result, err := h.Engine.TraceForward(c.Request.Context(), txid, vout, h.queryDepth(c), nil)
	if err != nil {
		fail(c, classifyRPCErr("trace failed", err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleTraceBackward serves GET /analysis/trace/backward?txid&max_depth.
func (h *Handler) handleTraceBackward(c *gin.Context) {
	txid := c.Query("txid")
	if txid == "" {
		detail(c, http.StatusBadRequest, "txid is required")
		return
	}
	result, err := h.Engine.TraceBackward(c.Request.Context(), txid, h.queryDepth(c), nil)
	if err != nil {
		fail(c, classifyRPCErr("trace failed", err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleCoinjoinScore serves GET /analysis/coinjoin/{txid}: the single-
// transaction structural score, with no traversal involved.
func (h *Handler) handleCoinjoinScore(c *gin.Context) {
	txid := c.Param("txid")

	if h.Store != nil {
		if score, isCoinjoin, err := h.Store.GetCachedCoinjoinScore(c.Request.Context(), txid); err == nil {
			c.JSON(http.StatusOK, gin.H{"txid": txid, "score": score, "isCoinjoin": isCoinjoin, "cached": true})
			return
		}
	}

	tx, err := h.RPC.GetRawTransaction(txid)
	if err != nil {
		fail(c, classifyRPCErr("node RPC unavailable", err))
		return
	}
	if tx == nil {
		fail(c, apierr.New(apierr.NotFound, "transaction not found"))
		return
	}
	score := coinjoin.Score(tx)
	isCoinjoin := score > coinjoin.Threshold
	if h.Store != nil {
		_ = h.Store.CacheCoinjoinScore(c.Request.Context(), txid, score, isCoinjoin)
	}
	c.JSON(http.StatusOK, gin.H{
		"txid":       txid,
		"score":      score,
		"isCoinjoin": isCoinjoin,
	})
}

// coinjoinHop is one CoinJoin-scored transaction found along a trace.
type coinjoinHop struct {
	Txid  string  `json:"txid"`
	Score float64 `json:"score"`
	Depth int     `json:"depth"`
}

// handleCoinjoinHistory serves GET /analysis/coinjoin/history/{txid}, which
// runs a trace and reports every CoinJoin-scored hop encountered along it.
func (h *Handler) handleCoinjoinHistory(c *gin.Context) {
	txid := c.Param("txid")
	maxDepth := h.queryDepth(c)

	var result *models.TraceResult
	var err error
	if c.Query("direction") == "backward" {
		result, err = h.Engine.TraceBackward(c.Request.Context(), txid, maxDepth, nil)
	} else {
		vout, ok := h.queryVout(c)
		if !ok {
			detail(c, http.StatusBadRequest, "vout must be a non-negative integer")
			return
		}
		result, err = h.Engine.TraceForward(c.Request.Context(), txid, vout, maxDepth, nil)
	}
	if err != nil {
		fail(c, classifyRPCErr("trace failed", err))
		return
	}

	seen := make(map[string]bool)
	hops := make([]coinjoinHop, 0)
	for _, n := range result.Nodes {
		if n.CoinjoinScore <= coinjoin.Threshold || seen[n.Txid] {
			continue
		}
		seen[n.Txid] = true
		hops = append(hops, coinjoinHop{Txid: n.Txid, Score: n.CoinjoinScore, Depth: n.Depth})
	}
	c.JSON(http.StatusOK, gin.H{"txid": txid, "coinjoinHops": hops})
}

// handlePrivacyScore serves GET /analysis/privacy-score?txid&vout. Unlike
// the KYC endpoint, there is no destination address to seed a followed
// path, so the score is an approximation derived from a plain forward
// trace: an unspent endpoint's value counts as untraceable when the
// transaction that created it is a CoinJoin reached through a spend edge
// and the trace as a whole passed through two or more CoinJoin
// transactions. The number of unspent endpoints stands in for the KYC
// module's count of high-confidence destinations (20 points for none, 5
// for one, 0 for more), and the path-length component uses the mean
// endpoint depth.
func (h *Handler) handlePrivacyScore(c *gin.Context) {
	txid := c.Query("txid")
	if txid == "" {
		detail(c, http.StatusBadRequest, "txid is required")
		return
	}
	vout, ok := h.queryVout(c)
	if !ok {
		detail(c, http.StatusBadRequest, "vout must be a non-negative integer")
		return
	}
	result, err := h.Engine.TraceForward(c.Request.Context(), txid, vout, h.queryDepth(c), nil)
	if err != nil {
		fail(c, classifyRPCErr("trace failed", err))
		return
	}
	score := simplifiedPrivacyScore(result)
	c.JSON(http.StatusOK, gin.H{
		"txid":    txid,
		"vout":    vout,
		"score":   score,
		"rating":  models.PrivacyRatingFor(score),
		"hitLimit": result.HitLimit,
	})
}

func simplifiedPrivacyScore(result *models.TraceResult) float64 {
	if len(result.Nodes) == 0 {
		return 100
	}

	var startValue int64
	for _, n := range result.Nodes {
		if n.Depth == 0 {
			startValue += n.ValueSats
		}
	}
	if startValue == 0 {
		startValue = result.TotalValueTracedSats
	}

	coinjoinCountByTxid := make(map[string]int)
	for _, e := range result.Edges {
		for _, n := range result.Nodes {
			if n.Txid == e.ToTxid && n.CoinjoinScore > coinjoin.Threshold {
				coinjoinCountByTxid[e.ToTxid]++
			}
		}
	}

	var untraceable int64
	for _, n := range result.UnspentEndpoints {
		if coinjoinCountByTxid[n.Txid] >= 1 && len(result.CoinjoinTxids) >= 2 {
			untraceable += n.ValueSats
		}
	}

	var untraceableComponent float64
	if startValue > 0 {
		untraceableComponent = 40 * (float64(untraceable) / float64(startValue))
	}

	var coinjoinComponent float64
	switch {
	case len(result.CoinjoinTxids) >= 2:
		coinjoinComponent = 30
	case len(result.CoinjoinTxids) == 1:
		coinjoinComponent = 15
	}

	var destinationComponent float64
	switch len(result.UnspentEndpoints) {
	case 0:
		destinationComponent = 20
	case 1:
		destinationComponent = 5
	}

	var meanDepth float64
	if len(result.UnspentEndpoints) > 0 {
		var total int
		for _, n := range result.UnspentEndpoints {
			total += n.Depth
		}
		meanDepth = float64(total) / float64(len(result.UnspentEndpoints))
	}
	pathLengthComponent := 2 * meanDepth
	if pathLengthComponent > 10 {
		pathLengthComponent = 10
	}

	score := untraceableComponent + coinjoinComponent + destinationComponent + pathLengthComponent
	if score > 100 {
		score = 100
	}
	return score
}
