package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxo-provenance/internal/address"
)

// electrumQueryTimeout bounds how long an address-info endpoint waits on
// the Electrum backend before giving up.
const electrumQueryTimeout = 10 * time.Second

func timeoutCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), electrumQueryTimeout)
}

// dustThresholdSats is the conventional P2PKH dust limit (3x the minimum
// relay fee on a 182-byte spend, per Bitcoin Core's default policy).
const dustThresholdSats int64 = 546

func (h *Handler) scripthashFor(c *gin.Context, addr string) (string, bool) {
	sh, err := address.AddressToScripthash(addr, h.Params)
	if err != nil {
		detail(c, http.StatusBadRequest, "invalid address: "+err.Error())
		return "", false
	}
	return sh, true
}

// handleAddressValidate serves GET /addresses/{address}/validate.
func (h *Handler) handleAddressValidate(c *gin.Context) {
	addr := c.Param("address")
	_, scriptType, err := address.ToScriptPubKey(addr, h.Params)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"address": addr, "valid": false, "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "valid": true, "scriptType": scriptType})
}

// handleAddressInfo serves GET /addresses/{address}/info.
func (h *Handler) handleAddressInfo(c *gin.Context) {
	addr := c.Param("address")
	scriptPubKey, scriptType, err := address.ToScriptPubKey(addr, h.Params)
	if err != nil {
		detail(c, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":      addr,
		"scriptType":   scriptType,
		"scripthash":   address.Scripthash(scriptPubKey),
	})
}

// handleAddressBalance serves GET /addresses/{address}/balance.
func (h *Handler) handleAddressBalance(c *gin.Context) {
	addr := c.Param("address")
	sh, ok := h.scripthashFor(c, addr)
	if !ok {
		return
	}
	if h.Electrum == nil || !h.ElectrumEnabled {
		detail(c, http.StatusServiceUnavailable, "electrum backend unavailable")
		return
	}
	ctx, cancel := timeoutCtx(c)
	defer cancel()
	balance, err := h.Electrum.GetBalance(ctx, sh)
	if err != nil {
		detail(c, http.StatusServiceUnavailable, "electrum query failed: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, balance)
}

// handleAddressHistory serves GET /addresses/{address}/history.
func (h *Handler) handleAddressHistory(c *gin.Context) {
	addr := c.Param("address")
	sh, ok := h.scripthashFor(c, addr)
	if !ok {
		return
	}
	if h.Electrum == nil || !h.ElectrumEnabled {
		detail(c, http.StatusServiceUnavailable, "electrum backend unavailable")
		return
	}
	ctx, cancel := timeoutCtx(c)
	defer cancel()
	history, err := h.Electrum.GetHistory(ctx, sh)
	if err != nil {
		detail(c, http.StatusServiceUnavailable, "electrum query failed: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "history": history})
}

// handleAddressUTXOs serves GET /addresses/{address}/utxos.
func (h *Handler) handleAddressUTXOs(c *gin.Context) {
	addr := c.Param("address")
	sh, ok := h.scripthashFor(c, addr)
	if !ok {
		return
	}
	if h.Electrum == nil || !h.ElectrumEnabled {
		detail(c, http.StatusServiceUnavailable, "electrum backend unavailable")
		return
	}
	ctx, cancel := timeoutCtx(c)
	defer cancel()
	unspent, err := h.Electrum.ListUnspent(ctx, sh)
	if err != nil {
		detail(c, http.StatusServiceUnavailable, "electrum query failed: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "utxos": unspent})
}

// handleAddressDustCheck serves GET /addresses/{address}/dust-check: flags
// any of the address's unspent outputs below the conventional dust limit.
func (h *Handler) handleAddressDustCheck(c *gin.Context) {
	addr := c.Param("address")
	sh, ok := h.scripthashFor(c, addr)
	if !ok {
		return
	}
	if h.Electrum == nil || !h.ElectrumEnabled {
		detail(c, http.StatusServiceUnavailable, "electrum backend unavailable")
		return
	}
	ctx, cancel := timeoutCtx(c)
	defer cancel()
	unspent, err := h.Electrum.ListUnspent(ctx, sh)
	if err != nil {
		detail(c, http.StatusServiceUnavailable, "electrum query failed: "+err.Error())
		return
	}
	dustCount := 0
	for _, u := range unspent {
		if u.Value < dustThresholdSats {
			dustCount++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"address":        addr,
		"utxoCount":      len(unspent),
		"dustCount":      dustCount,
		"dustThreshold":  dustThresholdSats,
		"hasDust":        dustCount > 0,
	})
}
