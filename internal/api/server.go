package api

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxo-provenance/internal/apierr"
	"github.com/rawblock/utxo-provenance/internal/electrum"
	"github.com/rawblock/utxo-provenance/internal/jobs"
	"github.com/rawblock/utxo-provenance/internal/kyc"
	"github.com/rawblock/utxo-provenance/internal/rpcclient"
	"github.com/rawblock/utxo-provenance/internal/store"
	"github.com/rawblock/utxo-provenance/internal/traversal"
)

// Handler bundles every dependency the API layer needs. Constructed once
// at process startup and passed by explicit reference into every route —
// no package-level singletons.
type Handler struct {
	RPC             *rpcclient.Client
	Electrum        *electrum.Client
	ElectrumEnabled bool
	Engine          *traversal.Engine
	KYC             *kyc.Analyzer
	Store           *store.Store
	Jobs            *jobs.Manager
	WS              *Hub
	Params          *chaincfg.Params
	DefaultDepth    int
	MaxDepth        int
}

// detail writes the fixed {detail: string} error envelope the spec's HTTP
// surface requires, at the given status code.
func detail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"detail": message})
}

// fail writes the error envelope at the status apierr.HTTPStatus derives
// from err's classification, falling back to 500 for an unclassified
// error.
func fail(c *gin.Context, err error) {
	detail(c, apierr.HTTPStatus(err), err.Error())
}

// classifyRPCErr turns a raw rpcclient/traversal error into a classified
// apierr so the router can pick the right status instead of defaulting
// every failure to 500. An *rpcclient.Error means the node itself
// rejected or failed the call; anything else (cycle guards, context
// cancellation) is left as an internal error.
func classifyRPCErr(message string, err error) *apierr.Error {
	var rpcErr *rpcclient.Error
	if errors.As(err, &rpcErr) {
		return apierr.Wrap(apierr.DependencyUnavailable, message, err)
	}
	return apierr.Wrap(apierr.Internal, message, err)
}

// SetupRouter builds the full route tree. Mirrors the teacher's CORS and
// auth/rate-limit group split, retargeted to this engine's endpoints.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/electrs/status", h.handleElectrsStatus)
		pub.GET("/ws", h.WS.Subscribe)
	}

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware())
	v1.Use(NewRateLimiter(60, 10).Middleware())
	{
		v1.GET("/transactions/:txid", h.handleGetTransaction)

		v1.GET("/analysis/trace/forward", h.handleTraceForward)
		v1.GET("/analysis/trace/backward", h.handleTraceBackward)
		v1.GET("/analysis/coinjoin/:txid", h.handleCoinjoinScore)
		v1.GET("/analysis/coinjoin/history/:txid", h.handleCoinjoinHistory)
		v1.GET("/analysis/privacy-score", h.handlePrivacyScore)
		v1.GET("/analysis/jobs/:id", h.handleJobStatus)

		v1.GET("/kyc/trace", h.handleKYCTrace)
		v1.POST("/kyc/trace", h.handleKYCTrace)
		v1.GET("/kyc/quick-check", h.handleKYCQuickCheck)
		v1.GET("/kyc/presets", h.handleKYCPresets)

		addr := v1.Group("/addresses")
		{
			addr.GET("/:address/validate", h.handleAddressValidate)
			addr.GET("/:address/info", h.handleAddressInfo)
			addr.GET("/:address/balance", h.handleAddressBalance)
			addr.GET("/:address/history", h.handleAddressHistory)
			addr.GET("/:address/utxos", h.handleAddressUTXOs)
			addr.GET("/:address/dust-check", h.handleAddressDustCheck)
			addr.GET("/:address/label", h.handleGetLabel)
			addr.GET("/labels", h.handleListLabels)
			addr.POST("/labels", h.handleUpsertLabel)
			addr.GET("/labels/:address", h.handleGetLabel)
			addr.DELETE("/labels/:address", h.handleDeleteLabel)
		}

		viz := v1.Group("/visualizations")
		{
			for _, kind := range []string{"timeline", "flow-diagram", "graph"} {
				viz.GET("/"+kind+"/ascii", h.handleVisualization("ascii"))
				viz.GET("/"+kind+"/html", h.handleVisualization("html"))
				viz.GET("/"+kind+"/mermaid", h.handleVisualization("mermaid"))
				viz.GET("/"+kind+"/json", h.handleVisualization("json"))
			}
		}
	}

	return r
}
