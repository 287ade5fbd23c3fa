package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxo-provenance/internal/api"
	"github.com/rawblock/utxo-provenance/internal/electrum"
	"github.com/rawblock/utxo-provenance/internal/indexer"
	"github.com/rawblock/utxo-provenance/internal/jobs"
	"github.com/rawblock/utxo-provenance/internal/kyc"
	"github.com/rawblock/utxo-provenance/internal/rpcclient"
	"github.com/rawblock/utxo-provenance/internal/store"
	"github.com/rawblock/utxo-provenance/internal/traversal"
)

func main() {
	log.Println("Starting UTXO provenance engine...")

	if debug, _ := strconv.ParseBool(os.Getenv("DEBUG")); !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	btcHost := requireEnv("BITCOIN_RPC_URL")
	btcUser := requireEnv("BITCOIN_RPC_USER")
	btcPass := requireEnv("BITCOIN_RPC_PASSWORD")

	params := paramsForNetwork(getEnvOrDefault("BITCOIN_NETWORK", "mainnet"))

	rpc, err := rpcclient.New(rpcclient.Config{Host: btcHost, User: btcUser, Pass: btcPass}, params)
	if err != nil {
		log.Fatalf("FATAL: cannot reach Bitcoin node at %s: %v", btcHost, err)
	}
	defer rpc.Shutdown()

	var electrumClient *electrum.Client
	electrumEnabled := false
	if electrsHost := os.Getenv("ELECTRS_HOST"); electrsHost != "" {
		electrsPort := getEnvOrDefault("ELECTRS_PORT", "50001")
		electrumClient = electrum.New(electrsHost+":"+electrsPort, false)
		electrumEnabled = true
		log.Printf("electrum: configured against %s:%s", electrsHost, electrsPort)
	} else {
		log.Println("WARNING: ELECTRS_HOST not set — forward tracing runs in spent/unspent-only mode, no scripthash history")
	}

	// traversal.NewEngine/kyc.NewAnalyzer want the literal nil when Electrum
	// is absent, not a *electrum.Client variable holding nil — passing the
	// typed nil through the SpendFinder interface would make electrumEnabled
	// disagree with the interface's own nil check.
	var spendFinder traversal.SpendFinder
	if electrumEnabled {
		spendFinder = electrumClient
	}

	engine := traversal.NewEngine(rpc, spendFinder, params)
	analyzer := kyc.NewAnalyzer(rpc, spendFinder, params)

	defaultDepth, err := strconv.Atoi(getEnvOrDefault("DEFAULT_TRACE_DEPTH", "10"))
	if err != nil || defaultDepth <= 0 {
		defaultDepth = 10
	}
	maxDepth, err := strconv.Atoi(getEnvOrDefault("MAX_TRACE_DEPTH", "50"))
	if err != nil || maxDepth <= 0 {
		maxDepth = 50
	}

	ctx := context.Background()

	var db *store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err = store.Connect(ctx, dbURL)
		if err != nil {
			log.Printf("Warning: failed to connect to PostgreSQL, continuing without label/job persistence: %v", err)
			db = nil
		} else {
			defer db.Close()
			if err := db.InitSchema(ctx); err != nil {
				log.Printf("Warning: schema init failed: %v", err)
			}
		}
	} else {
		log.Println("WARNING: DATABASE_URL not set — address labels and job history will not persist across restarts")
	}

	var persister jobs.Persister
	if db != nil {
		persister = db
	}
	jobsManager := jobs.NewManager(persister)

	wsHub := api.NewHub()
	go wsHub.Run()

	if enabled, _ := strconv.ParseBool(getEnvOrDefault("ENABLE_BACKGROUND_INDEXER", "false")); enabled {
		var cache indexer.Cache
		if db != nil {
			cache = db
		}
		poller := indexer.New(rpc, wsHub, cache)
		go poller.Run(ctx)
		log.Println("indexer: background mempool CoinJoin poller enabled")
	}

	handler := &api.Handler{
		RPC:             rpc,
		Electrum:        electrumClient,
		ElectrumEnabled: electrumEnabled,
		Engine:          engine,
		KYC:             analyzer,
		Store:           db,
		Jobs:            jobsManager,
		WS:              wsHub,
		Params:          params,
		DefaultDepth:    defaultDepth,
		MaxDepth:        maxDepth,
	}

	r := api.SetupRouter(handler)

	port := getEnvOrDefault("API_PORT", "8080")
	log.Printf("Engine listening on :%s (electrum=%v, db=%v)\n", port, electrumEnabled, db != nil)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// paramsForNetwork maps the BITCOIN_NETWORK setting to chaincfg params.
// Unrecognized values fall back to mainnet rather than failing startup,
// matching getEnvOrDefault's non-fatal posture for non-secret settings.
func paramsForNetwork(network string) *chaincfg.Params {
	switch network {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// requireEnv reads a required environment variable and exits if it is not
// set. This prevents the binary from starting with missing critical
// configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
