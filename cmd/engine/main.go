package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/anchor-protocol/anchor-engine/internal/api"
	"github.com/anchor-protocol/anchor-engine/internal/bitcoin"
	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/internal/db"
	"github.com/anchor-protocol/anchor-engine/internal/dispatch"
	"github.com/anchor-protocol/anchor-engine/internal/indexer"
	"github.com/anchor-protocol/anchor-engine/internal/kinds"
	"github.com/anchor-protocol/anchor-engine/internal/lockmanager"
	"github.com/anchor-protocol/anchor-engine/internal/mempool"
	"github.com/anchor-protocol/anchor-engine/internal/txbuilder"
)

// anchorSubsystem names the single indexer instance: carrier detection and
// kind decoding are kind-agnostic, so one pass over the chain serves every
// ANCHOR kind rather than one indexer per kind.
const anchorSubsystem = "anchor"

// lockSyncInterval is how often the ownership-lock safety-net pass runs.
const lockSyncInterval = 60 * time.Second

func main() {
	log.Println("Starting anchor-engine...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	dbUrl := requireEnv("DATABASE_URL")

	dbConn, err := db.Connect(dbUrl)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer dbConn.Close()
	if err := dbConn.InitSchema(); err != nil {
		log.Fatalf("FATAL: schema init failed: %v", err)
	}

	cfg := bitcoin.Config{
		Host:       getEnvOrDefault("BITCOIN_RPC_URL", "localhost:8332"),
		User:       requireEnv("BITCOIN_RPC_USER"),
		Pass:       requireEnv("BITCOIN_RPC_PASSWORD"),
		WalletName: os.Getenv("WALLET_NAME"),
		Network:    getEnvOrDefault("BITCOIN_NETWORK", "mainnet"),
	}
	btcClient, err := bitcoin.NewClient(cfg)
	if err != nil {
		log.Printf("Warning: Failed to connect to Bitcoin RPC: %v", err)
	} else {
		defer btcClient.Shutdown()
	}

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Every inscription commit output this process builds uses the same
	// internal key for the run. There is no internal/config package to
	// persist it across restarts; an operator who needs stable reveal
	// addresses across restarts should pin this via an env-loaded key
	// instead, which is a follow-up, not something this run needs to solve.
	inscriptionKey, err := btcec.NewPrivateKey()
	if err != nil {
		log.Fatalf("FATAL: generating inscription internal key: %v", err)
	}
	selector := carrier.NewSelector(&carrier.Inscription{InternalKey: inscriptionKey.PubKey()})
	registry := kinds.NewRegistry()
	locks := lockmanager.New(dbConn)
	autoLock := getEnvOrDefault("AUTO_LOCK_OWNERSHIP_UTXOS", "true") != "false"
	disp := dispatch.New(autoLock)

	var indexers []*indexer.Indexer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if btcClient != nil {
		opts := indexer.Options{
			PollInterval:  time.Duration(envInt("POLL_INTERVAL_SECS", 5)) * time.Second,
			Confirmations: int64(envInt("CONFIRMATIONS", 1)),
		}
		idx := indexer.New(anchorSubsystem, btcClient, dbConn, selector, registry, disp.Handler(), opts)
		indexers = append(indexers, idx)
		go idx.Run(ctx)

		resolver := indexer.NewResolver(dbConn)
		go resolver.Run(ctx)

		poller := mempool.NewPoller(btcClient, dbConn, wsHub, selector, registry)
		go poller.Run(ctx)

		go runLockSync(ctx, locks)
	} else {
		log.Println("WARNING: Bitcoin RPC unavailable — engine running in API-only mode (no indexer/resolver/poller)")
	}

	// Setup the Gin Router
	var builder *txbuilder.Builder
	if btcClient != nil {
		builder = txbuilder.New(btcClient, selector, locks)
	}
	r := api.SetupRouter(dbConn, btcClient, wsHub, indexers, builder)

	host := getEnvOrDefault("HOST", "")
	port := getEnvOrDefault("PORT", "5339")

	// Start the server
	log.Printf("Engine running on %s:%s\n", host, port)
	if err := r.Run(host + ":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// runLockSync periodically repairs the ownership-lock set against what the
// domains and token tables actually hold.
func runLockSync(ctx context.Context, locks *lockmanager.Manager) {
	ticker := time.NewTicker(lockSyncInterval)
	defer ticker.Stop()
	for {
		if err := locks.Sync(ctx); err != nil {
			log.Printf("[locksync] %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
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

// envInt parses an integer environment value, falling back on absence or
// garbage.
func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
		log.Printf("Warning: ignoring non-positive or malformed %s=%q, using %d", key, val, fallback)
	}
	return fallback
}
