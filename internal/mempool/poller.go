// Package mempool watches unconfirmed transactions for ANCHOR envelopes,
// giving API clients and websocket subscribers visibility into a message
// before it confirms. A hit is recorded in the pending_transactions table
// with a short TTL; internal/indexer's confirmed pass is still the only
// source of truth once the transaction is mined.
package mempool

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/anchor-protocol/anchor-engine/internal/api"
	"github.com/anchor-protocol/anchor-engine/internal/bitcoin"
	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/internal/codec"
	"github.com/anchor-protocol/anchor-engine/internal/db"
	"github.com/anchor-protocol/anchor-engine/internal/kinds"
)

// pendingTTL is how long a sighting is kept if the transaction never
// confirms (dropped from the mempool, replaced by a fee bump, etc).
const pendingTTL = 24 * time.Hour

// seenCleanupInterval bounds how long this process remembers a txid it has
// already inspected, so the in-memory set can't grow without limit.
const seenCleanupInterval = 1 * time.Hour

// PendingPayload is broadcast over the websocket hub when a pending ANCHOR
// message is first seen.
type PendingPayload struct {
	Txid string `json:"txid"`
	Kind int    `json:"kind"`
}

type Poller struct {
	btcClient *bitcoin.Client
	dbStore   *db.PostgresStore
	wsHub     *api.Hub
	selector  *carrier.Selector
	registry  *kinds.Registry
	seenTXs   map[string]bool
}

func NewPoller(btcClient *bitcoin.Client, dbStore *db.PostgresStore, wsHub *api.Hub, selector *carrier.Selector, registry *kinds.Registry) *Poller {
	return &Poller{
		btcClient: btcClient,
		dbStore:   dbStore,
		wsHub:     wsHub,
		selector:  selector,
		registry:  registry,
		seenTXs:   make(map[string]bool),
	}
}

func (p *Poller) Run(ctx context.Context) {
	if p.btcClient == nil {
		log.Println("[mempool] Bitcoin client is nil; poller will not start")
		return
	}

	log.Println("[mempool] starting pending-ANCHOR-tx poller")

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	cleanupTicker := time.NewTicker(seenCleanupInterval)
	defer cleanupTicker.Stop()
	pruneTicker := time.NewTicker(10 * time.Minute)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[mempool] stopping")
			return
		case <-cleanupTicker.C:
			p.seenTXs = make(map[string]bool)
		case <-pruneTicker.C:
			if n, err := p.dbStore.PruneExpiredPending(ctx); err != nil {
				log.Printf("[mempool] pruning expired pending rows: %v", err)
			} else if n > 0 {
				log.Printf("[mempool] pruned %d expired pending rows", n)
			}
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				log.Printf("[mempool] tick: %v", err)
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) error {
	hashes, err := p.btcClient.GetRawMempool()
	if err != nil {
		return err
	}

	processed := 0
	for _, hash := range hashes {
		txidStr := hash.String()
		if p.seenTXs[txidStr] {
			continue
		}
		p.seenTXs[txidStr] = true

		tx, err := p.btcClient.GetRawTransaction(hash)
		if err != nil {
			continue
		}

		detections, err := p.selector.Detect(tx)
		if err != nil || len(detections) == 0 {
			continue
		}

		for _, d := range detections {
			msg, err := codec.Decode(d.Payload)
			if err != nil {
				continue
			}
			spec, err := p.registry.Lookup(msg.Kind)
			if err != nil {
				continue
			}
			payload, err := spec.Decode(msg.Body)
			if err != nil {
				log.Printf("[mempool] %s carries a malformed %s body, skipping: %v", txidStr, spec.KindName(), err)
				continue
			}
			payloadJSON, _ := json.Marshal(map[string]interface{}{
				"kind":    int(msg.Kind),
				"payload": payload,
			})
			if err := p.dbStore.SavePendingTransaction(ctx, txidStr, spec.KindName(), "pending", payloadJSON, pendingTTL); err != nil {
				log.Printf("[mempool] saving pending tx %s: %v", txidStr, err)
				continue
			}
			if p.wsHub != nil {
				out, _ := json.Marshal(map[string]interface{}{
					"type":    "pending_message",
					"payload": PendingPayload{Txid: txidStr, Kind: int(msg.Kind)},
				})
				p.wsHub.Broadcast(out)
			}
			log.Printf("[mempool] pending %s message %s (carrier %s, vout %d)", spec.KindName(), txidStr, d.Type, d.Vout)
		}

		processed++
		if processed >= 50 {
			break
		}
	}
	return nil
}
