// Package dispatch wires a decoded indexer message to the ledger that owns
// its kind's side effects: token supply/UTXO bookkeeping, domain ownership
// and DNS record state, and outpoint locking for both. Kinds with no
// side effects beyond the message/anchor row the indexer already wrote
// (text, proof, geomarker) need no entry here.
package dispatch

import (
	"context"
	"fmt"

	"github.com/anchor-protocol/anchor-engine/internal/db"
	"github.com/anchor-protocol/anchor-engine/internal/indexer"
	"github.com/anchor-protocol/anchor-engine/internal/kinds"
	"github.com/anchor-protocol/anchor-engine/internal/lockmanager"
	"github.com/anchor-protocol/anchor-engine/internal/tokenledger"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// Dispatcher routes decoded messages to their kind's side effects. It
// holds no store of its own: every call receives the block-transaction-
// scoped store from the indexer, so ledger and lock writes commit
// atomically with the message insert.
type Dispatcher struct {
	// autoLock controls whether ownership outpoints are locked as they are
	// indexed (AUTO_LOCK_OWNERSHIP_UTXOS). Off, the periodic
	// lockmanager.Sync pass is the only thing maintaining ownership locks.
	autoLock bool
}

func New(autoLock bool) *Dispatcher {
	return &Dispatcher{autoLock: autoLock}
}

// Handler returns the indexer.Handler to register with every subsystem
// indexer instance.
func (d *Dispatcher) Handler() indexer.Handler {
	return func(ctx context.Context, store *db.PostgresStore, dm indexer.DecodedMessage) error {
		switch p := dm.Payload.(type) {
		case kinds.TokenPayload:
			return d.handleToken(ctx, store, dm, p)
		case kinds.DNSPayload:
			return d.handleDNS(ctx, store, dm, p)
		case kinds.StatePayload:
			return d.handleState(ctx, store, dm, p)
		default:
			return nil
		}
	}
}

// resolveParentTxid resolves a message's canonical parent anchor to a
// single confirmed txid. The resolver (internal/indexer.Resolver) performs
// the same prefix lookup asynchronously for the anchors table; dispatch
// needs the answer immediately to post token/DNS effects, so it repeats the
// lookup here rather than waiting on the resolver's next pass.
func resolveParentTxid(ctx context.Context, store *db.PostgresStore, a anchor.Anchor) (string, error) {
	candidates, err := store.CandidatesForPrefix(ctx, a.Prefix[:])
	if err != nil {
		return "", err
	}
	if len(candidates) != 1 {
		return "", fmt.Errorf("parent prefix resolves to %d candidates", len(candidates))
	}
	return candidates[0], nil
}

func (d *Dispatcher) handleToken(ctx context.Context, store *db.PostgresStore, dm indexer.DecodedMessage, p kinds.TokenPayload) error {
	// Every anchor of a non-Deploy token message is a claim the ledger must
	// check: for Transfer/Burn it names a token UTXO being spent, for Mint
	// the deploy transaction. Resolve each prefix to a full txid here; the
	// ledger derives the token's identity from what the resolved outpoints
	// actually carry, never by assuming an anchor points at a Deploy.
	var parents []tokenledger.OutpointRef
	if p.Op != kinds.TokenOpDeploy {
		if len(dm.Message.Anchors) == 0 {
			return fmt.Errorf("dispatch: token op %d with no parent anchor", p.Op)
		}
		parents = make([]tokenledger.OutpointRef, 0, len(dm.Message.Anchors))
		for i, a := range dm.Message.Anchors {
			resolved, err := resolveParentTxid(ctx, store, a)
			if err != nil {
				return fmt.Errorf("dispatch: resolving token anchor %d: %w", i, err)
			}
			parents = append(parents, tokenledger.OutpointRef{Txid: resolved, Vout: int(a.Vout)})
		}
	}

	ledger := tokenledger.New(store)
	effects, err := ledger.Apply(ctx, dm.Txid, dm.BlockHeight, p, parents)
	if err != nil {
		return fmt.Errorf("dispatch: token ledger: %w", err)
	}

	if !d.autoLock {
		return nil
	}
	locks := lockmanager.New(store)
	if p.Op == kinds.TokenOpDeploy && effects.OutputsMade > 0 {
		assetID := effects.DeployTxid
		if err := locks.Lock(ctx, dm.Txid, 1, lockmanager.ReasonTokenOwnership, strptr("token"), &assetID); err != nil {
			return err
		}
	}
	for _, a := range p.Allocations {
		assetID := effects.DeployTxid
		if err := locks.Lock(ctx, dm.Txid, int(a.OutputVout), lockmanager.ReasonTokenOwnership, strptr("token"), &assetID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handleDNS(ctx context.Context, store *db.PostgresStore, dm indexer.DecodedMessage, p kinds.DNSPayload) error {
	locks := lockmanager.New(store)

	switch p.Op {
	case kinds.DNSOpRegister:
		domainID, err := store.UpsertDomain(ctx, p.Name, dm.Txid, dm.Vout, dm.BlockHeight)
		if err != nil {
			return err
		}
		for _, rec := range p.Records {
			if err := insertRecord(ctx, store, domainID, dm, rec); err != nil {
				return err
			}
		}
		if !d.autoLock {
			return nil
		}
		assetID := p.Name
		return locks.Lock(ctx, dm.Txid, dm.Vout, lockmanager.ReasonDomainOwnership, strptr("domain"), &assetID)

	case kinds.DNSOpUpdate:
		dom, err := store.GetDomain(ctx, p.Name)
		if err != nil {
			return err
		}
		if dom == nil {
			return fmt.Errorf("dispatch: update for unregistered domain %s", p.Name)
		}
		seen := map[int]bool{}
		for _, rec := range p.Records {
			if !seen[int(rec.Type)] {
				if err := store.DeactivateDNSRecords(ctx, dom.ID, int(rec.Type), dm.BlockHeight); err != nil {
					return err
				}
				seen[int(rec.Type)] = true
			}
			if err := insertRecord(ctx, store, dom.ID, dm, rec); err != nil {
				return err
			}
		}
		_, err = store.UpsertDomain(ctx, p.Name, dm.Txid, dm.Vout, dm.BlockHeight)
		return err

	case kinds.DNSOpTransfer:
		dom, err := store.GetDomain(ctx, p.Name)
		if err != nil {
			return err
		}
		if dom == nil {
			return fmt.Errorf("dispatch: transfer for unregistered domain %s", p.Name)
		}
		if _, err := store.UpsertDomain(ctx, p.Name, dm.Txid, dm.Vout, dm.BlockHeight); err != nil {
			return err
		}
		if !d.autoLock {
			return nil
		}
		if err := locks.Unlock(ctx, dom.OwnerTxid, dom.OwnerVout, lockmanager.ReasonDomainOwnership); err != nil {
			return err
		}
		assetID := p.Name
		return locks.Lock(ctx, dm.Txid, dm.Vout, lockmanager.ReasonDomainOwnership, strptr("domain"), &assetID)
	}
	return nil
}

func insertRecord(ctx context.Context, store *db.PostgresStore, domainID int64, dm indexer.DecodedMessage, rec kinds.DNSRecord) error {
	var priority, weight, port *int
	if rec.Type == kinds.RecordMX || rec.Type == kinds.RecordSRV {
		v := int(rec.Priority)
		priority = &v
	}
	if rec.Type == kinds.RecordSRV {
		w, pt := int(rec.Weight), int(rec.Port)
		weight, port = &w, &pt
	}
	return store.InsertDNSRecord(ctx, domainID, dm.Txid, dm.Vout, int(rec.Type), int(rec.TTL), rec.Value, priority, weight, port, nil, dm.BlockHeight)
}

// handleState projects a pixel-canvas batch into the canvas_pixels
// read-model the API serves viewport queries from.
func (d *Dispatcher) handleState(ctx context.Context, store *db.PostgresStore, dm indexer.DecodedMessage, p kinds.StatePayload) error {
	writes := make([]db.PixelWrite, len(p.Pixels))
	for i, px := range p.Pixels {
		writes[i] = db.PixelWrite{X: int(px.X), Y: int(px.Y), R: int(px.R), G: int(px.G), B: int(px.B)}
	}
	return store.UpsertPixels(ctx, dm.Txid, dm.BlockHeight, writes)
}

func strptr(s string) *string { return &s }
