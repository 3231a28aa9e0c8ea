// Package lockmanager maintains the set of outpoints the transaction
// builder must never spend as plain funding inputs: outputs that still
// carry token balances or domain ownership, and outputs already committed
// to an in-flight transaction this engine built but hasn't seen confirmed
// yet. Without this set a naive coin selector would happily burn someone's
// domain registration paying for an unrelated message's fee.
//
// internal/txbuilder consults this set only for a caller-supplied ownership
// input and to record in-flight inputs; the funding inputs the node wallet
// adds through FundRawTransaction are chosen without reference to it, and
// nothing in the engine calls FilterSpendable.
package lockmanager

import (
	"context"
	"fmt"

	"github.com/anchor-protocol/anchor-engine/internal/db"
)

// Reason tags why an outpoint is locked.
type Reason string

const (
	ReasonManual          Reason = "manual"
	ReasonDomainOwnership Reason = "domain_ownership"
	ReasonTokenOwnership  Reason = "token_ownership"
	ReasonInFlight        Reason = "in_flight"
)

// Manager is a thin wrapper over the locked_utxos table. It holds no
// in-memory state of its own so that multiple engine instances sharing one
// database stay consistent.
type Manager struct {
	store *db.PostgresStore
}

func New(store *db.PostgresStore) *Manager {
	return &Manager{store: store}
}

// Lock marks an outpoint unspendable by the funding selector for reason.
// assetType/assetID identify the asset it protects ("token"/deploy txid,
// "domain"/name) and are nil for manual and in-flight locks.
func (m *Manager) Lock(ctx context.Context, txid string, vout int, reason Reason, assetType, assetID *string) error {
	r := string(reason)
	return m.store.LockUTXO(ctx, txid, vout, r, assetType, assetID)
}

// Unlock removes the outpoint's lock only if it is held under reason; a
// lock held under a different reason stays. An outpoint has at most one
// lock row, and Lock replaces that row's reason.
func (m *Manager) Unlock(ctx context.Context, txid string, vout int, reason Reason) error {
	return m.store.UnlockUTXO(ctx, txid, vout, string(reason))
}

// IsLocked reports whether any lock covers the outpoint.
func (m *Manager) IsLocked(ctx context.Context, txid string, vout int) (bool, error) {
	return m.store.IsLocked(ctx, txid, vout)
}

// FilterSpendable removes locked outpoints from a candidate funding input
// list, returning only what the selector may freely spend.
func (m *Manager) FilterSpendable(ctx context.Context, candidates []Outpoint) ([]Outpoint, error) {
	out := make([]Outpoint, 0, len(candidates))
	for _, c := range candidates {
		locked, err := m.IsLocked(ctx, c.Txid, c.Vout)
		if err != nil {
			return nil, fmt.Errorf("lockmanager: checking %s:%d: %w", c.Txid, c.Vout, err)
		}
		if !locked {
			out = append(out, c)
		}
	}
	return out, nil
}

// Outpoint is a transaction output reference, used here instead of
// wire.OutPoint so this package doesn't need a chainhash parse just to
// filter candidate strings from ListUnspent.
type Outpoint struct {
	Txid string
	Vout int
}

// ReleaseInFlight drops the in_flight lock once a broadcast transaction is
// confirmed (its inputs are gone from the UTXO set anyway) or the broadcast
// failed and the inputs need to become spendable again.
func (m *Manager) ReleaseInFlight(ctx context.Context, txid string, vout int) error {
	return m.Unlock(ctx, txid, vout, ReasonInFlight)
}

// Sync re-derives the domain_ownership and token_ownership tags from what
// the domains and token_utxos tables currently say: outpoints holding
// ownership state gain a lock, and locks whose backing asset no longer
// exists (reorged away, domain transferred, token balance spent) are
// removed. Manual and in-flight locks are never touched. Dispatch already
// locks ownership outpoints inline as they are indexed when auto-locking
// is on; this pass is the safety net that repairs drift either way.
func (m *Manager) Sync(ctx context.Context) error {
	if err := m.syncReason(ctx, ReasonDomainOwnership, "domain", m.store.DomainOwnerOutpoints); err != nil {
		return err
	}
	return m.syncReason(ctx, ReasonTokenOwnership, "token", m.store.UnspentTokenOutpoints)
}

func (m *Manager) syncReason(ctx context.Context, reason Reason, assetType string, current func(context.Context) ([]db.OwnershipOutpoint, error)) error {
	want, err := current(ctx)
	if err != nil {
		return fmt.Errorf("lockmanager: listing %s outpoints: %w", assetType, err)
	}
	wanted := make(map[Outpoint]bool, len(want))
	for _, o := range want {
		wanted[Outpoint{Txid: o.Txid, Vout: o.Vout}] = true
		// Lock replaces the reason of an existing row, so an outpoint that
		// already holds any lock (manual, in-flight, or this one) keeps it.
		locked, err := m.IsLocked(ctx, o.Txid, o.Vout)
		if err != nil {
			return fmt.Errorf("lockmanager: checking %s %s:%d: %w", assetType, o.Txid, o.Vout, err)
		}
		if locked {
			continue
		}
		assetID := o.AssetID
		if err := m.Lock(ctx, o.Txid, o.Vout, reason, &assetType, &assetID); err != nil {
			return fmt.Errorf("lockmanager: locking %s %s:%d: %w", assetType, o.Txid, o.Vout, err)
		}
	}

	held, err := m.store.LockedOutpointsByReason(ctx, string(reason))
	if err != nil {
		return fmt.Errorf("lockmanager: listing %s locks: %w", reason, err)
	}
	for _, lo := range held {
		if !wanted[Outpoint{Txid: lo.Txid, Vout: lo.Vout}] {
			if err := m.Unlock(ctx, lo.Txid, lo.Vout, reason); err != nil {
				return fmt.Errorf("lockmanager: releasing stale %s lock %s:%d: %w", reason, lo.Txid, lo.Vout, err)
			}
		}
	}
	return nil
}
