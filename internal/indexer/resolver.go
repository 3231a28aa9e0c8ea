package indexer

import (
	"context"
	"encoding/hex"
	"log"
	"time"

	"github.com/anchor-protocol/anchor-engine/internal/db"
)

// Resolver periodically retries every still-orphan anchor against the
// messages table, classifying each as resolved (exactly one candidate),
// ambiguous (more than one transaction shares the prefix), or left orphan
// (no candidate yet — the parent may simply not have confirmed). It also
// revisits anchors flagged ambiguous, because a reorg can remove one of
// the colliding transactions and leave a unique match behind.
type Resolver struct {
	store    *db.PostgresStore
	interval time.Duration
}

func NewResolver(store *db.PostgresStore) *Resolver {
	return &Resolver{store: store, interval: 15 * time.Second}
}

func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.pass(ctx); err != nil {
			log.Printf("[resolver] pass: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Resolver) pass(ctx context.Context) error {
	orphans, err := r.store.UnresolvedAnchors(ctx, 500)
	if err != nil {
		return err
	}
	r.classify(ctx, orphans)

	ambiguous, err := r.store.AmbiguousAnchors(ctx, 500)
	if err != nil {
		return err
	}
	r.classify(ctx, ambiguous)
	return nil
}

func (r *Resolver) classify(ctx context.Context, anchors []db.UnresolvedAnchor) {
	for _, a := range anchors {
		candidates, err := r.store.CandidatesForPrefix(ctx, a.TxidPrefix)
		if err != nil {
			log.Printf("[resolver] candidates for prefix %s: %v", hex.EncodeToString(a.TxidPrefix), err)
			continue
		}
		switch len(candidates) {
		case 0:
			if err := r.store.MarkAnchorOrphan(ctx, a.MessageID, a.Index); err != nil {
				log.Printf("[resolver] orphaning anchor %d/%d: %v", a.MessageID, a.Index, err)
			}
		case 1:
			if err := r.store.ResolveAnchor(ctx, a.MessageID, a.Index, candidates[0], false); err != nil {
				log.Printf("[resolver] resolving anchor %d/%d: %v", a.MessageID, a.Index, err)
			}
		default:
			if err := r.store.MarkAnchorAmbiguous(ctx, a.MessageID, a.Index); err != nil {
				log.Printf("[resolver] flagging ambiguous anchor %d/%d: %v", a.MessageID, a.Index, err)
			}
		}
	}
}
