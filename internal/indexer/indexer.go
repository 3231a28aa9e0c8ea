// Package indexer walks confirmed blocks looking for ANCHOR-carrying
// transactions, decodes them, and dispatches the result to the kind-specific
// ledgers (token supply/UTXO tracking, domain/DNS ownership) and to the
// message/anchor tables every query surface reads from. One indexer
// instance serves one logical subsystem — its own watermark, its own
// reorg handling — because the state machine is the same shape regardless
// of which kinds it happens to care about.
package indexer

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/anchor-protocol/anchor-engine/internal/bitcoin"
	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/internal/codec"
	"github.com/anchor-protocol/anchor-engine/internal/db"
	"github.com/anchor-protocol/anchor-engine/internal/kinds"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// State is the indexer's coarse run state, surfaced to the API the same
// way the teacher surfaced BlockScanner.isRunning.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateIndexing
	StateReorging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateIndexing:
		return "indexing"
	case StateReorging:
		return "reorging"
	default:
		return "unknown"
	}
}

// maxAutoReorgDepth bounds how far back the fork-point search walks on its
// own; a reorg deeper than this needs operator attention.
const maxAutoReorgDepth = 100

// DecodedMessage is one carrier detection resolved all the way down to a
// typed kind payload, handed to the subsystem's Handler.
type DecodedMessage struct {
	Txid        string
	Vout        int
	BlockHash   string
	BlockHeight int64
	Carrier     carrier.Type
	Message     anchor.Message
	Payload     interface{} // concrete type from kinds.Spec.Decode; nil for an unregistered kind
	Inputs      []TxInputRef
}

// TxInputRef is one input of the carrying transaction, in order.
type TxInputRef struct {
	Txid string
	Vout int
}

// Handler reacts to one decoded message. store is scoped to the enclosing
// block's database transaction, so a handler's writes commit or roll back
// together with the message insert and the watermark advance. Handlers are
// expected to be idempotent: the indexer may redeliver a message after a
// crash recovery or reorg replay.
type Handler func(ctx context.Context, store *db.PostgresStore, dm DecodedMessage) error

// Options tune one indexer instance; zero values take the defaults the
// engine's environment contract prescribes.
type Options struct {
	// PollInterval is how often the chain tip is re-checked. Default 5s.
	PollInterval time.Duration
	// Confirmations is subtracted from the node's tip to get the highest
	// height considered safe to index. Default 1.
	Confirmations int64
}

// Indexer is one subsystem's block-following state machine.
type Indexer struct {
	Subsystem string

	btc      *bitcoin.Client
	store    *db.PostgresStore
	selector *carrier.Selector
	registry *kinds.Registry
	handler  Handler

	state         atomic.Int32
	currentHeight atomic.Int64
	totalIndexed  atomic.Int64
	totalMessages atomic.Int64

	pollInterval  time.Duration
	confirmations int64
}

func New(subsystem string, btc *bitcoin.Client, store *db.PostgresStore, selector *carrier.Selector, registry *kinds.Registry, handler Handler, opts Options) *Indexer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Confirmations <= 0 {
		opts.Confirmations = 1
	}
	return &Indexer{
		Subsystem:     subsystem,
		btc:           btc,
		store:         store,
		selector:      selector,
		registry:      registry,
		handler:       handler,
		pollInterval:  opts.PollInterval,
		confirmations: opts.Confirmations,
	}
}

// Progress is a snapshot for the API's status endpoint.
type Progress struct {
	Subsystem     string `json:"subsystem"`
	State         string `json:"state"`
	CurrentHeight int64  `json:"currentHeight"`
	TotalIndexed  int64  `json:"totalIndexed"`
	TotalMessages int64  `json:"totalMessages"`
}

func (ix *Indexer) GetProgress() Progress {
	return Progress{
		Subsystem:     ix.Subsystem,
		State:         State(ix.state.Load()).String(),
		CurrentHeight: ix.currentHeight.Load(),
		TotalIndexed:  ix.totalIndexed.Load(),
		TotalMessages: ix.totalMessages.Load(),
	}
}

// Run drives the Idle -> Polling -> Indexing(h) -> Reorging(from_h) cycle
// until ctx is cancelled. It never returns an error: transient RPC/DB
// failures are logged and retried on the next poll tick, the same
// tolerance the teacher's scanner gives transient node errors.
func (ix *Indexer) Run(ctx context.Context) {
	st, err := ix.store.GetIndexerState(ctx, ix.Subsystem)
	if err != nil {
		log.Printf("[indexer:%s] loading watermark: %v", ix.Subsystem, err)
	}
	if st != nil {
		ix.currentHeight.Store(st.LastBlockHeight)
	}

	ticker := time.NewTicker(ix.pollInterval)
	defer ticker.Stop()

	for {
		ix.state.Store(int32(StatePolling))
		ix.tick(ctx)

		select {
		case <-ctx.Done():
			ix.state.Store(int32(StateIdle))
			return
		case <-ticker.C:
		}
	}
}

func (ix *Indexer) tick(ctx context.Context) {
	tip, err := ix.btc.GetBlockCount()
	if err != nil {
		log.Printf("[indexer:%s] GetBlockCount: %v", ix.Subsystem, err)
		return
	}
	safeTip := tip - ix.confirmations

	if reorged, forkHeight, forkHash, err := ix.detectReorg(ctx, tip); err != nil {
		log.Printf("[indexer:%s] reorg check: %v", ix.Subsystem, err)
		return
	} else if reorged {
		ix.state.Store(int32(StateReorging))
		log.Printf("[indexer:%s] reorg detected, rolling back to height %d", ix.Subsystem, forkHeight)
		if err := ix.store.RollbackToHeight(ctx, ix.Subsystem, forkHeight, forkHash); err != nil {
			log.Printf("[indexer:%s] rollback: %v", ix.Subsystem, err)
			return
		}
		ix.currentHeight.Store(forkHeight)
	}

	ix.state.Store(int32(StateIndexing))
	for h := ix.currentHeight.Load() + 1; h <= safeTip; h++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := ix.indexBlock(ctx, h); err != nil {
			log.Printf("[indexer:%s] indexing block %d: %v", ix.Subsystem, h, err)
			return
		}
		ix.currentHeight.Store(h)
		ix.totalIndexed.Add(1)
		if h%500 == 0 {
			log.Printf("[indexer:%s] progress: height %d / %d, %d messages found", ix.Subsystem, h, safeTip, ix.totalMessages.Load())
		}
	}
}

// detectReorg compares the watermark's recorded hash against what the node
// currently reports at that height. On mismatch it searches for the fork
// point among the per-block hashes recorded for already-indexed messages:
// the highest recorded height whose hash the node still agrees with is the
// fork point. Heights that carried no message leave no record, which only
// makes the answer conservative (deeper), never wrong — replaying blocks
// above the true fork is idempotent.
func (ix *Indexer) detectReorg(ctx context.Context, tip int64) (bool, int64, string, error) {
	st, err := ix.store.GetIndexerState(ctx, ix.Subsystem)
	if err != nil || st == nil {
		return false, 0, "", err
	}
	// A tip below the watermark is itself a reorg (the chain shrank); only
	// when the watermark height still exists can its hash be compared.
	if st.LastBlockHeight <= tip {
		hash, err := ix.btc.GetBlockHash(st.LastBlockHeight)
		if err != nil {
			return false, 0, "", err
		}
		if hash.String() == st.LastBlockHash {
			return false, 0, "", nil
		}
	}

	recorded, err := ix.store.RecordedBlockHashesBelow(ctx, st.LastBlockHeight-1, maxAutoReorgDepth)
	if err != nil {
		return false, 0, "", err
	}
	for _, rb := range recorded {
		if rb.Height > tip {
			continue
		}
		nodeHash, err := ix.btc.GetBlockHash(rb.Height)
		if err != nil {
			return false, 0, "", err
		}
		if nodeHash.String() == rb.Hash {
			return true, rb.Height, rb.Hash, nil
		}
	}

	// No recorded hash survives within the search window: rewind the full
	// window and adopt the node's hash at the floor.
	floor := st.LastBlockHeight - maxAutoReorgDepth
	if floor > tip {
		floor = tip
	}
	if floor < 0 {
		floor = 0
	}
	floorHash, err := ix.btc.GetBlockHash(floor)
	if err != nil {
		return false, 0, "", err
	}
	return true, floor, floorHash.String(), nil
}

// indexBlock processes every transaction in the block at height inside one
// database transaction, advancing the watermark as its final write. Either
// the whole block commits or none of it does.
func (ix *Indexer) indexBlock(ctx context.Context, height int64) error {
	hash, err := ix.btc.GetBlockHash(height)
	if err != nil {
		return fmt.Errorf("GetBlockHash(%d): %w", height, err)
	}

	block, err := ix.btc.GetRawBlock(hash)
	if err != nil {
		return fmt.Errorf("GetRawBlock(%s): %w", hash, err)
	}

	return ix.store.WithTx(ctx, func(txStore *db.PostgresStore) error {
		for _, tx := range block.Transactions {
			if err := ix.indexTx(ctx, txStore, tx, hash, height); err != nil {
				return fmt.Errorf("tx %s: %w", tx.TxHash(), err)
			}
		}
		return txStore.SetIndexerState(ctx, ix.Subsystem, hash.String(), height)
	})
}

func (ix *Indexer) indexTx(ctx context.Context, txStore *db.PostgresStore, tx *wire.MsgTx, blockHash *chainhash.Hash, blockHeight int64) error {
	detections, err := ix.selector.Detect(tx)
	if err != nil {
		return fmt.Errorf("carrier detect: %w", err)
	}
	if len(detections) == 0 {
		return nil
	}

	txHash := tx.TxHash()
	txid := txHash.String()
	txidPrefix := anchor.TxidToPrefix(txHash)
	inputs := make([]TxInputRef, len(tx.TxIn))
	for i, in := range tx.TxIn {
		inputs[i] = TxInputRef{
			Txid: in.PreviousOutPoint.Hash.String(),
			Vout: int(in.PreviousOutPoint.Index),
		}
	}

	for _, det := range detections {
		msg, err := codec.Decode(det.Payload)
		if err != nil {
			continue // not a well-formed envelope; some other protocol's data
		}

		// An unregistered kind is stored with its body opaque (nil Payload);
		// a registered kind must decode and validate or it is dropped.
		var payload interface{}
		if spec, err := ix.registry.Lookup(msg.Kind); err == nil {
			payload, err = spec.Decode(msg.Body)
			if err != nil {
				log.Printf("[indexer:%s] tx %s vout %d: decoding kind %s: %v", ix.Subsystem, txid, det.Vout, spec.KindName(), err)
				continue
			}
		}

		if _, err := txStore.SaveMessage(ctx, *msg, txid, txidPrefix[:], det.Vout, int(det.Type), blockHash.String(), blockHeight); err != nil {
			return fmt.Errorf("saving message: %w", err)
		}
		ix.totalMessages.Add(1)

		// The confirmed row supersedes any mempool sighting.
		if err := txStore.DeletePendingTransaction(ctx, txid); err != nil {
			log.Printf("[indexer:%s] clearing pending row for %s: %v", ix.Subsystem, txid, err)
		}

		if ix.handler != nil {
			dm := DecodedMessage{
				Txid:        txid,
				Vout:        det.Vout,
				BlockHash:   blockHash.String(),
				BlockHeight: blockHeight,
				Carrier:     det.Type,
				Message:     *msg,
				Payload:     payload,
				Inputs:      inputs,
			}
			// The nested WithTx is a savepoint inside the block
			// transaction: a message-level rejection (unknown token,
			// unregistered domain, conservation breach) discards that
			// handler's partial writes without aborting the block. The
			// message row itself stands either way.
			if err := txStore.WithTx(ctx, func(hStore *db.PostgresStore) error {
				return ix.handler(ctx, hStore, dm)
			}); err != nil {
				log.Printf("[indexer:%s] handler error for tx %s vout %d: %v", ix.Subsystem, txid, det.Vout, err)
			}
		}
	}
	return nil
}
