// Package txbuilder assembles, funds, signs, and broadcasts the
// transaction that carries one ANCHOR message, choosing a carrier via
// internal/carrier, resolving the previous ownership UTXO for
// Update/Transfer-shaped kinds, and delegating coin selection and
// signing to the node's own wallet (internal/bitcoin.Client), the same
// split of responsibility other_examples/2bd6f79b_Fantasim-hdpay's BTC
// consolidation flow uses between manual fee/dust math and wallet-backed
// signing.
package txbuilder

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/anchor-protocol/anchor-engine/internal/bitcoin"
	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/internal/codec"
	"github.com/anchor-protocol/anchor-engine/internal/kinds"
	"github.com/anchor-protocol/anchor-engine/internal/lockmanager"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// DustThresholdSats is the minimum non-dust output value this builder will
// construct, matching Bitcoin Core's default relay policy for a P2WPKH
// output.
const DustThresholdSats = 294

// DefaultConfTarget is the confirmation target (in blocks) used when a
// caller doesn't supply an explicit fee rate.
const DefaultConfTarget = 6

// Builder assembles ANCHOR-carrying transactions.
type Builder struct {
	btc      *bitcoin.Client
	selector *carrier.Selector
	locks    *lockmanager.Manager
}

func New(btc *bitcoin.Client, selector *carrier.Selector, locks *lockmanager.Manager) *Builder {
	return &Builder{btc: btc, selector: selector, locks: locks}
}

// Request describes one message to publish.
type Request struct {
	Kind    anchor.AnchorKind
	Anchors []anchor.Anchor
	Spec    kinds.Spec
	Payload interface{}

	// OwnedInput, when non-nil, is the previous ownership UTXO an
	// Update/Transfer operation must spend (spec §4.4 step 2).
	OwnedInput *wire.OutPoint

	Preferences  carrier.Preferences
	FeeRateSatVB float64 // 0 means "ask the node"
}

// Result is the outcome of a successful Build. AnchorVout is the output
// index a child message's anchor should reference — the carrier output,
// always placed first so funding-added change never shifts it.
type Result struct {
	Txid        string
	Hex         string
	AnchorVout  int
	CarrierType carrier.Type
	FeeSats     int64
}

// Build constructs, funds, signs, and broadcasts a transaction carrying
// req's message, returning the broadcast txid.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	body, err := req.Spec.Encode(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: encoding payload: %w", err)
	}
	envelope, err := codec.Encode(req.Kind, req.Anchors, body)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: encoding envelope: %w", err)
	}

	chosen, output, err := b.selector.Encode(envelope, req.Preferences)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: selecting carrier: %w", err)
	}

	// Kinds whose ownership rides a spendable UTXO (DNS, Token) exclude
	// non-spendable carriers in SupportedCarriers. If selection landed on
	// one anyway, substitute from the kind's own list instead of failing.
	if !carrierSupported(req.Spec, chosen.Meta().Type) {
		log.Printf("txbuilder: carrier %s unsupported by kind %s, substituting %s",
			chosen.Meta().Type, req.Spec.KindName(), req.Spec.RecommendedCarrier())
		prefs := req.Preferences
		prefs.UseOnly = false
		prefs.Order = req.Spec.SupportedCarriers()
		chosen, output, err = b.selector.Encode(envelope, prefs)
		if err != nil {
			return nil, fmt.Errorf("txbuilder: selecting substitute carrier: %w", err)
		}
	}

	if req.OwnedInput != nil && !chosen.Meta().SpendableOutput {
		return nil, fmt.Errorf("txbuilder: carrier %s has no spendable output, required for ownership transfer", chosen.Meta().Type)
	}

	tx := wire.NewMsgTx(wire.TxVersion)

	if req.OwnedInput != nil {
		locked, err := b.locks.IsLocked(ctx, req.OwnedInput.Hash.String(), int(req.OwnedInput.Index))
		if err != nil {
			return nil, fmt.Errorf("txbuilder: checking ownership lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("txbuilder: %s:%d is not a tracked ownership UTXO", req.OwnedInput.Hash, req.OwnedInput.Index)
		}
		tx.AddTxIn(wire.NewTxIn(req.OwnedInput, nil, nil))
	}

	if err := b.addCarrierOutputs(tx, chosen, output); err != nil {
		return nil, err
	}

	feeRate := req.FeeRateSatVB
	if feeRate <= 0 {
		feeRate, err = b.btc.EstimateSmartFeeSatVB(DefaultConfTarget)
		if err != nil || feeRate <= 0 {
			feeRate = 10 // conservative fallback sat/vB
		}
	}

	funded, fee, err := b.btc.FundRawTransaction(tx, feeRate)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: funding: %w", err)
	}

	signed, complete, err := b.btc.SignRawTransactionWithWallet(funded)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: signing: %w", err)
	}
	if !complete {
		return nil, fmt.Errorf("txbuilder: wallet could not produce a complete signature set")
	}

	for _, in := range signed.TxIn {
		if err := b.locks.Lock(ctx, in.PreviousOutPoint.Hash.String(), int(in.PreviousOutPoint.Index), lockmanager.ReasonInFlight, nil, nil); err != nil {
			return nil, fmt.Errorf("txbuilder: locking in-flight input: %w", err)
		}
	}

	txHash, err := b.btc.SendRawTransaction(signed)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: broadcasting: %w", err)
	}

	var rawBuf bytes.Buffer
	if err := signed.Serialize(&rawBuf); err != nil {
		return nil, fmt.Errorf("txbuilder: serializing broadcast tx: %w", err)
	}

	return &Result{
		Txid:        txHash.String(),
		Hex:         hex.EncodeToString(rawBuf.Bytes()),
		AnchorVout:  0,
		CarrierType: chosen.Meta().Type,
		FeeSats:     int64(fee),
	}, nil
}

// addCarrierOutputs appends the output(s) the chosen carrier needs. Most
// carriers add one opaque output; Inscription needs its commit output
// plus later reveal via the spending witness, which this builder leaves
// to the caller driving the two-stage commit/reveal flow (spec §4.3).
func (b *Builder) addCarrierOutputs(tx *wire.MsgTx, c carrier.Carrier, out carrier.Output) error {
	switch out.Type {
	case carrier.TypeSimpleData:
		tx.AddTxOut(wire.NewTxOut(0, out.OpaqueDataScript))
	case carrier.TypeBareMultisig:
		tx.AddTxOut(wire.NewTxOut(int64(DustThresholdSats), out.MultisigScript))
	case carrier.TypeWitnessScript, carrier.TypeInscription:
		tx.AddTxOut(wire.NewTxOut(int64(DustThresholdSats), out.CommitScript))
	case carrier.TypeAnnex:
		return fmt.Errorf("txbuilder: annex carrier must be attached to an existing spend, not built standalone")
	default:
		return fmt.Errorf("txbuilder: unhandled carrier output type %v", out.Type)
	}
	return nil
}

// carrierSupported reports whether the kind's SupportedCarriers list
// includes t.
func carrierSupported(spec kinds.Spec, t carrier.Type) bool {
	for _, c := range spec.SupportedCarriers() {
		if c == t {
			return true
		}
	}
	return false
}

// OutPointFromTxid is a small convenience for callers resolving a previous
// ownership UTXO from an anchor prefix lookup result (a display-form txid
// string) into the wire.OutPoint Build's Request expects.
func OutPointFromTxid(txid string, vout uint32) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: parsing txid %q: %w", txid, err)
	}
	return wire.NewOutPoint(hash, vout), nil
}
