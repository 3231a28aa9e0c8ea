// Package tokenledger applies Token kind operations (deploy/mint/transfer/
// burn) to the database, enforcing the conservation invariant that makes a
// token balance meaningful: the sum of a transfer's output allocations can
// never exceed the sum of the token amounts carried by the UTXOs it spends,
// and any shortfall is an implicit burn rather than an error.
package tokenledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/anchor-protocol/anchor-engine/internal/db"
	"github.com/anchor-protocol/anchor-engine/internal/kinds"
)

// Store is the persistence surface the ledger writes through. It is the
// subset of db.PostgresStore the token state machine needs, split out so
// the Deploy/Mint/Transfer/Burn rules are testable against an in-memory
// implementation.
type Store interface {
	CreateToken(ctx context.Context, deployTxid, ticker string, decimals int, maxSupply *big.Int) (int64, error)
	GetTokenByDeployTxid(ctx context.Context, deployTxid string) (*db.TokenInfo, error)
	GetTokenByID(ctx context.Context, id int64) (*db.TokenInfo, error)
	CreateTokenUTXO(ctx context.Context, tokenID int64, txid string, vout int, amount *big.Int, ownerAddress string, blockHeight int64) error
	SpendTokenUTXO(ctx context.Context, txid string, vout int, spentTxid string, spentVout int, spentBlock int64) error
	GetTokenUTXO(ctx context.Context, txid string, vout int) (tokenID int64, amount *big.Int, ownerAddress string, spent bool, err error)
	AdjustTokenSupply(ctx context.Context, tokenID int64, delta *big.Int) error
}

// Ledger applies token messages against the persistent UTXO set.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// OutpointRef is one resolved anchor of a token message: the (txid, vout)
// its prefix resolved to. For Transfer and Burn each entry MUST name a
// token UTXO being spent; for Mint the first entry names the deploy
// transaction (or any UTXO of the token).
type OutpointRef struct {
	Txid string
	Vout int
}

// Effects summarizes what Apply did, for logging and for dispatch's
// ownership-lock bookkeeping.
type Effects struct {
	TokenID      int64
	DeployTxid   string
	InputsSpent  int
	OutputsMade  int
	ImplicitBurn *big.Int
}

// Sentinel rejections. Each marks a message-level rule violation: the
// message row stands, the ledger effects are discarded.
var (
	// ErrUnknownToken is returned when the anchor trail leads to no
	// deployed token.
	ErrUnknownToken = errors.New("tokenledger: token not deployed")
	// ErrNotTokenUTXO is returned when a Transfer/Burn anchor resolves to
	// an outpoint that carries no token balance.
	ErrNotTokenUTXO = errors.New("tokenledger: anchor does not reference a token UTXO")
	// ErrCrossToken is returned when one operation's inputs span more than
	// one token_id.
	ErrCrossToken = errors.New("tokenledger: inputs belong to different tokens")
	// ErrInputSpent is returned when a referenced UTXO is already spent.
	ErrInputSpent = errors.New("tokenledger: input already spent")
	// ErrDuplicateInput is returned when the same UTXO is referenced twice
	// within a single message.
	ErrDuplicateInput = errors.New("tokenledger: input referenced twice")
)

// Apply applies one decoded Token payload carried by txid at the given
// block height. parents is the message's anchor list with every prefix
// already resolved to a full txid (the indexer's dispatch layer rejects
// the message before calling Apply if any prefix is orphan or ambiguous).
// The token's identity is derived from what the anchors reference — the
// spent UTXOs' token_id for Transfer/Burn, the deploy transaction for
// Mint — never from the ticker, which is not unique across deploys.
func (l *Ledger) Apply(ctx context.Context, txid string, blockHeight int64, payload kinds.TokenPayload, parents []OutpointRef) (*Effects, error) {
	switch payload.Op {
	case kinds.TokenOpDeploy:
		return l.applyDeploy(ctx, txid, blockHeight, payload)
	case kinds.TokenOpMint:
		return l.applyMint(ctx, txid, blockHeight, payload, parents)
	case kinds.TokenOpTransfer:
		return l.applyTransfer(ctx, txid, blockHeight, payload, parents)
	case kinds.TokenOpBurn:
		return l.applyBurn(ctx, txid, blockHeight, payload, parents)
	default:
		return nil, fmt.Errorf("tokenledger: unsupported op %d", payload.Op)
	}
}

func (l *Ledger) applyDeploy(ctx context.Context, txid string, blockHeight int64, p kinds.TokenPayload) (*Effects, error) {
	tokenID, err := l.store.CreateToken(ctx, txid, p.Ticker, int(p.Decimals), p.MaxSupply)
	if err != nil {
		return nil, err
	}
	if p.MintAmount.Sign() > 0 {
		// Deploy's own premint lands on vout 1 by convention (vout 0 carries
		// the message itself for non-spendable carriers, or the commit
		// output for inscription/witness-script carriers).
		if err := l.store.CreateTokenUTXO(ctx, tokenID, txid, 1, p.MintAmount, "", blockHeight); err != nil {
			return nil, err
		}
		if err := l.store.AdjustTokenSupply(ctx, tokenID, p.MintAmount); err != nil {
			return nil, err
		}
	}
	return &Effects{
		TokenID:      tokenID,
		DeployTxid:   txid,
		OutputsMade:  boolToInt(p.MintAmount.Sign() > 0),
		ImplicitBurn: big.NewInt(0),
	}, nil
}

func (l *Ledger) applyMint(ctx context.Context, txid string, blockHeight int64, p kinds.TokenPayload, parents []OutpointRef) (*Effects, error) {
	if len(parents) == 0 {
		return nil, fmt.Errorf("tokenledger: mint carries no anchor")
	}
	tok, err := l.tokenFromParent(ctx, parents[0])
	if err != nil {
		return nil, err
	}

	projected := new(big.Int).Add(tok.CurrentSupply, p.Amount)
	if projected.Cmp(tok.MaxSupply) > 0 {
		return nil, fmt.Errorf("tokenledger: mint of %s would exceed max supply %s (current %s)", p.Amount, tok.MaxSupply, tok.CurrentSupply)
	}

	if err := l.store.CreateTokenUTXO(ctx, tok.ID, txid, int(p.OutputVout), p.Amount, "", blockHeight); err != nil {
		return nil, err
	}
	if err := l.store.AdjustTokenSupply(ctx, tok.ID, p.Amount); err != nil {
		return nil, err
	}
	return &Effects{TokenID: tok.ID, DeployTxid: tok.DeployTxid, OutputsMade: 1, ImplicitBurn: big.NewInt(0)}, nil
}

// tokenFromParent resolves a Mint anchor's target to a token: either the
// deploy transaction itself, or any of the token's UTXOs (a wallet may
// anchor the premint output rather than the bare deploy).
func (l *Ledger) tokenFromParent(ctx context.Context, parent OutpointRef) (*db.TokenInfo, error) {
	tok, err := l.store.GetTokenByDeployTxid(ctx, parent.Txid)
	if err != nil {
		return nil, err
	}
	if tok != nil {
		return tok, nil
	}
	tokenID, amount, _, _, err := l.store.GetTokenUTXO(ctx, parent.Txid, parent.Vout)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return nil, ErrUnknownToken
	}
	tok, err = l.store.GetTokenByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrUnknownToken
	}
	return tok, nil
}

// collectInputs validates every anchor-referenced UTXO — it must exist, be
// unspent, not repeat, and carry the same token_id as the rest — then
// marks them all spent. Validation runs to completion before the first
// spend so a rejection leaves nothing half-applied.
func (l *Ledger) collectInputs(ctx context.Context, txid string, blockHeight int64, parents []OutpointRef) (tokenID int64, total *big.Int, spent int, err error) {
	total = big.NewInt(0)
	seen := make(map[OutpointRef]bool, len(parents))
	amounts := make([]*big.Int, len(parents))

	for i, p := range parents {
		if seen[p] {
			return 0, nil, 0, fmt.Errorf("%w: %s:%d", ErrDuplicateInput, p.Txid, p.Vout)
		}
		seen[p] = true

		utxoTokenID, amount, _, isSpent, err := l.store.GetTokenUTXO(ctx, p.Txid, p.Vout)
		if err != nil {
			return 0, nil, 0, err
		}
		if amount == nil {
			return 0, nil, 0, fmt.Errorf("%w: %s:%d", ErrNotTokenUTXO, p.Txid, p.Vout)
		}
		if isSpent {
			return 0, nil, 0, fmt.Errorf("%w: %s:%d", ErrInputSpent, p.Txid, p.Vout)
		}
		if i == 0 {
			tokenID = utxoTokenID
		} else if utxoTokenID != tokenID {
			return 0, nil, 0, fmt.Errorf("%w: %s:%d is token %d, expected %d", ErrCrossToken, p.Txid, p.Vout, utxoTokenID, tokenID)
		}
		amounts[i] = amount
	}

	for i, p := range parents {
		if err := l.store.SpendTokenUTXO(ctx, p.Txid, p.Vout, txid, 0, blockHeight); err != nil {
			return 0, nil, 0, err
		}
		total.Add(total, amounts[i])
		spent++
	}
	return tokenID, total, spent, nil
}

func (l *Ledger) applyTransfer(ctx context.Context, txid string, blockHeight int64, p kinds.TokenPayload, parents []OutpointRef) (*Effects, error) {
	if len(parents) == 0 {
		return nil, fmt.Errorf("tokenledger: transfer carries no anchors")
	}
	tokenID, inputTotal, spentCount, err := l.collectInputs(ctx, txid, blockHeight, parents)
	if err != nil {
		return nil, err
	}
	tok, err := l.store.GetTokenByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrUnknownToken
	}

	outputTotal := big.NewInt(0)
	for _, a := range p.Allocations {
		outputTotal.Add(outputTotal, a.Amount)
	}
	if outputTotal.Cmp(inputTotal) > 0 {
		return nil, fmt.Errorf("tokenledger: transfer allocates %s but inputs only carry %s", outputTotal, inputTotal)
	}

	for _, a := range p.Allocations {
		if err := l.store.CreateTokenUTXO(ctx, tok.ID, txid, int(a.OutputVout), a.Amount, "", blockHeight); err != nil {
			return nil, err
		}
	}

	burn := new(big.Int).Sub(inputTotal, outputTotal)
	if burn.Sign() > 0 {
		if err := l.store.AdjustTokenSupply(ctx, tok.ID, new(big.Int).Neg(burn)); err != nil {
			return nil, err
		}
	}

	return &Effects{
		TokenID:      tok.ID,
		DeployTxid:   tok.DeployTxid,
		InputsSpent:  spentCount,
		OutputsMade:  len(p.Allocations),
		ImplicitBurn: burn,
	}, nil
}

func (l *Ledger) applyBurn(ctx context.Context, txid string, blockHeight int64, p kinds.TokenPayload, parents []OutpointRef) (*Effects, error) {
	if len(parents) == 0 {
		return nil, fmt.Errorf("tokenledger: burn carries no anchors")
	}
	tokenID, inputTotal, spentCount, err := l.collectInputs(ctx, txid, blockHeight, parents)
	if err != nil {
		return nil, err
	}
	tok, err := l.store.GetTokenByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrUnknownToken
	}

	if p.Amount.Cmp(inputTotal) > 0 {
		return nil, fmt.Errorf("tokenledger: burn of %s exceeds spent input total %s", p.Amount, inputTotal)
	}

	change := new(big.Int).Sub(inputTotal, p.Amount)
	if change.Sign() > 0 {
		if err := l.store.CreateTokenUTXO(ctx, tok.ID, txid, 1, change, "", blockHeight); err != nil {
			return nil, err
		}
	}

	if err := l.store.AdjustTokenSupply(ctx, tok.ID, new(big.Int).Neg(p.Amount)); err != nil {
		return nil, err
	}

	return &Effects{
		TokenID:      tok.ID,
		DeployTxid:   tok.DeployTxid,
		InputsSpent:  spentCount,
		OutputsMade:  boolToInt(change.Sign() > 0),
		ImplicitBurn: p.Amount,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
