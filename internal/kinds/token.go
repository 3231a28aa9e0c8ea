package kinds

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/internal/codec"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// TokenOp identifies a token operation.
type TokenOp uint8

const (
	TokenOpDeploy   TokenOp = 1
	TokenOpMint     TokenOp = 2
	TokenOpTransfer TokenOp = 3
	TokenOpBurn     TokenOp = 4
)

const (
	tickerMaxLen = 8
	decimalsMax  = 18
)

var tickerRe = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

// TokenAllocation assigns amount to output_vout within a Transfer.
type TokenAllocation struct {
	OutputVout uint8
	Amount     *big.Int
}

// TokenPayload is a full Token kind body. Only the fields relevant to Op
// are populated.
type TokenPayload struct {
	Op TokenOp

	Ticker string

	// Deploy
	Decimals   uint8
	MaxSupply  *big.Int
	MintAmount *big.Int

	// Mint
	Amount     *big.Int
	OutputVout uint8

	// Transfer
	Allocations []TokenAllocation
}

// TokenSpec implements Spec for AnchorKind Token.
type TokenSpec struct{}

func (TokenSpec) KindID() anchor.AnchorKind { return anchor.KindToken }
func (TokenSpec) KindName() string          { return "token" }

func readTicker(b []byte) (string, []byte, error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("truncated ticker length")
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", nil, fmt.Errorf("truncated ticker")
	}
	return string(b[1 : 1+n]), b[1+n:], nil
}

func writeTicker(ticker string) []byte {
	out := make([]byte, 0, 1+len(ticker))
	out = append(out, byte(len(ticker)))
	out = append(out, []byte(ticker)...)
	return out
}

func readUint128(b []byte) (*big.Int, []byte, error) {
	if len(b) < codec.Uint128Len {
		return nil, nil, fmt.Errorf("truncated u128")
	}
	var arr [codec.Uint128Len]byte
	copy(arr[:], b[:codec.Uint128Len])
	return codec.DecodeUint128BE(arr), b[codec.Uint128Len:], nil
}

func (TokenSpec) Decode(body []byte) (interface{}, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("kinds/token: body too short")
	}
	op := TokenOp(body[0])
	rest := body[1:]

	ticker, rest, err := readTicker(rest)
	if err != nil {
		return nil, fmt.Errorf("kinds/token: %w", err)
	}

	p := TokenPayload{Op: op, Ticker: ticker}

	switch op {
	case TokenOpDeploy:
		if len(rest) < 1 {
			return nil, fmt.Errorf("kinds/token: deploy: truncated decimals")
		}
		p.Decimals = rest[0]
		rest = rest[1:]
		p.MaxSupply, rest, err = readUint128(rest)
		if err != nil {
			return nil, fmt.Errorf("kinds/token: deploy max_supply: %w", err)
		}
		p.MintAmount, rest, err = readUint128(rest)
		if err != nil {
			return nil, fmt.Errorf("kinds/token: deploy mint_amount: %w", err)
		}
	case TokenOpMint:
		p.Amount, rest, err = readUint128(rest)
		if err != nil {
			return nil, fmt.Errorf("kinds/token: mint amount: %w", err)
		}
		if len(rest) < 1 {
			return nil, fmt.Errorf("kinds/token: mint: truncated output_vout")
		}
		p.OutputVout = rest[0]
	case TokenOpTransfer:
		if len(rest) < 1 {
			return nil, fmt.Errorf("kinds/token: transfer: truncated allocation count")
		}
		count := int(rest[0])
		rest = rest[1:]
		p.Allocations = make([]TokenAllocation, count)
		for i := 0; i < count; i++ {
			if len(rest) < 1 {
				return nil, fmt.Errorf("kinds/token: transfer allocation %d: truncated vout", i)
			}
			vout := rest[0]
			rest = rest[1:]
			amt, next, err := readUint128(rest)
			if err != nil {
				return nil, fmt.Errorf("kinds/token: transfer allocation %d: %w", i, err)
			}
			rest = next
			p.Allocations[i] = TokenAllocation{OutputVout: vout, Amount: amt}
		}
	case TokenOpBurn:
		p.Amount, rest, err = readUint128(rest)
		if err != nil {
			return nil, fmt.Errorf("kinds/token: burn amount: %w", err)
		}
	default:
		return nil, fmt.Errorf("kinds/token: unknown op %d", op)
	}

	if err := (TokenSpec{}).Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (TokenSpec) Encode(payload interface{}) ([]byte, error) {
	p, ok := payload.(TokenPayload)
	if !ok {
		return nil, fmt.Errorf("kinds/token: expected TokenPayload, got %T", payload)
	}
	if err := (TokenSpec{}).Validate(p); err != nil {
		return nil, err
	}

	var body []byte
	body = append(body, byte(p.Op))
	body = append(body, writeTicker(p.Ticker)...)

	appendU128 := func(v *big.Int) error {
		enc, err := codec.EncodeUint128BE(v)
		if err != nil {
			return err
		}
		body = append(body, enc[:]...)
		return nil
	}

	switch p.Op {
	case TokenOpDeploy:
		body = append(body, p.Decimals)
		if err := appendU128(p.MaxSupply); err != nil {
			return nil, fmt.Errorf("kinds/token: max_supply: %w", err)
		}
		if err := appendU128(p.MintAmount); err != nil {
			return nil, fmt.Errorf("kinds/token: mint_amount: %w", err)
		}
	case TokenOpMint:
		if err := appendU128(p.Amount); err != nil {
			return nil, fmt.Errorf("kinds/token: amount: %w", err)
		}
		body = append(body, p.OutputVout)
	case TokenOpTransfer:
		body = append(body, byte(len(p.Allocations)))
		for i, a := range p.Allocations {
			body = append(body, a.OutputVout)
			if err := appendU128(a.Amount); err != nil {
				return nil, fmt.Errorf("kinds/token: allocation %d amount: %w", i, err)
			}
		}
	case TokenOpBurn:
		if err := appendU128(p.Amount); err != nil {
			return nil, fmt.Errorf("kinds/token: amount: %w", err)
		}
	}
	return body, nil
}

func (TokenSpec) Validate(payload interface{}) error {
	p, ok := payload.(TokenPayload)
	if !ok {
		return fmt.Errorf("kinds/token: expected TokenPayload, got %T", payload)
	}
	if len(p.Ticker) == 0 || len(p.Ticker) > tickerMaxLen || !tickerRe.MatchString(p.Ticker) {
		return fmt.Errorf("kinds/token: ticker %q must be 1-%d upper-case alphanumeric", p.Ticker, tickerMaxLen)
	}

	switch p.Op {
	case TokenOpDeploy:
		if p.Decimals > decimalsMax {
			return fmt.Errorf("kinds/token: decimals %d exceeds max %d", p.Decimals, decimalsMax)
		}
		if p.MaxSupply == nil || p.MaxSupply.Sign() < 0 {
			return fmt.Errorf("kinds/token: max_supply must be non-negative")
		}
		if p.MintAmount == nil || p.MintAmount.Sign() < 0 {
			return fmt.Errorf("kinds/token: mint_amount must be non-negative")
		}
		if p.MintAmount.Cmp(p.MaxSupply) > 0 {
			return fmt.Errorf("kinds/token: deploy mint_amount exceeds max_supply")
		}
	case TokenOpMint:
		if p.Amount == nil || p.Amount.Sign() <= 0 {
			return fmt.Errorf("kinds/token: mint amount must be positive")
		}
	case TokenOpTransfer:
		if len(p.Allocations) == 0 {
			return fmt.Errorf("kinds/token: transfer requires at least one allocation")
		}
		seenVout := make(map[uint8]bool, len(p.Allocations))
		for i, a := range p.Allocations {
			if a.Amount == nil || a.Amount.Sign() <= 0 {
				return fmt.Errorf("kinds/token: transfer allocation %d amount must be positive", i)
			}
			if seenVout[a.OutputVout] {
				return fmt.Errorf("kinds/token: transfer allocation %d duplicates vout %d", i, a.OutputVout)
			}
			seenVout[a.OutputVout] = true
		}
	case TokenOpBurn:
		if p.Amount == nil || p.Amount.Sign() <= 0 {
			return fmt.Errorf("kinds/token: burn amount must be positive")
		}
	default:
		return fmt.Errorf("kinds/token: unknown op %d", p.Op)
	}
	return nil
}

func (TokenSpec) SupportedCarriers() []carrier.Type {
	// Token ownership rides a spendable UTXO; non-spendable carriers are
	// excluded.
	return []carrier.Type{
		carrier.TypeInscription,
		carrier.TypeWitnessScript,
		carrier.TypeAnnex,
	}
}

func (TokenSpec) RecommendedCarrier() carrier.Type { return carrier.TypeInscription }
