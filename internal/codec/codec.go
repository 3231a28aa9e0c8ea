// Package codec implements the ANCHOR message envelope: magic-prefixed
// binary encode/parse for kind + anchors + body, per spec §3/§4.1.
package codec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// Magic is "ANCH" followed by protocol version 1.
var Magic = [4]byte{0xA1, 0x1C, 0x00, 0x01}

// minLen is magic(4) + kind(1) + anchor_count(1).
const minLen = 6

// Decode errors. Each is distinct so callers can tell short payloads apart
// from bad magic or truncated anchor lists.
var (
	ErrShort            = errors.New("codec: payload shorter than envelope minimum")
	ErrBadMagic         = errors.New("codec: bad magic prefix")
	ErrTruncatedAnchors = errors.New("codec: anchor list truncated")
	ErrBadAnchorCount   = errors.New("codec: bad anchor count")
)

// MaxAnchors is the one-byte anchor count ceiling (spec §4.1: max 255, ≤16
// recommended so a simple-data carrier's remaining budget can hold a
// meaningful body).
const MaxAnchors = 255

// RecommendedMaxAnchors is the soft cap implementations SHOULD enforce when
// building new messages; it is not checked on decode.
const RecommendedMaxAnchors = 16

// Encode produces the wire envelope for kind+anchors+body. It never
// allocates anchor slots beyond len(anchors).
func Encode(kind anchor.AnchorKind, anchors []anchor.Anchor, body []byte) ([]byte, error) {
	if len(anchors) > MaxAnchors {
		return nil, fmt.Errorf("%w: %d exceeds max %d", ErrBadAnchorCount, len(anchors), MaxAnchors)
	}

	out := make([]byte, 0, minLen+len(anchors)*(anchor.PrefixLen+1)+len(body))
	out = append(out, Magic[:]...)
	out = append(out, byte(kind))
	out = append(out, byte(len(anchors)))
	for _, a := range anchors {
		out = append(out, a.Prefix[:]...)
		out = append(out, a.Vout)
	}
	out = append(out, body...)
	return out, nil
}

// Decode parses a wire envelope into kind, anchors, and body. parse(x)
// returns a non-nil Message only if x begins with Magic.
func Decode(raw []byte) (*anchor.Message, error) {
	if len(raw) < minLen {
		return nil, ErrShort
	}
	if [4]byte(raw[:4]) != Magic {
		return nil, ErrBadMagic
	}

	kind := anchor.AnchorKind(raw[4])
	count := int(raw[5])

	const anchorSize = anchor.PrefixLen + 1
	need := count * anchorSize
	rest := raw[minLen:]
	if len(rest) < need {
		return nil, ErrTruncatedAnchors
	}

	anchors := make([]anchor.Anchor, count)
	for i := 0; i < count; i++ {
		off := i * anchorSize
		var a anchor.Anchor
		copy(a.Prefix[:], rest[off:off+anchor.PrefixLen])
		a.Vout = rest[off+anchor.PrefixLen]
		anchors[i] = a
	}

	body := rest[need:]
	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	return &anchor.Message{
		Kind:    kind,
		Anchors: anchors,
		Body:    bodyCopy,
	}, nil
}

// Uint128Len is the fixed width of a token amount on the wire.
const Uint128Len = 16

// EncodeUint128BE writes v as a 16-byte big-endian unsigned integer, the
// wire format spec §3 mandates for token amounts. Go has no native u128, so
// amounts are carried as *big.Int everywhere above the wire.
func EncodeUint128BE(v *big.Int) ([Uint128Len]byte, error) {
	var out [Uint128Len]byte
	if v.Sign() < 0 {
		return out, fmt.Errorf("codec: negative token amount %s", v)
	}
	b := v.Bytes()
	if len(b) > Uint128Len {
		return out, fmt.Errorf("codec: amount %s overflows 128 bits", v)
	}
	copy(out[Uint128Len-len(b):], b)
	return out, nil
}

// DecodeUint128BE parses a 16-byte big-endian integer into a *big.Int.
func DecodeUint128BE(b [Uint128Len]byte) *big.Int {
	return new(big.Int).SetBytes(b[:])
}
