package codec

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// TestEncodeDecode_RootText is scenario 1 from spec.md §8.
func TestEncodeDecode_RootText(t *testing.T) {
	raw, err := Encode(anchor.KindText, nil, []byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{0xA1, 0x1C, 0x00, 0x01, 0x01, 0x00, 0x68, 0x65, 0x6C, 0x6C, 0x6F}
	if !bytes.Equal(raw, want) {
		t.Fatalf("Encode() = % X, want % X", raw, want)
	}

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind != anchor.KindText || len(msg.Anchors) != 0 || string(msg.Body) != "hello" {
		t.Fatalf("Decode() = %+v, want kind=1 anchors=[] body=hello", msg)
	}
}

// TestEncodeDecode_Reply is scenario 2 from spec.md §8.
func TestEncodeDecode_Reply(t *testing.T) {
	a := anchor.Anchor{
		Prefix: [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88},
		Vout:   0,
	}
	raw, err := Encode(anchor.KindText, []anchor.Anchor{a}, []byte("re"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{
		0xA1, 0x1C, 0x00, 0x01, 0x01, 0x01,
		0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x00,
		0x72, 0x65,
	}
	if !bytes.Equal(raw, want) {
		t.Fatalf("Encode() = % X, want % X", raw, want)
	}

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(msg.Anchors) != 1 || msg.Anchors[0] != a {
		t.Fatalf("Decode() anchors = %+v, want [%+v]", msg.Anchors, a)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, ErrShort},
		{"too short", []byte{0xA1, 0x1C, 0x00}, ErrShort},
		{"bad magic", []byte{0, 0, 0, 0, 1, 0}, ErrBadMagic},
		{"truncated anchors", append(append([]byte{}, Magic[:]...), 0x01, 0x02), ErrTruncatedAnchors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			if err != tt.want {
				t.Fatalf("Decode() err = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestMagicExclusivity checks that parse only succeeds on magic-prefixed
// input, and that encode's output always starts with it.
func TestMagicExclusivity(t *testing.T) {
	raw, _ := Encode(anchor.KindGeneric, nil, []byte("x"))
	if !bytes.Equal(raw[:4], Magic[:]) {
		t.Fatalf("Encode() does not start with magic: % X", raw)
	}

	mutated := append([]byte{}, raw...)
	mutated[0] ^= 0xFF
	if _, err := Decode(mutated); err != ErrBadMagic {
		t.Fatalf("Decode(mutated) err = %v, want ErrBadMagic", err)
	}
}

func TestRoundTrip_ManyAnchors(t *testing.T) {
	anchors := make([]anchor.Anchor, 16)
	for i := range anchors {
		anchors[i] = anchor.Anchor{Prefix: [8]byte{byte(i)}, Vout: uint8(i)}
	}
	raw, err := Encode(anchor.KindState, anchors, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(msg.Anchors) != len(anchors) {
		t.Fatalf("got %d anchors, want %d", len(msg.Anchors), len(anchors))
	}
	for i := range anchors {
		if msg.Anchors[i] != anchors[i] {
			t.Fatalf("anchor %d = %+v, want %+v", i, msg.Anchors[i], anchors[i])
		}
	}
}

func TestUint128RoundTrip(t *testing.T) {
	vals := []*big.Int{
		big.NewInt(0),
		big.NewInt(100),
		new(big.Int).Lsh(big.NewInt(1), 127),
	}
	for _, v := range vals {
		enc, err := EncodeUint128BE(v)
		if err != nil {
			t.Fatalf("EncodeUint128BE(%s): %v", v, err)
		}
		got := DecodeUint128BE(enc)
		if got.Cmp(v) != 0 {
			t.Fatalf("round trip %s -> %s", v, got)
		}
	}
}

func TestUint128Overflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 128)
	if _, err := EncodeUint128BE(huge); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestEncodeRejectsTooManyAnchors(t *testing.T) {
	anchors := make([]anchor.Anchor, MaxAnchors+1)
	if _, err := Encode(anchor.KindText, anchors, nil); !errors.Is(err, ErrBadAnchorCount) {
		t.Fatalf("err = %v, want ErrBadAnchorCount", err)
	}
}
