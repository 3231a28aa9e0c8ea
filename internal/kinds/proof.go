package kinds

import (
	"encoding/binary"
	"fmt"

	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// ProofOp identifies a proof-of-existence operation.
type ProofOp uint8

const (
	ProofOpStamp  ProofOp = 1
	ProofOpRevoke ProofOp = 2
	ProofOpBatch  ProofOp = 3
)

// HashAlgo determines the hash length carried in each ProofEntry; there is
// no separate length field because the algorithm alone determines it.
type HashAlgo uint8

const (
	AlgoSHA256 HashAlgo = 1
	AlgoSHA512 HashAlgo = 2
)

func hashLenFor(algo HashAlgo) (int, error) {
	switch algo {
	case AlgoSHA256:
		return 32, nil
	case AlgoSHA512:
		return 64, nil
	default:
		return 0, fmt.Errorf("kinds/proof: unknown hash algorithm %d", algo)
	}
}

// Metadata tag ids for the short TLV encoding attached to each entry.
const (
	metaTagFilename    = 1
	metaTagMIMEType    = 2
	metaTagSize        = 3
	metaTagDescription = 4
)

// ProofMeta is the optional, per-entry descriptive metadata.
type ProofMeta struct {
	Filename    string
	MIMEType    string
	Size        uint64
	HasSize     bool
	Description string
}

func encodeProofMeta(m ProofMeta) []byte {
	var out []byte
	writeTLV := func(tag byte, value []byte) {
		out = append(out, tag)
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(value)))
		out = append(out, l[:]...)
		out = append(out, value...)
	}
	if m.Filename != "" {
		writeTLV(metaTagFilename, []byte(m.Filename))
	}
	if m.MIMEType != "" {
		writeTLV(metaTagMIMEType, []byte(m.MIMEType))
	}
	if m.HasSize {
		var sz [8]byte
		binary.BigEndian.PutUint64(sz[:], m.Size)
		writeTLV(metaTagSize, sz[:])
	}
	if m.Description != "" {
		writeTLV(metaTagDescription, []byte(m.Description))
	}
	return out
}

func decodeProofMeta(b []byte) (ProofMeta, error) {
	var m ProofMeta
	for len(b) > 0 {
		if len(b) < 3 {
			return m, fmt.Errorf("truncated metadata TLV")
		}
		tag := b[0]
		vlen := int(binary.BigEndian.Uint16(b[1:3]))
		if len(b) < 3+vlen {
			return m, fmt.Errorf("truncated metadata value")
		}
		value := b[3 : 3+vlen]
		switch tag {
		case metaTagFilename:
			m.Filename = string(value)
		case metaTagMIMEType:
			m.MIMEType = string(value)
		case metaTagSize:
			if len(value) != 8 {
				return m, fmt.Errorf("size metadata must be 8 bytes")
			}
			m.Size = binary.BigEndian.Uint64(value)
			m.HasSize = true
		case metaTagDescription:
			m.Description = string(value)
		}
		b = b[3+vlen:]
	}
	return m, nil
}

// ProofEntry is one stamped, revoked, or batched hash.
type ProofEntry struct {
	Algo HashAlgo
	Hash []byte
	Meta ProofMeta
}

// ProofPayload is a full Proof kind body.
type ProofPayload struct {
	Op      ProofOp
	Entries []ProofEntry
}

// ProofSpec implements Spec for AnchorKind Proof.
type ProofSpec struct{}

func (ProofSpec) KindID() anchor.AnchorKind { return anchor.KindProof }
func (ProofSpec) KindName() string          { return "proof" }

func (ProofSpec) Decode(body []byte) (interface{}, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("kinds/proof: body too short")
	}
	op := ProofOp(body[0])
	entryCount := int(body[1])
	rest := body[2:]

	entries := make([]ProofEntry, 0, entryCount)
	for i := 0; i < entryCount; i++ {
		if len(rest) < 1 {
			return nil, fmt.Errorf("kinds/proof: entry %d: truncated", i)
		}
		algo := HashAlgo(rest[0])
		hashLen, err := hashLenFor(algo)
		if err != nil {
			return nil, fmt.Errorf("kinds/proof: entry %d: %w", i, err)
		}
		if len(rest) < 1+hashLen+2 {
			return nil, fmt.Errorf("kinds/proof: entry %d: truncated hash/meta header", i)
		}
		hash := append([]byte{}, rest[1:1+hashLen]...)
		metaLen := int(binary.BigEndian.Uint16(rest[1+hashLen : 3+hashLen]))
		metaOff := 3 + hashLen
		if len(rest) < metaOff+metaLen {
			return nil, fmt.Errorf("kinds/proof: entry %d: truncated metadata", i)
		}
		meta, err := decodeProofMeta(rest[metaOff : metaOff+metaLen])
		if err != nil {
			return nil, fmt.Errorf("kinds/proof: entry %d: %w", i, err)
		}
		entries = append(entries, ProofEntry{Algo: algo, Hash: hash, Meta: meta})
		rest = rest[metaOff+metaLen:]
	}

	p := ProofPayload{Op: op, Entries: entries}
	if err := (ProofSpec{}).Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (ProofSpec) Encode(payload interface{}) ([]byte, error) {
	p, ok := payload.(ProofPayload)
	if !ok {
		return nil, fmt.Errorf("kinds/proof: expected ProofPayload, got %T", payload)
	}
	if err := (ProofSpec{}).Validate(p); err != nil {
		return nil, err
	}

	var body []byte
	body = append(body, byte(p.Op))
	body = append(body, byte(len(p.Entries)))
	for _, e := range p.Entries {
		body = append(body, byte(e.Algo))
		body = append(body, e.Hash...)
		meta := encodeProofMeta(e.Meta)
		var ml [2]byte
		binary.BigEndian.PutUint16(ml[:], uint16(len(meta)))
		body = append(body, ml[:]...)
		body = append(body, meta...)
	}
	return body, nil
}

func (ProofSpec) Validate(payload interface{}) error {
	p, ok := payload.(ProofPayload)
	if !ok {
		return fmt.Errorf("kinds/proof: expected ProofPayload, got %T", payload)
	}
	switch p.Op {
	case ProofOpStamp, ProofOpRevoke, ProofOpBatch:
	default:
		return fmt.Errorf("kinds/proof: unknown op %d", p.Op)
	}
	for i, e := range p.Entries {
		hashLen, err := hashLenFor(e.Algo)
		if err != nil {
			return fmt.Errorf("kinds/proof: entry %d: %w", i, err)
		}
		if len(e.Hash) != hashLen {
			return fmt.Errorf("kinds/proof: entry %d: hash length %d does not match algo %d (want %d)", i, len(e.Hash), e.Algo, hashLen)
		}
	}
	return nil
}

func (ProofSpec) SupportedCarriers() []carrier.Type {
	return []carrier.Type{
		carrier.TypeSimpleData,
		carrier.TypeBareMultisig,
		carrier.TypeInscription,
		carrier.TypeWitnessScript,
		carrier.TypeAnnex,
	}
}

func (ProofSpec) RecommendedCarrier() carrier.Type { return carrier.TypeSimpleData }
