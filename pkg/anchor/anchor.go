package anchor

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// PrefixLen is the number of leading bytes of a transaction's internal
// (non-display) byte order used to reference a parent message.
const PrefixLen = 8

// Anchor is a compact reference to a parent message: the first PrefixLen
// bytes of the parent's internal txid, plus the carrier output index.
type Anchor struct {
	Prefix [PrefixLen]byte
	Vout   uint8
}

// TxidToPrefix returns the first PrefixLen bytes of txid's internal byte
// order. This is the only supported way to build a prefix; hand-rolling one
// from the display (reversed) form is the perennial bug spec.md §9 warns
// about.
func TxidToPrefix(txid chainhash.Hash) [PrefixLen]byte {
	var p [PrefixLen]byte
	copy(p[:], txid[:PrefixLen])
	return p
}

// Matches reports whether txid's internal bytes begin with a's prefix. This
// predicate is the only supported way to test prefix equality so the byte
// order choice stays encapsulated in one place.
func (a Anchor) Matches(txid chainhash.Hash) bool {
	return a.Prefix == TxidToPrefix(txid)
}

// ResolutionState is the outcome of resolving an Anchor's prefix against
// known transaction ids.
type ResolutionState int

const (
	ResolutionUnresolved ResolutionState = iota
	ResolutionResolved
	ResolutionAmbiguous
	ResolutionOrphan
)

// Message is the parsed envelope: magic + kind + anchors + body. The first
// entry in Anchors, when present, is the canonical parent; the rest are
// co-references.
type Message struct {
	Kind    AnchorKind
	Anchors []Anchor
	Body    []byte
}

// CanonicalParent returns the message's canonical parent anchor and true, or
// the zero value and false if the message has no anchors.
func (m *Message) CanonicalParent() (Anchor, bool) {
	if len(m.Anchors) == 0 {
		return Anchor{}, false
	}
	return m.Anchors[0], true
}
