// Package kinds implements the per-kind payload specifications layered on
// top of the raw message envelope (pkg/anchor, internal/codec): text,
// pixel-canvas state, DNS records, token operations, proof-of-existence,
// and geomarkers.
package kinds

import (
	"fmt"

	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// Spec is implemented by every kind's payload codec. Validate is total: all
// format, range, and charset rules MUST be checked there and MUST reject
// before any transaction is built.
type Spec interface {
	KindID() anchor.AnchorKind
	KindName() string
	Decode(body []byte) (interface{}, error)
	Encode(payload interface{}) ([]byte, error)
	Validate(payload interface{}) error
	// SupportedCarriers lists carrier types this kind may ride. DNS and
	// Token exclude non-spendable carriers because ownership tracking
	// requires a spendable UTXO.
	SupportedCarriers() []carrier.Type
	RecommendedCarrier() carrier.Type
}

var (
	// ErrUnregisteredKind is returned when no Spec is registered for a
	// kind id seen on decode.
	ErrUnregisteredKind = fmt.Errorf("kinds: no spec registered for this kind")
)

// Registry maps an AnchorKind to its Spec.
type Registry struct {
	specs map[anchor.AnchorKind]Spec
}

// NewRegistry returns a Registry preloaded with every kind spec in this
// package.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[anchor.AnchorKind]Spec)}
	r.Register(TextSpec{})
	r.Register(StateSpec{})
	r.Register(DNSSpec{})
	r.Register(ProofSpec{})
	r.Register(TokenSpec{})
	r.Register(GeoMarkerSpec{})
	return r
}

// Register adds or replaces the Spec for s.KindID().
func (r *Registry) Register(s Spec) {
	r.specs[s.KindID()] = s
}

// Lookup returns the Spec registered for k, or ErrUnregisteredKind.
func (r *Registry) Lookup(k anchor.AnchorKind) (Spec, error) {
	s, ok := r.specs[k]
	if !ok {
		return nil, fmt.Errorf("%w: kind %d", ErrUnregisteredKind, k)
	}
	return s, nil
}
