package carrier

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// Preferences narrows carrier selection for a single Encode call.
type Preferences struct {
	// Order, if non-empty, tries carriers in this sequence instead of the
	// selector's default cheapest-first registration order. Types absent
	// from Order are not considered.
	Order []Type
	// Only restricts selection to this carrier type when UseOnly is set.
	Only Type
	// UseOnly reports whether Only should be honored at all.
	UseOnly bool
	// AllowReserved opts into Status: StatusReserved carriers (the annex).
	AllowReserved bool
}

// Selector holds the ordered set of known carriers and picks among them.
type Selector struct {
	carriers []Carrier
}

// NewSelector returns a Selector preloaded with all five carriers, ordered
// cheapest/most-compatible first. inscriptionKey, when non-nil, supplies the
// taproot internal key the Inscription carrier commits against; a nil
// inscriptionKey omits Inscription entirely (e.g. in tests that never build one).
func NewSelector(inscriptionKey *Inscription) *Selector {
	s := &Selector{
		carriers: []Carrier{
			SimpleData{},
			BareMultisig{},
			WitnessScript{},
		},
	}
	if inscriptionKey != nil {
		s.carriers = append(s.carriers, *inscriptionKey)
	}
	s.carriers = append(s.carriers, Annex{})
	return s
}

// Encode picks the first carrier whose Meta is Active (or Reserved and
// explicitly allowed), matches any Only restriction, and whose MaxSize fits
// len(payload), then encodes with it. Candidates are tried in prefs.Order
// when the caller supplies one, else in registration order.
func (s *Selector) Encode(payload []byte, prefs Preferences) (Carrier, Output, error) {
	candidates := s.carriers
	if len(prefs.Order) > 0 {
		candidates = make([]Carrier, 0, len(prefs.Order))
		for _, t := range prefs.Order {
			for _, c := range s.carriers {
				if c.Meta().Type == t {
					candidates = append(candidates, c)
					break
				}
			}
		}
	}
	for _, c := range candidates {
		meta := c.Meta()
		if prefs.UseOnly && meta.Type != prefs.Only {
			continue
		}
		if meta.Status == StatusReserved && !prefs.AllowReserved && !(prefs.UseOnly && meta.Type == prefs.Only) {
			continue
		}
		if len(payload) > meta.MaxSize {
			continue
		}
		out, err := c.Encode(payload)
		if err != nil {
			return nil, Output{}, fmt.Errorf("carrier: encoding via %s: %w", meta.Type, err)
		}
		return c, out, nil
	}
	return nil, Output{}, fmt.Errorf("carrier: no eligible carrier for payload of %d bytes", len(payload))
}

// Detect probes tx against every registered carrier and returns all matches,
// in carrier-registration order, each already ordered by vout/witness index
// within that carrier's own Detect.
func (s *Selector) Detect(tx *wire.MsgTx) ([]Detection, error) {
	var all []Detection
	for _, c := range s.carriers {
		found, err := c.Detect(tx)
		if err != nil {
			return nil, fmt.Errorf("carrier: detecting %s: %w", c.Meta().Type, err)
		}
		all = append(all, found...)
	}
	return all, nil
}
