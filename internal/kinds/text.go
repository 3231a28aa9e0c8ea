package kinds

import (
	"fmt"
	"unicode/utf8"

	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// TextPayload is a plain UTF-8 note.
type TextPayload struct {
	Body string
}

// TextSpec implements Spec for AnchorKind Text: the body is the raw message
// bytes, required to be well-formed UTF-8.
type TextSpec struct{}

func (TextSpec) KindID() anchor.AnchorKind { return anchor.KindText }
func (TextSpec) KindName() string          { return "text" }

func (TextSpec) Decode(body []byte) (interface{}, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("kinds/text: body is not valid UTF-8")
	}
	return TextPayload{Body: string(body)}, nil
}

func (TextSpec) Encode(payload interface{}) ([]byte, error) {
	p, ok := payload.(TextPayload)
	if !ok {
		return nil, fmt.Errorf("kinds/text: expected TextPayload, got %T", payload)
	}
	if err := (TextSpec{}).Validate(p); err != nil {
		return nil, err
	}
	return []byte(p.Body), nil
}

func (TextSpec) Validate(payload interface{}) error {
	p, ok := payload.(TextPayload)
	if !ok {
		return fmt.Errorf("kinds/text: expected TextPayload, got %T", payload)
	}
	if !utf8.ValidString(p.Body) {
		return fmt.Errorf("kinds/text: body is not valid UTF-8")
	}
	return nil
}

func (TextSpec) SupportedCarriers() []carrier.Type {
	return []carrier.Type{
		carrier.TypeSimpleData,
		carrier.TypeBareMultisig,
		carrier.TypeInscription,
		carrier.TypeWitnessScript,
		carrier.TypeAnnex,
	}
}

func (TextSpec) RecommendedCarrier() carrier.Type { return carrier.TypeSimpleData }
