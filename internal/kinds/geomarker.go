package kinds

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// GeoMarkerPayload pins a short message to a latitude/longitude.
type GeoMarkerPayload struct {
	Category uint8
	Lat      float32
	Lng      float32
	Msg      string
}

// GeoMarkerSpec implements Spec for AnchorKind GeoMarker.
type GeoMarkerSpec struct{}

func (GeoMarkerSpec) KindID() anchor.AnchorKind { return anchor.KindGeoMarker }
func (GeoMarkerSpec) KindName() string          { return "geomarker" }

func (GeoMarkerSpec) Decode(body []byte) (interface{}, error) {
	if len(body) < 1+4+4+1 {
		return nil, fmt.Errorf("kinds/geomarker: body too short")
	}
	category := body[0]
	lat := math.Float32frombits(binary.BigEndian.Uint32(body[1:5]))
	lng := math.Float32frombits(binary.BigEndian.Uint32(body[5:9]))
	msgLen := int(body[9])
	if len(body) != 10+msgLen {
		return nil, fmt.Errorf("kinds/geomarker: declared msg_len %d does not match body length", msgLen)
	}
	msg := string(body[10:])

	p := GeoMarkerPayload{Category: category, Lat: lat, Lng: lng, Msg: msg}
	if err := (GeoMarkerSpec{}).Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (GeoMarkerSpec) Encode(payload interface{}) ([]byte, error) {
	p, ok := payload.(GeoMarkerPayload)
	if !ok {
		return nil, fmt.Errorf("kinds/geomarker: expected GeoMarkerPayload, got %T", payload)
	}
	if err := (GeoMarkerSpec{}).Validate(p); err != nil {
		return nil, err
	}

	body := make([]byte, 10+len(p.Msg))
	body[0] = p.Category
	binary.BigEndian.PutUint32(body[1:5], math.Float32bits(p.Lat))
	binary.BigEndian.PutUint32(body[5:9], math.Float32bits(p.Lng))
	body[9] = byte(len(p.Msg))
	copy(body[10:], p.Msg)
	return body, nil
}

func (GeoMarkerSpec) Validate(payload interface{}) error {
	p, ok := payload.(GeoMarkerPayload)
	if !ok {
		return fmt.Errorf("kinds/geomarker: expected GeoMarkerPayload, got %T", payload)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("kinds/geomarker: lat %f out of [-90,90]", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("kinds/geomarker: lng %f out of [-180,180]", p.Lng)
	}
	if len(p.Msg) > 255 {
		return fmt.Errorf("kinds/geomarker: msg exceeds 255 bytes")
	}
	if !utf8.ValidString(p.Msg) {
		return fmt.Errorf("kinds/geomarker: msg is not valid UTF-8")
	}
	return nil
}

func (GeoMarkerSpec) SupportedCarriers() []carrier.Type {
	return []carrier.Type{
		carrier.TypeSimpleData,
		carrier.TypeBareMultisig,
		carrier.TypeInscription,
		carrier.TypeWitnessScript,
		carrier.TypeAnnex,
	}
}

func (GeoMarkerSpec) RecommendedCarrier() carrier.Type { return carrier.TypeSimpleData }
