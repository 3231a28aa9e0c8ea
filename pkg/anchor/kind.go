// Package anchor holds the types every ANCHOR subsystem shares: the kind-id
// registry, the parent-reference (Anchor) type, and the parsed Message
// envelope. This is the single cross-language coordination point — no other
// package may hardcode a kind number.
package anchor

// AnchorKind identifies the payload schema carried by a message body.
type AnchorKind uint8

const (
	KindGeneric   AnchorKind = 0
	KindText      AnchorKind = 1
	KindState     AnchorKind = 2 // pixel canvas
	KindVote      AnchorKind = 3
	KindImage     AnchorKind = 4
	KindDNS       AnchorKind = 10
	KindProof     AnchorKind = 11
	KindGeoMarker AnchorKind = 12
	KindToken     AnchorKind = 20

	// Reserved ranges: 30-33 Oracle family, 40-43 Market/Lottery family.
	// No payload spec in this repository is registered for them; KindName
	// reports them as "oracle" and "market".
	KindOracleMin AnchorKind = 30
	KindOracleMax AnchorKind = 33
	KindMarketMin AnchorKind = 40
	KindMarketMax AnchorKind = 43
)

// KindName returns the human-readable name for a registered kind, or
// "custom" for any value outside the registry above.
func KindName(k AnchorKind) string {
	switch {
	case k == KindGeneric:
		return "generic"
	case k == KindText:
		return "text"
	case k == KindState:
		return "state"
	case k == KindVote:
		return "vote"
	case k == KindImage:
		return "image"
	case k == KindDNS:
		return "dns"
	case k == KindProof:
		return "proof"
	case k == KindGeoMarker:
		return "geomarker"
	case k == KindToken:
		return "token"
	case k >= KindOracleMin && k <= KindOracleMax:
		return "oracle"
	case k >= KindMarketMin && k <= KindMarketMax:
		return "market"
	default:
		return "custom"
	}
}
