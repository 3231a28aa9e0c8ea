// Package carrier implements the five ways an ANCHOR payload can be placed
// into, and recovered from, a Bitcoin transaction (spec §4.3).
package carrier

import "github.com/btcsuite/btcd/wire"

// Type identifies one of the five carrier structures.
type Type int

const (
	TypeSimpleData Type = iota
	TypeBareMultisig
	TypeInscription
	TypeAnnex
	TypeWitnessScript
)

func (t Type) String() string {
	switch t {
	case TypeSimpleData:
		return "simple_data"
	case TypeBareMultisig:
		return "bare_multisig"
	case TypeInscription:
		return "inscription"
	case TypeAnnex:
		return "annex"
	case TypeWitnessScript:
		return "witness_script"
	default:
		return "unknown"
	}
}

// Status distinguishes carriers implementations may freely pick from those
// gated behind an explicit opt-in (spec §9's annex open question).
type Status int

const (
	StatusActive Status = iota
	StatusReserved
)

// Meta describes a carrier's capacity and placement characteristics.
type Meta struct {
	Type            Type
	MaxSize         int
	IsPrunable      bool
	SpendableOutput bool // required for DNS/Token ownership UTXOs
	WitnessDiscount bool
	Status          Status
}

// Output is the polymorphic result of encoding a message for a specific
// carrier. Only the fields listed under its Type are populated: Inscription
// sets RevealScript, InternalKey and CommitScript; WitnessScript sets
// RevealScript and CommitScript. No carrier sets MimeType.
type Output struct {
	Type Type

	// TypeSimpleData
	OpaqueDataScript []byte

	// TypeBareMultisig
	MultisigScript []byte

	// TypeInscription / TypeWitnessScript
	RevealScript []byte
	InternalKey  []byte // taproot internal key, Inscription only
	CommitScript []byte // the scriptPubKey the commit output must pay to
	MimeType     string

	// TypeAnnex
	AnnexBytes []byte
}

// Detection is one probe result from Carrier.Detect: the output/witness
// index it was found at, which carrier it matched, and the raw envelope
// bytes recovered (ready for codec.Decode).
type Detection struct {
	Vout    int
	Type    Type
	Payload []byte
}

// Carrier is implemented by each of the five embedding structures.
type Carrier interface {
	Meta() Meta
	Encode(payload []byte) (Output, error)
	// Detect probes a confirmed or candidate transaction for this carrier's
	// shape and returns every match. It MUST NOT mutate tx.
	Detect(tx *wire.MsgTx) ([]Detection, error)
}
