package carrier

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// AnnexMaxSize is conservative: the annex counts fully against weight (no
// witness discount applies to its own bytes beyond the standard /4) and
// oversized annexes are more likely to be non-standard on relay (spec §4.3,
// §9 reserved).
const AnnexMaxSize = 1024

// annexTag is BIP341's reserved first byte marking a witness stack's final
// item as an annex rather than ordinary witness data.
const annexTag = 0x50

// Annex places the payload inside a taproot input's BIP341 annex, the last
// witness stack item when that item is present and tagged with 0x50. Spend
// validity never inspects the annex's contents, so it rides for free
// alongside any taproot spend. Reserved status: node and wallet support for
// relaying and signing transactions carrying a non-empty annex is uneven,
// so this carrier is opt-in.
type Annex struct{}

func (Annex) Meta() Meta {
	return Meta{
		Type:            TypeAnnex,
		MaxSize:         AnnexMaxSize,
		IsPrunable:      true,
		SpendableOutput: true,
		WitnessDiscount: true,
		Status:          StatusReserved,
	}
}

func (Annex) Encode(payload []byte) (Output, error) {
	if len(payload) > AnnexMaxSize-1 {
		return Output{}, fmt.Errorf("carrier: annex payload %d bytes exceeds max %d", len(payload), AnnexMaxSize-1)
	}
	annex := make([]byte, 0, len(payload)+1)
	annex = append(annex, annexTag)
	annex = append(annex, payload...)
	return Output{Type: TypeAnnex, AnnexBytes: annex}, nil
}

func (Annex) Detect(tx *wire.MsgTx) ([]Detection, error) {
	var out []Detection
	for i, in := range tx.TxIn {
		if len(in.Witness) < 2 {
			continue
		}
		last := in.Witness[len(in.Witness)-1]
		if len(last) == 0 || last[0] != annexTag {
			continue
		}
		out = append(out, Detection{Vout: i, Type: TypeAnnex, Payload: last[1:]})
	}
	return out, nil
}
