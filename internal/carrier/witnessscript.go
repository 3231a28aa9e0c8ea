package carrier

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// WitnessScriptMaxSize mirrors the inscription ceiling: both ride the same
// witness-discounted weight budget (spec §4.3). As with Inscription, the
// payload goes into the script as one data push, so Encode returns an
// error for payloads over txscript.MaxScriptElementSize (520 bytes).
const WitnessScriptMaxSize = 4 * 1024 * 1024

// WitnessScript is the P2WSH commit+reveal carrier: the commit output pays
// to SHA256(witnessScript), and the reveal input's witness pushes the
// script itself plus the data needed to satisfy it. Unlike Inscription this
// carries no taproot leaf; the payload lives directly in a bare witness
// script's data pushes ahead of a trailing OP_DROP chain and OP_TRUE.
type WitnessScript struct{}

func (WitnessScript) Meta() Meta {
	return Meta{
		Type:            TypeWitnessScript,
		MaxSize:         WitnessScriptMaxSize,
		IsPrunable:      true,
		SpendableOutput: true,
		WitnessDiscount: true,
		Status:          StatusActive,
	}
}

// BuildWitnessRevealScript returns a script that pushes payload, drops it,
// and always succeeds — anyone-can-spend once the script is revealed.
func BuildWitnessRevealScript(payload []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(inscriptionBeginMarker)
	builder.AddData(payload)
	builder.AddData(inscriptionEndMarker)
	builder.AddOp(txscript.OP_2DROP)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_TRUE)
	return builder.Script()
}

func (WitnessScript) Encode(payload []byte) (Output, error) {
	script, err := BuildWitnessRevealScript(payload)
	if err != nil {
		return Output{}, err
	}

	witnessProgram := sha256.Sum256(script)
	commitScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(witnessProgram[:]).
		Script()
	if err != nil {
		return Output{}, fmt.Errorf("carrier: building p2wsh commit script: %w", err)
	}

	return Output{
		Type:         TypeWitnessScript,
		RevealScript: script,
		CommitScript: commitScript,
	}, nil
}

func (WitnessScript) Detect(tx *wire.MsgTx) ([]Detection, error) {
	var out []Detection
	for i, in := range tx.TxIn {
		for _, item := range in.Witness {
			payload, ok := extractBracketed(item, inscriptionBeginMarker, inscriptionEndMarker)
			if !ok {
				continue
			}
			out = append(out, Detection{Vout: i, Type: TypeWitnessScript, Payload: payload})
			break
		}
	}
	return out, nil
}
