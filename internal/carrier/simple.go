package carrier

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SimpleDataMaxSize is the policy-level ceiling most relay nodes enforce on
// a single OP_RETURN push (spec §4.3: ~80B policy / ~100KB protocol). This
// implementation targets the conservative, widely-relayed policy limit.
const SimpleDataMaxSize = 80

// SimpleData carries the payload as a single zero-value, non-spendable
// OP_RETURN output.
type SimpleData struct{}

func (SimpleData) Meta() Meta {
	return Meta{
		Type:            TypeSimpleData,
		MaxSize:         SimpleDataMaxSize,
		IsPrunable:      true,
		SpendableOutput: false,
		Status:          StatusActive,
	}
}

func (SimpleData) Encode(payload []byte) (Output, error) {
	script, err := txscript.NullDataScript(payload)
	if err != nil {
		return Output{}, err
	}
	return Output{Type: TypeSimpleData, OpaqueDataScript: script}, nil
}

func (SimpleData) Detect(tx *wire.MsgTx) ([]Detection, error) {
	var out []Detection
	for i, txOut := range tx.TxOut {
		data, ok := extractNullData(txOut.PkScript)
		if !ok {
			continue
		}
		out = append(out, Detection{Vout: i, Type: TypeSimpleData, Payload: data})
	}
	return out, nil
}

// extractNullData returns the pushed data of an OP_RETURN script, or
// ok=false if script is not a provably-unspendable data carrier.
func extractNullData(script []byte) (data []byte, ok bool) {
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return nil, false
	}
	tokenizer := txscript.MakeScriptTokenizer(0, script[1:])
	if !tokenizer.Next() || tokenizer.Err() != nil {
		return nil, false
	}
	return tokenizer.Data(), true
}
