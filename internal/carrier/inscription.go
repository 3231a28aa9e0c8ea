package carrier

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// InscriptionMaxSize matches the ~4MB standardness ceiling on a single
// taproot witness item chain (spec §4.3) and is the size Meta reports.
// The reveal script adds the payload as one data push, which
// txscript.ScriptBuilder rejects above txscript.MaxScriptElementSize
// (520 bytes), so Encode returns an error for larger payloads.
const InscriptionMaxSize = 4 * 1024 * 1024

// inscriptionBodyMarker brackets the payload inside the reveal script,
// letting Detect find it without caring what else the leaf script contains.
var (
	inscriptionBeginMarker = []byte("ANCH-BEGIN")
	inscriptionEndMarker   = []byte("ANCH-END")
)

// Inscription is the taproot commit+reveal carrier: the reveal input spends
// a taproot output whose leaf script embeds the payload between push
// markers inside an OP_FALSE OP_IF ... OP_ENDIF envelope (unexecuted, so it
// never affects spend validity).
type Inscription struct {
	// InternalKey is the x-only internal key used to compute the taproot
	// output key. Callers supply their own (e.g. an unspendable NUMS point,
	// or a real key if key-path spend should remain usable).
	InternalKey *btcec.PublicKey
}

func (Inscription) Meta() Meta {
	return Meta{
		Type:            TypeInscription,
		MaxSize:         InscriptionMaxSize,
		IsPrunable:      true,
		SpendableOutput: true,
		WitnessDiscount: true,
		Status:          StatusActive,
	}
}

// BuildRevealScript constructs the tapscript leaf carrying payload.
func BuildRevealScript(internalKey *btcec.PublicKey, payload []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(schnorr.SerializePubKey(internalKey))
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_FALSE)
	builder.AddOp(txscript.OP_IF)
	builder.AddData(inscriptionBeginMarker)
	builder.AddData(payload)
	builder.AddData(inscriptionEndMarker)
	builder.AddOp(txscript.OP_ENDIF)
	return builder.Script()
}

func (ins Inscription) Encode(payload []byte) (Output, error) {
	if ins.InternalKey == nil {
		return Output{}, fmt.Errorf("carrier: inscription requires an internal key")
	}

	script, err := BuildRevealScript(ins.InternalKey, payload)
	if err != nil {
		return Output{}, err
	}

	leaf := txscript.NewBaseTapLeaf(script)
	tree := txscript.AssembleTaprootScriptTree(leaf)
	rootHash := tree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(ins.InternalKey, rootHash[:])

	commitScript, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return Output{}, err
	}

	return Output{
		Type:         TypeInscription,
		RevealScript: script,
		InternalKey:  schnorr.SerializePubKey(ins.InternalKey),
		CommitScript: commitScript,
	}, nil
}

func (Inscription) Detect(tx *wire.MsgTx) ([]Detection, error) {
	var out []Detection
	for i, in := range tx.TxIn {
		if len(in.Witness) == 0 {
			continue
		}
		// The tapscript leaf is the second-to-last witness element in a
		// script-path spend (last is the control block).
		if len(in.Witness) < 2 {
			continue
		}
		script := in.Witness[len(in.Witness)-2]
		payload, ok := extractBracketed(script, inscriptionBeginMarker, inscriptionEndMarker)
		if !ok {
			continue
		}
		out = append(out, Detection{Vout: i, Type: TypeInscription, Payload: payload})
	}
	return out, nil
}

// extractBracketed walks script's pushes looking for a begin/data/end
// marker triple and returns the data push between them.
func extractBracketed(script, begin, end []byte) ([]byte, bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	var pending []byte
	haveBegin := false
	for tokenizer.Next() {
		data := tokenizer.Data()
		if data == nil {
			continue
		}
		switch {
		case bytes.Equal(data, begin):
			haveBegin = true
			pending = nil
		case bytes.Equal(data, end) && haveBegin:
			return pending, pending != nil
		case haveBegin:
			pending = data
		}
	}
	return nil, false
}
