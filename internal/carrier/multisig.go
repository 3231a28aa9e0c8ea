package carrier

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// BareMultisigMaxSize is the payload size Meta reports for this carrier
// (spec §4.3: ~8KB). Encode builds a single 1-of-N output whose N is a
// small-integer opcode, so it holds at most 16 chunks: Encode returns an
// error for payloads over 508 bytes (16*32 minus the 4-byte length prefix).
const BareMultisigMaxSize = 8 * 1024

// maxMultisigKeys is the largest N a single OP_N opcode can express.
const maxMultisigKeys = 16

// multisigChunkSize is the data payload carried per pseudo-public-key; each
// chunk is prefixed with a one-byte parity marker to form a 33-byte
// compressed-pubkey-shaped push, the same steganographic convention early
// OP_RETURN-alternative protocols used for permanence.
const multisigChunkSize = 32

// BareMultisig splits the payload into 32-byte chunks, each disguised as a
// compressed public key in a 1-of-N CHECKMULTISIG output. Because nobody
// holds the corresponding private keys, the coins are permanently
// unspendable in practice even though the output is technically spendable —
// hence "permanent UTXO bloat", not prunable.
type BareMultisig struct{}

func (BareMultisig) Meta() Meta {
	return Meta{
		Type:            TypeBareMultisig,
		MaxSize:         BareMultisigMaxSize,
		IsPrunable:      false,
		SpendableOutput: false,
		Status:          StatusActive,
	}
}

func (BareMultisig) Encode(payload []byte) (Output, error) {
	// Length-prefix so zero-padding added to the final chunk is
	// unambiguously recoverable on decode, even when payload itself ends in
	// zero bytes.
	framed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(payload)))
	copy(framed[4:], payload)

	chunks := chunkPayload(framed, multisigChunkSize)
	if len(chunks) > maxMultisigKeys {
		return Output{}, fmt.Errorf("carrier: bare multisig payload of %d bytes needs %d keys, max %d per output", len(payload), len(chunks), maxMultisigKeys)
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_1)
	for _, c := range chunks {
		pseudoKey := make([]byte, 0, 33)
		pseudoKey = append(pseudoKey, 0x02) // parity marker; not a valid EC point
		pseudoKey = append(pseudoKey, c...)
		builder.AddData(pseudoKey)
	}
	builder.AddOp(byte(txscript.OP_1 + len(chunks) - 1))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	script, err := builder.Script()
	if err != nil {
		return Output{}, err
	}
	return Output{Type: TypeBareMultisig, MultisigScript: script}, nil
}

// chunkPayload splits data into size-byte pieces, zero-padding the last
// chunk so every pseudo-key push is exactly size+1 bytes.
func chunkPayload(data []byte, size int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunk := make([]byte, size)
		copy(chunk, data[:n])
		chunks = append(chunks, chunk)
		data = data[n:]
	}
	return chunks
}

func (BareMultisig) Detect(tx *wire.MsgTx) ([]Detection, error) {
	var out []Detection
	for i, txOut := range tx.TxOut {
		payload, ok := extractMultisigData(txOut.PkScript)
		if !ok {
			continue
		}
		out = append(out, Detection{Vout: i, Type: TypeBareMultisig, Payload: payload})
	}
	return out, nil
}

func extractMultisigData(script []byte) ([]byte, bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || tokenizer.Opcode() < txscript.OP_1 || tokenizer.Opcode() > txscript.OP_16 {
		return nil, false
	}

	var payload []byte
	pushCount := 0
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		if op >= txscript.OP_1 && op <= txscript.OP_16 {
			break // reached the N in m-of-N
		}
		data := tokenizer.Data()
		if len(data) != multisigChunkSize+1 {
			return nil, false
		}
		payload = append(payload, data[1:]...)
		pushCount++
	}
	if tokenizer.Err() != nil || pushCount == 0 {
		return nil, false
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKMULTISIG {
		return nil, false
	}
	if len(payload) < 4 {
		return nil, false
	}
	n := binary.BigEndian.Uint32(payload[:4])
	payload = payload[4:]
	if uint32(len(payload)) < n {
		return nil, false
	}
	return payload[:n], true
}
