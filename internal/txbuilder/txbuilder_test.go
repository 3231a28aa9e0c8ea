package txbuilder

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/wire"

	"github.com/anchor-protocol/anchor-engine/internal/carrier"
)

func TestAddCarrierOutputsSimpleData(t *testing.T) {
	b := &Builder{}
	tx := wire.NewMsgTx(wire.TxVersion)
	out := carrier.Output{Type: carrier.TypeSimpleData, OpaqueDataScript: []byte{0x6a, 0x01, 0x68}}

	if err := b.addCarrierOutputs(tx, carrier.SimpleData{}, out); err != nil {
		t.Fatalf("addCarrierOutputs: %v", err)
	}
	if len(tx.TxOut) != 1 || tx.TxOut[0].Value != 0 {
		t.Fatalf("expected one zero-value output, got %+v", tx.TxOut)
	}
}

func TestAddCarrierOutputsDustValued(t *testing.T) {
	cases := []carrier.Type{carrier.TypeBareMultisig, carrier.TypeWitnessScript, carrier.TypeInscription}
	for _, typ := range cases {
		b := &Builder{}
		tx := wire.NewMsgTx(wire.TxVersion)
		out := carrier.Output{Type: typ, MultisigScript: []byte{0x51}, CommitScript: []byte{0x51}}

		if err := b.addCarrierOutputs(tx, carrier.SimpleData{}, out); err != nil {
			t.Fatalf("addCarrierOutputs(%v): %v", typ, err)
		}
		if len(tx.TxOut) != 1 || tx.TxOut[0].Value != int64(DustThresholdSats) {
			t.Fatalf("addCarrierOutputs(%v) = %+v, want one output valued at %d", typ, tx.TxOut, DustThresholdSats)
		}
	}
}

func TestAddCarrierOutputsAnnexRejected(t *testing.T) {
	b := &Builder{}
	tx := wire.NewMsgTx(wire.TxVersion)
	out := carrier.Output{Type: carrier.TypeAnnex}

	if err := b.addCarrierOutputs(tx, carrier.SimpleData{}, out); err == nil {
		t.Fatal("expected error building a standalone annex output")
	}
}

func TestOutPointFromTxid(t *testing.T) {
	txid := strings.Repeat("ab", 32)
	op, err := OutPointFromTxid(txid, 3)
	if err != nil {
		t.Fatalf("OutPointFromTxid: %v", err)
	}
	if op.Index != 3 {
		t.Fatalf("Index = %d, want 3", op.Index)
	}
	if op.Hash.String() != txid {
		t.Fatalf("Hash.String() = %s, want %s", op.Hash.String(), txid)
	}
}

func TestOutPointFromTxidInvalid(t *testing.T) {
	if _, err := OutPointFromTxid("not-a-txid", 0); err == nil {
		t.Fatal("expected error for malformed txid")
	}
}
