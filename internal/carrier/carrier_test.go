package carrier

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

func TestSimpleDataRoundTrip(t *testing.T) {
	payload := []byte{0xA1, 0x1C, 0x00, 0x01, 0x01, 0x00, 0x68}
	out, err := SimpleData{}.Encode(payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(0, out.OpaqueDataScript))

	dets, err := SimpleData{}.Detect(tx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || !bytes.Equal(dets[0].Payload, payload) {
		t.Fatalf("Detect() = %+v, want payload %X", dets, payload)
	}
}

func TestSimpleDataTooLarge(t *testing.T) {
	if _, err := (SimpleData{}).Encode(make([]byte, SimpleDataMaxSize+1)); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestBareMultisigRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("short"),
		bytes.Repeat([]byte{0x00}, 40),  // exercises the trailing-zero payload case
		bytes.Repeat([]byte{0xFF}, 100), // spans multiple chunks
		{},
	}
	for _, payload := range cases {
		out, err := BareMultisig{}.Encode(payload)
		if err != nil {
			t.Fatalf("Encode(%X): %v", payload, err)
		}

		tx := wire.NewMsgTx(2)
		tx.AddTxOut(wire.NewTxOut(0, out.MultisigScript))

		dets, err := BareMultisig{}.Detect(tx)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(dets) != 1 || !bytes.Equal(dets[0].Payload, payload) {
			t.Fatalf("round trip %X -> %+v", payload, dets)
		}
	}
}

func TestWitnessScriptRoundTrip(t *testing.T) {
	payload := []byte("witness carried data")
	out, err := WitnessScript{}.Encode(payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tx := wire.NewMsgTx(2)
	in := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	in.Witness = wire.TxWitness{out.RevealScript}
	tx.AddTxIn(in)

	dets, err := WitnessScript{}.Detect(tx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || !bytes.Equal(dets[0].Payload, payload) {
		t.Fatalf("round trip -> %+v", dets)
	}
}

func TestAnnexRoundTrip(t *testing.T) {
	payload := []byte("annexed")
	out, err := Annex{}.Encode(payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tx := wire.NewMsgTx(2)
	in := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	in.Witness = wire.TxWitness{[]byte("sig"), []byte("script"), out.AnnexBytes}
	tx.AddTxIn(in)

	dets, err := Annex{}.Detect(tx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || !bytes.Equal(dets[0].Payload, payload) {
		t.Fatalf("round trip -> %+v", dets)
	}
}

func TestInscriptionRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	ins := Inscription{InternalKey: priv.PubKey()}

	payload := []byte("inscribed payload")
	out, err := ins.Encode(payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tx := wire.NewMsgTx(2)
	in := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	in.Witness = wire.TxWitness{[]byte("sig"), out.RevealScript, []byte("control-block")}
	tx.AddTxIn(in)

	dets, err := ins.Detect(tx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || !bytes.Equal(dets[0].Payload, payload) {
		t.Fatalf("round trip -> %+v", dets)
	}
}

func TestSelectorPicksSmallestEligibleCarrier(t *testing.T) {
	s := NewSelector(nil)

	small := []byte("tiny")
	c, _, err := s.Encode(small, Preferences{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if c.Meta().Type != TypeSimpleData {
		t.Fatalf("got carrier %s, want simple_data", c.Meta().Type)
	}

	big := bytes.Repeat([]byte{0x01}, SimpleDataMaxSize+1)
	c, _, err = s.Encode(big, Preferences{})
	if err != nil {
		t.Fatalf("Encode(big): %v", err)
	}
	if c.Meta().Type != TypeBareMultisig {
		t.Fatalf("got carrier %s, want bare_multisig", c.Meta().Type)
	}
}

func TestSelectorSkipsReservedUnlessAllowed(t *testing.T) {
	s := NewSelector(nil)
	_, out, err := s.Encode([]byte("x"), Preferences{UseOnly: true, Only: TypeAnnex})
	if err != nil {
		t.Fatalf("Encode with explicit Only=annex: %v", err)
	}
	if out.Type != TypeAnnex {
		t.Fatalf("got %s, want annex", out.Type)
	}

	if _, _, err := s.Encode([]byte("x"), Preferences{Order: []Type{TypeAnnex}}); err == nil {
		t.Fatalf("Encode with Order=[annex] and no AllowReserved: want error, got nil")
	}
	_, out, err = s.Encode([]byte("x"), Preferences{Order: []Type{TypeAnnex}, AllowReserved: true})
	if err != nil {
		t.Fatalf("Encode with AllowReserved: %v", err)
	}
	if out.Type != TypeAnnex {
		t.Fatalf("got %s, want annex", out.Type)
	}
}

func TestSelectorDetectAcrossCarriers(t *testing.T) {
	s := NewSelector(nil)

	simpleOut, _ := SimpleData{}.Encode([]byte("a"))
	multiOut, _ := BareMultisig{}.Encode([]byte("b"))

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(0, simpleOut.OpaqueDataScript))
	tx.AddTxOut(wire.NewTxOut(0, multiOut.MultisigScript))

	dets, err := s.Detect(tx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("got %d detections, want 2: %+v", len(dets), dets)
	}
}

func TestSelectorHonorsPreferenceOrder(t *testing.T) {
	s := NewSelector(nil)

	c, _, err := s.Encode([]byte("tiny"), Preferences{
		Order: []Type{TypeBareMultisig, TypeSimpleData},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if c.Meta().Type != TypeBareMultisig {
		t.Fatalf("got carrier %s, want bare_multisig first per Order", c.Meta().Type)
	}

	// Types absent from Order are never considered.
	if _, _, err := s.Encode([]byte("x"), Preferences{Order: []Type{TypeAnnex}}); err == nil {
		t.Fatal("expected no eligible carrier: annex is Reserved and not explicitly allowed")
	}
}
