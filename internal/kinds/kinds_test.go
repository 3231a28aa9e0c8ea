package kinds

import (
	"bytes"
	"math/big"
	"testing"
)

func TestTextRoundTrip(t *testing.T) {
	spec := TextSpec{}
	body, err := spec.Encode(TextPayload{Body: "hello"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := spec.Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.(TextPayload).Body != "hello" {
		t.Fatalf("got %+v", got)
	}
}

func TestStateRoundTripAndBounds(t *testing.T) {
	spec := StateSpec{}
	p := StatePayload{Pixels: []Pixel{{X: 0, Y: 0, R: 1, G: 2, B: 3}, {X: 4579, Y: 4579, R: 255, G: 0, B: 0}}}
	body, err := spec.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := spec.Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.(StatePayload).Pixels) != 2 {
		t.Fatalf("got %+v", got)
	}

	_, err = spec.Encode(StatePayload{Pixels: []Pixel{{X: CanvasWidth, Y: 0}}})
	if err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

// TestDNSRegisterScenario is scenario 3 from spec.md §8.
func TestDNSRegisterScenario(t *testing.T) {
	spec := DNSSpec{}
	p := DNSPayload{
		Op:   DNSOpRegister,
		Name: "example.btc",
		Records: []DNSRecord{
			{Type: RecordA, TTL: 3600, Value: []byte{93, 184, 216, 34}},
		},
	}
	body, err := spec.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{
		0x01, 0x0B,
	}
	want = append(want, []byte("example.btc")...)
	want = append(want, 0x01, 0x01, 0x00, 0x00, 0x0E, 0x10, 0x00, 0x04, 0x5D, 0xB8, 0xD8, 0x22)

	if !bytes.Equal(body, want) {
		t.Fatalf("Encode() = % X, want % X", body, want)
	}

	got, err := spec.Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gp := got.(DNSPayload)
	if gp.Name != "example.btc" || len(gp.Records) != 1 || gp.Records[0].TTL != 3600 {
		t.Fatalf("Decode() = %+v", gp)
	}
}

func TestDNSRejectsSimpleDataCarrier(t *testing.T) {
	for _, c := range (DNSSpec{}).SupportedCarriers() {
		if c.String() == "simple_data" {
			t.Fatal("DNS must not list simple_data as a supported carrier")
		}
	}
}

func TestDNSInvalidNames(t *testing.T) {
	cases := []string{
		"EXAMPLE.BTC", // not lower-cased
		"example.com", // unrecognised TLD
		"-bad.btc",    // leading hyphen
		"",            // empty
	}
	for _, name := range cases {
		err := validateDomainName(name)
		if err == nil {
			t.Errorf("validateDomainName(%q) = nil, want error", name)
		}
	}
}

func TestProofRoundTrip(t *testing.T) {
	spec := ProofSpec{}
	hash := bytes.Repeat([]byte{0xAB}, 32)
	p := ProofPayload{
		Op: ProofOpStamp,
		Entries: []ProofEntry{
			{Algo: AlgoSHA256, Hash: hash, Meta: ProofMeta{Filename: "doc.pdf", HasSize: true, Size: 1024}},
		},
	}
	body, err := spec.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := spec.Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gp := got.(ProofPayload)
	if len(gp.Entries) != 1 || !bytes.Equal(gp.Entries[0].Hash, hash) || gp.Entries[0].Meta.Filename != "doc.pdf" {
		t.Fatalf("got %+v", gp)
	}
}

func TestProofHashLengthMustMatchAlgo(t *testing.T) {
	spec := ProofSpec{}
	p := ProofPayload{Op: ProofOpStamp, Entries: []ProofEntry{{Algo: AlgoSHA256, Hash: make([]byte, 10)}}}
	if err := spec.Validate(p); err == nil {
		t.Fatal("expected hash-length mismatch error")
	}
}

// TestTokenTransferConservationScenario follows scenario 4 from spec.md §8.
func TestTokenTransferConservationScenario(t *testing.T) {
	spec := TokenSpec{}

	deploy := TokenPayload{
		Op:         TokenOpDeploy,
		Ticker:     "FOO",
		Decimals:   0,
		MaxSupply:  big.NewInt(1000),
		MintAmount: big.NewInt(100),
	}
	body, err := spec.Encode(deploy)
	if err != nil {
		t.Fatalf("Encode(deploy): %v", err)
	}
	got, err := spec.Decode(body)
	if err != nil {
		t.Fatalf("Decode(deploy): %v", err)
	}
	gd := got.(TokenPayload)
	if gd.MaxSupply.Cmp(big.NewInt(1000)) != 0 || gd.MintAmount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("deploy round trip = %+v", gd)
	}

	transfer := TokenPayload{
		Op:     TokenOpTransfer,
		Ticker: "FOO",
		Allocations: []TokenAllocation{
			{OutputVout: 1, Amount: big.NewInt(60)},
			{OutputVout: 2, Amount: big.NewInt(30)},
		},
	}
	body, err = spec.Encode(transfer)
	if err != nil {
		t.Fatalf("Encode(transfer): %v", err)
	}
	got, err = spec.Decode(body)
	if err != nil {
		t.Fatalf("Decode(transfer): %v", err)
	}
	gt := got.(TokenPayload)
	if len(gt.Allocations) != 2 {
		t.Fatalf("transfer round trip = %+v", gt)
	}

	sum := new(big.Int)
	for _, a := range gt.Allocations {
		sum.Add(sum, a.Amount)
	}
	inputTotal := big.NewInt(100)
	if sum.Cmp(inputTotal) > 0 {
		t.Fatalf("allocations %s exceed input total %s", sum, inputTotal)
	}
	burn := new(big.Int).Sub(inputTotal, sum)
	if burn.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("implicit burn = %s, want 10", burn)
	}
}

func TestTokenRejectsOversizedTicker(t *testing.T) {
	p := TokenPayload{Op: TokenOpMint, Ticker: "TOOLONGTICKER", Amount: big.NewInt(1)}
	if err := (TokenSpec{}).Validate(p); err == nil {
		t.Fatal("expected ticker length error")
	}
}

func TestGeoMarkerRoundTrip(t *testing.T) {
	spec := GeoMarkerSpec{}
	p := GeoMarkerPayload{Category: 1, Lat: 37.7749, Lng: -122.4194, Msg: "san francisco"}
	body, err := spec.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := spec.Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gp := got.(GeoMarkerPayload)
	if gp.Msg != "san francisco" || gp.Category != 1 {
		t.Fatalf("got %+v", gp)
	}
}

func TestGeoMarkerRejectsOutOfRange(t *testing.T) {
	p := GeoMarkerPayload{Lat: 91, Lng: 0}
	if err := (GeoMarkerSpec{}).Validate(p); err == nil {
		t.Fatal("expected latitude range error")
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	spec, err := r.Lookup(1) // KindText
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if spec.KindName() != "text" {
		t.Fatalf("got %q, want text", spec.KindName())
	}

	if _, err := r.Lookup(99); err == nil {
		t.Fatal("expected ErrUnregisteredKind for kind 99")
	}
}
