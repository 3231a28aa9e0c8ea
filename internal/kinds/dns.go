package kinds

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/anchor-protocol/anchor-engine/internal/carrier"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// DNSOp identifies a DNS operation.
type DNSOp uint8

const (
	DNSOpRegister DNSOp = 1
	DNSOpUpdate   DNSOp = 2
	DNSOpTransfer DNSOp = 3
)

// RecordType uses the standard DNS RR type numbers, the one stable
// assignment available once A/CNAME/MX/SRV are pinned to their real-world
// values (see DESIGN.md for the TXT/AAAA/NS resolution).
type RecordType uint8

const (
	RecordA     RecordType = 1
	RecordNS    RecordType = 2
	RecordCNAME RecordType = 5
	RecordMX    RecordType = 15
	RecordTXT   RecordType = 16
	RecordAAAA  RecordType = 28
	RecordSRV   RecordType = 33
)

var recognizedTLDs = map[string]bool{
	".btc":    true,
	".sat":    true,
	".anchor": true,
	".anc":    true,
	".bit":    true,
}

var dnsLabelRe = regexp.MustCompile(`^[a-z0-9](-?[a-z0-9])*$`)

// DNSRecord is one resource record attached to a Register/Update operation.
type DNSRecord struct {
	Type     RecordType
	TTL      uint32
	Value    []byte
	Priority uint16 // MX, SRV
	Weight   uint16 // SRV
	Port     uint16 // SRV
}

// DNSPayload is a full DNS kind body.
type DNSPayload struct {
	Op      DNSOp
	Name    string
	Records []DNSRecord
}

// DNSSpec implements Spec for AnchorKind DNS.
type DNSSpec struct{}

func (DNSSpec) KindID() anchor.AnchorKind { return anchor.KindDNS }
func (DNSSpec) KindName() string          { return "dns" }

func (DNSSpec) Decode(body []byte) (interface{}, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("kinds/dns: body too short")
	}
	op := DNSOp(body[0])
	nameLen := int(body[1])
	if len(body) < 2+nameLen+1 {
		return nil, fmt.Errorf("kinds/dns: body too short for name")
	}
	name := string(body[2 : 2+nameLen])
	rest := body[2+nameLen:]

	recordCount := int(rest[0])
	rest = rest[1:]

	records := make([]DNSRecord, 0, recordCount)
	for i := 0; i < recordCount; i++ {
		rec, n, err := decodeDNSRecord(rest)
		if err != nil {
			return nil, fmt.Errorf("kinds/dns: record %d: %w", i, err)
		}
		records = append(records, rec)
		rest = rest[n:]
	}

	p := DNSPayload{Op: op, Name: name, Records: records}
	if err := (DNSSpec{}).Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeDNSRecord(b []byte) (DNSRecord, int, error) {
	if len(b) < 1+4+2 {
		return DNSRecord{}, 0, fmt.Errorf("too short for record header")
	}
	rec := DNSRecord{Type: RecordType(b[0]), TTL: binary.BigEndian.Uint32(b[1:5])}
	valueLen := int(binary.BigEndian.Uint16(b[5:7]))
	off := 7
	if len(b) < off+valueLen {
		return DNSRecord{}, 0, fmt.Errorf("too short for value")
	}
	rec.Value = append([]byte{}, b[off:off+valueLen]...)
	off += valueLen

	switch rec.Type {
	case RecordMX:
		if len(b) < off+2 {
			return DNSRecord{}, 0, fmt.Errorf("too short for MX priority")
		}
		rec.Priority = binary.BigEndian.Uint16(b[off : off+2])
		off += 2
	case RecordSRV:
		if len(b) < off+6 {
			return DNSRecord{}, 0, fmt.Errorf("too short for SRV priority/weight/port")
		}
		rec.Priority = binary.BigEndian.Uint16(b[off : off+2])
		rec.Weight = binary.BigEndian.Uint16(b[off+2 : off+4])
		rec.Port = binary.BigEndian.Uint16(b[off+4 : off+6])
		off += 6
	}
	return rec, off, nil
}

func (DNSSpec) Encode(payload interface{}) ([]byte, error) {
	p, ok := payload.(DNSPayload)
	if !ok {
		return nil, fmt.Errorf("kinds/dns: expected DNSPayload, got %T", payload)
	}
	if err := (DNSSpec{}).Validate(p); err != nil {
		return nil, err
	}

	var body []byte
	body = append(body, byte(p.Op))
	body = append(body, byte(len(p.Name)))
	body = append(body, []byte(p.Name)...)

	if p.Op == DNSOpTransfer {
		body = append(body, 0)
		return body, nil
	}

	body = append(body, byte(len(p.Records)))
	for _, rec := range p.Records {
		body = append(body, byte(rec.Type))
		var ttl [4]byte
		binary.BigEndian.PutUint32(ttl[:], rec.TTL)
		body = append(body, ttl[:]...)
		var vl [2]byte
		binary.BigEndian.PutUint16(vl[:], uint16(len(rec.Value)))
		body = append(body, vl[:]...)
		body = append(body, rec.Value...)
		switch rec.Type {
		case RecordMX:
			var pr [2]byte
			binary.BigEndian.PutUint16(pr[:], rec.Priority)
			body = append(body, pr[:]...)
		case RecordSRV:
			var pwp [6]byte
			binary.BigEndian.PutUint16(pwp[0:2], rec.Priority)
			binary.BigEndian.PutUint16(pwp[2:4], rec.Weight)
			binary.BigEndian.PutUint16(pwp[4:6], rec.Port)
			body = append(body, pwp[:]...)
		}
	}
	return body, nil
}

func (DNSSpec) Validate(payload interface{}) error {
	p, ok := payload.(DNSPayload)
	if !ok {
		return fmt.Errorf("kinds/dns: expected DNSPayload, got %T", payload)
	}
	if p.Op != DNSOpRegister && p.Op != DNSOpUpdate && p.Op != DNSOpTransfer {
		return fmt.Errorf("kinds/dns: unknown op %d", p.Op)
	}
	if err := validateDomainName(p.Name); err != nil {
		return err
	}
	if p.Op == DNSOpTransfer && len(p.Records) != 0 {
		return fmt.Errorf("kinds/dns: transfer carries no records")
	}
	for _, rec := range p.Records {
		switch rec.Type {
		case RecordA, RecordAAAA, RecordCNAME, RecordTXT, RecordMX, RecordNS, RecordSRV:
		default:
			return fmt.Errorf("kinds/dns: unknown record type %d", rec.Type)
		}
		if len(rec.Value) > 0xFFFF {
			return fmt.Errorf("kinds/dns: record value too long")
		}
	}
	return nil
}

func validateDomainName(name string) error {
	if len(name) > 253 {
		return fmt.Errorf("kinds/dns: name exceeds 253 bytes")
	}
	if name != strings.ToLower(name) {
		return fmt.Errorf("kinds/dns: name must be lower-cased")
	}

	var tld string
	for suffix := range recognizedTLDs {
		if strings.HasSuffix(name, suffix) {
			tld = suffix
			break
		}
	}
	if tld == "" {
		return fmt.Errorf("kinds/dns: name %q has no recognised TLD", name)
	}

	labelPart := strings.TrimSuffix(name, tld)
	labelPart = strings.TrimSuffix(labelPart, ".")
	if labelPart == "" {
		return fmt.Errorf("kinds/dns: name %q has no label before the TLD", name)
	}
	for _, label := range strings.Split(labelPart, ".") {
		if !dnsLabelRe.MatchString(label) {
			return fmt.Errorf("kinds/dns: label %q is not a valid DNS label", label)
		}
	}
	return nil
}

func (DNSSpec) SupportedCarriers() []carrier.Type {
	// DNS ownership rides a spendable UTXO; non-spendable carriers are
	// excluded.
	return []carrier.Type{
		carrier.TypeInscription,
		carrier.TypeWitnessScript,
		carrier.TypeAnnex,
	}
}

func (DNSSpec) RecommendedCarrier() carrier.Type { return carrier.TypeInscription }
