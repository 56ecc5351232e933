package snmp

import (
	"errors"

	"github.com/duniansampa/priot/ber"
)

// Kind identifies the PDU operation, carried on the wire as a
// context-specific constructed tag. Spec.md §3.
type Kind uint8

const (
	KindGet         Kind = 0xA0
	KindGetNext     Kind = 0xA1
	KindResponse    Kind = 0xA2
	KindSet         Kind = 0xA3
	KindTrapV1      Kind = 0xA4
	KindGetBulk     Kind = 0xA5
	KindInform      Kind = 0xA6
	KindTrapV2      Kind = 0xA7
	KindReport      Kind = 0xA8
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "GetRequest"
	case KindGetNext:
		return "GetNextRequest"
	case KindResponse:
		return "Response"
	case KindSet:
		return "SetRequest"
	case KindTrapV1:
		return "Trap"
	case KindGetBulk:
		return "GetBulkRequest"
	case KindInform:
		return "InformRequest"
	case KindTrapV2:
		return "SNMPv2-Trap"
	case KindReport:
		return "Report"
	default:
		return "Unknown"
	}
}

// ErrorStatus enumerates the response error-status values of spec.md §7.
type ErrorStatus int

const (
	NoError ErrorStatus = iota
	TooBig
	NoSuchName
	BadValue
	ReadOnly
	GenErr
	NoAccess
	WrongType
	WrongLength
	WrongEncoding
	WrongValue
	NoCreation
	InconsistentValue
	ResourceUnavailable
	CommitFailed
	UndoFailed
	AuthorizationError
	NotWritable
	InconsistentName
)

func (s ErrorStatus) String() string {
	names := [...]string{
		"noError", "tooBig", "noSuchName", "badValue", "readOnly",
		"genErr", "noAccess", "wrongType", "wrongLength", "wrongEncoding",
		"wrongValue", "noCreation", "inconsistentValue", "resourceUnavailable",
		"commitFailed", "undoFailed", "authorizationError", "notWritable",
		"inconsistentName",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

var (
	ErrEmptyPDU  = errors.New("snmp: empty PDU body")
	ErrBadKind   = errors.New("snmp: unrecognized PDU kind tag")
)

// PDU is the request or response envelope of spec.md §3, excluding the
// security envelope (carried separately; see package mp).
type PDU struct {
	Kind      Kind
	RequestID int32

	// ErrorStatus/ErrorIndex are meaningful on Kind == KindResponse only;
	// for KindGetBulk the same two wire slots carry NonRepeaters and
	// MaxRepetitions instead.
	ErrorStatus ErrorStatus
	ErrorIndex  int

	NonRepeaters   int
	MaxRepetitions int

	Varbinds []Varbind
}

// Append appends the BER encoding of the PDU (the context-tagged SEQUENCE)
// to buf.
func (p PDU) Append(buf []byte) []byte {
	var payload []byte
	payload = ber.AppendTLV(payload, ber.Tag{Class: ber.ClassUniversal, Number: ber.TagInteger}, ber.AppendInteger(nil, int64(p.RequestID)))

	slot1, slot2 := int64(p.ErrorStatus), int64(p.ErrorIndex)
	if p.Kind == KindGetBulk {
		slot1, slot2 = int64(p.NonRepeaters), int64(p.MaxRepetitions)
	}
	payload = ber.AppendTLV(payload, ber.Tag{Class: ber.ClassUniversal, Number: ber.TagInteger}, ber.AppendInteger(nil, slot1))
	payload = ber.AppendTLV(payload, ber.Tag{Class: ber.ClassUniversal, Number: ber.TagInteger}, ber.AppendInteger(nil, slot2))

	var vbList []byte
	for _, vb := range p.Varbinds {
		vbList = vb.Append(vbList)
	}
	payload = ber.AppendTLV(payload, ber.Tag{Class: ber.ClassUniversal, Constructed: true, Number: ber.TagSequence}, vbList)

	return ber.AppendTLV(buf, ber.Tag{Class: ber.ClassContext, Constructed: true, Number: uint32(p.Kind) & 0x1f}, payload)
}

// ParsePDU decodes a PDU from the front of buf. The caller must already
// know which context tag introduces it (typically read via ber.ParseHeader
// one level up, inside the scopedPDU/message decoder).
func ParsePDU(kind Kind, buf []byte) (p PDU, err error) {
	p.Kind = kind

	n, rest, err := ber.ParseInteger(buf)
	if err != nil {
		return PDU{}, err
	}
	p.RequestID = int32(n)

	slot1, rest, err := ber.ParseInteger(rest)
	if err != nil {
		return PDU{}, err
	}
	slot2, rest, err := ber.ParseInteger(rest)
	if err != nil {
		return PDU{}, err
	}
	if kind == KindGetBulk {
		p.NonRepeaters = int(slot1)
		p.MaxRepetitions = int(slot2)
	} else {
		p.ErrorStatus = ErrorStatus(slot1)
		p.ErrorIndex = int(slot2)
	}

	tag, length, listBody, err := ber.ParseHeader(rest)
	if err != nil {
		return PDU{}, err
	}
	if tag.Class != ber.ClassUniversal || !tag.Constructed || tag.Number != ber.TagSequence {
		return PDU{}, ber.ErrInvalidTag
	}
	body := listBody[:length]
	for len(body) > 0 {
		var vb Varbind
		vb, body, err = ParseVarbind(body)
		if err != nil {
			return PDU{}, err
		}
		p.Varbinds = append(p.Varbinds, vb)
	}
	return p, nil
}

// ParseAny decodes the outer PDU tag to learn its Kind, then delegates to
// ParsePDU.
func ParseAny(buf []byte) (p PDU, rest []byte, err error) {
	tag, length, body, err := ber.ParseHeader(buf)
	if err != nil {
		return PDU{}, nil, err
	}
	if tag.Class != ber.ClassContext || !tag.Constructed {
		return PDU{}, nil, ErrBadKind
	}
	kind := Kind(0xA0 | tag.Number)
	p, err = ParsePDU(kind, body[:length])
	if err != nil {
		return PDU{}, nil, err
	}
	return p, body[length:], nil
}
