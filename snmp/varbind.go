// Package snmp provides the varbind and PDU envelope types built on top
// of package ber, and their BER marshalling. It corresponds to spec.md §3's
// data model.
package snmp

import (
	"fmt"

	"github.com/duniansampa/priot/ber"
)

// Varbind pairs an OID with a typed value, per spec.md §3.
type Varbind struct {
	OID   ber.OID
	Value ber.Value
}

func (vb Varbind) String() string {
	if vb.Value == nil {
		return fmt.Sprintf("%s = <nil>", vb.OID)
	}
	return fmt.Sprintf("%s = %s", vb.OID, vb.Value)
}

// Append appends the BER encoding of a VarBind SEQUENCE { name OID, value
// ANY } to buf.
func (vb Varbind) Append(buf []byte) []byte {
	var payload []byte
	payload = ber.AppendTLV(payload, ber.Tag{Class: ber.ClassUniversal, Number: ber.TagObjectID}, ber.AppendOID(nil, vb.OID))
	if vb.Value == nil {
		payload = ber.AppendTLV(payload, ber.Tag{Class: ber.ClassUniversal, Number: ber.TagNull}, nil)
	} else {
		payload = ber.AppendTLV(payload, vb.Value.Tag(), vb.Value.Append(nil))
	}
	return ber.AppendTLV(buf, ber.Tag{Class: ber.ClassUniversal, Constructed: true, Number: ber.TagSequence}, payload)
}

// ParseVarbind decodes one VarBind SEQUENCE from the front of buf.
func ParseVarbind(buf []byte) (vb Varbind, rest []byte, err error) {
	tag, length, p, err := ber.ParseHeader(buf)
	if err != nil {
		return Varbind{}, nil, err
	}
	if tag.Class != ber.ClassUniversal || !tag.Constructed || tag.Number != ber.TagSequence {
		return Varbind{}, nil, ber.ErrInvalidTag
	}
	body := p[:length]
	rest = p[length:]

	oid, body, err := ber.ParseOID(body)
	if err != nil {
		return Varbind{}, nil, err
	}
	val, body, err := ber.ParseValue(body)
	if err != nil {
		return Varbind{}, nil, err
	}
	if len(body) != 0 {
		return Varbind{}, nil, ber.ErrInvalidLength
	}
	return Varbind{OID: oid, Value: val}, rest, nil
}
