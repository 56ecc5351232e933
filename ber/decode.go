package ber

import "fmt"

// ParseHeader decodes one BER tag-length header conforming to the class/PC
// combinations SNMP actually emits. It returns the tag, the declared
// payload length, and the remainder of buf starting at the payload.
func ParseHeader(buf []byte) (tag Tag, length int, rest []byte, err error) {
	if len(buf) < 2 {
		return Tag{}, 0, nil, ErrTruncatedInput
	}

	b := buf[0]
	tag.Class = Class(b >> 6 & 0x3)
	tag.Constructed = b&0x20 != 0
	num := b & 0x1f
	if num == 0x1f {
		// high-tag-number form: not used anywhere in SNMP
		return Tag{}, 0, nil, ErrInvalidTag
	}
	tag.Number = uint32(num)

	lb := buf[1]
	p := buf[2:]
	switch {
	case lb < 0x80:
		length = int(lb)
	case lb == 0x80:
		// indefinite length: forbidden for definite-length BER
		return Tag{}, 0, nil, ErrInvalidLength
	default:
		n := int(lb &^ 0x80)
		if n == 0 || n > 4 {
			return Tag{}, 0, nil, ErrInvalidLength
		}
		if len(p) < n {
			return Tag{}, 0, nil, ErrTruncatedInput
		}
		length = 0
		for i := 0; i < n; i++ {
			length = length<<8 | int(p[i])
		}
		p = p[n:]
	}

	if length < 0 || length > len(p) {
		return Tag{}, 0, nil, ErrInvalidLength
	}
	return tag, length, p, nil
}

// expect validates the decoded tag/length against the universal/application
// tag number wanted and slices out the payload plus the remainder.
func expect(buf []byte, wantNumber uint32) (payload, rest []byte, err error) {
	tag, length, p, err := ParseHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	if tag.Class != ClassUniversal || tag.Constructed || tag.Number != wantNumber {
		return nil, nil, ErrInvalidTag
	}
	return p[:length], p[length:], nil
}

// parseSignedVarint decodes minimal two's-complement bytes of arbitrary
// length into an int64. BER permits any well-formed form on decode even
// though encoders must emit the shortest form.
func parseSignedVarint(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	v := int64(int8(b[0]))
	for _, c := range b[1:] {
		v = v<<8 | int64(c)
	}
	return v
}

// ParseInteger decodes a universal INTEGER.
func ParseInteger(buf []byte) (v int64, rest []byte, err error) {
	p, rest, err := expect(buf, TagInteger)
	if err != nil {
		return 0, nil, err
	}
	if len(p) == 0 {
		return 0, nil, ErrInvalidLength
	}
	return parseSignedVarint(p), rest, nil
}

// ParseUnsigned decodes Counter32, Gauge32/Unsigned32 or TimeTicks: an
// integer encoding that must not carry a negative value.
func ParseUnsigned(buf []byte, appTag uint32) (v uint32, rest []byte, err error) {
	tag, length, p, err := ParseHeader(buf)
	if err != nil {
		return 0, nil, err
	}
	if tag.Class != ClassApplication || tag.Number != appTag {
		return 0, nil, ErrInvalidTag
	}
	payload := p[:length]
	if len(payload) == 0 || len(payload) > 5 {
		return 0, nil, ErrInvalidLength
	}
	n := parseSignedVarint(payload)
	if n < 0 || n > 0xffffffff {
		return 0, nil, ErrInvalidValue
	}
	return uint32(n), p[length:], nil
}

// ParseCounter64 decodes a 64-bit unsigned Counter64.
func ParseCounter64(buf []byte) (v uint64, rest []byte, err error) {
	tag, length, p, err := ParseHeader(buf)
	if err != nil {
		return 0, nil, err
	}
	if tag.Class != ClassApplication || tag.Number != TagCounter64 {
		return 0, nil, ErrInvalidTag
	}
	payload := p[:length]
	if len(payload) == 0 || len(payload) > 9 {
		return 0, nil, ErrInvalidLength
	}
	n := parseSignedVarint(payload)
	if n < 0 {
		return 0, nil, ErrInvalidValue
	}
	return uint64(n), p[length:], nil
}

// ParseOctetString decodes a universal OCTET STRING, rejecting payloads
// beyond the 2^16-1 wire limit.
func ParseOctetString(buf []byte) (v []byte, rest []byte, err error) {
	p, rest, err := expect(buf, TagOctetString)
	if err != nil {
		return nil, nil, err
	}
	if len(p) > 0xffff {
		return nil, nil, ErrInvalidLength
	}
	return p, rest, nil
}

// ParseNull decodes a universal NULL, which carries no payload.
func ParseNull(buf []byte) (rest []byte, err error) {
	p, rest, err := expect(buf, TagNull)
	if err != nil {
		return nil, err
	}
	if len(p) != 0 {
		return nil, ErrInvalidLength
	}
	return rest, nil
}

// ParseOID decodes an OBJECT IDENTIFIER. Sub-identifiers above 2^32-1 are
// rejected, as are varints with a redundant leading 0x80 continuation byte.
func ParseOID(buf []byte) (v OID, rest []byte, err error) {
	p, rest, err := expect(buf, TagObjectID)
	if err != nil {
		return nil, nil, err
	}
	if len(p) == 0 {
		return nil, nil, ErrInvalidValue // empty OID forbidden
	}
	if p[0] >= 120 {
		return nil, nil, ErrInvalidValue
	}

	var out OID
	first := uint32(p[0]) / 40
	second := uint32(p[0]) % 40
	if first > 2 {
		first = 2
		second = uint32(p[0]) - 80
	}
	out = append(out, first, second)

	i := 1
	for i < len(p) {
		if p[i] == 0x80 {
			return nil, nil, ErrInvalidValue // trailing zero byte
		}
		var n uint64
		start := i
		for {
			if i >= len(p) {
				return nil, nil, ErrTruncatedInput
			}
			n = n<<7 | uint64(p[i]&0x7f)
			cont := p[i]&0x80 != 0
			i++
			if !cont {
				break
			}
			if i-start > 5 {
				return nil, nil, ErrInvalidValue
			}
		}
		if n > 0xffffffff {
			return nil, nil, ErrInvalidValue
		}
		out = append(out, uint32(n))
	}

	if len(out) < MinOIDLen {
		return nil, nil, ErrInvalidValue
	}
	return out, rest, nil
}

// ParseIPAddress decodes a 4-octet IpAddress.
func ParseIPAddress(buf []byte) (v IPAddress, rest []byte, err error) {
	tag, length, p, err := ParseHeader(buf)
	if err != nil {
		return IPAddress{}, nil, err
	}
	if tag.Class != ClassApplication || tag.Number != TagIPAddress {
		return IPAddress{}, nil, ErrInvalidTag
	}
	if length != 4 {
		return IPAddress{}, nil, ErrInvalidLength
	}
	var addr IPAddress
	copy(addr[:], p[:4])
	return addr, p[4:], nil
}

// ParseOpaque decodes an application-wide Opaque string.
func ParseOpaque(buf []byte) (v []byte, rest []byte, err error) {
	tag, length, p, err := ParseHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	if tag.Class != ClassApplication || tag.Number != TagOpaque {
		return nil, nil, ErrInvalidTag
	}
	return p[:length], p[length:], nil
}

// ParseBitString decodes a universal BIT STRING: an unused-bit count octet
// followed by the bit octets.
func ParseBitString(buf []byte) (unusedBits int, bits []byte, rest []byte, err error) {
	p, rest, err := expect(buf, TagBitString)
	if err != nil {
		return 0, nil, nil, err
	}
	if len(p) == 0 {
		return 0, nil, nil, ErrInvalidLength
	}
	if p[0] > 7 || (len(p) == 1 && p[0] != 0) {
		return 0, nil, nil, ErrInvalidValue
	}
	return int(p[0]), p[1:], rest, nil
}

// ParseFloat decodes a 4-octet IEEE-754 single-precision value wrapped in
// an application Opaque per the net-snmp opaque-float convention.
func ParseFloat(buf []byte) (v float32, rest []byte, err error) {
	p, rest, err := ParseOpaque(buf)
	if err != nil {
		return 0, nil, err
	}
	if len(p) != 4 {
		return 0, nil, ErrInvalidLength
	}
	bits := uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
	return float32FromBits(bits), rest, nil
}

// ParseDouble decodes an 8-octet IEEE-754 double-precision value wrapped
// the same way as ParseFloat.
func ParseDouble(buf []byte) (v float64, rest []byte, err error) {
	p, rest, err := ParseOpaque(buf)
	if err != nil {
		return 0, nil, err
	}
	if len(p) != 8 {
		return 0, nil, ErrInvalidLength
	}
	var bits uint64
	for _, c := range p {
		bits = bits<<8 | uint64(c)
	}
	return float64FromBits(bits), rest, nil
}

// ParseValue dispatches on the wire tag and produces the matching typed
// Value. Used by the varbind decoder once the (class, number) pair has
// been read off the header.
func ParseValue(buf []byte) (v Value, rest []byte, err error) {
	tag, length, p, err := ParseHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	payload := p[:length]
	rest = p[length:]

	switch {
	case tag.Class == ClassUniversal && tag.Number == TagInteger:
		n := parseSignedVarint(payload)
		return Integer32(n), rest, nil
	case tag.Class == ClassUniversal && tag.Number == TagOctetString:
		return OctetString(payload), rest, nil
	case tag.Class == ClassUniversal && tag.Number == TagNull:
		if len(payload) != 0 {
			return nil, nil, ErrInvalidLength
		}
		return Null{}, rest, nil
	case tag.Class == ClassUniversal && tag.Number == TagObjectID:
		oid, _, err := ParseOID(buf[:len(buf)-len(rest)])
		if err != nil {
			return nil, nil, err
		}
		return ObjectIdentifier{OID: oid}, rest, nil
	case tag.Class == ClassApplication && tag.Number == TagIPAddress:
		if length != 4 {
			return nil, nil, ErrInvalidLength
		}
		var a IPAddress
		copy(a[:], payload)
		return a, rest, nil
	case tag.Class == ClassApplication && tag.Number == TagCounter32:
		n := parseSignedVarint(payload)
		if n < 0 || n > 0xffffffff {
			return nil, nil, ErrInvalidValue
		}
		return Counter32(n), rest, nil
	case tag.Class == ClassApplication && tag.Number == TagGauge32:
		n := parseSignedVarint(payload)
		if n < 0 || n > 0xffffffff {
			return nil, nil, ErrInvalidValue
		}
		return Gauge32(n), rest, nil
	case tag.Class == ClassApplication && tag.Number == TagTimeTicks:
		n := parseSignedVarint(payload)
		if n < 0 || n > 0xffffffff {
			return nil, nil, ErrInvalidValue
		}
		return TimeTicks(n), rest, nil
	case tag.Class == ClassApplication && tag.Number == TagOpaque:
		return Opaque(payload), rest, nil
	case tag.Class == ClassApplication && tag.Number == TagCounter64:
		n := parseSignedVarint(payload)
		if n < 0 {
			return nil, nil, ErrInvalidValue
		}
		return Counter64(n), rest, nil
	case tag.Class == ClassContext && tag.Number == TagNoSuchObject:
		return NoSuchObject{}, rest, nil
	case tag.Class == ClassContext && tag.Number == TagNoSuchInstance:
		return NoSuchInstance{}, rest, nil
	case tag.Class == ClassContext && tag.Number == TagEndOfMibView:
		return EndOfMibView{}, rest, nil
	default:
		return nil, nil, fmt.Errorf("%w: class %d number %d", ErrInvalidTag, tag.Class, tag.Number)
	}
}
