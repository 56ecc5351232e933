package ber

import (
	"fmt"
	"net"
)

// Value is the typed union a varbind carries: exactly one SNMP syntax, or
// one of the three endpoint markers (spec.md §3). The tag always matches
// the payload kind; this is enforced by construction since every
// implementation is a distinct concrete type rather than a loosely typed
// byte blob.
type Value interface {
	// Tag returns the application or universal BER tag for this syntax.
	Tag() Tag
	// Append appends the payload-only BER encoding (header excluded) to buf.
	Append(buf []byte) []byte
	String() string

	isValue()
}

// Integer32 is a signed 32-bit integer (universal INTEGER).
type Integer32 int32

func (Integer32) Tag() Tag          { return Tag{ClassUniversal, false, TagInteger} }
func (v Integer32) String() string  { return fmt.Sprintf("%d", int32(v)) }
func (Integer32) isValue()          {}
func (v Integer32) Append(buf []byte) []byte {
	return AppendInteger(buf, int64(v))
}

// OctetString is an arbitrary binary string, length up to 2^16-1.
type OctetString []byte

func (OctetString) Tag() Tag         { return Tag{ClassUniversal, false, TagOctetString} }
func (v OctetString) String() string { return fmt.Sprintf("%#x", []byte(v)) }
func (OctetString) isValue()         {}
func (v OctetString) Append(buf []byte) []byte {
	return AppendOctetString(buf, []byte(v))
}

// Null carries no payload.
type Null struct{}

func (Null) Tag() Tag                      { return Tag{ClassUniversal, false, TagNull} }
func (Null) String() string                { return "NULL" }
func (Null) isValue()                      {}
func (Null) Append(buf []byte) []byte      { return buf }

// ObjectIdentifier wraps an OID as a varbind value.
type ObjectIdentifier struct{ OID OID }

func (ObjectIdentifier) Tag() Tag         { return Tag{ClassUniversal, false, TagObjectID} }
func (v ObjectIdentifier) String() string { return v.OID.String() }
func (ObjectIdentifier) isValue()         {}
func (v ObjectIdentifier) Append(buf []byte) []byte {
	return AppendOID(buf, v.OID)
}

// IPAddress is a 4-octet IPv4 address.
type IPAddress [4]byte

func (IPAddress) Tag() Tag { return Tag{ClassApplication, false, TagIPAddress} }
func (v IPAddress) String() string {
	return net.IP(v[:]).String()
}
func (IPAddress) isValue() {}
func (v IPAddress) Append(buf []byte) []byte {
	return append(buf, v[0], v[1], v[2], v[3])
}

// Counter32 is a monotonically increasing unsigned 32-bit counter that
// wraps.
type Counter32 uint32

func (Counter32) Tag() Tag         { return Tag{ClassApplication, false, TagCounter32} }
func (v Counter32) String() string { return fmt.Sprintf("%d", uint32(v)) }
func (Counter32) isValue()         {}
func (v Counter32) Append(buf []byte) []byte {
	return AppendUnsigned(buf, uint64(v))
}

// Gauge32 (a.k.a. Unsigned32) is a non-negative integer that may increase
// or decrease but latches at its maximum.
type Gauge32 uint32

func (Gauge32) Tag() Tag         { return Tag{ClassApplication, false, TagGauge32} }
func (v Gauge32) String() string { return fmt.Sprintf("%d", uint32(v)) }
func (Gauge32) isValue()         {}
func (v Gauge32) Append(buf []byte) []byte {
	return AppendUnsigned(buf, uint64(v))
}

// TimeTicks counts hundredths of a second since some epoch.
type TimeTicks uint32

func (TimeTicks) Tag() Tag         { return Tag{ClassApplication, false, TagTimeTicks} }
func (v TimeTicks) String() string { return fmt.Sprintf("%d", uint32(v)) }
func (TimeTicks) isValue()         {}
func (v TimeTicks) Append(buf []byte) []byte {
	return AppendUnsigned(buf, uint64(v))
}

// Opaque wraps arbitrary application-defined encoding.
type Opaque []byte

func (Opaque) Tag() Tag         { return Tag{ClassApplication, false, TagOpaque} }
func (v Opaque) String() string { return fmt.Sprintf("opaque:%#x", []byte(v)) }
func (Opaque) isValue()         {}
func (v Opaque) Append(buf []byte) []byte {
	return append(buf, v...)
}

// Counter64 is a monotonically increasing unsigned 64-bit counter (v2c/v3
// only).
type Counter64 uint64

func (Counter64) Tag() Tag         { return Tag{ClassApplication, false, TagCounter64} }
func (v Counter64) String() string { return fmt.Sprintf("%d", uint64(v)) }
func (Counter64) isValue()         {}
func (v Counter64) Append(buf []byte) []byte {
	return AppendCounter64(buf, uint64(v))
}

// NoSuchObject signals that the registry has no node at all for the
// queried OID. Endpoint markers may only appear in responses.
type NoSuchObject struct{}

func (NoSuchObject) Tag() Tag         { return Tag{ClassContext, false, TagNoSuchObject} }
func (NoSuchObject) String() string   { return "noSuchObject" }
func (NoSuchObject) isValue()         {}
func (NoSuchObject) Append(buf []byte) []byte { return buf }

// NoSuchInstance signals that the node exists but the specific instance
// does not.
type NoSuchInstance struct{}

func (NoSuchInstance) Tag() Tag         { return Tag{ClassContext, false, TagNoSuchInstance} }
func (NoSuchInstance) String() string   { return "noSuchInstance" }
func (NoSuchInstance) isValue()         {}
func (NoSuchInstance) Append(buf []byte) []byte { return buf }

// EndOfMibView signals that GETNEXT/GETBULK traversal ran off the end of
// the readable tree.
type EndOfMibView struct{}

func (EndOfMibView) Tag() Tag         { return Tag{ClassContext, false, TagEndOfMibView} }
func (EndOfMibView) String() string   { return "endOfMibView" }
func (EndOfMibView) isValue()         {}
func (EndOfMibView) Append(buf []byte) []byte { return buf }

// IsException reports whether v is one of the three endpoint markers.
func IsException(v Value) bool {
	switch v.(type) {
	case NoSuchObject, NoSuchInstance, EndOfMibView:
		return true
	default:
		return false
	}
}
