// Package mp implements spec.md §4.3: demultiplexing an incoming octet
// stream into a canonical PDU plus an authenticated principal, and the
// inverse operation on egress. It covers both the v1/v2c community path
// and the v3/USM path; package agent decides what happens to the result
// (dispatch to the registry, or send the report PDU mp hands back).
package mp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/snmp"
	"github.com/duniansampa/priot/usm"
)

// Version identifies the SNMP message version on the wire.
type Version int

const (
	Version1  Version = 0
	Version2c Version = 1
	Version3  Version = 3
)

// SecurityLevel is the USM securityLevel of spec.md §3.
type SecurityLevel int

const (
	NoAuthNoPriv SecurityLevel = iota
	AuthNoPriv
	AuthPriv
)

// Principal is the authenticated identity plus security level of a
// request, consumed by package vacm. Spec.md §3's GLOSSARY entry.
type Principal struct {
	SecurityModel   int
	SecurityName    string
	SecurityLevel   SecurityLevel
	ContextEngineID string
	ContextName     string
}

// Errors returned by Decode. The first six each map to one usmStats
// counter, per spec.md §4.3's failure semantics, and Decode increments
// that counter itself. ErrUnsupportedSecModel, ErrUnsupportedVersion and
// ErrMalformedMessage are not counted by Decode; the agent counts them.
var (
	ErrUnsupportedSecLevel = errors.New("mp: unsupported security level")
	ErrUnknownUserName     = errors.New("mp: unknown user name")
	ErrUnknownEngineID     = errors.New("mp: unknown engine id")
	ErrWrongDigest         = errors.New("mp: wrong digest")
	ErrNotInTimeWindow     = errors.New("mp: not in time window")
	ErrDecryption          = errors.New("mp: decryption error")
	ErrUnsupportedSecModel = errors.New("mp: unsupported security model")
	ErrUnsupportedVersion  = errors.New("mp: unsupported version")
	ErrMalformedMessage    = errors.New("mp: malformed message")
)

// msgFlags bits, RFC 3412 §6.3.
const (
	flagAuth        = 0x01
	flagPriv        = 0x02
	flagReportable  = 0x04
)

// Processor holds the local engine's identity and demultiplexes messages
// against it. One Processor per agent Engine; it owns no request state,
// only the engine-id/clock/users/counters it needs to validate and
// authenticate incoming messages.
type Processor struct {
	LocalEngineID string
	Clock         *usm.Clock
	Users         *usm.Table
	Counters      *usm.Counters

	salt uint64 // monotone counter, randomized at startup; spec.md §4.3 egress
}

// NewProcessor returns a Processor for localEngineID, seeding its salt
// counter from crypto/rand per spec.md §4.3's "random initial value".
func NewProcessor(localEngineID string, clock *usm.Clock, users *usm.Table, counters *usm.Counters) (*Processor, error) {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	var v uint64
	for _, b := range seed {
		v = v<<8 | uint64(b)
	}
	return &Processor{
		LocalEngineID: localEngineID,
		Clock:         clock,
		Users:         users,
		Counters:      counters,
		salt:          v,
	}, nil
}

// Decode demultiplexes raw into a scopedPDU (the bytes of the PDU alone;
// for v3 the context-engine-id/context-name are stripped and carried in
// the Principal), the authenticated Principal,
// and optionally a report PDU the caller should send back instead of
// dispatching (non-nil report implies the request must not be
// processed further; a non-nil err with a nil report means the datagram
// is simply dropped).
func (p *Processor) Decode(raw []byte) (scopedPDU []byte, principal Principal, report *snmp.PDU, err error) {
	tag, length, body, err := ber.ParseHeader(raw)
	if err != nil {
		return nil, Principal{}, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if tag.Class != ber.ClassUniversal || !tag.Constructed || tag.Number != ber.TagSequence {
		return nil, Principal{}, nil, ErrMalformedMessage
	}
	msg := body[:length]

	ver, rest, err := ber.ParseInteger(msg)
	if err != nil {
		return nil, Principal{}, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch Version(ver) {
	case Version1, Version2c:
		return p.decodeCommunity(Version(ver), rest)
	case Version3:
		return p.decodeV3(raw, rest)
	default:
		return nil, Principal{}, nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, ver)
	}
}

func (p *Processor) decodeCommunity(ver Version, rest []byte) (scopedPDU []byte, principal Principal, report *snmp.PDU, err error) {
	community, rest, err := ber.ParseOctetString(rest)
	if err != nil {
		return nil, Principal{}, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	model := 1
	if ver == Version2c {
		model = 2
	}
	principal = Principal{
		SecurityModel: model,
		SecurityName:  string(community),
		SecurityLevel: NoAuthNoPriv,
	}
	return rest, principal, nil, nil
}

// EncodeCommunity is the symmetric egress operation for the community security
// models: it wraps pdu in a v1/v2c message addressed with community.
func (p *Processor) EncodeCommunity(ver Version, community string, pduBytes []byte) []byte {
	var msg []byte
	msg = ber.AppendTLV(msg, ber.Tag{Class: ber.ClassUniversal, Number: ber.TagInteger}, ber.AppendInteger(nil, int64(ver)))
	msg = ber.AppendTLV(msg, ber.Tag{Class: ber.ClassUniversal, Number: ber.TagOctetString}, ber.AppendOctetString(nil, []byte(community)))
	msg = append(msg, pduBytes...)
	return ber.AppendTLV(nil, ber.Tag{Class: ber.ClassUniversal, Constructed: true, Number: ber.TagSequence}, msg)
}

func (p *Processor) nextSalt() []byte {
	n := atomic.AddUint64(&p.salt, 1)
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(n)
		n >>= 8
	}
	return out
}
