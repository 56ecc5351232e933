package mp

import (
	"fmt"

	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/pcrypto"
	"github.com/duniansampa/priot/snmp"
	"github.com/duniansampa/priot/usm"
)

// verifyDigest checks mac against msg under key using d, per spec.md
// §4.2's constant-time MAC comparison contract.
func verifyDigest(d pcrypto.Digest, key, msg, mac []byte) bool {
	return pcrypto.Verify(d, key, msg, mac)
}

// Well-known OIDs the report PDUs carry, per RFC 3414 §5 / RFC 3412 §5.
var (
	oidUsmStatsUnsupportedSecLevels = ber.OID{1, 3, 6, 1, 6, 3, 15, 1, 1, 1, 0}
	oidUsmStatsNotInTimeWindows     = ber.OID{1, 3, 6, 1, 6, 3, 15, 1, 1, 2, 0}
	oidUsmStatsUnknownUserNames     = ber.OID{1, 3, 6, 1, 6, 3, 15, 1, 1, 3, 0}
	oidUsmStatsUnknownEngineIDs     = ber.OID{1, 3, 6, 1, 6, 3, 15, 1, 1, 4, 0}
	oidUsmStatsWrongDigests         = ber.OID{1, 3, 6, 1, 6, 3, 15, 1, 1, 5, 0}
	oidUsmStatsDecryptionErrors     = ber.OID{1, 3, 6, 1, 6, 3, 15, 1, 1, 6, 0}
	oidSnmpEngineID                 = ber.OID{1, 3, 6, 1, 6, 3, 10, 2, 1, 1, 0}
	oidSnmpEngineBoots              = ber.OID{1, 3, 6, 1, 6, 3, 10, 2, 1, 2, 0}
	oidSnmpEngineTime               = ber.OID{1, 3, 6, 1, 6, 3, 10, 2, 1, 3, 0}
)

func reportPDU(vbs ...snmp.Varbind) *snmp.PDU {
	return &snmp.PDU{Kind: snmp.KindReport, Varbinds: vbs}
}

func counterVarbind(oid ber.OID, n uint64) snmp.Varbind {
	return snmp.Varbind{OID: oid.Clone(), Value: ber.Counter32(n)}
}

// v3Header is the parsed msgGlobalData plus msgSecurityParameters. The
// authPayloadStart/End fields are byte offsets into the fullRaw datagram
// passed to decodeV3, computed via length bookkeeping (every decoded
// slice is a subslice of fullRaw's backing array, so `len(fullRaw) -
// len(rest)` always yields the absolute offset consumed so far) rather
// than pointer arithmetic.
type v3Header struct {
	msgID            int64
	msgMaxSize       int64
	flags            byte
	secModel         int64
	engineID         []byte
	engineBoots      int64
	engineTime       int64
	userName         string
	authParams       []byte
	authPayloadStart int
	authPayloadEnd   int
	privParams       []byte
}

func (p *Processor) decodeV3(fullRaw, rest []byte) (scopedPDU []byte, principal Principal, report *snmp.PDU, err error) {
	tag, length, body, err := ber.ParseHeader(rest)
	if err != nil || tag.Class != ber.ClassUniversal || !tag.Constructed || tag.Number != ber.TagSequence {
		return nil, Principal{}, nil, fmt.Errorf("%w: bad msgGlobalData", ErrMalformedMessage)
	}
	globalData := body[:length]
	afterGlobal := body[length:]

	msgID, gRest, err := ber.ParseInteger(globalData)
	if err != nil {
		return nil, Principal{}, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	maxSize, gRest, err := ber.ParseInteger(gRest)
	if err != nil {
		return nil, Principal{}, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	flagsOctets, gRest, err := ber.ParseOctetString(gRest)
	if err != nil || len(flagsOctets) != 1 {
		return nil, Principal{}, nil, fmt.Errorf("%w: bad msgFlags", ErrMalformedMessage)
	}
	secModel, _, err := ber.ParseInteger(gRest)
	if err != nil {
		return nil, Principal{}, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	secParamsOctets, afterSecParams, err := ber.ParseOctetString(afterGlobal)
	if err != nil {
		return nil, Principal{}, nil, fmt.Errorf("%w: bad msgSecurityParameters", ErrMalformedMessage)
	}
	secParamsEnd := len(fullRaw) - len(afterSecParams)
	secParamsStart := secParamsEnd - len(secParamsOctets)

	h := v3Header{
		msgID:      msgID,
		msgMaxSize: maxSize,
		flags:      flagsOctets[0],
		secModel:   secModel,
	}

	if h.secModel != 3 {
		return nil, Principal{}, nil, fmt.Errorf("%w: security model %d", ErrUnsupportedSecModel, h.secModel)
	}

	if err := parseUSMSecurityParams(secParamsOctets, &h); err != nil {
		return nil, Principal{}, nil, err
	}
	// h.authPayloadStart/End were computed relative to secParamsOctets;
	// rebase them onto fullRaw now that we know where that field sits.
	h.authPayloadStart += secParamsStart
	h.authPayloadEnd += secParamsStart

	principal = Principal{SecurityModel: 3, SecurityName: h.userName}
	reportable := h.flags&flagReportable != 0
	switch {
	case h.flags&flagAuth == 0 && h.flags&flagPriv != 0:
		p.Counters.IncUnsupportedSecLevels()
		if !reportable {
			return nil, principal, nil, ErrUnsupportedSecLevel
		}
		return nil, principal, reportPDU(counterVarbind(oidUsmStatsUnsupportedSecLevels, 1)), ErrUnsupportedSecLevel
	case h.flags&flagAuth != 0 && h.flags&flagPriv != 0:
		principal.SecurityLevel = AuthPriv
	case h.flags&flagAuth != 0:
		principal.SecurityLevel = AuthNoPriv
	default:
		principal.SecurityLevel = NoAuthNoPriv
	}

	// Engine discovery: an empty or unrecognized authoritative engine-id
	// triggers a report carrying ours, per spec.md §4.3 step 3.
	if len(h.engineID) == 0 || string(h.engineID) != p.LocalEngineID {
		p.Counters.IncUnknownEngineIDs()
		if !reportable {
			return nil, principal, nil, ErrUnknownEngineID
		}
		return nil, principal, reportPDU(
			snmp.Varbind{OID: oidSnmpEngineID.Clone(), Value: ber.OctetString(p.LocalEngineID)},
			counterVarbind(oidUsmStatsUnknownEngineIDs, 1),
		), ErrUnknownEngineID
	}

	var authKey []byte
	var authProto usm.AuthProtocol
	var privProto usm.PrivProtocol
	var privKey []byte

	if h.flags&flagAuth != 0 {
		u, ok := p.Users.Get(p.LocalEngineID, h.userName)
		if !ok {
			p.Counters.IncUnknownUserNames()
			if !reportable {
				return nil, principal, nil, ErrUnknownUserName
			}
			return nil, principal, reportPDU(counterVarbind(oidUsmStatsUnknownUserNames, 1)), ErrUnknownUserName
		}
		authKey, authProto = u.AuthKey, u.AuthProtocol
		privKey, privProto = u.PrivKey, u.PrivProtocol

		if !p.Clock.WithinWindow(uint32(h.engineBoots), uint32(h.engineTime)) {
			p.Counters.IncNotInTimeWindows()
			if !reportable {
				return nil, principal, nil, ErrNotInTimeWindow
			}
			boots, engTime := p.Clock.Snapshot()
			return nil, principal, reportPDU(
				counterVarbind(oidUsmStatsNotInTimeWindows, 1),
				snmp.Varbind{OID: oidSnmpEngineBoots.Clone(), Value: ber.Counter32(boots)},
				snmp.Varbind{OID: oidSnmpEngineTime.Clone(), Value: ber.TimeTicks(engTime)},
			), ErrNotInTimeWindow
		}

		digest := authProto.Digest()
		if digest == nil {
			p.Counters.IncUnsupportedSecLevels()
			return nil, principal, nil, ErrUnsupportedSecLevel
		}
		scratch := append([]byte(nil), fullRaw...)
		for i := h.authPayloadStart; i < h.authPayloadEnd; i++ {
			scratch[i] = 0
		}
		if !verifyDigest(digest, authKey, scratch, h.authParams) {
			p.Counters.IncWrongDigests()
			if !reportable {
				return nil, principal, nil, ErrWrongDigest
			}
			return nil, principal, reportPDU(counterVarbind(oidUsmStatsWrongDigests, 1)), ErrWrongDigest
		}
	}

	msgData := afterSecParams
	if h.flags&flagPriv != 0 {
		if privProto == usm.PrivNone {
			p.Counters.IncUnsupportedSecLevels()
			return nil, principal, nil, ErrUnsupportedSecLevel
		}
		encrypted, _, err := ber.ParseOctetString(msgData)
		if err != nil {
			return nil, principal, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		cipher := privProto.Cipher()
		plain, err := cipher.Decrypt(privKey, encrypted, h.privParams, uint32(h.engineBoots), uint32(h.engineTime))
		if err != nil {
			p.Counters.IncDecryptionErrors()
			if !reportable {
				return nil, principal, nil, ErrDecryption
			}
			return nil, principal, reportPDU(counterVarbind(oidUsmStatsDecryptionErrors, 1)), ErrDecryption
		}
		msgData = plain
	}

	ctxEngineID, ctxName, pduBytes, err := parseScopedPDU(msgData)
	if err != nil {
		return nil, principal, nil, err
	}
	principal.ContextEngineID = ctxEngineID
	principal.ContextName = ctxName
	return pduBytes, principal, nil, nil
}

func parseUSMSecurityParams(buf []byte, h *v3Header) error {
	tag, length, body, err := ber.ParseHeader(buf)
	if err != nil || tag.Class != ber.ClassUniversal || !tag.Constructed || tag.Number != ber.TagSequence {
		return fmt.Errorf("%w: bad USM security parameters", ErrMalformedMessage)
	}
	sp := body[:length]

	engineID, r, err := ber.ParseOctetString(sp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	boots, r, err := ber.ParseInteger(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	engineTime, r, err := ber.ParseInteger(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	userName, r, err := ber.ParseOctetString(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	authParams, r, err := ber.ParseOctetString(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	authPayloadEnd := len(buf) - len(r)
	authPayloadStart := authPayloadEnd - len(authParams)

	privParams, _, err := ber.ParseOctetString(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	h.engineID = engineID
	h.engineBoots = boots
	h.engineTime = engineTime
	h.userName = string(userName)
	h.authParams = authParams
	h.privParams = privParams
	h.authPayloadStart = authPayloadStart
	h.authPayloadEnd = authPayloadEnd
	return nil
}

// parseScopedPDU decodes SEQUENCE { contextEngineID OCTET STRING,
// contextName OCTET STRING, data PDU }, returning the PDU's raw bytes
// (still tagged) for the caller to hand to snmp.ParseAny.
func parseScopedPDU(buf []byte) (contextEngineID, contextName string, pduBytes []byte, err error) {
	tag, length, body, err := ber.ParseHeader(buf)
	if err != nil || tag.Class != ber.ClassUniversal || !tag.Constructed || tag.Number != ber.TagSequence {
		return "", "", nil, fmt.Errorf("%w: bad scopedPDU", ErrMalformedMessage)
	}
	sp := body[:length]

	ceid, r, err := ber.ParseOctetString(sp)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	cname, r, err := ber.ParseOctetString(r)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return string(ceid), string(cname), r, nil
}

// appendScopedPDU is the inverse of parseScopedPDU, used by EncodeV3.
func appendScopedPDU(contextEngineID, contextName string, pduBytes []byte) []byte {
	var payload []byte
	payload = ber.AppendTLV(payload, ber.Tag{Class: ber.ClassUniversal, Number: ber.TagOctetString}, ber.AppendOctetString(nil, []byte(contextEngineID)))
	payload = ber.AppendTLV(payload, ber.Tag{Class: ber.ClassUniversal, Number: ber.TagOctetString}, ber.AppendOctetString(nil, []byte(contextName)))
	payload = append(payload, pduBytes...)
	return ber.AppendTLV(nil, ber.Tag{Class: ber.ClassUniversal, Constructed: true, Number: ber.TagSequence}, payload)
}
