package mp

import (
	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/pcrypto"
	"github.com/duniansampa/priot/usm"
)

// appendTLVOffsets appends a complete TLV to buf and reports the absolute
// [start,end) byte range of the payload within the returned slice, so
// callers that need to patch the payload in place later (the MAC
// placeholder, specifically) don't have to re-walk the encoding.
func appendTLVOffsets(buf []byte, tag ber.Tag, payload []byte) (out []byte, payloadStart, payloadEnd int) {
	out = ber.AppendTag(buf, tag)
	out = ber.AppendLength(out, len(payload))
	payloadStart = len(out)
	out = append(out, payload...)
	payloadEnd = len(out)
	return out, payloadStart, payloadEnd
}

var octetStringTag = ber.Tag{Class: ber.ClassUniversal, Number: ber.TagOctetString}
var integerTag = ber.Tag{Class: ber.ClassUniversal, Number: ber.TagInteger}
var sequenceTag = ber.Tag{Class: ber.ClassUniversal, Constructed: true, Number: ber.TagSequence}

// EncodeV3 is the egress counterpart of decodeV3: it wraps pduBytes (an
// already-encoded snmp.PDU) in a scopedPDU, secures it per principal's
// security level using user's localized keys, and returns the complete
// SNMPv3 message. Pass a nil user for noAuthNoPriv.
func (p *Processor) EncodeV3(pduBytes []byte, principal Principal, user *usm.User, msgID int32, reportable bool) ([]byte, error) {
	scopedPDU := appendScopedPDU(principal.ContextEngineID, principal.ContextName, pduBytes)

	var flags byte
	if reportable {
		flags |= flagReportable
	}
	authEnabled := user != nil && user.AuthProtocol != usm.AuthNone && principal.SecurityLevel != NoAuthNoPriv
	privEnabled := authEnabled && user.PrivProtocol != usm.PrivNone && principal.SecurityLevel == AuthPriv
	if authEnabled {
		flags |= flagAuth
	}
	if privEnabled {
		flags |= flagPriv
	}

	boots, engineTime := p.Clock.Snapshot()

	var msgData []byte
	var privParams []byte
	if privEnabled {
		salt := p.nextSalt()
		cipher := user.PrivProtocol.Cipher()
		ciphertext, err := cipher.Encrypt(user.PrivKey, scopedPDU, salt, boots, engineTime)
		if err != nil {
			return nil, err
		}
		msgData = ber.AppendTLV(nil, octetStringTag, ciphertext)
		privParams = salt
	} else {
		msgData = scopedPDU
	}

	// msgSecurityParameters inner SEQUENCE body, tracking the auth
	// placeholder's offset within it for later patching.
	var secBody []byte
	secBody = ber.AppendTLV(secBody, octetStringTag, []byte(p.LocalEngineID))
	secBody = ber.AppendTLV(secBody, integerTag, ber.AppendInteger(nil, int64(boots)))
	secBody = ber.AppendTLV(secBody, integerTag, ber.AppendInteger(nil, int64(engineTime)))
	userName := ""
	if user != nil {
		userName = user.Name
	}
	secBody = ber.AppendTLV(secBody, octetStringTag, []byte(userName))

	macLen := 0
	if authEnabled {
		macLen = pcrypto.MACLen
	}
	var authStartInSec, authEndInSec int
	secBody, authStartInSec, authEndInSec = appendTLVOffsets(secBody, octetStringTag, make([]byte, macLen))
	secBody = ber.AppendTLV(secBody, octetStringTag, privParams)

	secParamsOctet, secBodyStart, _ := appendTLVOffsets(nil, octetStringTag, secBody)
	authStartInSecOctet := secBodyStart + authStartInSec
	authEndInSecOctet := secBodyStart + authEndInSec

	var globalBody []byte
	globalBody = ber.AppendTLV(globalBody, integerTag, ber.AppendInteger(nil, int64(msgID)))
	globalBody = ber.AppendTLV(globalBody, integerTag, ber.AppendInteger(nil, 65507))
	globalBody = ber.AppendTLV(globalBody, octetStringTag, []byte{flags})
	globalBody = ber.AppendTLV(globalBody, integerTag, ber.AppendInteger(nil, 3))
	globalSeq := ber.AppendTLV(nil, sequenceTag, globalBody)

	var body []byte
	body = ber.AppendTLV(body, integerTag, ber.AppendInteger(nil, int64(Version3)))
	versionedPrefixLen := len(body)
	body = append(body, globalSeq...)
	body = append(body, secParamsOctet...)
	body = append(body, msgData...)

	authStartAbs := versionedPrefixLen + len(globalSeq) + authStartInSecOctet
	authEndAbs := versionedPrefixLen + len(globalSeq) + authEndInSecOctet

	finalMsg, outerStart, _ := appendTLVOffsets(nil, sequenceTag, body)
	authStartFinal := outerStart + authStartAbs
	authEndFinal := outerStart + authEndAbs

	if authEnabled {
		digest := user.AuthProtocol.Digest()
		mac := digest.Sum(user.AuthKey, finalMsg)
		copy(finalMsg[authStartFinal:authEndFinal], mac)
	}

	return finalMsg, nil
}
