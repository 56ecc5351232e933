package agent

import (
	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/mp"
	"github.com/duniansampa/priot/snmp"
)

// dispatchBulk implements GETBULK, spec.md §4.6: the first NonRepeaters
// varbinds behave exactly like GETNEXT; each of the remaining varbinds
// is walked forward up to MaxRepetitions times, the results of every
// repetition round interleaved in request order. The total varbind
// count is capped at e.MaxVarbinds; rounds beyond the cap are simply not
// produced rather than truncating mid-round, so the response is always
// a whole number of repetition rounds.
func (e *Engine) dispatchBulk(sess *Session, principal mp.Principal, pdu snmp.PDU) error {
	nonRepeaters := pdu.NonRepeaters
	if nonRepeaters < 0 {
		nonRepeaters = 0
	}
	if nonRepeaters > len(pdu.Varbinds) {
		nonRepeaters = len(pdu.Varbinds)
	}
	maxReps := pdu.MaxRepetitions
	if maxReps < 0 {
		maxReps = 0
	}

	result := make([]snmp.Varbind, 0, len(pdu.Varbinds))

	for _, vb := range pdu.Varbinds[:nonRepeaters] {
		result = append(result, e.nextInstance(principal, vb.OID))
	}

	repeaters := pdu.Varbinds[nonRepeaters:]
	cursors := make([]ber.OID, len(repeaters))
	exhausted := make([]bool, len(repeaters))
	for i, vb := range repeaters {
		cursors[i] = vb.OID
	}

	for round := 0; round < maxReps; round++ {
		if len(result)+len(repeaters) > e.MaxVarbinds {
			break
		}
		for i := range repeaters {
			if exhausted[i] {
				result = append(result, snmp.Varbind{OID: cursors[i], Value: ber.EndOfMibView{}})
				continue
			}
			vb := e.nextInstance(principal, cursors[i])
			result = append(result, vb)
			if _, isEnd := vb.Value.(ber.EndOfMibView); isEnd {
				exhausted[i] = true
			} else {
				cursors[i] = vb.OID
			}
		}
	}

	return e.respond(sess, principal, pdu.RequestID, snmp.NoError, result)
}
