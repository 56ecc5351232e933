package agent

import (
	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/mp"
	"github.com/duniansampa/priot/registry"
	"github.com/duniansampa/priot/snmp"
	"github.com/duniansampa/priot/vacm"
)

// dispatchGetNext walks every requested OID to its lexicographic
// successor, synchronously. A handler asked for the next instance fills
// in the varbind's OID and Value in place; returning no further instance
// is signaled by leaving Value as ber.EndOfMibView{}.
func (e *Engine) dispatchGetNext(sess *Session, principal mp.Principal, pdu snmp.PDU) error {
	result := make([]snmp.Varbind, len(pdu.Varbinds))
	for i, vb := range pdu.Varbinds {
		result[i] = e.nextInstance(principal, vb.OID)
	}
	return e.respond(sess, principal, pdu.RequestID, snmp.NoError, result)
}

// nextInstance returns the successor varbind for a single starting OID,
// re-querying the registry across instances that VACM denies and past
// nodes that are unreadable, have no handler, report exhaustion of their
// own subtree or fail, until a visible instance or an exhausted registry
// is reached.
func (e *Engine) nextInstance(principal mp.Principal, start ber.OID) snmp.Varbind {
	oid := start
	for {
		node, covers, nextStart, found := e.Registry.LookupNext(principal.ContextName, oid)
		if !found {
			return snmp.Varbind{OID: oid, Value: ber.EndOfMibView{}}
		}
		query := oid
		if !covers {
			query = nextStart
		}

		if !node.Readable {
			oid = stepPastNode(node)
			continue
		}

		chain := chainFor(node)
		if chain == nil {
			oid = stepPastNode(node)
			continue
		}

		hr := &HandlerRequest{Mode: ModeGetNext, Context: principal.ContextName, Varbinds: []snmp.Varbind{{OID: query}}}
		switch chain.Invoke(hr) {
		case OutcomeOK:
			if len(hr.Varbinds) == 0 {
				oid = stepPastNode(node)
				continue
			}
			got := hr.Varbinds[0]
			if _, isEnd := got.Value.(ber.EndOfMibView); isEnd {
				oid = stepPastNode(node)
				continue
			}
			if e.VACM.Check(principal, principal.ContextName, got.OID, vacm.ViewRead) != vacm.Allowed {
				oid = got.OID
				continue
			}
			return got
		default:
			oid = stepPastNode(node)
		}
	}
}

// stepPastNode advances past a subtree entirely, used when the node is
// unreadable or has no handler, or its handler has nothing more to offer
// or fails, so traversal can resume at the next registered node.
func stepPastNode(node *registry.Node) ber.OID {
	stepped := node.Prefix.Clone()
	last := len(stepped) - 1
	if node.HasRange {
		stepped[last] = node.RangeUbound
	}
	stepped[last]++
	return stepped
}
