package agent

import (
	"github.com/duniansampa/priot/mp"
	"github.com/duniansampa/priot/registry"
	"github.com/duniansampa/priot/snmp"
	"github.com/duniansampa/priot/vacm"
)

// dispatchSet drives the five-phase SET transaction of spec.md §4.6:
// reserve-1, reserve-2, action, then commit on success or undo+free on
// any failure, finally free. Every phase is dispatched synchronously,
// per-group, in PDU order; the first group to fail a phase aborts the
// whole transaction for every group, not just its own.
//
// Phases run one group at a time rather than all groups concurrently:
// reserve-1 failing on group 3 must still be able to roll back whatever
// group 1 and group 2 already reserved, which requires knowing which
// groups got that far before the failure.
func (e *Engine) dispatchSet(sess *Session, principal mp.Principal, pdu snmp.PDU) error {
	result := make([]snmp.Varbind, len(pdu.Varbinds))
	copy(result, pdu.Varbinds)

	groups, status, errIndex := e.resolveSetGroups(principal, pdu, result)
	if status != snmp.NoError {
		return e.respondError(sess, principal, pdu.RequestID, status, errIndex, result)
	}
	if len(groups) == 0 {
		return e.respond(sess, principal, pdu.RequestID, snmp.NoError, result)
	}

	// Reserve1/Reserve2/Action failures unwind the whole transaction: every
	// group reached at least reserve-1, so every group's Undo (and Free)
	// runs, even the one whose phase actually failed and any that never
	// got as far as the failing phase — a handler's Undo must be a no-op
	// if it never did anything in the phase being undone.
	_, status, errIndex = e.runSetPhase(sess, principal, pdu.RequestID, ModeReserve1, groups, result)
	if status != snmp.NoError {
		e.undoAndFree(sess, principal, pdu.RequestID, groups, result)
		return e.respondError(sess, principal, pdu.RequestID, status, errIndex, result)
	}

	_, status, errIndex = e.runSetPhase(sess, principal, pdu.RequestID, ModeReserve2, groups, result)
	if status != snmp.NoError {
		e.undoAndFree(sess, principal, pdu.RequestID, groups, result)
		return e.respondError(sess, principal, pdu.RequestID, status, errIndex, result)
	}

	_, status, errIndex = e.runSetPhase(sess, principal, pdu.RequestID, ModeAction, groups, result)
	if status != snmp.NoError {
		e.undoAndFree(sess, principal, pdu.RequestID, groups, result)
		return e.respondError(sess, principal, pdu.RequestID, status, errIndex, result)
	}

	committed, status, errIndex := e.runSetPhase(sess, principal, pdu.RequestID, ModeCommit, groups, result)
	if status != snmp.NoError {
		// commit itself failed: undo only the groups that did not commit,
		// then free everyone, per spec.md §4.6's commitFailed handling.
		remaining := subtractGroups(groups, committed)
		e.undoAndFree(sess, principal, pdu.RequestID, remaining, result)
		e.runSetPhase(sess, principal, pdu.RequestID, ModeFree, committed, result)
		return e.respondError(sess, principal, pdu.RequestID, status, errIndex, result)
	}

	e.runSetPhase(sess, principal, pdu.RequestID, ModeFree, groups, result)
	return e.respond(sess, principal, pdu.RequestID, snmp.NoError, result)
}

func (e *Engine) respondError(sess *Session, principal mp.Principal, requestID int32, status snmp.ErrorStatus, errIndex int, result []snmp.Varbind) error {
	return e.respondFull(sess, principal, snmp.PDU{
		Kind:        snmp.KindResponse,
		RequestID:   requestID,
		ErrorStatus: status,
		ErrorIndex:  errIndex,
		Varbinds:    result,
	})
}

// resolveSetGroups buckets every varbind by its registered node, failing
// the entire request at noCreation/notWritable/noAccess if any single
// varbind cannot be resolved, is not writable, or is VACM-denied: SET is
// all-or-nothing before any phase begins, spec.md §4.6.
func (e *Engine) resolveSetGroups(principal mp.Principal, pdu snmp.PDU, result []snmp.Varbind) ([]group, snmp.ErrorStatus, int) {
	groupsByNode := make(map[*registry.Node]*group)
	var order []*registry.Node

	for i, vb := range pdu.Varbinds {
		node, _, found := e.Registry.Lookup(principal.ContextName, vb.OID)
		if !found {
			return nil, snmp.NoCreation, i + 1
		}
		if !node.Writable {
			return nil, snmp.NotWritable, i + 1
		}
		if decision := e.VACM.Check(principal, principal.ContextName, vb.OID, vacm.ViewWrite); decision != vacm.Allowed {
			return nil, snmp.NoAccess, i + 1
		}
		g, ok := groupsByNode[node]
		if !ok {
			g = &group{node: node}
			groupsByNode[node] = g
			order = append(order, node)
		}
		g.indices = append(g.indices, i)
	}

	groups := make([]group, 0, len(order))
	for _, n := range order {
		groups = append(groups, *groupsByNode[n])
	}
	return groups, snmp.NoError, 0
}

// runSetPhase invokes mode on every group's handler chain in order,
// stopping at the first group whose chain does not return OutcomeOK.
// succeeded lists the groups that completed this phase, needed by the
// caller to know what to roll back.
func (e *Engine) runSetPhase(sess *Session, principal mp.Principal, requestID int32, mode Mode, groups []group, result []snmp.Varbind) (succeeded []group, status snmp.ErrorStatus, errIndex int) {
	for _, g := range groups {
		vbs := make([]snmp.Varbind, len(g.indices))
		for k, idx := range g.indices {
			vbs[k] = result[idx]
		}
		hr := &HandlerRequest{Mode: mode, Context: principal.ContextName, SessionName: sess.Name, RequestID: requestID, Varbinds: vbs}

		chain := chainFor(g.node)
		if chain == nil {
			return succeeded, snmp.GenErr, g.indices[0] + 1
		}

		switch chain.Invoke(hr) {
		case OutcomeOK:
			for k, idx := range g.indices {
				if k < len(hr.Varbinds) {
					result[idx] = hr.Varbinds[k]
				}
			}
			succeeded = append(succeeded, g)
		default:
			globalIndex := g.indices[0] + 1
			if hr.ErrorIndex >= 1 && hr.ErrorIndex <= len(g.indices) {
				globalIndex = g.indices[hr.ErrorIndex-1] + 1
			}
			status := hr.ErrorStatus
			if status == snmp.NoError {
				status = snmp.GenErr
			}
			return succeeded, status, globalIndex
		}
	}
	return succeeded, snmp.NoError, 0
}

func (e *Engine) undoAndFree(sess *Session, principal mp.Principal, requestID int32, groups []group, result []snmp.Varbind) {
	e.runSetPhase(sess, principal, requestID, ModeUndo, groups, result)
	e.runSetPhase(sess, principal, requestID, ModeFree, groups, result)
}

func subtractGroups(all, done []group) []group {
	var out []group
	for _, g := range all {
		found := false
		for _, d := range done {
			if d.node == g.node {
				found = true
				break
			}
		}
		if !found {
			out = append(out, g)
		}
	}
	return out
}
