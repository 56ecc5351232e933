package agent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/mp"
	"github.com/duniansampa/priot/registry"
	"github.com/duniansampa/priot/snmp"
	"github.com/duniansampa/priot/vacm"
)

// Process drives one inbound datagram through the full pipeline: USM/mp
// decode, PDU parse, VACM + registry dispatch, and response encode. GET
// supports asynchronous handler delegation; it never blocks waiting for
// a delegated group to land, because a later CompleteDelegated call
// finishes the response on its own. GETNEXT, GETBULK, and SET are
// dispatched synchronously — spec.md §4.6 does not require suspension
// outside simple reads, and a five-phase transaction or a bulk walk
// delegating mid-flight would need a considerably more complex resumable
// state machine than this repository's scope calls for; DESIGN.md
// records this as a deliberate simplification.
func (e *Engine) Process(sess *Session, raw []byte) error {
	e.Counters.IncInPkts()

	scopedPDU, principal, report, err := e.Proc.Decode(raw)
	if report != nil {
		return e.sendReport(sess, principal, report)
	}
	if err != nil {
		e.classifyDecodeError(err)
		return fmt.Errorf("agent: decode: %w", err)
	}

	pdu, _, err := snmp.ParseAny(scopedPDU)
	if err != nil {
		e.Counters.IncInASNParseErrs()
		return fmt.Errorf("agent: malformed PDU: %w", err)
	}

	if pdu.Kind == snmp.KindSet && !e.Contexts.Known(principal.ContextName) {
		return e.respond(sess, principal, pdu.RequestID, snmp.NoAccess, failAll(pdu, ber.Null{}))
	}

	switch pdu.Kind {
	case snmp.KindGet:
		return e.dispatchGet(sess, principal, pdu)
	case snmp.KindGetNext:
		return e.dispatchGetNext(sess, principal, pdu)
	case snmp.KindGetBulk:
		return e.dispatchBulk(sess, principal, pdu)
	case snmp.KindSet:
		return e.dispatchSet(sess, principal, pdu)
	default:
		e.Counters.IncUnknownPDUHandlers()
		return fmt.Errorf("agent: unsupported PDU kind %s", pdu.Kind)
	}
}

func (e *Engine) classifyDecodeError(err error) {
	switch {
	case errors.Is(err, mp.ErrUnsupportedVersion):
		e.Counters.IncInBadVersions()
	case errors.Is(err, mp.ErrUnsupportedSecModel):
		e.Counters.IncUnknownSecModels()
	case errors.Is(err, mp.ErrMalformedMessage):
		e.Counters.IncInvalidMsgs()
	}
}

func failAll(pdu snmp.PDU, marker ber.Value) []snmp.Varbind {
	out := make([]snmp.Varbind, len(pdu.Varbinds))
	for i, vb := range pdu.Varbinds {
		out[i] = snmp.Varbind{OID: vb.OID, Value: marker}
	}
	return out
}

// group is the set of varbinds (by original PDU index) that resolved to
// the same registered node, dispatched to its handler chain together.
type group struct {
	node    *registry.Node
	indices []int
}

func chainFor(node *registry.Node) Chain {
	switch h := node.Handler.(type) {
	case Chain:
		return h
	case Handler:
		return Chain{h}
	default:
		return nil
	}
}

// resolveGetGroups looks up every varbind's node for a plain GET and
// buckets resolvable, readable, VACM-allowed ones by node. Everything
// else is written directly into result as the appropriate exception
// marker and never reaches a handler.
func (e *Engine) resolveGetGroups(principal mp.Principal, pdu snmp.PDU, result []snmp.Varbind) []group {
	groupsByNode := make(map[*registry.Node]*group)
	var order []*registry.Node

	for i, vb := range pdu.Varbinds {
		node, _, found := e.Registry.Lookup(principal.ContextName, vb.OID)
		if !found || !node.Readable {
			result[i] = snmp.Varbind{OID: vb.OID, Value: ber.NoSuchObject{}}
			continue
		}
		if decision := e.VACM.Check(principal, principal.ContextName, vb.OID, vacm.ViewRead); decision != vacm.Allowed {
			result[i] = snmp.Varbind{OID: vb.OID, Value: ber.NoSuchInstance{}}
			continue
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
	return groups
}

// joiner accumulates the results of possibly-asynchronous group
// dispatches into one final response, firing finalize exactly once when
// every group has landed.
type joiner struct {
	mu          sync.Mutex
	remaining   int
	varbinds    []snmp.Varbind
	errorStatus snmp.ErrorStatus
	errorIndex  int
	finalize    func(varbinds []snmp.Varbind, status snmp.ErrorStatus, index int)
}

func newJoiner(n int, varbinds []snmp.Varbind, finalize func([]snmp.Varbind, snmp.ErrorStatus, int)) *joiner {
	return &joiner{remaining: n, varbinds: varbinds, finalize: finalize}
}

// land records one group's outcome at the given original indices.
func (j *joiner) land(indices []int, hr HandlerRequest, outcome Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if outcome == OutcomeError {
		globalIndex := indices[0] + 1
		if hr.ErrorIndex >= 1 && hr.ErrorIndex <= len(indices) {
			globalIndex = indices[hr.ErrorIndex-1] + 1
		}
		if j.errorStatus == snmp.NoError {
			j.errorStatus = hr.ErrorStatus
			j.errorIndex = globalIndex
		}
	} else {
		for k, idx := range indices {
			if k < len(hr.Varbinds) {
				j.varbinds[idx] = hr.Varbinds[k]
			}
		}
	}

	j.remaining--
	if j.remaining == 0 {
		j.finalize(j.varbinds, j.errorStatus, j.errorIndex)
	}
}

func (e *Engine) invokeGroup(sess *Session, mode Mode, context string, requestID int32, g group, source []snmp.Varbind, j *joiner) {
	vbs := make([]snmp.Varbind, len(g.indices))
	for k, idx := range g.indices {
		vbs[k] = source[idx]
	}
	hr := &HandlerRequest{Mode: mode, Context: context, SessionName: sess.Name, RequestID: requestID, Varbinds: vbs}

	chain := chainFor(g.node)
	if chain == nil {
		hr.ErrorStatus = snmp.GenErr
		e.Counters.IncUnknownPDUHandlers()
		j.land(g.indices, *hr, OutcomeError)
		return
	}

	dr, err := e.reserveDelegation(sess, requestID)
	if err != nil {
		hr.ErrorStatus = snmp.GenErr
		j.land(g.indices, *hr, OutcomeError)
		return
	}

	switch outcome := chain.Invoke(hr); outcome {
	case OutcomeDelegated:
		indices := g.indices
		e.armDelegation(sess, dr, func(final HandlerRequest) {
			outcome := OutcomeOK
			if final.ErrorStatus != snmp.NoError {
				outcome = OutcomeError
			}
			j.land(indices, final, outcome)
		})
	default:
		e.releaseDelegation(sess, dr)
		j.land(g.indices, *hr, outcome)
	}
}

func (e *Engine) dispatchGet(sess *Session, principal mp.Principal, pdu snmp.PDU) error {
	result := make([]snmp.Varbind, len(pdu.Varbinds))
	copy(result, pdu.Varbinds)
	groups := e.resolveGetGroups(principal, pdu, result)

	if len(groups) == 0 {
		return e.respond(sess, principal, pdu.RequestID, snmp.NoError, result)
	}

	j := newJoiner(len(groups), result, func(vbs []snmp.Varbind, status snmp.ErrorStatus, index int) {
		e.respondIndexed(sess, principal, pdu.RequestID, status, index, vbs)
	})
	for _, g := range groups {
		go e.invokeGroup(sess, ModeGet, principal.ContextName, pdu.RequestID, g, pdu.Varbinds, j)
	}
	return nil
}

// respond answers with ErrorIndex 0, for the cases that never attach a
// per-varbind index (the whole-PDU failures of Process itself, and the
// success path of every dispatch mode).
func (e *Engine) respond(sess *Session, principal mp.Principal, requestID int32, status snmp.ErrorStatus, varbinds []snmp.Varbind) error {
	return e.respondIndexed(sess, principal, requestID, status, 0, varbinds)
}

func (e *Engine) respondIndexed(sess *Session, principal mp.Principal, requestID int32, status snmp.ErrorStatus, errIndex int, varbinds []snmp.Varbind) error {
	resp := snmp.PDU{
		Kind:        snmp.KindResponse,
		RequestID:   requestID,
		ErrorStatus: status,
		ErrorIndex:  errIndex,
		Varbinds:    varbinds,
	}
	pduBytes := resp.Append(nil)

	wire, err := e.encode(principal, pduBytes)
	if err != nil {
		return err
	}
	e.Counters.IncOutPkts()
	return sess.Respond(wire)
}

func (e *Engine) respondFull(sess *Session, principal mp.Principal, resp snmp.PDU) error {
	pduBytes := resp.Append(nil)
	wire, err := e.encode(principal, pduBytes)
	if err != nil {
		return err
	}
	e.Counters.IncOutPkts()
	return sess.Respond(wire)
}

func (e *Engine) sendReport(sess *Session, principal mp.Principal, report *snmp.PDU) error {
	pduBytes := report.Append(nil)
	wire, err := e.encode(principal, pduBytes)
	if err != nil {
		return err
	}
	e.Counters.IncOutPkts()
	return sess.Respond(wire)
}

func (e *Engine) encode(principal mp.Principal, pduBytes []byte) ([]byte, error) {
	if principal.SecurityModel == 3 {
		user, _ := e.Users.Get(principal.ContextEngineID, principal.SecurityName)
		return e.Proc.EncodeV3(pduBytes, principal, user, 0, false)
	}
	ver := mp.Version1
	if principal.SecurityModel == 2 {
		ver = mp.Version2c
	}
	return e.Proc.EncodeCommunity(ver, principal.SecurityName, pduBytes), nil
}
