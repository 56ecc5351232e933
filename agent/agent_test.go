package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/mp"
	"github.com/duniansampa/priot/registry"
	"github.com/duniansampa/priot/rowstatus"
	"github.com/duniansampa/priot/snmp"
	"github.com/duniansampa/priot/vacm"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{EngineID: "test-engine", DefaultDeadline: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func communityGet(e *Engine, requestID int32, oids ...ber.OID) []byte {
	vbs := make([]snmp.Varbind, len(oids))
	for i, oid := range oids {
		vbs[i] = snmp.Varbind{OID: oid}
	}
	pdu := snmp.PDU{Kind: snmp.KindGet, RequestID: requestID, Varbinds: vbs}
	return e.Proc.EncodeCommunity(mp.Version2c, "public", pdu.Append(nil))
}

func communityGetNext(e *Engine, requestID int32, oids ...ber.OID) []byte {
	vbs := make([]snmp.Varbind, len(oids))
	for i, oid := range oids {
		vbs[i] = snmp.Varbind{OID: oid}
	}
	pdu := snmp.PDU{Kind: snmp.KindGetNext, RequestID: requestID, Varbinds: vbs}
	return e.Proc.EncodeCommunity(mp.Version2c, "public", pdu.Append(nil))
}

func communityBulk(e *Engine, requestID int32, nonRepeaters, maxReps int, oids ...ber.OID) []byte {
	vbs := make([]snmp.Varbind, len(oids))
	for i, oid := range oids {
		vbs[i] = snmp.Varbind{OID: oid}
	}
	pdu := snmp.PDU{Kind: snmp.KindGetBulk, RequestID: requestID, NonRepeaters: nonRepeaters, MaxRepetitions: maxReps, Varbinds: vbs}
	return e.Proc.EncodeCommunity(mp.Version2c, "public", pdu.Append(nil))
}

func communitySet(e *Engine, requestID int32, oid ber.OID, value ber.Value) []byte {
	pdu := snmp.PDU{Kind: snmp.KindSet, RequestID: requestID, Varbinds: []snmp.Varbind{{OID: oid, Value: value}}}
	return e.Proc.EncodeCommunity(mp.Version2c, "public", pdu.Append(nil))
}

// decodeResponse parses a community-wrapped response datagram back into
// a PDU, using a throwaway decoder: the community path never consults
// USM state, so a processor with no user table suffices.
func decodeResponse(t *testing.T, raw []byte) snmp.PDU {
	t.Helper()
	p, err := mp.NewProcessor("decoder", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	scoped, _, _, derr := p.Decode(raw)
	if derr != nil {
		t.Fatalf("decode response: %v", derr)
	}
	pdu, _, perr := snmp.ParseAny(scoped)
	if perr != nil {
		t.Fatalf("parse response pdu: %v", perr)
	}
	return pdu
}

func staticHandler(value ber.Value) HandlerFunc {
	return func(req *HandlerRequest) Outcome {
		for i := range req.Varbinds {
			req.Varbinds[i].Value = value
		}
		return OutcomeOK
	}
}

func newSession(t *testing.T) (*Session, chan []byte) {
	t.Helper()
	out := make(chan []byte, 8)
	sess := NewSession("peer", func(payload []byte) error {
		out <- payload
		return nil
	})
	return sess, out
}

func activeRow() *rowstatus.Row {
	r := rowstatus.NewRow()
	r.Set(rowstatus.CreateAndGo, true)
	return r
}

// openAccess wires a VACM group/access/view set admitting the "public"
// v2c community to read the whole tree, so dispatch tests don't need to
// construct VACM fixtures of their own.
func openAccess(e *Engine) {
	e.VACM.PutGroup(&vacm.SecurityToGroupRow{SecurityModel: 2, SecurityName: "public", GroupName: "readers", Row: activeRow()})
	e.VACM.PutAccess(&vacm.AccessRow{
		GroupName: "readers", ContextMatch: vacm.MatchExact, SecurityModel: 2,
		ReadView: "all", Row: activeRow(),
	})
	e.VACM.PutView(&vacm.ViewTreeFamilyRow{ViewName: "all", Subtree: ber.OID{1}, Included: true, Row: activeRow()})
}

// openWriteAccess installs a single access row granting both read and
// write over the whole tree, for SET dispatch tests.
func openWriteAccess(e *Engine) {
	e.VACM.PutGroup(&vacm.SecurityToGroupRow{SecurityModel: 2, SecurityName: "public", GroupName: "writers", Row: activeRow()})
	e.VACM.PutAccess(&vacm.AccessRow{
		GroupName: "writers", ContextMatch: vacm.MatchExact, SecurityModel: 2,
		ReadView: "all", WriteView: "all", Row: activeRow(),
	})
	e.VACM.PutView(&vacm.ViewTreeFamilyRow{ViewName: "all", Subtree: ber.OID{1}, Included: true, Row: activeRow()})
}

func TestChainForwardsUntilNonForward(t *testing.T) {
	calls := []string{}
	chain := Chain{
		HandlerFunc(func(req *HandlerRequest) Outcome {
			calls = append(calls, "first")
			return OutcomeForward
		}),
		HandlerFunc(func(req *HandlerRequest) Outcome {
			calls = append(calls, "second")
			return OutcomeOK
		}),
		HandlerFunc(func(req *HandlerRequest) Outcome {
			calls = append(calls, "third")
			return OutcomeOK
		}),
	}
	outcome := chain.Invoke(&HandlerRequest{})
	if outcome != OutcomeOK {
		t.Fatalf("outcome = %v, want OutcomeOK", outcome)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestChainExhaustionIsGenErr(t *testing.T) {
	chain := Chain{
		HandlerFunc(func(req *HandlerRequest) Outcome { return OutcomeForward }),
	}
	req := &HandlerRequest{}
	if outcome := chain.Invoke(req); outcome != OutcomeError {
		t.Fatalf("outcome = %v, want OutcomeError", outcome)
	}
	if req.ErrorStatus != snmp.GenErr {
		t.Fatalf("errorStatus = %v, want GenErr", req.ErrorStatus)
	}
}

func TestDispatchGetReturnsHandlerValue(t *testing.T) {
	e := testEngine(t)
	oid := ber.OID{1, 3, 6, 1, 2, 1, 1, 1, 0}
	e.Registry.Register(&registry.Node{Prefix: oid, Readable: true, Handler: staticHandler(ber.OctetString("priotd"))})
	openAccess(e)

	sess, out := newSession(t)
	raw := communityGet(e, 42, oid)
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}

	resp := decodeResponse(t, <-out)
	if resp.ErrorStatus != snmp.NoError {
		t.Fatalf("errorStatus = %v", resp.ErrorStatus)
	}
	if len(resp.Varbinds) != 1 {
		t.Fatalf("varbinds = %d", len(resp.Varbinds))
	}
	if s, ok := resp.Varbinds[0].Value.(ber.OctetString); !ok || string(s) != "priotd" {
		t.Fatalf("value = %#v", resp.Varbinds[0].Value)
	}
}

func TestDispatchGetUnregisteredReturnsNoSuchObject(t *testing.T) {
	e := testEngine(t)
	sess, out := newSession(t)
	raw := communityGet(e, 1, ber.OID{1, 3, 6, 1, 2, 1, 99, 0})
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	resp := decodeResponse(t, <-out)
	if _, ok := resp.Varbinds[0].Value.(ber.NoSuchObject); !ok {
		t.Fatalf("value = %#v, want NoSuchObject", resp.Varbinds[0].Value)
	}
}

func TestDispatchGetDeniedByVACMReturnsNoSuchInstance(t *testing.T) {
	e := testEngine(t)
	oid := ber.OID{1, 3, 6, 1, 2, 1, 1, 1, 0}
	e.Registry.Register(&registry.Node{Prefix: oid, Readable: true, Handler: staticHandler(ber.OctetString("x"))})
	// no VACM rows installed: every request is denied.

	sess, out := newSession(t)
	raw := communityGet(e, 1, oid)
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	resp := decodeResponse(t, <-out)
	if _, ok := resp.Varbinds[0].Value.(ber.NoSuchInstance); !ok {
		t.Fatalf("value = %#v, want NoSuchInstance", resp.Varbinds[0].Value)
	}
}

func TestDispatchGetNextWalksIntoSubtree(t *testing.T) {
	e := testEngine(t)
	base := ber.OID{1, 3, 6, 1, 2, 1, 1}
	calls := 0
	e.Registry.Register(&registry.Node{Prefix: base, Readable: true, Handler: HandlerFunc(func(req *HandlerRequest) Outcome {
		calls++
		req.Varbinds[0] = snmp.Varbind{OID: append(base.Clone(), 1, 0), Value: ber.OctetString("first")}
		return OutcomeOK
	})})
	openAccess(e)

	sess, out := newSession(t)
	raw := communityGetNext(e, 7, base)
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	resp := decodeResponse(t, <-out)
	if calls != 1 {
		t.Fatalf("handler calls = %d", calls)
	}
	if s, ok := resp.Varbinds[0].Value.(ber.OctetString); !ok || string(s) != "first" {
		t.Fatalf("value = %#v", resp.Varbinds[0].Value)
	}
}

func TestDispatchGetNextExhaustedReturnsEndOfMibView(t *testing.T) {
	e := testEngine(t)
	sess, out := newSession(t)
	raw := communityGetNext(e, 1, ber.OID{1, 3, 6, 1, 2, 1, 1})
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	resp := decodeResponse(t, <-out)
	if _, ok := resp.Varbinds[0].Value.(ber.EndOfMibView); !ok {
		t.Fatalf("value = %#v, want EndOfMibView", resp.Varbinds[0].Value)
	}
}

func TestDispatchBulkExpandsRepeaters(t *testing.T) {
	e := testEngine(t)
	base := ber.OID{1, 3, 6, 1, 2, 1, 2}
	next := 0
	e.Registry.Register(&registry.Node{Prefix: base, Readable: true, Handler: HandlerFunc(func(req *HandlerRequest) Outcome {
		next++
		if next > 3 {
			req.Varbinds[0] = snmp.Varbind{OID: req.Varbinds[0].OID, Value: ber.EndOfMibView{}}
			return OutcomeOK
		}
		req.Varbinds[0] = snmp.Varbind{OID: append(base.Clone(), uint32(next)), Value: ber.Integer32(next)}
		return OutcomeOK
	})})
	openAccess(e)

	sess, out := newSession(t)
	raw := communityBulk(e, 9, 0, 5, base)
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	resp := decodeResponse(t, <-out)
	if len(resp.Varbinds) != 5 {
		t.Fatalf("varbinds = %d, want 5", len(resp.Varbinds))
	}
	for i := 0; i < 3; i++ {
		if v, ok := resp.Varbinds[i].Value.(ber.Integer32); !ok || int(v) != i+1 {
			t.Fatalf("varbind %d = %#v", i, resp.Varbinds[i].Value)
		}
	}
	for i := 3; i < 5; i++ {
		if _, ok := resp.Varbinds[i].Value.(ber.EndOfMibView); !ok {
			t.Fatalf("varbind %d = %#v, want EndOfMibView", i, resp.Varbinds[i].Value)
		}
	}
}

func TestDispatchSetRunsPhasesInOrder(t *testing.T) {
	e := testEngine(t)
	oid := ber.OID{1, 3, 6, 1, 2, 1, 3, 0}
	var phases []Mode
	e.Registry.Register(&registry.Node{Prefix: oid, Readable: true, Writable: true, Handler: HandlerFunc(func(req *HandlerRequest) Outcome {
		phases = append(phases, req.Mode)
		return OutcomeOK
	})})
	openWriteAccess(e)

	sess, out := newSession(t)
	raw := communitySet(e, 3, oid, ber.Integer32(5))
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	resp := decodeResponse(t, <-out)
	if resp.ErrorStatus != snmp.NoError {
		t.Fatalf("errorStatus = %v", resp.ErrorStatus)
	}
	want := []Mode{ModeReserve1, ModeReserve2, ModeAction, ModeCommit, ModeFree}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v", phases)
	}
	for i, m := range want {
		if phases[i] != m {
			t.Fatalf("phase %d = %v, want %v", i, phases[i], m)
		}
	}
}

func TestDispatchSetUndoesOnActionFailure(t *testing.T) {
	e := testEngine(t)
	oid := ber.OID{1, 3, 6, 1, 2, 1, 4, 0}
	var phases []Mode
	e.Registry.Register(&registry.Node{Prefix: oid, Readable: true, Writable: true, Handler: HandlerFunc(func(req *HandlerRequest) Outcome {
		phases = append(phases, req.Mode)
		if req.Mode == ModeAction {
			req.ErrorStatus = snmp.BadValue
			return OutcomeError
		}
		return OutcomeOK
	})})
	openWriteAccess(e)

	sess, out := newSession(t)
	raw := communitySet(e, 4, oid, ber.Integer32(1))
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	resp := decodeResponse(t, <-out)
	if resp.ErrorStatus != snmp.BadValue {
		t.Fatalf("errorStatus = %v, want BadValue", resp.ErrorStatus)
	}
	want := []Mode{ModeReserve1, ModeReserve2, ModeAction, ModeUndo, ModeFree}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v", phases)
	}
	for i, m := range want {
		if phases[i] != m {
			t.Fatalf("phase %d = %v, want %v", i, phases[i], m)
		}
	}
}

func TestDelegatedRequestCompletesAsynchronously(t *testing.T) {
	e := testEngine(t)
	oid := ber.OID{1, 3, 6, 1, 2, 1, 5, 0}
	e.Registry.Register(&registry.Node{Prefix: oid, Readable: true, Handler: HandlerFunc(func(req *HandlerRequest) Outcome {
		go func() {
			e.CompleteDelegated(e.Session("peer", nil), req.RequestID, []snmp.Varbind{{OID: oid, Value: ber.OctetString("async")}}, snmp.NoError, 0)
		}()
		return OutcomeDelegated
	})})
	openAccess(e)

	out := make(chan []byte, 8)
	sess := e.Session("peer", func(payload []byte) error {
		out <- payload
		return nil
	})
	raw := communityGet(e, 11, oid)
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	select {
	case payload := <-out:
		resp := decodeResponse(t, payload)
		if s, ok := resp.Varbinds[0].Value.(ber.OctetString); !ok || string(s) != "async" {
			t.Fatalf("value = %#v", resp.Varbinds[0].Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delegated completion")
	}
}

func TestDelegatedRequestTimesOut(t *testing.T) {
	e := testEngine(t)
	oid := ber.OID{1, 3, 6, 1, 2, 1, 6, 0}
	e.Registry.Register(&registry.Node{Prefix: oid, Readable: true, Handler: HandlerFunc(func(req *HandlerRequest) Outcome {
		return OutcomeDelegated
	})})
	openAccess(e)

	sess, out := newSession(t)
	raw := communityGet(e, 12, oid)
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	select {
	case payload := <-out:
		resp := decodeResponse(t, payload)
		if resp.ErrorStatus != snmp.GenErr {
			t.Fatalf("errorStatus = %v, want GenErr", resp.ErrorStatus)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the delegation deadline to fire")
	}
	if e.Counters.Snapshot().DelegatedTimeouts != 1 {
		t.Fatalf("delegatedTimeouts = %d, want 1", e.Counters.Snapshot().DelegatedTimeouts)
	}
}

func TestDispatchGetNextSkipsWriteOnlyNode(t *testing.T) {
	e := testEngine(t)
	writeOnly := ber.OID{1, 1}
	readable := ber.OID{1, 2}
	e.Registry.Register(&registry.Node{Prefix: writeOnly, Writable: true, Handler: staticHandler(ber.Integer32(1))})
	e.Registry.Register(&registry.Node{Prefix: readable, Readable: true, Handler: staticHandler(ber.Integer32(2))})
	openAccess(e)

	sess, out := newSession(t)
	raw := communityGetNext(e, 20, ber.OID{1})
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	resp := decodeResponse(t, <-out)
	got, ok := resp.Varbinds[0].Value.(ber.Integer32)
	if !ok || got != 2 {
		t.Fatalf("varbind = %#v, want the readable node's value (write-only node must be skipped)", resp.Varbinds[0].Value)
	}
}

func TestClassifyDecodeErrorCountsBadVersionSeparatelyFromUnknownSecModel(t *testing.T) {
	e := testEngine(t)

	e.classifyDecodeError(fmt.Errorf("%w: version %d", mp.ErrUnsupportedVersion, 9))
	e.classifyDecodeError(mp.ErrUnsupportedSecModel)
	e.classifyDecodeError(mp.ErrMalformedMessage)

	snap := e.Counters.Snapshot()
	if snap.InBadVersions != 1 {
		t.Fatalf("inBadVersions = %d, want 1", snap.InBadVersions)
	}
	if snap.UnknownSecModels != 1 {
		t.Fatalf("unknownSecModels = %d, want 1", snap.UnknownSecModels)
	}
	if snap.InvalidMsgs != 1 {
		t.Fatalf("invalidMsgs = %d, want 1", snap.InvalidMsgs)
	}
}

func TestProcessBadVersionIncrementsInBadVersions(t *testing.T) {
	e := testEngine(t)
	pdu := snmp.PDU{Kind: snmp.KindGet, RequestID: 1}
	raw := e.Proc.EncodeCommunity(mp.Version(9), "public", pdu.Append(nil))

	sess, _ := newSession(t)
	if err := e.Process(sess, raw); err == nil {
		t.Fatal("expected an error decoding an unsupported version")
	}

	snap := e.Counters.Snapshot()
	if snap.InBadVersions != 1 {
		t.Fatalf("inBadVersions = %d, want 1", snap.InBadVersions)
	}
	if snap.UnknownSecModels != 0 {
		t.Fatalf("unknownSecModels = %d, want 0 (bad version must not be misclassified as unknown security model)", snap.UnknownSecModels)
	}
}

func TestCloseSessionDropsOutstandingDelegation(t *testing.T) {
	e := testEngine(t)
	oid := ber.OID{1, 3, 6, 1, 2, 1, 7, 0}
	started := make(chan struct{})
	e.Registry.Register(&registry.Node{Prefix: oid, Readable: true, Handler: HandlerFunc(func(req *HandlerRequest) Outcome {
		close(started)
		return OutcomeDelegated
	})})
	openAccess(e)

	out := make(chan []byte, 8)
	sess := e.Session("peer", func(payload []byte) error {
		out <- payload
		return nil
	})
	raw := communityGet(e, 13, oid)
	if err := e.Process(sess, raw); err != nil {
		t.Fatal(err)
	}
	<-started
	e.CloseSession("peer")

	select {
	case <-out:
		t.Fatal("expected no response once the session is closed")
	case <-time.After(150 * time.Millisecond):
	}
}
