// Package agent implements spec.md §4.6: the request pipeline that
// drives a PDU from ingress through VACM, registry dispatch, handler
// invocation and optional suspension, to response serialization. Engine
// is the explicit context object the teacher's process-global config
// and atomics (part5.go's package-level state) are generalized into,
// per spec.md §9's "explicit engine context" redesign note.
package agent

import (
	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/snmp"
)

// Mode is the request mode passed to a Handler, spec.md §4.6.
type Mode int

const (
	ModeGet Mode = iota
	ModeGetNext
	ModeGetBulk
	ModeReserve1
	ModeReserve2
	ModeAction
	ModeCommit
	ModeFree
	ModeUndo
)

func (m Mode) String() string {
	switch m {
	case ModeGet:
		return "get"
	case ModeGetNext:
		return "get-next"
	case ModeGetBulk:
		return "get-bulk"
	case ModeReserve1:
		return "set-reserve-1"
	case ModeReserve2:
		return "set-reserve-2"
	case ModeAction:
		return "set-action"
	case ModeCommit:
		return "set-commit"
	case ModeFree:
		return "set-free"
	case ModeUndo:
		return "set-undo"
	default:
		return "unknown"
	}
}

func (m Mode) isSetPhase() bool { return m >= ModeReserve1 }

// Outcome is what a Handler did with a HandlerRequest, spec.md §6's
// handler contract.
type Outcome int

const (
	// OutcomeForward defers to the next handler in the chain unchanged;
	// it is the default a handler returns when it has no opinion about
	// this request.
	OutcomeForward Outcome = iota
	// OutcomeOK means the handler fully answered every varbind.
	OutcomeOK
	// OutcomeDelegated means the handler will call back later via
	// Engine.CompleteDelegated.
	OutcomeDelegated
	// OutcomeError short-circuits the chain; ErrorStatus/ErrorIndex on
	// the HandlerRequest are authoritative.
	OutcomeError
)

// HandlerRequest is the unit of work a Handler receives. Varbinds is
// mutated in place: for read modes the handler fills in Value; for SET
// phases it validates or applies Value already present from the
// incoming PDU.
//
// SessionName/RequestID identify this request for the asynchronous
// completion path: a handler returning OutcomeDelegated stashes both and
// later calls Engine.CompleteDelegated with them, per spec.md §6's
// complete_delegated(request_id, results) contract.
type HandlerRequest struct {
	Mode        Mode
	Context     string
	SessionName string
	RequestID   int32

	Varbinds []snmp.Varbind

	ErrorStatus snmp.ErrorStatus
	ErrorIndex  int // 1-based index into Varbinds, per spec.md §4.6
}

// Handler is one link in a registered node's handler chain, spec.md
// §4.6. Invoke may mutate req and must return one of the four Outcome
// values; OutcomeForward passes req (possibly modified) to the next
// handler, which is the default composition rule.
type Handler interface {
	Invoke(req *HandlerRequest) Outcome
}

// HandlerFunc adapts a plain function to the Handler interface, mirroring
// the standard library's http.HandlerFunc idiom.
type HandlerFunc func(req *HandlerRequest) Outcome

func (f HandlerFunc) Invoke(req *HandlerRequest) Outcome { return f(req) }

// Chain is an ordered list of handlers registered against one subtree
// node. Invoke runs each handler in turn until one returns something
// other than OutcomeForward, or the chain is exhausted (which is treated
// as OutcomeError/genErr: a registered node with no opinion is a
// configuration bug, not a silent success).
type Chain []Handler

func (c Chain) Invoke(req *HandlerRequest) Outcome {
	for _, h := range c {
		switch outcome := h.Invoke(req); outcome {
		case OutcomeForward:
			continue
		default:
			return outcome
		}
	}
	req.ErrorStatus = snmp.GenErr
	return OutcomeError
}

// markException fills every varbind of req with the given exception
// marker, used when VACM or the registry denies or fails to resolve a
// query before any handler runs.
func markException(req *HandlerRequest, marker ber.Value) {
	for i := range req.Varbinds {
		req.Varbinds[i].Value = marker
	}
}
