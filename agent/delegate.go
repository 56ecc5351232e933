package agent

import (
	"errors"
	"sync"
	"time"

	"github.com/duniansampa/priot/snmp"
)

// ErrUnknownDelegatedRequest is returned by CompleteDelegated when no
// outstanding request matches (requestID, session), because it already
// completed, expired, or the session was torn down.
var ErrUnknownDelegatedRequest = errors.New("agent: unknown or expired delegated request")

// ErrDuplicateRequestID is returned when a handler attempts to delegate
// a request-id already outstanding on the session; per spec.md §4.6 the
// newer one is rejected, not the older.
var ErrDuplicateRequestID = errors.New("agent: duplicate outstanding request-id")

// DelegatedRequest tracks one suspended request awaiting a handler's
// asynchronous completion, per spec.md §4.6.
type DelegatedRequest struct {
	RequestID int32

	mu       sync.Mutex
	done     bool
	stop     chan struct{}
	resultCh chan HandlerRequest
}

func (dr *DelegatedRequest) markDone() bool {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if dr.done {
		return false
	}
	dr.done = true
	return true
}

// cancel silently drops the request, used when its session is torn down.
func (dr *DelegatedRequest) cancel() {
	if dr.markDone() {
		close(dr.stop)
	}
}

// reserveDelegation registers a placeholder for hr.RequestID before its
// handler chain runs, so a handler that completes (or even calls
// CompleteDelegated) before chain.Invoke returns is never a lost race:
// the slot exists the instant dispatch decides to call the handler, not
// only once the handler has already told us it delegated.
func (e *Engine) reserveDelegation(sess *Session, requestID int32) (*DelegatedRequest, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, dup := sess.outstanding[requestID]; dup {
		return nil, ErrDuplicateRequestID
	}
	dr := &DelegatedRequest{
		RequestID: requestID,
		stop:      make(chan struct{}),
		resultCh:  make(chan HandlerRequest, 1),
	}
	sess.outstanding[requestID] = dr
	return dr, nil
}

// releaseDelegation drops a reservation that turned out not to be
// needed, because the handler answered synchronously instead of
// delegating.
func (e *Engine) releaseDelegation(sess *Session, dr *DelegatedRequest) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.outstanding[dr.RequestID] == dr {
		delete(sess.outstanding, dr.RequestID)
	}
}

// armDelegation starts dr's deadline timer and waits for either its
// handler's eventual completion or the timeout, off the calling
// goroutine. finish is invoked exactly once; it is never invoked if the
// session is closed first.
func (e *Engine) armDelegation(sess *Session, dr *DelegatedRequest, finish func(HandlerRequest)) {
	timer := time.NewTimer(e.DefaultDeadline)
	go func() {
		defer timer.Stop()
		select {
		case final := <-dr.resultCh:
			if !dr.markDone() {
				return
			}
			sess.mu.Lock()
			if sess.outstanding[dr.RequestID] == dr {
				delete(sess.outstanding, dr.RequestID)
			}
			sess.mu.Unlock()
			finish(final)

		case <-timer.C:
			if !dr.markDone() {
				return
			}
			sess.mu.Lock()
			if sess.outstanding[dr.RequestID] == dr {
				delete(sess.outstanding, dr.RequestID)
			}
			sess.mu.Unlock()
			e.Counters.IncDelegatedTimeouts()
			finish(HandlerRequest{
				RequestID:   dr.RequestID,
				SessionName: sess.Name,
				ErrorStatus: snmp.GenErr,
				ErrorIndex:  1,
			})

		case <-dr.stop:
			return
		}
	}()
}

// CompleteDelegated resumes a request a handler previously delegated,
// per spec.md §6's complete_delegated(request_id, results) contract. It
// is safe to call before the dispatch loop has finished arming the
// delegation (reserveDelegation's slot already exists by then); the
// result is simply buffered on resultCh until armDelegation's select
// picks it up.
//
// requestID is the incoming PDU's request-id, matching spec.md §6's
// wire contract; reserveDelegation keys outstanding delegations by it.
// A single PDU whose varbinds span more than one delegating subtree is
// out of scope: only the first group to delegate reserves the slot, the
// second fails with ErrDuplicateRequestID and the whole group errors
// genErr rather than silently colliding with the first.
func (e *Engine) CompleteDelegated(sess *Session, requestID int32, varbinds []snmp.Varbind, status snmp.ErrorStatus, errIndex int) error {
	sess.mu.Lock()
	dr, ok := sess.outstanding[requestID]
	sess.mu.Unlock()
	if !ok {
		return ErrUnknownDelegatedRequest
	}

	select {
	case dr.resultCh <- HandlerRequest{
		RequestID:   requestID,
		SessionName: sess.Name,
		Varbinds:    varbinds,
		ErrorStatus: status,
		ErrorIndex:  errIndex,
	}:
	default:
		return ErrUnknownDelegatedRequest
	}
	return nil
}
