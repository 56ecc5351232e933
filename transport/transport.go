// Package transport implements spec.md §6: the datagram transports an
// agent or manager exchanges SNMP messages over. It generalizes the
// teacher's session.Transport channel contract (session/session.go) from
// a single stateful connection to the connectionless, address-tagged
// request/response model SNMP actually uses: every inbound datagram
// carries the peer address it arrived from, and every outbound
// submission names the peer address it is bound for.
package transport

import (
	"errors"
	"net"
)

// ErrNoPeer is returned when an Outbound names an address with no known
// route: an unconnected UDP socket always succeeds (UDP is fire-and-
// forget), but a TCP transport fails fast when no connection to that
// peer exists.
var ErrNoPeer = errors.New("transport: no connection for peer")

// ErrClosed names a transport that has shut down. No function in this
// package returns it; the receive loops stop on net.ErrClosed instead.
var ErrClosed = errors.New("transport: closed")

// Datagram is one inbound SNMP message together with the address it
// arrived from, so the agent can route a response back to the same peer.
type Datagram struct {
	Addr    net.Addr
	Payload []byte
}

// Outbound is a single-use datagram submission, mirroring the teacher's
// session.Outbound: Done reports the one send outcome.
type Outbound struct {
	Addr    net.Addr
	Payload []byte

	Done <-chan error
	err  chan<- error
}

// NewOutbound returns an Outbound ready to submit once.
func NewOutbound(addr net.Addr, payload []byte) *Outbound {
	ch := make(chan error, 1)
	return &Outbound{Addr: addr, Payload: payload, Done: ch, err: ch}
}

func (o *Outbound) fail(err error) {
	o.err <- err
	close(o.err)
}

func (o *Outbound) succeed() {
	close(o.err)
}

// Transport is the datagram layer an agent's request pipeline reads from
// and writes to. In and Err must be drained continuously or the
// transport may block; Out must be closed by the caller to release the
// transport's internal goroutines.
type Transport struct {
	In  <-chan Datagram
	Out chan<- *Outbound
	Err <-chan error
}
