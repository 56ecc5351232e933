package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxFramedMessage bounds a single length-prefixed TCP message, guarding
// against a peer claiming an unreasonable length and exhausting memory.
const maxFramedMessage = 1 << 20

var errFrameTooLarge = errors.New("transport: framed message exceeds maximum size")

// TCP listens on laddr and returns a Transport that multiplexes every
// accepted connection's inbound messages into a single In channel and
// routes each Outbound to the connection matching its Addr, framing each
// message with a 4-octet big-endian length prefix per spec.md §6.
func TCP(laddr string, log *logrus.Logger) (*Transport, net.Listener, error) {
	ln, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, nil, err
	}

	in := make(chan Datagram)
	out := make(chan *Outbound)
	errc := make(chan error, 8)

	t := &tcpHub{
		conns: make(map[string]net.Conn),
		in:    in,
		errc:  errc,
		log:   log,
	}

	go t.acceptLoop(ln)
	go t.sendLoop(out)

	return &Transport{In: in, Out: out, Err: errc}, ln, nil
}

type tcpHub struct {
	mu    sync.Mutex
	conns map[string]net.Conn

	in   chan<- Datagram
	errc chan<- error
	log  *logrus.Logger
}

func (t *tcpHub) acceptLoop(ln net.Listener) {
	defer close(t.in)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.errc <- err
			continue
		}

		key := conn.RemoteAddr().String()
		t.mu.Lock()
		t.conns[key] = conn
		t.mu.Unlock()

		if t.log != nil {
			t.log.WithField("peer", key).Debug("transport: tcp connection accepted")
		}
		go t.recvLoop(conn)
	}
}

func (t *tcpHub) recvLoop(conn net.Conn) {
	defer func() {
		key := conn.RemoteAddr().String()
		t.mu.Lock()
		delete(t.conns, key)
		t.mu.Unlock()
		conn.Close()
	}()

	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.errc <- err
			}
			return
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		if size > maxFramedMessage {
			t.errc <- errFrameTooLarge
			return
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(conn, payload); err != nil {
			t.errc <- err
			return
		}
		t.in <- Datagram{Addr: conn.RemoteAddr(), Payload: payload}
	}
}

func (t *tcpHub) sendLoop(out <-chan *Outbound) {
	for o := range out {
		t.mu.Lock()
		conn, ok := t.conns[o.Addr.String()]
		t.mu.Unlock()
		if !ok {
			o.fail(ErrNoPeer)
			continue
		}

		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(o.Payload)))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			o.fail(err)
			continue
		}
		if _, err := conn.Write(o.Payload); err != nil {
			o.fail(err)
			continue
		}
		o.succeed()
	}
}
