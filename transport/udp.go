package transport

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"
)

// maxDatagramSize is the largest UDP payload read.Per spec.md §6, an
// agent advertises msgMaxSize but must still tolerate the underlying
// network's real ceiling; 64KiB covers any IPv4/IPv6 UDP payload.
const maxDatagramSize = 65535

// UDP binds laddr and returns a Transport backed by a single UDP socket,
// plus a closer to release it. Every received packet becomes a Datagram
// tagged with its source address; every Outbound is sent with
// WriteTo(payload, Addr) since UDP sockets have no per-peer connection
// state to route through.
func UDP(laddr string, log *logrus.Logger) (*Transport, *net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, nil, err
	}

	in := make(chan Datagram)
	out := make(chan *Outbound)
	errc := make(chan error, 8)

	go udpRecvLoop(conn, in, errc, log)
	go udpSendLoop(conn, out, errc, log)

	return &Transport{In: in, Out: out, Err: errc}, conn, nil
}

func udpRecvLoop(conn *net.UDPConn, in chan<- Datagram, errc chan<- error, log *logrus.Logger) {
	defer close(in)

	buf := make([]byte, maxDatagramSize)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errc <- err
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		if log != nil {
			log.WithField("peer", peer).Debug("transport: received datagram")
		}
		in <- Datagram{Addr: peer, Payload: payload}
	}
}

func udpSendLoop(conn *net.UDPConn, out <-chan *Outbound, errc chan<- error, log *logrus.Logger) {
	for o := range out {
		udpAddr, ok := o.Addr.(*net.UDPAddr)
		if !ok {
			resolved, err := net.ResolveUDPAddr("udp", o.Addr.String())
			if err != nil {
				o.fail(err)
				continue
			}
			udpAddr = resolved
		}
		if _, err := conn.WriteToUDP(o.Payload, udpAddr); err != nil {
			if log != nil {
				log.WithError(err).Warn("transport: udp write failed")
			}
			o.fail(err)
			continue
		}
		o.succeed()
	}
}
