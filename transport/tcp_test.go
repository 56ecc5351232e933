package transport

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestTCPRoundTrip(t *testing.T) {
	tr, ln, err := TCP("127.0.0.1:0", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	payload := []byte{0x30, 0x03, 0x02, 0x01, 0x07}
	var lenBuf [4]byte
	lenBuf[3] = byte(len(payload))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatal(err)
	}

	select {
	case dg := <-tr.In:
		if !bytes.Equal(dg.Payload, payload) {
			t.Fatalf("payload = %x, want %x", dg.Payload, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound datagram")
	}

	// Give the accept loop a moment to register the connection before
	// routing an Outbound back to it.
	time.Sleep(20 * time.Millisecond)

	reply := []byte{0x30, 0x02, 0x05, 0x00}
	o := NewOutbound(conn.LocalAddr(), reply)
	tr.Out <- o
	select {
	case err := <-o.Done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound completion")
	}

	var echoLen [4]byte
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(conn, echoLen[:]); err != nil {
		t.Fatal(err)
	}
	n := int(echoLen[3])
	got := make([]byte, n)
	if _, err := readFull(conn, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, reply) {
		t.Fatalf("reply = %x, want %x", got, reply)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
