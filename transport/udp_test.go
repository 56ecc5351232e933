package transport

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestUDPRoundTrip(t *testing.T) {
	tr, conn, err := UDP("127.0.0.1:0", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	client, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	payload := []byte{0x30, 0x03, 0x02, 0x01, 0x07}
	if _, err := client.Write(payload); err != nil {
		t.Fatal(err)
	}

	select {
	case dg := <-tr.In:
		if !bytes.Equal(dg.Payload, payload) {
			t.Fatalf("payload = %x, want %x", dg.Payload, payload)
		}
		reply := []byte{0x30, 0x02, 0x05, 0x00}
		o := NewOutbound(dg.Addr, reply)
		tr.Out <- o
		if err := <-o.Done; err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound datagram")
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x30, 0x02, 0x05, 0x00}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("reply = %x, want %x", buf[:n], want)
	}
}
