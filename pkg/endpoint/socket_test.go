package endpoint

import (
	"testing"
	"time"

	"github.com/jgoldverg/grdt/pkg/rdterr"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
)

func mustListen(t *testing.T) *Socket {
	t.Helper()
	s, err := Listen("127.0.0.1:0", Options{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSendReceiveRoundTrip(t *testing.T) {
	a := mustListen(t)
	b := mustListen(t)

	pkt := &rdtwire.Packet{Type: rdtwire.TypeDATA, Seq: 9, Payload: []byte("hello")}
	if err := a.Send(pkt, b.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, from, err := b.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Seq != 9 || string(got.Payload) != "hello" {
		t.Fatalf("got %+v", got)
	}
	if from.Port != a.LocalAddr().Port {
		t.Fatalf("got source port %d, want %d", from.Port, a.LocalAddr().Port)
	}
}

func TestReceiveTimesOut(t *testing.T) {
	a := mustListen(t)
	_, _, err := a.Receive(20 * time.Millisecond)
	if !rdterr.Is(err, rdterr.Timeout) {
		t.Fatalf("want Timeout, got %v", err)
	}
}

func TestReceiveMalformedReportsButDoesNotCrash(t *testing.T) {
	a := mustListen(t)
	b := mustListen(t)

	if _, err := b.conn.WriteToUDP([]byte{1, 2}, a.LocalAddr()); err != nil {
		t.Fatalf("raw write: %v", err)
	}

	_, _, err := a.Receive(time.Second)
	if !rdterr.Is(err, rdterr.Malformed) {
		t.Fatalf("want Malformed, got %v", err)
	}
}
