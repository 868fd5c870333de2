package rdtwire

import (
	"bytes"
	"testing"

	"github.com/jgoldverg/grdt/pkg/rdterr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  Packet
	}{
		{"syn", Packet{Type: TypeSYN, Operation: OpUpload, Protocol: ProtoGoBackN, Payload: []byte("report.csv")}},
		{"synack empty", Packet{Type: TypeSYNACK, Payload: nil}},
		{"ack", Packet{Type: TypeACK, Seq: 42}},
		{"data", Packet{Type: TypeDATA, Seq: 7, Payload: bytes.Repeat([]byte{0xAB}, 512)}},
		{"data last", Packet{Type: TypeDATA, Seq: 8, IsLast: true, Payload: []byte("tail")}},
		{"data empty last", Packet{Type: TypeDATA, Seq: 0, IsLast: true, Payload: nil}},
		{"fin", Packet{Type: TypeFIN}},
		{"finack", Packet{Type: TypeFINACK}},
		{"error", Packet{Type: TypeERROR, Payload: []byte("FILE_NOT_FOUND")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, tc.pkt.WireLen())
			n, err := tc.pkt.Encode(buf)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if n != len(buf) {
				t.Fatalf("Encode returned %d, want %d", n, len(buf))
			}

			var got Packet
			if err := got.Decode(buf[:n]); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type != tc.pkt.Type || got.Operation != tc.pkt.Operation || got.Protocol != tc.pkt.Protocol {
				t.Fatalf("header mismatch: got %+v, want %+v", got, tc.pkt)
			}
			if got.Seq != tc.pkt.Seq || got.IsLast != tc.pkt.IsLast {
				t.Fatalf("fields mismatch: got %+v, want %+v", got, tc.pkt)
			}
			if !bytes.Equal(got.Payload, tc.pkt.Payload) {
				t.Fatalf("payload mismatch: got %v, want %v", got.Payload, tc.pkt.Payload)
			}
		})
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	var p Packet
	err := p.Decode([]byte{1, 2, 3})
	if !rdterr.Is(err, rdterr.Malformed) {
		t.Fatalf("want Malformed, got %v", err)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	pkt := Packet{Type: TypeDATA, Seq: 1, Payload: []byte("hello")}
	buf := make([]byte, pkt.WireLen())
	n, err := pkt.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Truncate the trailing payload byte so payload_length disagrees.
	var p Packet
	err = p.Decode(buf[:n-1])
	if !rdterr.Is(err, rdterr.Malformed) {
		t.Fatalf("want Malformed, got %v", err)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	buf := make([]byte, HeaderLen)
	buf[0] = 0xFF
	var p Packet
	if err := p.Decode(buf); !rdterr.Is(err, rdterr.Malformed) {
		t.Fatalf("want Malformed, got %v", err)
	}
}

func TestDecodeRejectsIsLastOnControlPacket(t *testing.T) {
	pkt := Packet{Type: TypeACK, Seq: 3}
	buf := make([]byte, pkt.WireLen())
	n, err := pkt.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[3] |= flagIsLast
	var p Packet
	if err := p.Decode(buf[:n]); !rdterr.Is(err, rdterr.Malformed) {
		t.Fatalf("want Malformed, got %v", err)
	}
}

func TestEncodeRejectsOversizedDataPayload(t *testing.T) {
	pkt := Packet{Type: TypeDATA, Payload: bytes.Repeat([]byte{1}, MaxPayload+1)}
	buf := make([]byte, pkt.WireLen())
	if _, err := pkt.Encode(buf); !rdterr.Is(err, rdterr.Malformed) {
		t.Fatalf("want Malformed, got %v", err)
	}
}

func TestBoundaryPayloadSizes(t *testing.T) {
	// Exactly MAX_PAYLOAD bytes, marked as the final DATA packet.
	pkt := Packet{Type: TypeDATA, Seq: 0, IsLast: true, Payload: bytes.Repeat([]byte{9}, MaxPayload)}
	buf := make([]byte, pkt.WireLen())
	n, err := pkt.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got Packet
	if err := got.Decode(buf[:n]); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Payload) != MaxPayload {
		t.Fatalf("got %d payload bytes, want %d", len(got.Payload), MaxPayload)
	}
}
