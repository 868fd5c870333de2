// Package rdtwire encodes and decodes the on-wire packet format shared by
// every RDT session: a fixed 10-byte header followed by an optional payload,
// as described by the wire format in the transfer service's specification.
package rdtwire

import (
	"encoding/binary"
	"fmt"

	"github.com/jgoldverg/grdt/pkg/rdterr"
)

// Type is the packet's role in the handshake/transfer/teardown state machine.
type Type byte

const (
	TypeSYN Type = iota + 1
	TypeSYNACK
	TypeACK
	TypeDATA
	TypeFIN
	TypeFINACK
	TypeERROR
)

func (t Type) String() string {
	switch t {
	case TypeSYN:
		return "SYN"
	case TypeSYNACK:
		return "SYN-ACK"
	case TypeACK:
		return "ACK"
	case TypeDATA:
		return "DATA"
	case TypeFIN:
		return "FIN"
	case TypeFINACK:
		return "FIN-ACK"
	case TypeERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (t Type) valid() bool { return t >= TypeSYN && t <= TypeERROR }

// Operation is meaningful only on SYN packets.
type Operation byte

const (
	OperationNone Operation = iota
	OpUpload
	OpDownload
)

func (o Operation) String() string {
	switch o {
	case OpUpload:
		return "UPLOAD"
	case OpDownload:
		return "DOWNLOAD"
	default:
		return "NONE"
	}
}

func (o Operation) valid() bool { return o <= OpDownload }

// Protocol is meaningful only on SYN packets; it selects the sender/receiver
// state machine used for the rest of the session.
type Protocol byte

const (
	ProtocolNone Protocol = iota
	ProtoStopAndWait
	ProtoGoBackN
)

func (p Protocol) String() string {
	switch p {
	case ProtoStopAndWait:
		return "STOP_AND_WAIT"
	case ProtoGoBackN:
		return "GO_BACK_N"
	default:
		return "NONE"
	}
}

func (p Protocol) valid() bool { return p <= ProtoGoBackN }

// WindowSize returns the fixed sender window for this protocol variant.
// Stop-and-Wait is exactly Go-Back-N with a window of one; both variants
// share the same sliding-window engine (see pkg/rdt) parameterized by this.
func (p Protocol) WindowSize() int {
	if p == ProtoGoBackN {
		return 5
	}
	return 1
}

const (
	// HeaderLen is the fixed on-wire header size in bytes.
	HeaderLen = 10
	// MaxPayload is the largest payload a single DATA packet may carry.
	MaxPayload = 1024

	flagIsLast = 1 << 0
)

// Packet is the unit exchanged between two Endpoint Sockets.
type Packet struct {
	Type      Type
	Operation Operation
	Protocol  Protocol
	Seq       uint32
	IsLast    bool
	Payload   []byte
}

// Encode renders p into dst (which must be at least p.WireLen() bytes) and
// returns the number of bytes written.
func (p *Packet) Encode(dst []byte) (int, error) {
	if len(p.Payload) > 0xffff {
		return 0, rdterr.New(rdterr.Malformed, "payload exceeds 16-bit length field")
	}
	need := HeaderLen + len(p.Payload)
	if len(dst) < need {
		return 0, rdterr.New(rdterr.Malformed, "destination buffer too small")
	}
	if p.Type == TypeDATA && len(p.Payload) > MaxPayload {
		return 0, rdterr.New(rdterr.Malformed, "DATA payload exceeds MAX_PAYLOAD")
	}

	dst[0] = byte(p.Type)
	dst[1] = byte(p.Operation)
	dst[2] = byte(p.Protocol)
	var flags byte
	if p.IsLast {
		flags |= flagIsLast
	}
	dst[3] = flags
	binary.BigEndian.PutUint32(dst[4:8], p.Seq)
	binary.BigEndian.PutUint16(dst[8:10], uint16(len(p.Payload)))
	copy(dst[HeaderLen:need], p.Payload)
	return need, nil
}

// Decode parses src into p, validating the header per the wire format's
// invariants. It returns rdterr.Malformed for any structural violation:
// truncated header, a payload-length field that disagrees with the trailing
// byte count, an out-of-range enum byte, or is_last set on a non-DATA packet.
func (p *Packet) Decode(src []byte) error {
	if len(src) < HeaderLen {
		return rdterr.New(rdterr.Malformed, "packet shorter than header")
	}

	typ := Type(src[0])
	if !typ.valid() {
		return rdterr.New(rdterr.Malformed, fmt.Sprintf("unknown packet type %d", src[0]))
	}
	op := Operation(src[1])
	if !op.valid() {
		return rdterr.New(rdterr.Malformed, fmt.Sprintf("unknown operation %d", src[1]))
	}
	proto := Protocol(src[2])
	if !proto.valid() {
		return rdterr.New(rdterr.Malformed, fmt.Sprintf("unknown protocol %d", src[2]))
	}
	flags := src[3]
	if flags&^byte(flagIsLast) != 0 {
		return rdterr.New(rdterr.Malformed, "unknown flag bits set")
	}
	isLast := flags&flagIsLast != 0
	if isLast && typ != TypeDATA {
		return rdterr.New(rdterr.Malformed, "is_last set on non-DATA packet")
	}

	seq := binary.BigEndian.Uint32(src[4:8])
	payloadLen := int(binary.BigEndian.Uint16(src[8:10]))
	if len(src) != HeaderLen+payloadLen {
		return rdterr.New(rdterr.Malformed, "payload_length disagrees with trailing byte count")
	}
	if typ == TypeDATA && payloadLen > MaxPayload {
		return rdterr.New(rdterr.Malformed, "DATA payload exceeds MAX_PAYLOAD")
	}

	p.Type = typ
	p.Operation = op
	p.Protocol = proto
	p.Seq = seq
	p.IsLast = isLast
	if payloadLen == 0 {
		p.Payload = nil
	} else {
		p.Payload = append(p.Payload[:0], src[HeaderLen:HeaderLen+payloadLen]...)
	}
	return nil
}

// WireLen returns the number of bytes Encode will need for p.
func (p *Packet) WireLen() int {
	return HeaderLen + len(p.Payload)
}
