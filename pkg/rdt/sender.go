package rdt

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/jgoldverg/grdt/internal"
	"github.com/jgoldverg/grdt/pkg/endpoint"
	"github.com/jgoldverg/grdt/pkg/metrics"
	"github.com/jgoldverg/grdt/pkg/rdterr"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
)

type frame struct {
	seq     uint32
	payload []byte
	isLast  bool
}

// Sender drives the sending side of a transfer: Stop-and-Wait when built
// with ProtoStopAndWait, Go-Back-N when built with ProtoGoBackN. Both share
// this one engine; WindowSize() is the only place they differ.
type Sender struct {
	sock       *endpoint.Socket
	peer       *net.UDPAddr
	op         rdtwire.Operation
	proto      rdtwire.Protocol
	rto        time.Duration
	maxRetries int

	// Metrics, when set, receives retransmission and byte counts as the
	// transfer progresses. Nil is safe; nothing is recorded.
	Metrics *metrics.Collector
}

func NewSender(sock *endpoint.Socket, peer *net.UDPAddr, op rdtwire.Operation, proto rdtwire.Protocol) *Sender {
	return &Sender{sock: sock, peer: peer, op: op, proto: proto, rto: DefaultRTO, maxRetries: MaxRetries}
}

// Send streams r to the peer as a sequence of DATA frames and blocks until
// the peer's cumulative ACKs confirm every frame, including the final one.
// It returns the number of payload bytes sent.
func (s *Sender) Send(ctx context.Context, r io.Reader) (int64, error) {
	fr := newFrameReader(r)
	window := s.proto.WindowSize()

	var inFlight []frame
	base := uint32(0)
	next := uint32(0)
	var total int64
	lastQueued := false

	transmit := func(f frame) error {
		pkt := &rdtwire.Packet{Type: rdtwire.TypeDATA, Operation: s.op, Protocol: s.proto, Seq: f.seq, IsLast: f.isLast, Payload: f.payload}
		return s.sock.Send(pkt, s.peer)
	}

	fill := func() error {
		for !lastQueued && len(inFlight) < window {
			payload, isLast, ok, err := fr.next()
			if err != nil {
				return rdterr.Wrap(rdterr.FileIO, "read next frame", err)
			}
			if !ok {
				break
			}
			f := frame{seq: next, payload: payload, isLast: isLast}
			if err := transmit(f); err != nil {
				return err
			}
			inFlight = append(inFlight, f)
			total += int64(len(payload))
			if s.Metrics != nil {
				s.Metrics.BytesSent(len(payload))
			}
			next++
			if isLast {
				lastQueued = true
			}
		}
		return nil
	}

	if err := fill(); err != nil {
		return total, err
	}

	retries := 0
	deadline := time.Now().Add(s.rto)
	for len(inFlight) > 0 {
		if err := ctx.Err(); err != nil {
			return total, rdterr.Wrap(rdterr.NetworkError, "transfer canceled", err)
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		pkt, from, err := s.sock.Receive(remaining)
		if err != nil {
			if rdterr.Is(err, rdterr.Timeout) {
				retries++
				if retries > s.maxRetries {
					return total, rdterr.New(rdterr.PeerUnresponsive, "peer did not ack within retry budget")
				}
				internal.Debug("retransmitting window", internal.Fields{
					internal.FieldSeq:     base,
					internal.FieldRetries: retries,
				})
				if s.Metrics != nil {
					s.Metrics.Timeout()
				}
				for _, f := range inFlight {
					if err := transmit(f); err != nil {
						return total, err
					}
					if s.Metrics != nil {
						s.Metrics.Retransmission()
						s.Metrics.BytesSent(len(f.payload))
					}
				}
				deadline = time.Now().Add(s.rto)
				continue
			}
			return total, err
		}
		if !addrEqual(from, s.peer) {
			continue
		}
		if pkt.Type == rdtwire.TypeERROR {
			return total, rdterr.New(rdterr.ParseKind(string(pkt.Payload)), "peer aborted transfer")
		}
		if pkt.Type != rdtwire.TypeACK {
			return total, rdterr.New(rdterr.ProtocolViolation, "expected ACK, got "+pkt.Type.String())
		}

		if pkt.Seq > base {
			for len(inFlight) > 0 && inFlight[0].seq < pkt.Seq {
				inFlight = inFlight[1:]
			}
			base = pkt.Seq
			retries = 0
			deadline = time.Now().Add(s.rto)
			if err := fill(); err != nil {
				return total, err
			}
		}
		// pkt.Seq <= base is a stale or duplicate ack; keep waiting on the
		// current deadline without resetting the retry budget.
	}

	return total, nil
}
