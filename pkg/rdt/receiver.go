package rdt

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/jgoldverg/grdt/pkg/endpoint"
	"github.com/jgoldverg/grdt/pkg/metrics"
	"github.com/jgoldverg/grdt/pkg/rdterr"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
)

// idleTimeout bounds a single Receive call while waiting for the next DATA
// frame; ctx cancellation is what actually ends a stalled transfer.
const idleTimeout = DefaultRTO * 4

// Receiver drives the receiving side of a transfer. It accepts only
// in-order DATA frames, cumulatively ACKs with the next expected sequence
// number (one past the highest contiguous frame delivered), and re-ACKs on any duplicate or out-of-order arrival so a
// sender stuck retransmitting its window makes progress again.
type Receiver struct {
	sock *endpoint.Socket
	peer *net.UDPAddr

	// Metrics, when set, receives delivered byte counts. Nil is safe.
	Metrics *metrics.Collector
}

func NewReceiver(sock *endpoint.Socket, peer *net.UDPAddr) *Receiver {
	return &Receiver{sock: sock, peer: peer}
}

// Receive writes the incoming DATA stream to w and returns once the frame
// marked IsLast has been delivered and acked.
func (rv *Receiver) Receive(ctx context.Context, w io.Writer) (int64, error) {
	expected := uint32(0)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, rdterr.Wrap(rdterr.NetworkError, "transfer canceled", err)
		}

		pkt, from, err := rv.sock.Receive(idleTimeout)
		if err != nil {
			if rdterr.Is(err, rdterr.Timeout) {
				continue
			}
			return total, err
		}
		if !addrEqual(from, rv.peer) {
			continue
		}
		if pkt.Type == rdtwire.TypeERROR {
			return total, rdterr.New(rdterr.ParseKind(string(pkt.Payload)), "server aborted transfer")
		}
		if pkt.Type != rdtwire.TypeDATA {
			return total, rdterr.New(rdterr.ProtocolViolation, "expected DATA, got "+pkt.Type.String())
		}

		switch {
		case pkt.Seq == expected:
			if len(pkt.Payload) > 0 {
				if _, err := w.Write(pkt.Payload); err != nil {
					return total, rdterr.Wrap(rdterr.FileIO, "write received frame", err)
				}
				total += int64(len(pkt.Payload))
				if rv.Metrics != nil {
					rv.Metrics.BytesReceived(len(pkt.Payload))
				}
			}
			expected++
			isLast := pkt.IsLast
			if err := rv.ack(expected); err != nil {
				return total, err
			}
			if isLast {
				rv.lingerForDuplicateFinal(expected)
				return total, nil
			}
		default:
			// Duplicate (seq < expected) or out-of-order-ahead (seq > expected):
			// Go-Back-N keeps no receive buffer, so both are dropped and the
			// last cumulative ack is repeated to prompt retransmission.
			if err := rv.ack(expected); err != nil {
				return total, err
			}
		}
	}
}

func (rv *Receiver) ack(seq uint32) error {
	return rv.sock.Send(&rdtwire.Packet{Type: rdtwire.TypeACK, Seq: seq}, rv.peer)
}

// lingerForDuplicateFinal answers a retransmitted final DATA frame for
// Linger after the transfer's last ack, the same way
// session.lingerForDuplicateFIN answers a retransmitted FIN: the sender may
// not have seen our final ACK and will retransmit its whole outstanding
// window until it does.
func (rv *Receiver) lingerForDuplicateFinal(ackSeq uint32) {
	deadline := time.Now().Add(Linger)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		pkt, from, err := rv.sock.Receive(remaining)
		if err != nil {
			return
		}
		if addrEqual(from, rv.peer) && pkt.Type == rdtwire.TypeDATA {
			_ = rv.ack(ackSeq)
		}
	}
}
