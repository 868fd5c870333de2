package session

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jgoldverg/grdt/internal"
	"github.com/jgoldverg/grdt/pkg/endpoint"
	"github.com/jgoldverg/grdt/pkg/rdt"
	"github.com/jgoldverg/grdt/pkg/rdterr"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
)

// ClientHandshake is the protocol-initiator side: it sends SYN to the
// dispatcher's well-known address and waits for SYN-ACK, retrying on the
// shared RTO/MaxRetries budget. SYN-ACK may (and typically does) arrive from
// a different, ephemeral source port than serverAddr; that new port becomes
// the peer for the rest of the session.
func ClientHandshake(ctx context.Context, sock *endpoint.Socket, serverAddr *net.UDPAddr, op rdtwire.Operation, proto rdtwire.Protocol, fileName string) (*Session, error) {
	syn := &rdtwire.Packet{Type: rdtwire.TypeSYN, Operation: op, Protocol: proto, Payload: []byte(fileName)}
	if err := sock.Send(syn, serverAddr); err != nil {
		return nil, err
	}

	retries := 0
	deadline := time.Now().Add(rdt.DefaultRTO)
	for {
		if err := ctx.Err(); err != nil {
			return nil, rdterr.Wrap(rdterr.NetworkError, "handshake canceled", err)
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		pkt, from, err := sock.Receive(remaining)
		if err != nil {
			if rdterr.Is(err, rdterr.Timeout) {
				retries++
				if retries > rdt.MaxRetries {
					return nil, rdterr.New(rdterr.PeerUnresponsive, "server did not respond to SYN")
				}
				internal.Debug("retransmitting SYN", internal.Fields{internal.FieldRetries: retries})
				if err := sock.Send(syn, serverAddr); err != nil {
					return nil, err
				}
				deadline = time.Now().Add(rdt.DefaultRTO)
				continue
			}
			return nil, err
		}

		switch pkt.Type {
		case rdtwire.TypeERROR:
			return nil, rdterr.New(rdterr.ParseKind(string(pkt.Payload)), "server rejected SYN")
		case rdtwire.TypeSYNACK:
			ack := &rdtwire.Packet{Type: rdtwire.TypeACK}
			if err := sock.Send(ack, from); err != nil {
				return nil, err
			}
			return &Session{ID: uuid.New(), Peer: from, Operation: op, Protocol: proto, FileName: fileName, Socket: sock}, nil
		default:
			continue // stray datagram; keep waiting out the current deadline
		}
	}
}

// ServerAccept is the responder side. The dispatcher has already read syn on
// its well-known socket; ServerAccept opens a fresh ephemeral socket at
// bindAddr, exchanges SYN-ACK/ACK with peer through it, and returns the
// Session bound to that socket. The caller owns closing the returned
// Session's socket on every exit path.
func ServerAccept(ctx context.Context, syn *rdtwire.Packet, peer *net.UDPAddr, bindAddr string, opts endpoint.Options) (*Session, error) {
	sock, err := endpoint.Listen(bindAddr, opts)
	if err != nil {
		return nil, err
	}

	op := syn.Operation
	proto := syn.Protocol
	fileName := string(syn.Payload)

	synack := &rdtwire.Packet{Type: rdtwire.TypeSYNACK}
	if err := sock.Send(synack, peer); err != nil {
		sock.Close()
		return nil, err
	}

	retries := 0
	deadline := time.Now().Add(rdt.DefaultRTO)
	for {
		if err := ctx.Err(); err != nil {
			sock.Close()
			return nil, rdterr.Wrap(rdterr.NetworkError, "handshake canceled", err)
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		pkt, from, err := sock.Receive(remaining)
		if err != nil {
			if rdterr.Is(err, rdterr.Timeout) {
				retries++
				if retries > rdt.MaxRetries {
					sock.Close()
					return nil, rdterr.New(rdterr.PeerUnresponsive, "client did not ack SYN-ACK")
				}
				if err := sock.Send(synack, peer); err != nil {
					sock.Close()
					return nil, err
				}
				deadline = time.Now().Add(rdt.DefaultRTO)
				continue
			}
			sock.Close()
			return nil, err
		}
		if !addrEqual(from, peer) {
			continue // datagram from an unrelated peer; this ephemeral socket is single-session
		}

		switch pkt.Type {
		case rdtwire.TypeSYN:
			// client never saw our SYN-ACK; resend it and keep waiting.
			if err := sock.Send(synack, peer); err != nil {
				sock.Close()
				return nil, err
			}
			continue
		case rdtwire.TypeACK:
			return &Session{ID: uuid.New(), Peer: peer, Operation: op, Protocol: proto, FileName: fileName, Socket: sock}, nil
		default:
			sock.Close()
			return nil, rdterr.New(rdterr.ProtocolViolation, "expected ACK, got "+pkt.Type.String())
		}
	}
}
