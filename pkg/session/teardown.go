package session

import (
	"context"
	"time"

	"github.com/jgoldverg/grdt/pkg/rdt"
	"github.com/jgoldverg/grdt/pkg/rdterr"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
)

// idleTimeout bounds a single Receive call while WaitForTeardown waits for
// the peer's FIN; ctx cancellation is what actually ends a stalled wait.
const idleTimeout = rdt.DefaultRTO * 4

// Teardown is called by the side that pushed the file's bytes, once every
// DATA frame is acked. It sends FIN, waits for FIN-ACK (retrying on timeout),
// then lingers for Linger, answering any FIN from the peer with FIN-ACK.
func (s *Session) Teardown(ctx context.Context) error {
	fin := &rdtwire.Packet{Type: rdtwire.TypeFIN}
	if err := s.Socket.Send(fin, s.Peer); err != nil {
		return err
	}

	retries := 0
	deadline := time.Now().Add(rdt.DefaultRTO)
	for {
		if err := ctx.Err(); err != nil {
			return rdterr.Wrap(rdterr.NetworkError, "teardown canceled", err)
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		pkt, from, err := s.Socket.Receive(remaining)
		if err != nil {
			if rdterr.Is(err, rdterr.Timeout) {
				retries++
				if retries > rdt.MaxRetries {
					return rdterr.New(rdterr.PeerUnresponsive, "peer did not ack FIN")
				}
				if err := s.Socket.Send(fin, s.Peer); err != nil {
					return err
				}
				deadline = time.Now().Add(rdt.DefaultRTO)
				continue
			}
			return err
		}
		if !addrEqual(from, s.Peer) || pkt.Type != rdtwire.TypeFINACK {
			continue
		}
		break
	}

	s.lingerForDuplicateFIN()
	return nil
}

// WaitForTeardown is called by the side that only received bytes. It blocks
// until the peer's FIN arrives, answers with FIN-ACK, and then lingers the
// same way Teardown does.
func (s *Session) WaitForTeardown(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return rdterr.Wrap(rdterr.NetworkError, "teardown canceled", err)
		}
		pkt, from, err := s.Socket.Receive(idleTimeout)
		if err != nil {
			if rdterr.Is(err, rdterr.Timeout) {
				continue
			}
			return err
		}
		if !addrEqual(from, s.Peer) || pkt.Type != rdtwire.TypeFIN {
			continue
		}
		if err := s.Socket.Send(&rdtwire.Packet{Type: rdtwire.TypeFINACK}, s.Peer); err != nil {
			return err
		}
		break
	}

	s.lingerForDuplicateFIN()
	return nil
}

func (s *Session) lingerForDuplicateFIN() {
	deadline := time.Now().Add(rdt.Linger)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		pkt, from, err := s.Socket.Receive(remaining)
		if err != nil {
			return
		}
		if addrEqual(from, s.Peer) && pkt.Type == rdtwire.TypeFIN {
			_ = s.Socket.Send(&rdtwire.Packet{Type: rdtwire.TypeFINACK}, s.Peer)
		}
	}
}
