// Package endpoint wraps a single UDP socket with the send/receive/close
// contract every RDT session is built on top of.
package endpoint

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jgoldverg/grdt/internal"
	"github.com/jgoldverg/grdt/pkg/rdterr"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
)

const defaultRecvBufferSize = 2048

// Socket owns exactly one UDP socket. No two sessions share a Socket.
type Socket struct {
	conn *net.UDPConn
	buf  []byte
}

// Options configures the underlying socket buffers and listen behavior.
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	// Reuse enables SO_REUSEADDR/SO_REUSEPORT on the bound socket, so a
	// restarted dispatcher can rebind its well-known port immediately.
	Reuse bool
}

// Listen binds a new Socket to bindAddr ("host:port", or "host:0"/":0" for an
// ephemeral port). Used both for the server's well-known listening socket and
// for per-session ephemeral sockets (server side) and the client socket.
func Listen(bindAddr string, opts Options) (*Socket, error) {
	lc := net.ListenConfig{}
	if opts.Reuse {
		lc.Control = reuseControl
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", bindAddr)
	if err != nil {
		return nil, rdterr.Wrap(rdterr.NetworkError, "bind udp socket", err)
	}
	conn := pc.(*net.UDPConn)

	if opts.ReadBufferSize > 0 {
		_ = conn.SetReadBuffer(opts.ReadBufferSize)
	}
	if opts.WriteBufferSize > 0 {
		_ = conn.SetWriteBuffer(opts.WriteBufferSize)
	}

	return &Socket{conn: conn, buf: make([]byte, defaultRecvBufferSize)}, nil
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Send encodes pkt and transmits it to peer. The underlying datagram write is
// treated as non-blocking/immediate per the concurrency model; a failure to
// transmit is reported as NetworkError.
func (s *Socket) Send(pkt *rdtwire.Packet, peer *net.UDPAddr) error {
	buf := make([]byte, pkt.WireLen())
	n, err := pkt.Encode(buf)
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteToUDP(buf[:n], peer); err != nil {
		return rdterr.Wrap(rdterr.NetworkError, "write udp datagram", err)
	}
	return nil
}

// Receive waits up to timeout for a datagram. On expiry it fails with
// Timeout; on malformed bytes it fails with Malformed (the caller may choose
// to retry by calling Receive again).
func (s *Socket) Receive(timeout time.Duration) (*rdtwire.Packet, *net.UDPAddr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, rdterr.Wrap(rdterr.NetworkError, "set read deadline", err)
	}

	n, addr, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil, rdterr.New(rdterr.Timeout, "receive deadline exceeded")
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, rdterr.Wrap(rdterr.NetworkError, "socket closed", err)
		}
		return nil, nil, rdterr.Wrap(rdterr.NetworkError, "read udp datagram", err)
	}

	var pkt rdtwire.Packet
	if err := pkt.Decode(s.buf[:n]); err != nil {
		return nil, addr, err
	}
	return &pkt, addr, nil
}

// Close releases the underlying socket. Safe to call once on every
// session-exit path (success, abort, or error).
func (s *Socket) Close() error {
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		internal.Warn("error closing udp socket", internal.Fields{internal.FieldError: err.Error()})
		return err
	}
	return nil
}
