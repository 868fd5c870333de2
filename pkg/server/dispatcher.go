// Package server implements the dispatcher: the well-known UDP listener
// that fields SYNs, hands each new peer its own ephemeral session, and
// tracks every open session in a mutex-guarded table keyed by peer address.
package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jgoldverg/grdt/internal"
	"github.com/jgoldverg/grdt/pkg/audit"
	"github.com/jgoldverg/grdt/pkg/endpoint"
	"github.com/jgoldverg/grdt/pkg/metrics"
	"github.com/jgoldverg/grdt/pkg/rdt"
	"github.com/jgoldverg/grdt/pkg/rdterr"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
	"github.com/jgoldverg/grdt/pkg/session"
)

// Dispatcher owns the well-known listening socket and the session table.
// One goroutine runs Run's accept loop; every accepted session gets its own
// goroutine and its own ephemeral socket.
type Dispatcher struct {
	wellKnown  *endpoint.Socket
	storageDir string
	sockOpts   endpoint.Options
	metrics    *metrics.Collector
	auditLog   *audit.Log

	mu    sync.Mutex
	table map[string]context.CancelFunc
}

// New binds the dispatcher's well-known socket at bindAddr and prepares an
// empty session table. storageDir is where uploaded files land and
// downloaded files are read from.
func New(bindAddr, storageDir string, sockOpts endpoint.Options, collector *metrics.Collector, auditLog *audit.Log) (*Dispatcher, error) {
	sockOpts.Reuse = true
	sock, err := endpoint.Listen(bindAddr, sockOpts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		sock.Close()
		return nil, rdterr.Wrap(rdterr.FileIO, "create storage directory", err)
	}
	return &Dispatcher{
		wellKnown:  sock,
		storageDir: storageDir,
		sockOpts:   sockOpts,
		metrics:    collector,
		auditLog:   auditLog,
		table:      make(map[string]context.CancelFunc),
	}, nil
}

// LocalAddr returns the well-known socket's bound address.
func (d *Dispatcher) LocalAddr() *net.UDPAddr { return d.wellKnown.LocalAddr() }

// Run services the well-known socket until ctx is canceled. Every SYN from
// a peer without an active table entry spawns a session worker; SYNs from a
// peer already in the table are dropped, since that peer's own responder
// goroutine is already retransmitting its SYN-ACK.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.shutdown()
	for {
		if ctx.Err() != nil {
			return nil
		}
		pkt, peer, err := d.wellKnown.Receive(time.Second)
		if err != nil {
			if rdterr.Is(err, rdterr.Timeout) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			internal.Warn("dispatcher receive error", internal.Fields{internal.FieldError: err.Error()})
			continue
		}
		if pkt.Type != rdtwire.TypeSYN {
			continue
		}
		d.acceptSYN(ctx, pkt, peer)
	}
}

// acceptSYN runs entirely on the dispatcher's own accept-loop goroutine, so
// it never races another acceptSYN call. It validates the requested file
// before creating any session state: on failure it replies ERROR from the
// well-known socket and the peer never enters the session table.
func (d *Dispatcher) acceptSYN(ctx context.Context, syn *rdtwire.Packet, peer *net.UDPAddr) {
	key := peer.String()

	d.mu.Lock()
	_, exists := d.table[key]
	d.mu.Unlock()
	if exists {
		internal.Debug("dropping duplicate SYN for active session", internal.Fields{internal.FieldPeer: key})
		return
	}

	if err := d.validateFile(syn); err != nil {
		internal.Warn("rejecting SYN", internal.Fields{internal.FieldPeer: key, internal.FieldError: err.Error()})
		d.sendErrorTo(d.wellKnown, peer, rdterr.KindOf(err))
		return
	}

	d.mu.Lock()
	sessionCtx, cancel := context.WithCancel(ctx)
	d.table[key] = cancel
	d.mu.Unlock()

	go d.runSession(sessionCtx, syn, peer, key)
}

// validateFile checks the SYN's declared operation against the storage
// directory before any socket or session state is allocated for the peer:
// an upload must target a name that doesn't exist yet, a download must
// target one that does.
func (d *Dispatcher) validateFile(syn *rdtwire.Packet) error {
	fileName := string(syn.Payload)
	if fileName == "" {
		return rdterr.New(rdterr.ProtocolViolation, "SYN carried no file name")
	}
	path := filepath.Join(d.storageDir, filepath.Base(fileName))

	switch syn.Operation {
	case rdtwire.OpUpload:
		if _, err := os.Stat(path); err == nil {
			return rdterr.New(rdterr.FileExists, "destination already exists")
		} else if !os.IsNotExist(err) {
			return rdterr.Wrap(rdterr.FileIO, "stat destination file", err)
		}
		return nil
	case rdtwire.OpDownload:
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return rdterr.New(rdterr.FileNotFound, "source file missing")
			}
			return rdterr.Wrap(rdterr.FileIO, "stat source file", err)
		}
		return nil
	default:
		return rdterr.New(rdterr.ProtocolViolation, "unrecognized operation in SYN")
	}
}

func (d *Dispatcher) runSession(ctx context.Context, syn *rdtwire.Packet, peer *net.UDPAddr, key string) {
	defer func() {
		d.mu.Lock()
		if cancel, ok := d.table[key]; ok {
			cancel()
			delete(d.table, key)
		}
		d.mu.Unlock()
	}()

	sess, err := session.ServerAccept(ctx, syn, peer, d.ephemeralBindAddr(), d.sockOpts)
	if err != nil {
		internal.Error("handshake failed", internal.Fields{internal.FieldError: err.Error(), internal.FieldPeer: key})
		return
	}
	defer sess.Socket.Close()

	if d.metrics != nil {
		d.metrics.SessionOpened()
	}
	internal.Info("session opened", internal.Fields{
		internal.FieldSession:   sess.ID.String(),
		internal.FieldPeer:      key,
		internal.FieldOperation: sess.Operation.String(),
		internal.FieldProtocol:  sess.Protocol.String(),
		internal.FieldFile:      sess.FileName,
	})

	start := time.Now()
	bytesMoved, transferErr := d.runTransfer(ctx, sess)
	if transferErr == nil {
		if sess.Operation == rdtwire.OpUpload {
			transferErr = sess.WaitForTeardown(ctx)
		} else {
			transferErr = sess.Teardown(ctx)
		}
	}

	if d.metrics != nil {
		d.metrics.SessionClosed(transferErr != nil)
		if rdterr.Is(transferErr, rdterr.ProtocolViolation) {
			d.metrics.ProtocolViolation()
		}
	}
	d.recordAudit(sess, start, bytesMoved, transferErr)

	if transferErr != nil {
		internal.Error("session ended with error", internal.Fields{
			internal.FieldSession: sess.ID.String(),
			internal.FieldError:   transferErr.Error(),
		})
		return
	}
	internal.Info("session closed", internal.Fields{
		internal.FieldSession: sess.ID.String(),
		internal.FieldBytes:   bytesMoved,
	})
}

func (d *Dispatcher) runTransfer(ctx context.Context, sess *session.Session) (int64, error) {
	switch sess.Operation {
	case rdtwire.OpUpload:
		return d.receiveUpload(ctx, sess)
	case rdtwire.OpDownload:
		return d.sendDownload(ctx, sess)
	default:
		return 0, rdterr.New(rdterr.ProtocolViolation, "unrecognized operation in SYN")
	}
}

// receiveUpload re-checks existence with O_EXCL because validateFile's stat
// ran before the handshake completed: a second upload SYN for the same name
// can win the race and reach here first.
func (d *Dispatcher) receiveUpload(ctx context.Context, sess *session.Session) (int64, error) {
	path := filepath.Join(d.storageDir, filepath.Base(sess.FileName))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			d.sendErrorTo(sess.Socket, sess.Peer, rdterr.FileExists)
			return 0, rdterr.Wrap(rdterr.FileExists, "destination already exists", err)
		}
		return 0, rdterr.Wrap(rdterr.FileIO, "open destination file", err)
	}
	defer f.Close()

	recv := rdt.NewReceiver(sess.Socket, sess.Peer)
	recv.Metrics = d.metrics
	n, err := recv.Receive(ctx, f)
	if err != nil {
		_ = os.Remove(path)
	}
	return n, err
}

// sendDownload re-checks existence because validateFile's stat ran before
// the handshake completed: the file could have been removed in between.
func (d *Dispatcher) sendDownload(ctx context.Context, sess *session.Session) (int64, error) {
	path := filepath.Join(d.storageDir, filepath.Base(sess.FileName))

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			d.sendErrorTo(sess.Socket, sess.Peer, rdterr.FileNotFound)
			return 0, rdterr.Wrap(rdterr.FileNotFound, "source file missing", err)
		}
		return 0, rdterr.Wrap(rdterr.FileIO, "open source file", err)
	}
	defer f.Close()

	sender := rdt.NewSender(sess.Socket, sess.Peer, sess.Operation, sess.Protocol)
	sender.Metrics = d.metrics
	return sender.Send(ctx, f)
}

func (d *Dispatcher) sendErrorTo(sock *endpoint.Socket, peer *net.UDPAddr, kind rdterr.Kind) {
	_ = sock.Send(&rdtwire.Packet{Type: rdtwire.TypeERROR, Payload: []byte(kind.String())}, peer)
}

func (d *Dispatcher) recordAudit(sess *session.Session, start time.Time, bytesMoved int64, transferErr error) {
	if d.auditLog == nil {
		return
	}
	entry := audit.Entry{
		SessionID:  sess.ID,
		PeerAddr:   sess.Peer.String(),
		Operation:  sess.Operation.String(),
		Protocol:   sess.Protocol.String(),
		File:       sess.FileName,
		Bytes:      bytesMoved,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Succeeded:  transferErr == nil,
	}
	if transferErr != nil {
		entry.FailureKind = rdterr.KindOf(transferErr).String()
	}
	if err := d.auditLog.Append(entry); err != nil {
		internal.Warn("failed to append audit record", internal.Fields{internal.FieldError: err.Error()})
	}
}

func (d *Dispatcher) ephemeralBindAddr() string {
	host, _, err := net.SplitHostPort(d.wellKnown.LocalAddr().String())
	if err != nil {
		return "127.0.0.1:0"
	}
	return net.JoinHostPort(host, "0")
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	for key, cancel := range d.table {
		cancel()
		delete(d.table, key)
	}
	d.mu.Unlock()
	_ = d.wellKnown.Close()
}
