package session

import (
	"context"
	"testing"
	"time"

	"github.com/jgoldverg/grdt/pkg/endpoint"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
)

func TestHandshakeRoundTrip(t *testing.T) {
	wellKnown, err := endpoint.Listen("127.0.0.1:0", endpoint.Options{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer wellKnown.Close()

	clientSock, err := endpoint.Listen("127.0.0.1:0", endpoint.Options{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer clientSock.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverDone := make(chan *Session, 1)
	serverErr := make(chan error, 1)
	go func() {
		syn, peer, err := wellKnown.Receive(5 * time.Second)
		if err != nil {
			serverErr <- err
			return
		}
		sess, err := ServerAccept(ctx, syn, peer, "127.0.0.1:0", endpoint.Options{})
		if err != nil {
			serverErr <- err
			return
		}
		serverDone <- sess
	}()

	clientSess, err := ClientHandshake(ctx, clientSock, wellKnown.LocalAddr(), rdtwire.OpUpload, rdtwire.ProtoGoBackN, "report.csv")
	if err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}
	defer clientSess.Socket.Close()

	select {
	case err := <-serverErr:
		t.Fatalf("ServerAccept: %v", err)
	case serverSess := <-serverDone:
		defer serverSess.Socket.Close()
		if serverSess.FileName != "report.csv" {
			t.Fatalf("FileName = %q, want report.csv", serverSess.FileName)
		}
		if serverSess.Operation != rdtwire.OpUpload || serverSess.Protocol != rdtwire.ProtoGoBackN {
			t.Fatalf("unexpected negotiated operation/protocol: %+v", serverSess)
		}
		if clientSess.Peer.Port != serverSess.Socket.LocalAddr().Port {
			t.Fatalf("client peer port %d does not match server's ephemeral socket port %d", clientSess.Peer.Port, serverSess.Socket.LocalAddr().Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server handshake")
	}
}

func TestTeardownRoundTrip(t *testing.T) {
	a, err := endpoint.Listen("127.0.0.1:0", endpoint.Options{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()
	b, err := endpoint.Listen("127.0.0.1:0", endpoint.Options{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer b.Close()

	sa := &Session{Socket: a, Peer: b.LocalAddr()}
	sb := &Session{Socket: b, Peer: a.LocalAddr()}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	waitErr := make(chan error, 1)
	go func() { waitErr <- sb.WaitForTeardown(ctx) }()

	if err := sa.Teardown(ctx); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if err := <-waitErr; err != nil {
		t.Fatalf("WaitForTeardown: %v", err)
	}
}
