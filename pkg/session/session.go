// Package session carries out the three-way SYN/SYN-ACK/ACK handshake and
// FIN/FIN-ACK teardown that bracket every file transfer, and holds the
// state (peer address, socket, negotiated operation/protocol) a transfer
// needs once the handshake has completed.
package session

import (
	"net"

	"github.com/google/uuid"
	"github.com/jgoldverg/grdt/pkg/endpoint"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
)

// Session is the negotiated state of one file transfer: a dedicated socket,
// the peer's address, and what the SYN declared. ID exists purely for logs
// and the audit journal; it is never part of the dispatcher's session-table
// key, which stays the peer's address per the handshake's own identification.
type Session struct {
	ID        uuid.UUID
	Peer      *net.UDPAddr
	Operation rdtwire.Operation
	Protocol  rdtwire.Protocol
	FileName  string
	Socket    *endpoint.Socket
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
