// Package rdt implements the Stop-and-Wait and Go-Back-N sliding-window
// engines that move a file's bytes reliably over an endpoint.Socket once a
// session's handshake has completed.
package rdt

import (
	"net"
	"time"
)

// DefaultRTO is the retransmission timeout applied to every outstanding
// window. MaxRetries bounds how many consecutive timeouts a sender tolerates
// before giving up on an unresponsive peer. Linger is how long a session
// keeps its ephemeral socket open after teardown to absorb a duplicate FIN.
const (
	DefaultRTO = 500 * time.Millisecond
	MaxRetries = 10
	Linger     = 2 * DefaultRTO
)

func addrEqual(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
