package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector("")

	c.SessionOpened()
	c.SessionOpened()
	c.BytesSent(100)
	c.BytesReceived(40)
	c.Retransmission()
	c.Timeout()
	c.SessionClosed(false)
	c.SessionClosed(true)

	if got := testutil.ToFloat64(c.activeSessions); got != 0 {
		t.Fatalf("activeSessions = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.sessionsTotal); got != 2 {
		t.Fatalf("sessionsTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.sessionsFailed); got != 1 {
		t.Fatalf("sessionsFailed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.bytesSent); got != 100 {
		t.Fatalf("bytesSent = %v, want 100", got)
	}
	if got := testutil.ToFloat64(c.bytesReceived); got != 40 {
		t.Fatalf("bytesReceived = %v, want 40", got)
	}
	if got := testutil.ToFloat64(c.retransmissions); got != 1 {
		t.Fatalf("retransmissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.timeouts); got != 1 {
		t.Fatalf("timeouts = %v, want 1", got)
	}
}
