package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAppendAndReload(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entry := Entry{
		SessionID:  uuid.New(),
		PeerAddr:   "127.0.0.1:5000",
		Operation:  "UPLOAD",
		Protocol:   "GO_BACK_N",
		File:       "report.csv",
		Bytes:      4096,
		Retries:    2,
		StartedAt:  time.Now().Add(-time.Second),
		FinishedAt: time.Now(),
		Succeeded:  true,
	}
	if err := l.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("Open (reload): %v", err)
	}
	doc, err := reloaded.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := doc.Transfers[entry.SessionID.String()]
	if !ok {
		t.Fatalf("entry not found after reload")
	}
	if got.File != "report.csv" || got.Bytes != 4096 {
		t.Fatalf("got %+v", got)
	}
}

func TestAppendMergesMultipleEntries(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	a := Entry{SessionID: uuid.New(), File: "a.bin", Succeeded: true}
	b := Entry{SessionID: uuid.New(), File: "b.bin", Succeeded: false, FailureKind: "TIMEOUT"}

	if err := l.Append(a); err != nil {
		t.Fatalf("Append a: %v", err)
	}
	if err := l.Append(b); err != nil {
		t.Fatalf("Append b: %v", err)
	}

	doc, err := l.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Transfers) != 2 {
		t.Fatalf("got %d entries, want 2", len(doc.Transfers))
	}
}
