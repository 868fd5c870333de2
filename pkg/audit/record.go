// Package audit appends a TOML record of every completed or aborted
// transfer to the server's storage directory, for after-the-fact inspection
// independent of the live Prometheus counters.
package audit

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const fileName = ".transfers.toml"

// Entry describes one finished transfer, keyed by its session ID.
type Entry struct {
	SessionID   uuid.UUID `toml:"session_id"`
	PeerAddr    string    `toml:"peer_addr"`
	Operation   string    `toml:"operation"`
	Protocol    string    `toml:"protocol"`
	File        string    `toml:"file"`
	Bytes       int64     `toml:"bytes"`
	Retries     int       `toml:"retries"`
	StartedAt   time.Time `toml:"started_at"`
	FinishedAt  time.Time `toml:"finished_at"`
	Succeeded   bool      `toml:"succeeded"`
	FailureKind string    `toml:"failure_kind,omitempty"`
}

type document struct {
	Transfers map[string]Entry `toml:"transfers"`
}

// Log is an append-only TOML journal of transfer completions.
type Log struct {
	mu       sync.Mutex
	filePath string
}

// Open returns a Log backed by storageDir/.transfers.toml, creating the
// storage directory and an empty journal if neither exists yet.
func Open(storageDir string) (*Log, error) {
	path := filepath.Join(storageDir, fileName)
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, err
		}
	}
	return &Log{filePath: path}, nil
}

// Append records entry, merging it into the existing journal.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return err
	}
	if doc.Transfers == nil {
		doc.Transfers = make(map[string]Entry)
	}
	doc.Transfers[entry.SessionID.String()] = entry
	return l.save(doc)
}

func (l *Log) load() (document, error) {
	var doc document
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func (l *Log) save(doc document) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return err
	}
	return os.WriteFile(l.filePath, buf.Bytes(), 0o644)
}
