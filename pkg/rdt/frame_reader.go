package rdt

import (
	"errors"
	"io"

	"github.com/jgoldverg/grdt/pkg/rdtwire"
)

// frameReader splits a byte stream into MAX_PAYLOAD-sized frames, looking one
// frame ahead so it can mark the true final frame with IsLast without ever
// buffering more than two chunks. A zero-length source yields exactly one
// empty final frame, matching the wire format's empty-file case.
type frameReader struct {
	r       io.Reader
	buf     []byte
	peek    []byte
	peekEOF bool
	err     error
	done    bool
}

func newFrameReader(r io.Reader) *frameReader {
	fr := &frameReader{r: r, buf: make([]byte, rdtwire.MaxPayload)}
	fr.load()
	return fr
}

func (fr *frameReader) load() {
	n, err := io.ReadFull(fr.r, fr.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		fr.err = err
		return
	}
	fr.peek = append([]byte(nil), fr.buf[:n]...)
	fr.peekEOF = errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// next returns the next frame to send. ok is false once the final frame has
// already been returned by a prior call.
func (fr *frameReader) next() (payload []byte, isLast bool, ok bool, err error) {
	if fr.err != nil {
		return nil, false, false, fr.err
	}
	if fr.done {
		return nil, false, false, nil
	}

	cur := fr.peek
	if fr.peekEOF {
		fr.done = true
		return cur, true, true, nil
	}

	fr.load()
	if fr.err != nil {
		return nil, false, false, fr.err
	}
	last := fr.peekEOF && len(fr.peek) == 0
	if last {
		fr.done = true
	}
	return cur, last, true, nil
}
