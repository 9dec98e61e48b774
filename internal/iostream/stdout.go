// Package iostream implements the stdout multiplexer: it reads the
// interpreter's standard output, forwards it to a configurable sink, and
// splits on a random sentinel so callers can seize the tail of the stream
// as a fresh reader.
package iostream

import (
	"bytes"
	"context"
	"io"
	"sync"

	"go.uber.org/zap"
)

// view is one consumer's window onto the upstream stream, open from the
// moment it is requested until the next sentinel match (or Close).
type view struct {
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newView() *view {
	return &view{ch: make(chan []byte, 16), closed: make(chan struct{})}
}

func (v *view) push(b []byte) bool {
	select {
	case v.ch <- append([]byte(nil), b...):
		return true
	case <-v.closed:
		return false
	}
}

func (v *view) close() {
	v.once.Do(func() { close(v.closed) })
}

// Reader is handed back by Multiplexer.NextReader. It reads exactly the
// bytes PHP wrote before its next sentinel, then returns io.EOF.
type Reader struct {
	v *view
	buf []byte
}

func (r *Reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		select {
		case chunk, ok := <-r.v.ch:
			if !ok {
				return 0, io.EOF
			}
			r.buf = chunk
		case <-r.v.closed:
			select {
			case chunk, ok := <-r.v.ch:
				if ok {
					r.buf = chunk
					continue
				}
			default:
			}
			return 0, io.EOF
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Multiplexer splits the interpreter's stdout into successive views,
// delimited by a fixed-length sentinel.
type Multiplexer struct {
	log      *zap.Logger
	sentinel []byte
	sink     io.Writer // configurable forward sink; may be nil (discard)

	mu      sync.Mutex
	current *view
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMultiplexer starts copying from src in a background goroutine,
// forwarding every byte to sink (if non-nil) and to the current view.
func NewMultiplexer(ctx context.Context, log *zap.Logger, src io.Reader, sentinel []byte, sink io.Writer) *Multiplexer {
	ctx, cancel := context.WithCancel(ctx)
	m := &Multiplexer{
		log:      log,
		sentinel: sentinel,
		sink:     sink,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.pump(ctx, src)
	return m
}

// NextReader closes whatever view is currently open and returns a Reader
// for the bytes PHP writes up to its next sentinel.
func (m *Multiplexer) NextReader() *Reader {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.close()
	}
	v := newView()
	m.current = v
	return &Reader{v: v}
}

// Cancel stops the upstream copy and closes every live view.
func (m *Multiplexer) Cancel() {
	m.cancel()
	<-m.done
	m.mu.Lock()
	if m.current != nil {
		m.current.close()
		m.current = nil
	}
	m.mu.Unlock()
}

func (m *Multiplexer) pump(ctx context.Context, src io.Reader) {
	defer close(m.done)

	matcher := newSentinelMatcher(m.sentinel)
	buf := make([]byte, 32*1024)

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := src.Read(buf)
		if n > 0 {
			m.handleChunk(matcher, buf[:n])
		}
		if err != nil {
			if err != io.EOF && m.log != nil {
				m.log.Debug("stdout multiplexer read error", zap.Error(err))
			}
			return
		}
	}
}

func (m *Multiplexer) handleChunk(matcher *sentinelMatcher, chunk []byte) {
	for len(chunk) > 0 {
		before, rest, matched := matcher.Feed(chunk)
		if len(before) > 0 {
			m.deliver(before)
		}
		if m.sink != nil && len(before) > 0 {
			_, _ = m.sink.Write(before)
		}
		if !matched {
			return
		}
		// sentinel consumed; close the current view and discard it, since
		// the sentinel bytes themselves are never delivered.
		m.mu.Lock()
		if m.current != nil {
			m.current.close()
			m.current = nil
		}
		m.mu.Unlock()
		chunk = rest
	}
}

func (m *Multiplexer) deliver(b []byte) {
	m.mu.Lock()
	v := m.current
	m.mu.Unlock()
	if v == nil {
		return
	}
	v.push(b)
}

// sentinelMatcher finds a fixed-length sentinel in a byte stream, tolerating
// a match straddling two Feed calls.
type sentinelMatcher struct {
	sentinel []byte
	carry    []byte
}

func newSentinelMatcher(sentinel []byte) *sentinelMatcher {
	return &sentinelMatcher{sentinel: sentinel}
}

// Feed returns the bytes that are definitely not part of a sentinel match
// (before), the unconsumed remainder of chunk after a match (rest), and
// whether a match was found. If no match was found, before is everything
// that is safe to deliver right now; the matcher retains a suffix that
// might be a sentinel prefix for the next call.
func (s *sentinelMatcher) Feed(chunk []byte) (before, rest []byte, matched bool) {
	data := append(s.carry, chunk...)
	s.carry = nil

	if idx := bytes.Index(data, s.sentinel); idx >= 0 {
		return data[:idx], data[idx+len(s.sentinel):], true
	}

	// Retain a suffix that could be the start of a straddling sentinel.
	keep := len(s.sentinel) - 1
	if keep > len(data) {
		keep = len(data)
	}
	// Trim keep down to the longest suffix that is a prefix of sentinel.
	for keep > 0 && !bytes.HasPrefix(s.sentinel, data[len(data)-keep:]) {
		keep--
	}
	safe := data[:len(data)-keep]
	s.carry = append([]byte(nil), data[len(data)-keep:]...)
	return safe, nil, false
}
