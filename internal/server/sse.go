package server

import (
	"errors"
	"io"
	"net/http"
	"sync"
)

var errStreamClosed = errors.New("relay stream closed")

// eventSink adapts an HTTP response into a relay sink. All writes are
// serialized under one mutex: the broker delivers frames from other
// request goroutines while the owning handler writes heartbeats.
type eventSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	failed  bool

	done     chan struct{}
	failOnce sync.Once
}

func newEventSink(w http.ResponseWriter, flusher http.Flusher) *eventSink {
	return &eventSink{w: w, flusher: flusher, done: make(chan struct{})}
}

// begin emits the stream header and the blank line that tells the
// client its relay is open.
func (s *eventSink) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start()
}

// start is called with mu held.
func (s *eventSink) start() error {
	if s.started {
		return nil
	}
	s.started = true

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(s.w, "\r\n"); err != nil {
		return s.fail(err)
	}
	s.flusher.Flush()
	return nil
}

// Send writes one pre-framed event. Implements relay.Sink.
func (s *eventSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return errStreamClosed
	}
	if err := s.start(); err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return s.fail(err)
	}
	s.flusher.Flush()
	return nil
}

// comment writes an event-stream comment line; clients ignore it.
func (s *eventSink) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return errStreamClosed
	}
	if err := s.start(); err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, ":"+text+"\r\n\r\n"); err != nil {
		return s.fail(err)
	}
	s.flusher.Flush()
	return nil
}

// fail marks the transport dead and wakes the owning handler. Called
// with mu held.
func (s *eventSink) fail(err error) error {
	s.failed = true
	s.failOnce.Do(func() { close(s.done) })
	return err
}
