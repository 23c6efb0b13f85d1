package poll

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jaishree29/slaaang-omegle-feature-backend/messages"
)

// maxQueued bounds the per-session outbound queue. A client that stops
// polling loses its oldest messages first; the session itself is reaped by
// the idle timer.
const maxQueued = 256

var errSessionClosed = errors.New("session closed")

// session is the poll-transport view of one peer: deliveries are appended
// to a queue and drained on the next poll.
type session struct {
	id string

	mu       sync.Mutex
	queue    []*messages.Envelope
	notify   chan struct{}
	closed   bool
	lastSeen time.Time
}

func newSession(id string) *session {
	return &session{
		id:       id,
		notify:   make(chan struct{}, 1),
		lastSeen: time.Now(),
	}
}

// Send implements peer.Sender by enqueueing for the next poll.
func (s *session) Send(msg *messages.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSessionClosed
	}
	if len(s.queue) >= maxQueued {
		log.Warnf("outbound queue full for session [%s], dropping oldest message", s.id)
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, msg)

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// drain returns and clears all queued messages.
func (s *session) drain() []*messages.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
