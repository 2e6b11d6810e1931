package hub

import (
	"sync"

	"github.com/google/uuid"
)

const DefaultSendBuffer = 64

// Session is one live connection. Frames are queued on a bounded buffer
// and drained by the transport's writer.
type Session struct {
	ID       string
	UserID   string
	Username string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(userID, username string, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// Outbound yields frames queued for the peer.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver queues frame without blocking. It reports false when the buffer
// is full or the session is closed.
func (s *Session) Deliver(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
