// ABOUTME: Session is one remote caller of the router with its own transport lifetime
// ABOUTME: Carries the session's bound connection so concurrent sessions never share routing state

package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Session is one front-end caller. Its context ends when the transport
// goes away, which detaches every change listener it registered.
type Session struct {
	ID string

	ctx    context.Context
	notify func()

	mu    sync.Mutex
	bound string
}

// NewSession creates a session living as long as ctx. notify is called on
// a bridge goroutine for every change event the session listens to.
func NewSession(ctx context.Context, notify func()) *Session {
	if notify == nil {
		notify = func() {}
	}
	return &Session{
		ID:     uuid.New().String(),
		ctx:    ctx,
		notify: notify,
	}
}

// Context returns the transport lifetime of the session
func (s *Session) Context() context.Context {
	return s.ctx
}

// Bound returns the connection set by open-connection or use-connection
func (s *Session) Bound() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

func (s *Session) bind(connectionID string) {
	s.mu.Lock()
	s.bound = connectionID
	s.mu.Unlock()
}

// unbind clears the binding if it still points at connectionID
func (s *Session) unbind(connectionID string) {
	s.mu.Lock()
	if s.bound == connectionID {
		s.bound = ""
	}
	s.mu.Unlock()
}
