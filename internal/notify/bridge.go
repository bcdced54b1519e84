// ABOUTME: Fan-out of DocumentStore change signals to remote sessions
// ABOUTME: Each attachment has its own coalescing queue and pump so slow sessions never stall writers

package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/savedoc-gateway/internal/metrics"
	"github.com/2389/savedoc-gateway/internal/store"
)

// Source is anything that emits change signals, normally a *store.DocumentStore
type Source interface {
	Subscribe(fn func()) store.Subscription
	Unsubscribe(sub store.Subscription) bool
}

// Bridge delivers change signals from sources to sessions.
// Attachments are keyed by session id and connection id; a session has at
// most one attachment per connection.
type Bridge struct {
	mu       sync.Mutex
	sessions map[string]map[string]*attachment // sessionID -> connectionID -> attachment
	closed   bool

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// attachment is one session listening to one source
type attachment struct {
	id           string
	sessionID    string
	connectionID string
	source       Source
	sub          store.Subscription

	// pending holds at most one undelivered signal. Signals carry no payload,
	// so a queued signal already covers any mutation that arrives before it
	// is delivered.
	pending chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewBridge creates a bridge. Pass nil logger for default.
func NewBridge(logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		sessions: make(map[string]map[string]*attachment),
		logger:   logger.With("component", "bridge"),
		metrics:  m,
	}
}

// Attach registers deliver to be called for every change of source on
// behalf of sessionID. The attachment is removed automatically when ctx,
// the session's transport lifetime, is done. Attaching the same session to
// the same connection twice keeps the first attachment and returns false.
//
// deliver runs on a goroutine owned by the attachment and may block; only
// that session is delayed.
func (b *Bridge) Attach(ctx context.Context, sessionID, connectionID string, source Source, deliver func()) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if existing, ok := b.sessions[sessionID][connectionID]; ok {
		b.mu.Unlock()
		b.logger.Debug("session already attached",
			"session_id", sessionID,
			"connection_id", connectionID,
			"attachment_id", existing.id)
		return false
	}

	a := &attachment{
		id:           uuid.New().String(),
		sessionID:    sessionID,
		connectionID: connectionID,
		source:       source,
		pending:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	a.sub = source.Subscribe(func() {
		select {
		case a.pending <- struct{}{}:
		default:
			// A signal is already queued for this session
		}
	})

	if _, ok := b.sessions[sessionID]; !ok {
		b.sessions[sessionID] = make(map[string]*attachment)
	}
	b.sessions[sessionID][connectionID] = a
	b.mu.Unlock()

	b.metrics.SubscriberAdded()
	b.logger.Debug("session attached",
		"session_id", sessionID,
		"connection_id", connectionID,
		"attachment_id", a.id)

	go b.pump(a, deliver)

	// Auto-cleanup when the session's transport goes away
	go func() {
		select {
		case <-ctx.Done():
			b.remove(a)
		case <-a.done:
		}
	}()

	return true
}

// Detach removes every attachment of sessionID and returns how many were removed
func (b *Bridge) Detach(sessionID string) int {
	b.mu.Lock()
	attachments := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	for _, a := range attachments {
		b.stop(a)
	}
	return len(attachments)
}

// DetachConnection removes the attachment of sessionID to connectionID
func (b *Bridge) DetachConnection(sessionID, connectionID string) bool {
	b.mu.Lock()
	a, ok := b.sessions[sessionID][connectionID]
	if ok {
		b.deleteLocked(a)
	}
	b.mu.Unlock()

	if ok {
		b.stop(a)
	}
	return ok
}

// DropConnection removes every session's attachment to connectionID.
// Used when a connection's store is closed.
func (b *Bridge) DropConnection(connectionID string) int {
	b.mu.Lock()
	var dropped []*attachment
	for _, byConn := range b.sessions {
		if a, ok := byConn[connectionID]; ok {
			dropped = append(dropped, a)
		}
	}
	for _, a := range dropped {
		b.deleteLocked(a)
	}
	b.mu.Unlock()

	for _, a := range dropped {
		b.stop(a)
	}
	return len(dropped)
}

// Count returns the number of live attachments
func (b *Bridge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, byConn := range b.sessions {
		n += len(byConn)
	}
	return n
}

// Close detaches everything and rejects further attachments
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	var all []*attachment
	for sessionID, byConn := range b.sessions {
		for _, a := range byConn {
			all = append(all, a)
		}
		delete(b.sessions, sessionID)
	}
	b.mu.Unlock()

	for _, a := range all {
		b.stop(a)
	}
	b.logger.Debug("bridge closed")
}

// pump delivers queued signals until the attachment stops
func (b *Bridge) pump(a *attachment, deliver func()) {
	for {
		select {
		case <-a.done:
			return
		case <-a.pending:
			// Detach wins over a signal queued just before it
			select {
			case <-a.done:
				return
			default:
			}
			deliver()
			b.metrics.Delivered()
		}
	}
}

// remove deletes a from the index if it is still the registered attachment
func (b *Bridge) remove(a *attachment) {
	b.mu.Lock()
	current, ok := b.sessions[a.sessionID][a.connectionID]
	if ok && current == a {
		b.deleteLocked(a)
	}
	b.mu.Unlock()

	b.stop(a)
}

func (b *Bridge) deleteLocked(a *attachment) {
	byConn := b.sessions[a.sessionID]
	delete(byConn, a.connectionID)
	if len(byConn) == 0 {
		delete(b.sessions, a.sessionID)
	}
}

// stop unsubscribes from the source and ends the pump exactly once
func (b *Bridge) stop(a *attachment) {
	a.once.Do(func() {
		a.source.Unsubscribe(a.sub)
		close(a.done)
		b.metrics.SubscriberRemoved()
		b.logger.Debug("session detached",
			"session_id", a.sessionID,
			"connection_id", a.connectionID,
			"attachment_id", a.id)
	})
}
