// ABOUTME: DocumentStore provides durable CRUD over one connection's namespaces and documents
// ABOUTME: Serializes writers, persists the whole unit per mutation, and emits change signals

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription identifies a listener registered with Subscribe
type Subscription string

// Options customizes a DocumentStore. The zero value uses the wall clock,
// random UUIDs and slog.Default().
type Options struct {
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// DocumentStore owns the persisted unit of exactly one connection.
//
// Mutations hold the write lock across read-modify-write and persistence,
// and only swap the in-memory unit once the backend accepted it. Readers
// take the read lock and receive copies.
type DocumentStore struct {
	connectionID string
	backend      Backend
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger

	mu     sync.RWMutex
	unit   *Unit
	closed bool

	listenersMu sync.Mutex
	listeners   map[Subscription]func()
}

// Open creates a DocumentStore for connectionID, loading its unit from backend.
// A unit that was never persisted loads as empty; a corrupt one is an error.
func Open(ctx context.Context, connectionID string, backend Backend, opts Options) (*DocumentStore, error) {
	if err := ValidateConnectionID(connectionID); err != nil {
		return nil, err
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	unit, err := backend.Load(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("loading saved docs for %s: %w", connectionID, err)
	}

	return &DocumentStore{
		connectionID: connectionID,
		backend:      backend,
		now:          opts.Now,
		newID:        opts.NewID,
		logger:       opts.Logger.With("component", "docstore", "connection_id", connectionID),
		unit:         unit,
		listeners:    make(map[Subscription]func()),
	}, nil
}

// ConnectionID returns the connection this store belongs to
func (s *DocumentStore) ConnectionID() string {
	return s.connectionID
}

// ListNamespaces returns namespaces in creation order
func (s *DocumentStore) ListNamespaces(_ context.Context) ([]Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Namespace, len(s.unit.Namespaces))
	copy(out, s.unit.Namespaces)
	return out, nil
}

// CreateNamespace appends a new namespace. Duplicate names are allowed.
func (s *DocumentStore) CreateNamespace(ctx context.Context, name string) (Namespace, error) {
	var created Namespace
	err := s.mutate(ctx, func(u *Unit) error {
		ts := s.now().UnixMilli()
		created = Namespace{
			ID:        s.newID(),
			Name:      name,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		u.Namespaces = append(u.Namespaces, created)
		return nil
	})
	if err != nil {
		return Namespace{}, err
	}

	s.logger.Debug("namespace created", "namespace_id", created.ID)
	return created, nil
}

// RenameNamespace changes a namespace's name. Documents keep the name they
// captured at creation.
func (s *DocumentStore) RenameNamespace(ctx context.Context, id, name string) (Namespace, error) {
	var renamed Namespace
	err := s.mutate(ctx, func(u *Unit) error {
		for i := range u.Namespaces {
			if u.Namespaces[i].ID == id {
				u.Namespaces[i].Name = name
				u.Namespaces[i].UpdatedAt = s.now().UnixMilli()
				renamed = u.Namespaces[i]
				return nil
			}
		}
		return fmt.Errorf("namespace %s: %w", id, ErrNotFound)
	})
	if err != nil {
		return Namespace{}, err
	}

	s.logger.Debug("namespace renamed", "namespace_id", id)
	return renamed, nil
}

// DeleteNamespace removes a namespace and every document that references it.
// Deleting an absent id is a no-op.
func (s *DocumentStore) DeleteNamespace(ctx context.Context, id string) error {
	err := s.mutate(ctx, func(u *Unit) error {
		namespaces := u.Namespaces[:0]
		for _, ns := range u.Namespaces {
			if ns.ID != id {
				namespaces = append(namespaces, ns)
			}
		}
		u.Namespaces = namespaces

		docs := u.Docs[:0]
		for _, d := range u.Docs {
			if d.Namespace.ID != id {
				docs = append(docs, d)
			}
		}
		u.Docs = docs
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("namespace deleted", "namespace_id", id)
	return nil
}

// ListDocsByNamespace groups documents under their namespace, both in creation
// order. Namespaces without documents are included with an empty list.
func (s *DocumentStore) ListDocsByNamespace(_ context.Context) ([]DocGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]DocGroup, 0, len(s.unit.Namespaces))
	index := make(map[string]int, len(s.unit.Namespaces))
	for _, ns := range s.unit.Namespaces {
		index[ns.ID] = len(groups)
		groups = append(groups, DocGroup{Namespace: ns, Docs: []Doc{}})
	}
	for _, d := range s.unit.Docs {
		if i, ok := index[d.Namespace.ID]; ok {
			groups[i].Docs = append(groups[i].Docs, d)
		}
	}
	return groups, nil
}

// CreateDoc adds a document to an existing namespace
func (s *DocumentStore) CreateDoc(ctx context.Context, docType DocType, namespaceID string, in DocInput) (Doc, error) {
	if !docType.Valid() {
		return Doc{}, fmt.Errorf("%w: %q", ErrInvalidDocType, docType)
	}

	var created Doc
	err := s.mutate(ctx, func(u *Unit) error {
		var ns *Namespace
		for i := range u.Namespaces {
			if u.Namespaces[i].ID == namespaceID {
				ns = &u.Namespaces[i]
				break
			}
		}
		if ns == nil {
			return fmt.Errorf("namespace %s: %w", namespaceID, ErrInvalidReference)
		}

		ts := s.now().UnixMilli()
		created = Doc{
			ID:        s.newID(),
			Type:      docType,
			Namespace: NamespaceRef{ID: ns.ID, Name: ns.Name},
			Name:      in.Name,
			Content:   in.Content,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		u.Docs = append(u.Docs, created)
		return nil
	})
	if err != nil {
		return Doc{}, err
	}

	s.logger.Debug("doc created", "doc_id", created.ID, "namespace_id", namespaceID)
	return created, nil
}

// UpdateDoc replaces a document's name and content
func (s *DocumentStore) UpdateDoc(ctx context.Context, id string, in DocInput) (Doc, error) {
	var updated Doc
	err := s.mutate(ctx, func(u *Unit) error {
		for i := range u.Docs {
			if u.Docs[i].ID == id {
				u.Docs[i].Name = in.Name
				u.Docs[i].Content = in.Content
				u.Docs[i].UpdatedAt = s.now().UnixMilli()
				updated = u.Docs[i]
				return nil
			}
		}
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	})
	if err != nil {
		return Doc{}, err
	}

	s.logger.Debug("doc updated", "doc_id", id)
	return updated, nil
}

// DeleteDoc removes a document. Deleting an absent id is a no-op.
func (s *DocumentStore) DeleteDoc(ctx context.Context, id string) error {
	err := s.mutate(ctx, func(u *Unit) error {
		docs := u.Docs[:0]
		for _, d := range u.Docs {
			if d.ID != id {
				docs = append(docs, d)
			}
		}
		u.Docs = docs
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("doc deleted", "doc_id", id)
	return nil
}

// Destroy deletes the persisted unit and resets the store to empty.
// Destroying a unit that never existed is not an error.
func (s *DocumentStore) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", s.connectionID, ErrClosed)
	}
	existed, err := s.backend.Delete(ctx, s.connectionID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.unit = (&Unit{}).clone()
	s.mu.Unlock()

	s.logger.Info("saved docs destroyed", "existed", existed)
	s.notify()
	return nil
}

// Close marks the store as dropped. It waits for an in-flight mutation to
// finish; every later mutation or Destroy fails with ErrClosed. Reads keep
// returning the last state. Close is idempotent.
func (s *DocumentStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Subscribe registers fn to be called after every successful mutation.
// fn runs on the mutating goroutine and must not block.
func (s *DocumentStore) Subscribe(fn func()) Subscription {
	sub := Subscription(uuid.New().String())

	s.listenersMu.Lock()
	s.listeners[sub] = fn
	s.listenersMu.Unlock()

	return sub
}

// Unsubscribe removes the listener registered under sub. It reports whether
// a listener was removed.
func (s *DocumentStore) Unsubscribe(sub Subscription) bool {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if _, ok := s.listeners[sub]; !ok {
		return false
	}
	delete(s.listeners, sub)
	return true
}

// mutate applies fn to a copy of the unit, persists the copy, and only then
// publishes it. Listeners are notified after the lock is released.
func (s *DocumentStore) mutate(ctx context.Context, fn func(u *Unit) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", s.connectionID, ErrClosed)
	}
	next := s.unit.clone()
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.backend.Save(ctx, s.connectionID, next); err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to persist saved docs", "error", err)
		return fmt.Errorf("persisting saved docs: %w", err)
	}
	s.unit = next
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *DocumentStore) notify() {
	s.listenersMu.Lock()
	targets := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		targets = append(targets, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range targets {
		fn()
	}
}
