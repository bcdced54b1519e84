// ABOUTME: Registry maps connection ids to live DocumentStores and tracks the active one
// ABOUTME: Serializes open/close/destroy so unit deletion never races a live store

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/savedoc-gateway/internal/metrics"
	"github.com/2389/savedoc-gateway/internal/store"
)

var (
	// ErrNoActiveConnection means an unscoped operation arrived with no routing target
	ErrNoActiveConnection = errors.New("no active connection")

	// ErrNotOpen means the connection has no live store in the registry
	ErrNotOpen = errors.New("connection not open")
)

// Options configures a Registry
type Options struct {
	// Store is passed to every DocumentStore the registry opens
	Store   store.Options
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Registry owns at most one DocumentStore per connection id.
// Stores are created lazily and kept until Close.
type Registry struct {
	backend   store.Backend
	storeOpts store.Options
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	stores map[string]*store.DocumentStore
	active string
}

// New creates an empty registry persisting through backend
func New(backend store.Backend, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store.Logger == nil {
		opts.Store.Logger = opts.Logger
	}
	return &Registry{
		backend:   backend,
		storeOpts: opts.Store,
		logger:    opts.Logger.With("component", "registry"),
		metrics:   opts.Metrics,
		stores:    make(map[string]*store.DocumentStore),
	}
}

// Open returns the store for connectionID, creating it if needed, and marks
// the connection active. An existing store is reused untouched.
func (r *Registry) Open(ctx context.Context, connectionID string) (*store.DocumentStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.getOrCreateLocked(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if r.active != connectionID {
		r.logger.Info("active connection changed", "from", r.active, "to", connectionID)
	}
	r.active = connectionID
	return s, nil
}

// Get returns the store for connectionID, creating it on first use without
// changing the active connection.
func (r *Registry) Get(ctx context.Context, connectionID string) (*store.DocumentStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getOrCreateLocked(ctx, connectionID)
}

// SetActive switches the routing target. The connection must already be open.
func (r *Registry) SetActive(connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stores[connectionID]; !ok {
		return fmt.Errorf("%s: %w", connectionID, ErrNotOpen)
	}
	r.active = connectionID
	return nil
}

// Active returns the active connection id, or "" if none is set
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active
}

// Current returns the store of the active connection
func (r *Registry) Current() (*store.DocumentStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == "" {
		return nil, ErrNoActiveConnection
	}
	s, ok := r.stores[r.active]
	if !ok {
		return nil, ErrNoActiveConnection
	}
	return s, nil
}

// Close drops the live store for connectionID and closes it, so a caller
// still holding the old instance can no longer write. Persisted data is
// untouched. Closing the active connection clears the active pointer.
// It reports whether a store was registered.
func (r *Registry) Close(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stores[connectionID]
	if !ok {
		return false
	}
	s.Close()
	delete(r.stores, connectionID)
	if r.active == connectionID {
		r.active = ""
	}
	r.metrics.SetOpenConnections(len(r.stores))

	r.logger.Info("connection closed",
		"connection_id", connectionID,
		"open_connections", len(r.stores),
	)
	return true
}

// Destroy deletes the persisted unit for connectionID whether or not it is
// open. A live store performs the deletion under its own write lock, so no
// in-flight mutation can resurrect the unit; the registry lock keeps a
// concurrent Open from loading it mid-delete. Destroying an absent unit is
// not an error.
func (r *Registry) Destroy(ctx context.Context, connectionID string) error {
	if err := store.ValidateConnectionID(connectionID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[connectionID]; ok {
		if err := s.Destroy(ctx); err != nil {
			return fmt.Errorf("destroying saved docs for %s: %w", connectionID, err)
		}
		return nil
	}

	existed, err := r.backend.Delete(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("destroying saved docs for %s: %w", connectionID, err)
	}
	r.logger.Info("saved docs destroyed", "connection_id", connectionID, "existed", existed, "live", false)
	return nil
}

// Connections returns the ids of all live stores, sorted
func (r *Registry) Connections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) getOrCreateLocked(ctx context.Context, connectionID string) (*store.DocumentStore, error) {
	if s, ok := r.stores[connectionID]; ok {
		return s, nil
	}

	s, err := store.Open(ctx, connectionID, r.backend, r.storeOpts)
	if err != nil {
		return nil, err
	}
	r.stores[connectionID] = s
	r.metrics.SetOpenConnections(len(r.stores))

	r.logger.Info("connection opened",
		"connection_id", connectionID,
		"open_connections", len(r.stores),
	)
	return s, nil
}
