// ABOUTME: Router translates saved-doc operation requests into registry and store calls
// ABOUTME: Resolves the target store per request and owns change-listener registration

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/savedoc-gateway/internal/auth"
	"github.com/2389/savedoc-gateway/internal/metrics"
	"github.com/2389/savedoc-gateway/internal/notify"
	"github.com/2389/savedoc-gateway/internal/registry"
	"github.com/2389/savedoc-gateway/internal/store"
)

// Operation names accepted by Dispatch
const (
	MethodGetNamespaces        = "get-namespaces"
	MethodCreateNamespace      = "create-namespace"
	MethodUpdateNamespace      = "update-namespace"
	MethodRemoveNamespace      = "remove-namespace"
	MethodGetDocs              = "get-docs"
	MethodCreateDoc            = "create-doc"
	MethodUpdateDoc            = "update-doc"
	MethodRemoveDoc            = "remove-doc"
	MethodDeleteDocFile        = "delete-doc-file"
	MethodAddChangeListener    = "add-change-listener"
	MethodRemoveChangeListener = "remove-change-listener"
	MethodOpenConnection       = "open-connection"
	MethodUseConnection        = "use-connection"
	MethodCloseConnection      = "close-connection"
)

// EventChange is the outbound notification telling a session to re-fetch
const EventChange = "changeEvent"

var (
	// ErrMethodNotFound is returned by Dispatch for an unknown operation
	ErrMethodNotFound = errors.New("method not found")

	// ErrInvalidParams is returned when positional params are missing or malformed
	ErrInvalidParams = errors.New("invalid params")
)

// Router is the request surface shared by every transport
type Router struct {
	registry *registry.Registry
	bridge   *notify.Bridge
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRouter creates a router. Pass nil logger for default; nil metrics disables them.
func NewRouter(reg *registry.Registry, bridge *notify.Bridge, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: reg,
		bridge:   bridge,
		metrics:  m,
		logger:   logger.With("component", "router"),
	}
}

// resolve picks the store an operation targets: an explicit connection id,
// then the session's bound connection, then the registry's active one.
func (r *Router) resolve(ctx context.Context, sess *Session, connectionID string) (*store.DocumentStore, error) {
	if connectionID != "" {
		return r.registry.Get(ctx, connectionID)
	}
	if sess != nil {
		if bound := sess.Bound(); bound != "" {
			return r.registry.Get(ctx, bound)
		}
	}
	return r.registry.Current()
}

// GetNamespaces lists namespaces of the target connection
func (r *Router) GetNamespaces(ctx context.Context, sess *Session, connectionID string) ([]store.Namespace, error) {
	s, err := r.resolve(ctx, sess, connectionID)
	if err != nil {
		return nil, err
	}
	return s.ListNamespaces(ctx)
}

// CreateNamespace adds a namespace to the target connection
func (r *Router) CreateNamespace(ctx context.Context, sess *Session, name string) (store.Namespace, error) {
	s, err := r.resolve(ctx, sess, "")
	if err != nil {
		return store.Namespace{}, err
	}
	return s.CreateNamespace(ctx, name)
}

// UpdateNamespace renames a namespace
func (r *Router) UpdateNamespace(ctx context.Context, sess *Session, id, name string) (store.Namespace, error) {
	s, err := r.resolve(ctx, sess, "")
	if err != nil {
		return store.Namespace{}, err
	}
	return s.RenameNamespace(ctx, id, name)
}

// RemoveNamespace deletes a namespace and its documents
func (r *Router) RemoveNamespace(ctx context.Context, sess *Session, id string) error {
	s, err := r.resolve(ctx, sess, "")
	if err != nil {
		return err
	}
	return s.DeleteNamespace(ctx, id)
}

// GetDocs lists documents grouped by namespace
func (r *Router) GetDocs(ctx context.Context, sess *Session, connectionID string) ([]store.DocGroup, error) {
	s, err := r.resolve(ctx, sess, connectionID)
	if err != nil {
		return nil, err
	}
	return s.ListDocsByNamespace(ctx)
}

// CreateDoc adds a document under namespaceID
func (r *Router) CreateDoc(ctx context.Context, sess *Session, docType store.DocType, namespaceID string, in store.DocInput) (store.Doc, error) {
	s, err := r.resolve(ctx, sess, "")
	if err != nil {
		return store.Doc{}, err
	}
	return s.CreateDoc(ctx, docType, namespaceID, in)
}

// UpdateDoc replaces a document's name and content
func (r *Router) UpdateDoc(ctx context.Context, sess *Session, id string, in store.DocInput) (store.Doc, error) {
	s, err := r.resolve(ctx, sess, "")
	if err != nil {
		return store.Doc{}, err
	}
	return s.UpdateDoc(ctx, id, in)
}

// RemoveDoc deletes a document
func (r *Router) RemoveDoc(ctx context.Context, sess *Session, id string) error {
	s, err := r.resolve(ctx, sess, "")
	if err != nil {
		return err
	}
	return s.DeleteDoc(ctx, id)
}

// DeleteDocFile destroys the persisted unit of connectionID, open or not
func (r *Router) DeleteDocFile(ctx context.Context, connectionID string) error {
	return r.registry.Destroy(ctx, connectionID)
}

// AddChangeListener attaches sess to the target connection's change events
// for as long as the session's transport lives. Adding twice is a no-op.
func (r *Router) AddChangeListener(ctx context.Context, sess *Session, connectionID string) error {
	if sess == nil {
		return fmt.Errorf("%w: change listeners need a session", ErrInvalidParams)
	}
	s, err := r.resolve(ctx, sess, connectionID)
	if err != nil {
		return err
	}
	r.bridge.Attach(sess.Context(), sess.ID, s.ConnectionID(), s, sess.notify)
	return nil
}

// RemoveChangeListener detaches sess from connectionID, or from every
// connection when connectionID is empty.
func (r *Router) RemoveChangeListener(_ context.Context, sess *Session, connectionID string) error {
	if sess == nil {
		return fmt.Errorf("%w: change listeners need a session", ErrInvalidParams)
	}
	if connectionID == "" {
		r.bridge.Detach(sess.ID)
		return nil
	}
	r.bridge.DetachConnection(sess.ID, connectionID)
	return nil
}

// OpenConnection loads the connection's store, makes it active and binds
// the session to it
func (r *Router) OpenConnection(ctx context.Context, sess *Session, connectionID string) error {
	if _, err := r.registry.Open(ctx, connectionID); err != nil {
		return err
	}
	if sess != nil {
		sess.bind(connectionID)
	}
	return nil
}

// UseConnection switches the active connection to one that is already open
func (r *Router) UseConnection(_ context.Context, sess *Session, connectionID string) error {
	if err := r.registry.SetActive(connectionID); err != nil {
		return err
	}
	if sess != nil {
		sess.bind(connectionID)
	}
	return nil
}

// CloseConnection drops the live store and every listener attached to it.
// Persisted data is kept. Closing a connection that is not open succeeds.
func (r *Router) CloseConnection(_ context.Context, sess *Session, connectionID string) error {
	if err := store.ValidateConnectionID(connectionID); err != nil {
		return err
	}
	if sess != nil {
		sess.unbind(connectionID)
	}
	if !r.registry.Close(connectionID) {
		return nil
	}
	dropped := r.bridge.DropConnection(connectionID)
	r.logger.Debug("listeners dropped with connection", "connection_id", connectionID, "count", dropped)
	return nil
}

// Dispatch runs method with positional params on behalf of sess.
// The result is JSON-encodable; void operations return nil.
func (r *Router) Dispatch(ctx context.Context, sess *Session, method string, params []json.RawMessage) (result any, err error) {
	start := time.Now()
	defer func() {
		r.observe(ctx, method, start, err)
	}()

	p := positional(params)

	switch method {
	case MethodGetNamespaces:
		conn, err := optionalParam[string](p, 0, "connectionId")
		if err != nil {
			return nil, err
		}
		return r.GetNamespaces(ctx, sess, conn)

	case MethodCreateNamespace:
		name, err := param[string](p, 0, "name")
		if err != nil {
			return nil, err
		}
		return r.CreateNamespace(ctx, sess, name)

	case MethodUpdateNamespace:
		id, err := param[string](p, 0, "id")
		if err != nil {
			return nil, err
		}
		name, err := param[string](p, 1, "name")
		if err != nil {
			return nil, err
		}
		return r.UpdateNamespace(ctx, sess, id, name)

	case MethodRemoveNamespace:
		id, err := param[string](p, 0, "id")
		if err != nil {
			return nil, err
		}
		return nil, r.RemoveNamespace(ctx, sess, id)

	case MethodGetDocs:
		conn, err := optionalParam[string](p, 0, "connectionId")
		if err != nil {
			return nil, err
		}
		return r.GetDocs(ctx, sess, conn)

	case MethodCreateDoc:
		docType, err := param[store.DocType](p, 0, "type")
		if err != nil {
			return nil, err
		}
		nsID, err := param[string](p, 1, "namespaceId")
		if err != nil {
			return nil, err
		}
		in, err := param[store.DocInput](p, 2, "doc")
		if err != nil {
			return nil, err
		}
		return r.CreateDoc(ctx, sess, docType, nsID, in)

	case MethodUpdateDoc:
		id, err := param[string](p, 0, "id")
		if err != nil {
			return nil, err
		}
		in, err := param[store.DocInput](p, 1, "doc")
		if err != nil {
			return nil, err
		}
		return r.UpdateDoc(ctx, sess, id, in)

	case MethodRemoveDoc:
		id, err := param[string](p, 0, "id")
		if err != nil {
			return nil, err
		}
		return nil, r.RemoveDoc(ctx, sess, id)

	case MethodDeleteDocFile:
		conn, err := param[string](p, 0, "connectionId")
		if err != nil {
			return nil, err
		}
		return nil, r.DeleteDocFile(ctx, conn)

	case MethodAddChangeListener:
		conn, err := optionalParam[string](p, 0, "connectionId")
		if err != nil {
			return nil, err
		}
		return nil, r.AddChangeListener(ctx, sess, conn)

	case MethodRemoveChangeListener:
		conn, err := optionalParam[string](p, 0, "connectionId")
		if err != nil {
			return nil, err
		}
		return nil, r.RemoveChangeListener(ctx, sess, conn)

	case MethodOpenConnection, MethodUseConnection, MethodCloseConnection:
		conn, err := param[string](p, 0, "connectionId")
		if err != nil {
			return nil, err
		}
		switch method {
		case MethodOpenConnection:
			return nil, r.OpenConnection(ctx, sess, conn)
		case MethodUseConnection:
			return nil, r.UseConnection(ctx, sess, conn)
		default:
			return nil, r.CloseConnection(ctx, sess, conn)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
}

// observe records metrics and logs the outcome of one operation, tagged
// with the authenticated caller
func (r *Router) observe(ctx context.Context, method string, start time.Time, err error) {
	r.metrics.ObserveOperation(method, start, err)
	logger := r.logger.With("method", method, "subject", auth.Subject(ctx))
	if err == nil {
		logger.Debug("operation", "duration", time.Since(start))
		return
	}
	if errorStatus(err) >= http.StatusInternalServerError {
		logger.Error("operation failed", "error", err)
		return
	}
	logger.Debug("operation rejected", "error", err)
}

// positional is the params array of one request
type positional []json.RawMessage

// param decodes the required positional argument at index i
func param[T any](p positional, i int, name string) (T, error) {
	var v T
	if i >= len(p) || isNull(p[i]) {
		return v, fmt.Errorf("%w: missing %s", ErrInvalidParams, name)
	}
	if err := json.Unmarshal(p[i], &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
	}
	return v, nil
}

// optionalParam is param with the zero value for an absent or null argument
func optionalParam[T any](p positional, i int, name string) (T, error) {
	var v T
	if i >= len(p) || isNull(p[i]) {
		return v, nil
	}
	return param[T](p, i, name)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// errorStatus maps the error taxonomy onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, store.ErrInvalidReference):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrNoActiveConnection),
		errors.Is(err, registry.ErrNotOpen),
		errors.Is(err, store.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidConnectionID),
		errors.Is(err, store.ErrInvalidDocType),
		errors.Is(err, ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, ErrMethodNotFound):
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns the client-facing text for err. Storage failures
// are not described to callers.
func errorMessage(err error) string {
	if errorStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
