// ABOUTME: Tests for operation dispatch, scope resolution and listener registration
// ABOUTME: Runs the router against an in-memory backend without any transport

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/savedoc-gateway/internal/auth"
	"github.com/2389/savedoc-gateway/internal/notify"
	"github.com/2389/savedoc-gateway/internal/registry"
	"github.com/2389/savedoc-gateway/internal/store"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T) (*Router, *store.MockBackend, *notify.Bridge) {
	t.Helper()
	backend := store.NewMockBackend()
	reg := registry.New(backend, registry.Options{Logger: testLogger()})
	bridge := notify.NewBridge(testLogger(), nil)
	t.Cleanup(bridge.Close)
	return NewRouter(reg, bridge, nil, testLogger()), backend, bridge
}

// params encodes positional arguments the way a client would send them
func params(t *testing.T, args ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		require.NoError(t, err)
		out[i] = b
	}
	return out
}

func dispatch[T any](t *testing.T, r *Router, sess *Session, method string, args ...any) T {
	t.Helper()
	res, err := r.Dispatch(context.Background(), sess, method, params(t, args...))
	require.NoError(t, err, method)
	out, ok := res.(T)
	require.True(t, ok, "%s returned %T", method, res)
	return out
}

func TestRouter_WorkScenario(t *testing.T) {
	r, _, _ := newTestRouter(t)
	sess := NewSession(t.Context(), nil)

	_, err := r.Dispatch(t.Context(), sess, MethodOpenConnection, params(t, "c1"))
	require.NoError(t, err)

	ns := dispatch[store.Namespace](t, r, sess, MethodCreateNamespace, "Work")
	doc := dispatch[store.Doc](t, r, sess, MethodCreateDoc, "sql", ns.ID, store.DocInput{Name: "q1", Content: "select 1"})
	assert.Equal(t, store.NamespaceRef{ID: ns.ID, Name: "Work"}, doc.Namespace)

	groups := dispatch[[]store.DocGroup](t, r, sess, MethodGetDocs)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Docs, 1)
	assert.Equal(t, "q1", groups[0].Docs[0].Name)

	renamed := dispatch[store.Namespace](t, r, sess, MethodUpdateNamespace, ns.ID, "Personal")
	assert.Equal(t, "Personal", renamed.Name)

	groups = dispatch[[]store.DocGroup](t, r, sess, MethodGetDocs, "c1")
	require.Len(t, groups, 1)
	assert.Equal(t, "Personal", groups[0].Namespace.Name)
	assert.Equal(t, "Work", groups[0].Docs[0].Namespace.Name, "document keeps the name captured at creation")

	_, err = r.Dispatch(t.Context(), sess, MethodRemoveNamespace, params(t, ns.ID))
	require.NoError(t, err)

	assert.Empty(t, dispatch[[]store.Namespace](t, r, sess, MethodGetNamespaces))
	assert.Empty(t, dispatch[[]store.DocGroup](t, r, sess, MethodGetDocs))
}

func TestRouter_NoActiveConnection(t *testing.T) {
	r, _, _ := newTestRouter(t)

	_, err := r.Dispatch(t.Context(), NewSession(t.Context(), nil), MethodCreateNamespace, params(t, "Work"))
	require.ErrorIs(t, err, registry.ErrNoActiveConnection)
	assert.Equal(t, http.StatusConflict, errorStatus(err))

	_, err = r.Dispatch(t.Context(), nil, MethodGetDocs, nil)
	assert.ErrorIs(t, err, registry.ErrNoActiveConnection)
}

func TestRouter_ExplicitConnectionDoesNotChangeActive(t *testing.T) {
	r, _, _ := newTestRouter(t)
	sess := NewSession(t.Context(), nil)

	list := dispatch[[]store.Namespace](t, r, sess, MethodGetNamespaces, "c9")
	assert.Empty(t, list)
	assert.Equal(t, "", r.registry.Active())
	assert.Equal(t, []string{"c9"}, r.registry.Connections())
}

func TestRouter_SessionsKeepTheirOwnConnection(t *testing.T) {
	r, _, _ := newTestRouter(t)
	alice := NewSession(t.Context(), nil)
	bob := NewSession(t.Context(), nil)

	require.NoError(t, r.OpenConnection(t.Context(), alice, "c1"))
	require.NoError(t, r.OpenConnection(t.Context(), bob, "c2"))
	assert.Equal(t, "c2", r.registry.Active())

	dispatch[store.Namespace](t, r, alice, MethodCreateNamespace, "alice-ns")

	c1 := dispatch[[]store.Namespace](t, r, nil, MethodGetNamespaces, "c1")
	c2 := dispatch[[]store.Namespace](t, r, nil, MethodGetNamespaces, "c2")
	require.Len(t, c1, 1)
	assert.Equal(t, "alice-ns", c1[0].Name)
	assert.Empty(t, c2)

	// A session with no binding falls back to the active connection
	dispatch[store.Namespace](t, r, NewSession(t.Context(), nil), MethodCreateNamespace, "fallback")
	c2 = dispatch[[]store.Namespace](t, r, nil, MethodGetNamespaces, "c2")
	require.Len(t, c2, 1)
	assert.Equal(t, "fallback", c2[0].Name)
}

func TestRouter_UseConnection(t *testing.T) {
	r, _, _ := newTestRouter(t)
	sess := NewSession(t.Context(), nil)

	err := r.UseConnection(t.Context(), sess, "c1")
	require.ErrorIs(t, err, registry.ErrNotOpen)
	assert.Equal(t, http.StatusConflict, errorStatus(err))

	require.NoError(t, r.OpenConnection(t.Context(), nil, "c1"))
	require.NoError(t, r.OpenConnection(t.Context(), nil, "c2"))
	require.NoError(t, r.UseConnection(t.Context(), sess, "c1"))

	assert.Equal(t, "c1", r.registry.Active())
	assert.Equal(t, "c1", sess.Bound())
}

func TestRouter_DispatchErrors(t *testing.T) {
	r, _, _ := newTestRouter(t)
	sess := NewSession(t.Context(), nil)
	require.NoError(t, r.OpenConnection(t.Context(), sess, "c1"))

	tests := []struct {
		name       string
		method     string
		params     []json.RawMessage
		wantErr    error
		wantStatus int
	}{
		{"unknown method", "drop-table", nil, ErrMethodNotFound, http.StatusMethodNotAllowed},
		{"missing name", MethodCreateNamespace, nil, ErrInvalidParams, http.StatusBadRequest},
		{"null name", MethodCreateNamespace, []json.RawMessage{json.RawMessage("null")}, ErrInvalidParams, http.StatusBadRequest},
		{"wrong type", MethodRemoveDoc, []json.RawMessage{json.RawMessage("42")}, ErrInvalidParams, http.StatusBadRequest},
		{"missing doc body", MethodUpdateDoc, params(t, "id-1"), ErrInvalidParams, http.StatusBadRequest},
		{"rename missing namespace", MethodUpdateNamespace, params(t, "nope", "x"), store.ErrNotFound, http.StatusNotFound},
		{"update missing doc", MethodUpdateDoc, params(t, "nope", store.DocInput{}), store.ErrNotFound, http.StatusNotFound},
		{"dangling namespace", MethodCreateDoc, params(t, "sql", "nope", store.DocInput{Name: "q"}), store.ErrInvalidReference, http.StatusUnprocessableEntity},
		{"unknown doc type", MethodCreateDoc, params(t, "graphql", "nope", store.DocInput{}), store.ErrInvalidDocType, http.StatusBadRequest},
		{"empty connection id", MethodDeleteDocFile, params(t, ""), store.ErrInvalidConnectionID, http.StatusBadRequest},
		{"path connection id", MethodOpenConnection, params(t, "../etc"), store.ErrInvalidConnectionID, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Dispatch(t.Context(), sess, tt.method, tt.params)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantStatus, errorStatus(err))
		})
	}
}

func TestRouter_DeleteDocFileWithoutLiveStore(t *testing.T) {
	r, backend, _ := newTestRouter(t)
	require.NoError(t, backend.Save(t.Context(), "c1", &store.Unit{
		Namespaces: []store.Namespace{{ID: "n1", Name: "Work"}},
	}))

	_, err := r.Dispatch(t.Context(), nil, MethodDeleteDocFile, params(t, "c1"))
	require.NoError(t, err)
	assert.False(t, backend.Has("c1"))
	assert.Empty(t, r.registry.Connections(), "destroy does not open the connection")

	// Absent unit is a no-op
	_, err = r.Dispatch(t.Context(), nil, MethodDeleteDocFile, params(t, "c1"))
	assert.NoError(t, err)
}

func TestRouter_ChangeListener(t *testing.T) {
	r, _, bridge := newTestRouter(t)

	events := make(chan struct{}, 8)
	sess := NewSession(t.Context(), func() { events <- struct{}{} })
	require.NoError(t, r.OpenConnection(t.Context(), sess, "c1"))

	_, err := r.Dispatch(t.Context(), sess, MethodAddChangeListener, nil)
	require.NoError(t, err)
	_, err = r.Dispatch(t.Context(), sess, MethodAddChangeListener, params(t, "c1"))
	require.NoError(t, err)
	assert.Equal(t, 1, bridge.Count(), "adding twice keeps one listener")

	dispatch[store.Namespace](t, r, sess, MethodCreateNamespace, "Work")

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("originating session did not receive its own change event")
	}

	_, err = r.Dispatch(t.Context(), sess, MethodRemoveChangeListener, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, bridge.Count())

	dispatch[store.Namespace](t, r, sess, MethodCreateNamespace, "Later")
	select {
	case <-events:
		t.Fatal("change delivered after remove-change-listener")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouter_ChangeListenerNeedsSession(t *testing.T) {
	r, _, _ := newTestRouter(t)
	require.NoError(t, r.OpenConnection(t.Context(), nil, "c1"))

	err := r.AddChangeListener(t.Context(), nil, "c1")
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestRouter_ListenerEndsWithSessionContext(t *testing.T) {
	r, _, bridge := newTestRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	sess := NewSession(ctx, nil)
	require.NoError(t, r.OpenConnection(t.Context(), sess, "c1"))
	require.NoError(t, r.AddChangeListener(t.Context(), sess, ""))
	require.Equal(t, 1, bridge.Count())

	cancel()

	require.Eventually(t, func() bool { return bridge.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_CloseConnection(t *testing.T) {
	r, backend, bridge := newTestRouter(t)
	sess := NewSession(t.Context(), nil)
	require.NoError(t, r.OpenConnection(t.Context(), sess, "c1"))
	require.NoError(t, r.AddChangeListener(t.Context(), sess, ""))
	dispatch[store.Namespace](t, r, sess, MethodCreateNamespace, "Work")

	_, err := r.Dispatch(t.Context(), sess, MethodCloseConnection, params(t, "c1"))
	require.NoError(t, err)

	assert.Equal(t, 0, bridge.Count())
	assert.Equal(t, "", sess.Bound())
	assert.Equal(t, "", r.registry.Active())
	assert.True(t, backend.Has("c1"), "closing keeps persisted data")

	// Closing again succeeds
	_, err = r.Dispatch(t.Context(), sess, MethodCloseConnection, params(t, "c1"))
	assert.NoError(t, err)

	// Reopening reloads what was persisted
	require.NoError(t, r.OpenConnection(t.Context(), sess, "c1"))
	list := dispatch[[]store.Namespace](t, r, sess, MethodGetNamespaces)
	require.Len(t, list, 1)
	assert.Equal(t, "Work", list[0].Name)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrInvalidReference, http.StatusUnprocessableEntity},
		{registry.ErrNoActiveConnection, http.StatusConflict},
		{registry.ErrNotOpen, http.StatusConflict},
		{store.ErrClosed, http.StatusConflict},
		{store.ErrInvalidConnectionID, http.StatusBadRequest},
		{ErrInvalidParams, http.StatusBadRequest},
		{ErrMethodNotFound, http.StatusMethodNotAllowed},
		{store.ErrStorageIO, http.StatusInternalServerError},
		{store.ErrCorruptUnit, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), "%v", tt.err)
	}

	assert.Equal(t, "internal server error", errorMessage(store.ErrStorageIO))
}

func TestRouter_LogsCallerSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := registry.New(store.NewMockBackend(), registry.Options{Logger: testLogger()})
	bridge := notify.NewBridge(testLogger(), nil)
	t.Cleanup(bridge.Close)
	r := NewRouter(reg, bridge, nil, logger)

	ctx := auth.WithIdentity(t.Context(), &auth.Identity{Subject: "alice"})
	_, err := r.Dispatch(ctx, nil, MethodGetNamespaces, params(t, "c1"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "method=get-namespaces")
	assert.Contains(t, buf.String(), "subject=alice")

	buf.Reset()
	_, err = r.Dispatch(t.Context(), nil, MethodGetDocs, nil)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "subject=anonymous")
}
