// ABOUTME: HTTP REST API for saved namespaces, documents and connections
// ABOUTME: Routes with gorilla/mux and streams change events over SSE

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/2389/savedoc-gateway/internal/auth"
	"github.com/2389/savedoc-gateway/internal/store"
)

// ConnectionHeader scopes REST calls to a connection
const ConnectionHeader = "X-Connection-ID"

// NamespaceRequest is the body of namespace create and rename
type NamespaceRequest struct {
	Name string `json:"name"`
}

// CreateDocRequest is the body of POST /api/docs
type CreateDocRequest struct {
	Type        store.DocType `json:"type"`
	NamespaceID string        `json:"namespace_id"`
	Name        string        `json:"name"`
	Content     string        `json:"content"`
}

// registerAPIRoutes mounts the REST, WebSocket and SSE handlers under /api
func (g *Gateway) registerAPIRoutes(root *mux.Router) {
	api := root.PathPrefix("/api").Subrouter()
	api.Use(auth.HTTPAuthMiddleware(g.verifier, g.logger))

	api.HandleFunc("/namespaces", g.handleGetNamespaces).Methods(http.MethodGet)
	api.HandleFunc("/namespaces", g.handleCreateNamespace).Methods(http.MethodPost)
	api.HandleFunc("/namespaces/{id}", g.handleUpdateNamespace).Methods(http.MethodPatch)
	api.HandleFunc("/namespaces/{id}", g.handleRemoveNamespace).Methods(http.MethodDelete)

	api.HandleFunc("/docs", g.handleGetDocs).Methods(http.MethodGet)
	api.HandleFunc("/docs", g.handleCreateDoc).Methods(http.MethodPost)
	api.HandleFunc("/docs/{id}", g.handleUpdateDoc).Methods(http.MethodPatch)
	api.HandleFunc("/docs/{id}", g.handleRemoveDoc).Methods(http.MethodDelete)

	api.HandleFunc("/connections/{conn}", g.handleOpenConnection).Methods(http.MethodPost)
	api.HandleFunc("/connections/{conn}/active", g.handleUseConnection).Methods(http.MethodPut)
	api.HandleFunc("/connections/{conn}", g.handleCloseConnection).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{conn}/file", g.handleDeleteDocFile).Methods(http.MethodDelete)

	api.HandleFunc("/events", g.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/ws", g.handleWebSocket).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.sendJSONError(w, http.StatusNotFound, "not found")
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	root.NotFoundHandler = notFound
	root.MethodNotAllowedHandler = notAllowed
	api.MethodNotAllowedHandler = notAllowed
}

// requestSession builds a session for one REST request. The request scope
// comes from the X-Connection-ID header or the connection query parameter.
func (g *Gateway) requestSession(r *http.Request) *Session {
	sess := NewSession(r.Context(), nil)
	conn := r.Header.Get(ConnectionHeader)
	if conn == "" {
		conn = r.URL.Query().Get("connection")
	}
	if conn != "" {
		sess.bind(conn)
	}
	return sess
}

// call runs one REST operation through the router's bookkeeping
func (g *Gateway) call(r *http.Request, method string, fn func() error) error {
	start := time.Now()
	err := fn()
	g.router.observe(r.Context(), method, start, err)
	return err
}

func (g *Gateway) handleGetNamespaces(w http.ResponseWriter, r *http.Request) {
	var out []store.Namespace
	err := g.call(r, MethodGetNamespaces, func() (err error) {
		out, err = g.router.GetNamespaces(r.Context(), g.requestSession(r), "")
		return err
	})
	g.respond(w, http.StatusOK, out, err)
}

func (g *Gateway) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	var req NamespaceRequest
	if err := decodeBody(r, &req); err != nil {
		g.respond(w, 0, nil, err)
		return
	}

	var out store.Namespace
	err := g.call(r, MethodCreateNamespace, func() (err error) {
		out, err = g.router.CreateNamespace(r.Context(), g.requestSession(r), req.Name)
		return err
	})
	g.respond(w, http.StatusCreated, out, err)
}

func (g *Gateway) handleUpdateNamespace(w http.ResponseWriter, r *http.Request) {
	var req NamespaceRequest
	if err := decodeBody(r, &req); err != nil {
		g.respond(w, 0, nil, err)
		return
	}

	var out store.Namespace
	err := g.call(r, MethodUpdateNamespace, func() (err error) {
		out, err = g.router.UpdateNamespace(r.Context(), g.requestSession(r), mux.Vars(r)["id"], req.Name)
		return err
	})
	g.respond(w, http.StatusOK, out, err)
}

func (g *Gateway) handleRemoveNamespace(w http.ResponseWriter, r *http.Request) {
	err := g.call(r, MethodRemoveNamespace, func() error {
		return g.router.RemoveNamespace(r.Context(), g.requestSession(r), mux.Vars(r)["id"])
	})
	g.respond(w, http.StatusNoContent, nil, err)
}

func (g *Gateway) handleGetDocs(w http.ResponseWriter, r *http.Request) {
	var out []store.DocGroup
	err := g.call(r, MethodGetDocs, func() (err error) {
		out, err = g.router.GetDocs(r.Context(), g.requestSession(r), "")
		return err
	})
	g.respond(w, http.StatusOK, out, err)
}

func (g *Gateway) handleCreateDoc(w http.ResponseWriter, r *http.Request) {
	var req CreateDocRequest
	if err := decodeBody(r, &req); err != nil {
		g.respond(w, 0, nil, err)
		return
	}

	var out store.Doc
	err := g.call(r, MethodCreateDoc, func() (err error) {
		in := store.DocInput{Name: req.Name, Content: req.Content}
		out, err = g.router.CreateDoc(r.Context(), g.requestSession(r), req.Type, req.NamespaceID, in)
		return err
	})
	g.respond(w, http.StatusCreated, out, err)
}

func (g *Gateway) handleUpdateDoc(w http.ResponseWriter, r *http.Request) {
	var in store.DocInput
	if err := decodeBody(r, &in); err != nil {
		g.respond(w, 0, nil, err)
		return
	}

	var out store.Doc
	err := g.call(r, MethodUpdateDoc, func() (err error) {
		out, err = g.router.UpdateDoc(r.Context(), g.requestSession(r), mux.Vars(r)["id"], in)
		return err
	})
	g.respond(w, http.StatusOK, out, err)
}

func (g *Gateway) handleRemoveDoc(w http.ResponseWriter, r *http.Request) {
	err := g.call(r, MethodRemoveDoc, func() error {
		return g.router.RemoveDoc(r.Context(), g.requestSession(r), mux.Vars(r)["id"])
	})
	g.respond(w, http.StatusNoContent, nil, err)
}

func (g *Gateway) handleOpenConnection(w http.ResponseWriter, r *http.Request) {
	err := g.call(r, MethodOpenConnection, func() error {
		return g.router.OpenConnection(r.Context(), nil, mux.Vars(r)["conn"])
	})
	g.respond(w, http.StatusNoContent, nil, err)
}

func (g *Gateway) handleUseConnection(w http.ResponseWriter, r *http.Request) {
	err := g.call(r, MethodUseConnection, func() error {
		return g.router.UseConnection(r.Context(), nil, mux.Vars(r)["conn"])
	})
	g.respond(w, http.StatusNoContent, nil, err)
}

func (g *Gateway) handleCloseConnection(w http.ResponseWriter, r *http.Request) {
	err := g.call(r, MethodCloseConnection, func() error {
		return g.router.CloseConnection(r.Context(), nil, mux.Vars(r)["conn"])
	})
	g.respond(w, http.StatusNoContent, nil, err)
}

func (g *Gateway) handleDeleteDocFile(w http.ResponseWriter, r *http.Request) {
	err := g.call(r, MethodDeleteDocFile, func() error {
		return g.router.DeleteDocFile(r.Context(), mux.Vars(r)["conn"])
	})
	g.respond(w, http.StatusNoContent, nil, err)
}

// handleEvents streams change events for the request's connection as SSE.
// The listener lives exactly as long as the request.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	changes := make(chan struct{}, 1)
	sess := g.requestSession(r)
	sess.notify = func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}

	err := g.call(r, MethodAddChangeListener, func() error {
		return g.router.AddChangeListener(r.Context(), sess, "")
	})
	if err != nil {
		g.respond(w, 0, nil, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "ready", map[string]string{"session_id": sess.ID})
	flusher.Flush()

	heartbeat := time.NewTicker(g.config.Sessions.PingInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
			g.writeSSEEvent(w, EventChange, struct{}{})
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// respond writes payload with status, or the mapped error response
func (g *Gateway) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		g.sendJSONError(w, errorStatus(err), errorMessage(err))
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// decodeBody parses a JSON request body into v
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", ErrInvalidParams)
	}
	return nil
}
