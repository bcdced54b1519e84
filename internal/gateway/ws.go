// ABOUTME: WebSocket RPC sessions carrying saved-doc requests and change notifications
// ABOUTME: One Session per socket; the read loop owns its lifetime and writes are serialized

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/savedoc-gateway/internal/auth"
)

// RPC error codes for protocol failures. Operation failures carry the
// HTTP status errorStatus maps them to.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// RPCRequest is an inbound call
type RPCRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// RPCError describes a failed call
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// RPCResponse answers one RPCRequest
type RPCResponse struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCNotification is a server push with no reply expected
type RPCNotification struct {
	Method string `json:"method"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Front ends connect from app origins; auth is the bearer token
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one upgraded socket
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
}

// writeJSON serializes writes from the read loop and the bridge pumps
func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// handleWebSocket upgrades the request and serves RPC calls until the
// socket closes. Closing cancels the session context, which detaches all
// of the session's change listeners.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws := &wsConn{conn: conn, writeTimeout: g.config.Sessions.WriteTimeout}
	logger := g.logger.With("remote_addr", r.RemoteAddr, "subject", auth.Subject(r.Context()))

	sess := NewSession(ctx, func() {
		if err := ws.writeJSON(RPCNotification{Method: EventChange}); err != nil {
			logger.Debug("change delivery failed", "error", err)
		}
	})
	logger = logger.With("session_id", sess.ID)
	logger.Info("websocket session started")
	defer func() {
		// Detach before the socket closes so no pump writes to a dead conn
		cancel()
		n := g.bridge.Detach(sess.ID)
		logger.Info("websocket session ended", "listeners_detached", n)
	}()

	readTimeout := 2 * g.config.Sessions.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go g.pingLoop(ctx, ws, logger)

	// Gateway shutdown does not reach hijacked connections
	go func() {
		select {
		case <-g.done:
			_ = conn.Close()
		case <-ctx.Done():
		}
	}()

	for {
		var req RPCRequest
		if err := conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				_ = ws.writeJSON(RPCResponse{Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		resp := g.serveRPC(ctx, sess, &req)
		if err := ws.writeJSON(resp); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

// serveRPC dispatches one request and builds its response
func (g *Gateway) serveRPC(ctx context.Context, sess *Session, req *RPCRequest) RPCResponse {
	result, err := g.router.Dispatch(ctx, sess, req.Method, req.Params)
	if err != nil {
		return RPCResponse{ID: req.ID, Error: rpcError(err)}
	}
	return RPCResponse{ID: req.ID, Result: result}
}

func rpcError(err error) *RPCError {
	switch {
	case errors.Is(err, ErrMethodNotFound):
		return &RPCError{Code: CodeMethodNotFound, Message: err.Error()}
	case errors.Is(err, ErrInvalidParams):
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &RPCError{Code: errorStatus(err), Message: errorMessage(err)}
	}
}

// pingLoop keeps the socket alive and lets the read deadline catch dead peers
func (g *Gateway) pingLoop(ctx context.Context, ws *wsConn, logger *slog.Logger) {
	ticker := time.NewTicker(g.config.Sessions.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
