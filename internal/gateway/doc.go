// Package gateway is the request surface of savedoc-gateway.
//
// # Overview
//
// The Gateway wires the persisted-unit backend, the connection registry,
// the change bridge and the Router behind one HTTP server. Every transport
// goes through the Router, which resolves the target DocumentStore for a
// request in this order:
//
//  1. an explicit connection id argument
//  2. the calling session's bound connection (open-connection, use-connection,
//     or the X-Connection-ID header on REST calls)
//  3. the registry's active connection
//
// With none of these the call fails with registry.ErrNoActiveConnection.
//
// # WebSocket RPC
//
// GET /api/ws upgrades to a socket carrying JSON requests:
//
//	{"id": 1, "method": "create-doc", "params": ["sql", "<namespace id>", {"name": "q1", "content": "select 1"}]}
//	{"id": 1, "result": {"id": "...", "type": "sql", ...}}
//
// After add-change-listener the session receives
//
//	{"method": "changeEvent"}
//
// whenever the connection's documents change, including changes the session
// made itself. Listeners are detached when the socket closes.
//
// # HTTP API
//
//   - GET/POST /api/namespaces, PATCH/DELETE /api/namespaces/{id}
//   - GET/POST /api/docs, PATCH/DELETE /api/docs/{id}
//   - POST/DELETE /api/connections/{conn}, PUT /api/connections/{conn}/active
//   - DELETE /api/connections/{conn}/file
//   - GET /api/events - change events as SSE
//   - GET /health, GET /health/ready
//
// Errors are JSON objects of the form {"error": "..."}.
package gateway
