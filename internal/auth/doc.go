// Package auth provides token authentication for savedoc-gateway.
//
// # Tokens
//
// API callers authenticate with HS256 JWTs signed with the configured
// auth.jwt_secret. Every token names a subject and is issued by
// "savedoc-gateway":
//
//	v := auth.NewJWTVerifier([]byte(secret))
//	token, err := v.Generate("alice", 720*time.Hour)
//	id, err := v.Verify(token)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware guards the /api routes. The token is read from the
// Authorization header ("Bearer <token>") or, for WebSocket and SSE clients
// that cannot set headers, from the token query parameter. With a nil
// verifier the middleware is a pass-through, which is how auth is disabled.
//
// Handlers read the caller with FromContext or Subject.
package auth
