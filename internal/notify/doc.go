// Package notify bridges DocumentStore change signals to remote sessions.
//
// A session attaches once per connection with a deliver callback and the
// context that represents its transport's lifetime. The bridge subscribes
// to the store, and each attachment gets a one-slot coalescing queue plus a
// pump goroutine that calls deliver. A mutation never waits on a session:
// the store's listener only performs a non-blocking send into the queue.
//
// Cleanup happens exactly once per attachment, whichever comes first:
//
//   - Detach(session) or DetachConnection(session, connection)
//   - DropConnection(connection) when the connection's store is closed
//   - the session context being cancelled (transport teardown)
//   - Close() on shutdown
//
// Removal is by attachment identity and subscription token, never by
// comparing callbacks.
package notify
