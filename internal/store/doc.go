// Package store provides the per-connection saved-document store.
//
// # Architecture
//
// A DocumentStore owns the namespaces and documents of exactly one
// connection. Its state lives in a persisted unit that is rewritten whole on
// every mutation through a Backend:
//
//   - FileBackend: one saved-docs-<connection>.json file per connection,
//     replaced atomically (temp file + rename)
//   - SQLiteBackend: one row per connection in a modernc.org/sqlite database
//   - MockBackend: in-memory, for tests
//
// # Data Models
//
//   - Namespace: named grouping of documents (id, name, createdAt, updatedAt)
//   - Doc: saved document with a copy of its namespace's {id, name} taken at
//     creation time. Renaming a namespace does not update existing docs.
//   - DocGroup: a namespace with its docs, as returned by ListDocsByNamespace
//   - Unit: {namespaces, docs}, the persisted record
//
// Timestamps are milliseconds since the Unix epoch.
//
// # Concurrency
//
// Writers are serialized by a per-store mutex held across the whole
// read-modify-write. The in-memory unit is copied before modification and
// only replaced once the backend accepted the write, so readers never see a
// partial mutation and a failed write leaves the store unchanged.
//
// # Change Listeners
//
// Subscribe registers a callback invoked after every successful mutation.
// Events carry no payload; listeners are expected to re-fetch. Subscribe
// returns a Subscription token used to unsubscribe.
//
// # Error Handling
//
//   - ErrNotFound: namespace or document id does not exist
//   - ErrInvalidReference: CreateDoc with an unknown namespace (wraps ErrNotFound)
//   - ErrStorageIO: persisted unit could not be read, written or deleted
//   - ErrCorruptUnit: existing unit could not be decoded (wraps ErrStorageIO)
//   - ErrInvalidConnectionID, ErrInvalidDocType: bad input
//
// Deleting an absent namespace or document, and destroying an absent unit,
// are no-ops.
package store
