// Package registry multiplexes DocumentStores by connection id.
//
// # Lifecycle
//
//   - Open(id): create the store if needed and mark id active
//   - Get(id): create the store if needed, active pointer unchanged
//   - SetActive(id): switch the active pointer; id must already be open
//     (ErrNotOpen otherwise, no implicit creation)
//   - Close(id): drop the live store; persisted data is kept. Closing the
//     active connection leaves no active connection.
//   - Destroy(id): delete the persisted unit whether or not a store is live
//
// # Active Connection
//
// The active pointer is a routing convenience for callers that do not carry
// a connection id. Current() fails with ErrNoActiveConnection when unset.
// Callers that can carry an explicit id (see the gateway's per-session
// binding) should prefer Get.
//
// # Concurrency
//
// A single mutex guards the map and the active pointer, and is held across
// store creation and Destroy. Destroy of a live connection runs under that
// store's write lock, so it is ordered with respect to in-flight mutations.
package registry
