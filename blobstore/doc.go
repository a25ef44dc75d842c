// Package blobstore provides path-addressed byte storage for the turn
// runtime: evicted tool results, delegated-task scratch space, and any
// other side-channel data too large to live in conversation history.
//
// Stores are partitioned by namespace. A namespace is a subtree view over
// the same backing storage; concurrent writers in different namespaces
// never conflict, while writers inside one namespace are expected to
// serialize themselves (caller discipline, not store-enforced).
//
// The package also holds the durable checkpoint store used by the
// approval gate to persist suspended turns, backed by SQLite.
package blobstore
