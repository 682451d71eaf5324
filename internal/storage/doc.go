// Package storage defines the remote object store boundary the cache
// orchestrator writes through. Backends must treat "create if absent" as
// non-atomic from the caller's point of view: OpenWrite and Commit report
// ErrExists when another writer got there first, and OpenRead must not expose
// an object until its writer has committed. Concrete backends live in the
// fs, memory and oci subpackages; Compressed wraps any of them with zstd.
package storage
