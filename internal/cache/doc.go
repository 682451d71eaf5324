// Package cache orchestrates write-once, read-many caching in front of a slow
// object store. GetCachedFile fingerprints a logical key, consults the local
// existence index and the keyed locks, and then either reports a hit, produces
// and persists the object inline, or produces it into memory and hands it to a
// bounded background write queue while returning the bytes immediately.
// Concurrent identical requests are coalesced so the producer runs once per
// in-flight path, and write races with other processes fall back to reading
// the object the other writer created.
package cache
