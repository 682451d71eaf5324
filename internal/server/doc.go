// Package server hosts the Fiber HTTP service that fronts the cache. It owns
// request IDs, Host → origin resolution, the reserved "/-" diagnostics
// prefix, the uniform JSON error body and the shared upstream http.Client
// used by producers. The cache handler itself lives in the proxy package and
// is injected through AppOptions so tests can swap it out.
package server
