// Package registry holds the active connections, applications and
// per-connection transaction slots that the data-access layer routes through.
//
// A Registry is an explicit object; the test lifecycle owns one per
// Environment and mutates it only between tests. Its lock keeps concurrent
// reads memory-safe but does not make two tests that reinitialise or swap
// connections safe to run at the same time.
package registry
