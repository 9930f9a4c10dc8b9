// Package sqlite registers the embedded sqlite engine, backed by the pure Go
// modernc.org/sqlite driver.
//
// A database is a file (plus its -wal, -shm and -journal companions) or the
// in-memory database ":memory:". In-memory databases live as long as their
// pool, so pools are limited to a single connection.
package sqlite
