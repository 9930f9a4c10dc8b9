// Package postgres registers the PostgreSQL engine, backed by pgx through its
// database/sql adapter.
//
// Databases are created and dropped from a maintenance connection to the
// "postgres" database on the same server. Server errors are classified with
// MapError so the test lifecycle can tell a missing database or an
// unreachable server apart from real failures.
package postgres
