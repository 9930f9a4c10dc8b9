// Package schema builds database schemas for model modules.
//
// A module is a named set of goose SQL migrations. Modules register
// themselves (usually from init with an embedded filesystem) and Generate
// applies every requested module to a database. Each module keeps its own
// goose version table, schema_migrations_<module>, so modules sharing a
// database do not interfere with each other's versions.
package schema
