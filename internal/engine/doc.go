// Package engine is the boundary between dbharness and the database
// engines it manages.
//
// A Driver knows how to open, create and drop databases of one engine family
// and is registered by name from an init function in internal/platform/*.
// A Client binds a Driver to one resolved connection and owns its *sql.DB.
// Transactions returned by a Client can only be rolled back; test bodies see
// them through the Querier interface.
package engine
