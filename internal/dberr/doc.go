// Package dberr defines the error taxonomy shared across dbharness.
//
// Configuration errors come from malformed URLs and trees and are always
// returned to the caller. Connection and not-exist errors come from engine
// drivers; the test lifecycle swallows them only during the best-effort drop
// that precedes database creation. Postcondition errors are raised after a
// test has been torn down.
package dberr
