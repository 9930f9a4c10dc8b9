// Package config holds the two kinds of configuration dbharness deals with.
//
// Settings are process-level knobs (the default test database URL, log level
// and operation timeout) loaded from environment variables and an optional
// dbharness.yaml file. A Tree is the multi-connection, multi-application
// configuration produced by Build from a single connection URL and an
// app-to-modules mapping; it is what the registry is initialised from.
package config
