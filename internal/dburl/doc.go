// Package dburl resolves connection URLs into engine-specific configuration
// records.
//
// A URL has the general shape
//
//	<scheme>://[<user>:<password>@]<host-or-path>[:<port>]/<database-or-tail>[?<key>=<value>&...]
//
// The scheme selects a Rule from a registry. File rules (sqlite) yield a
// file_path credential; network rules (postgres, mysql) yield user, password,
// host, port and database. Query parameters are passed through as extra
// credentials.
//
// In testing mode the placeholder "{}" inside the file path or database name
// is replaced with a random suffix:
//
//	cfg, err := dburl.Resolve(`postgres://postgres:@localhost:5432/app_\{\}`, true)
//	// cfg.Credentials["database"] == "app_1f2e3d4c"
package dburl
