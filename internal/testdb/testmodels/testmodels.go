// Package testmodels provides the model module the harness uses by default.
//
// Importing the package registers the module "testmodels" with
// internal/schema. It holds a single table:
//
//	tournaments(id INTEGER PRIMARY KEY, name VARCHAR(255) NOT NULL)
package testmodels

import (
	"embed"
	"io/fs"

	"github.com/phrazzld/dbharness/internal/schema"
)

// Module is the name the migrations are registered under.
const Module = "testmodels"

//go:embed migrations/*.sql
var migrations embed.FS

func init() {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	schema.MustRegister(Module, sub)
}
