package testdb

// Engines the harness can manage.
import (
	_ "github.com/phrazzld/dbharness/internal/platform/mysql"
	_ "github.com/phrazzld/dbharness/internal/platform/postgres"
	_ "github.com/phrazzld/dbharness/internal/platform/sqlite"
	_ "github.com/phrazzld/dbharness/internal/testdb/testmodels"
)
