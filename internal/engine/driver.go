package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/pressly/goose/v3/database"
)

// Driver creates, drops and opens databases of one engine family.
// Implementations translate backend failures into dberr.ErrConnection and
// dberr.ErrDatabaseNotExist where they can tell.
type Driver interface {
	// Name is the engine id produced by dburl rules, e.g. "postgres".
	Name() string
	// Open returns a pool for the database described by creds. It does not
	// create the database.
	Open(creds map[string]string) (*sql.DB, error)
	CreateDatabase(ctx context.Context, creds map[string]string) error
	DropDatabase(ctx context.Context, creds map[string]string) error
	// Dialect selects the goose store used for schema migrations.
	Dialect() database.Dialect
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available by its name. It panics if d is nil or a
// driver with the same name is already registered.
func Register(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("engine: Register driver is nil")
	}
	if _, dup := drivers[d.Name()]; dup {
		panic(fmt.Sprintf("engine: Register called twice for driver %s", d.Name()))
	}
	drivers[d.Name()] = d
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	return d, ok
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
