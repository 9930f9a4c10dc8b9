package schema

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/platform/logger"
)

// VersionTablePrefix prefixes the per-module goose version table.
const VersionTablePrefix = "schema_migrations_"

var moduleName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

var (
	modulesMu sync.RWMutex
	modules   = make(map[string]fs.FS)
)

// Register makes the migrations in fsys available as module name. The
// migration files must sit at the root of fsys. Registering a name twice
// replaces the earlier filesystem.
func Register(name string, fsys fs.FS) error {
	if !moduleName.MatchString(name) {
		return fmt.Errorf("register module %q: name must match %s", name, moduleName)
	}
	if fsys == nil {
		return fmt.Errorf("register module %q: nil filesystem", name)
	}
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules[name] = fsys
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(name string, fsys fs.FS) {
	if err := Register(name, fsys); err != nil {
		panic(err)
	}
}

// Modules returns the sorted names of registered modules.
func Modules() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (fs.FS, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	fsys, ok := modules[name]
	return fsys, ok
}

// VersionTable returns the goose version table used for module.
func VersionTable(module string) string {
	return VersionTablePrefix + strings.ReplaceAll(module, ".", "_")
}

// Generate applies all pending migrations of the given modules, in order.
// Every module is checked before any migration runs, so an unknown module
// leaves the database untouched.
func Generate(ctx context.Context, db *sql.DB, dialect database.Dialect, moduleNames []string) error {
	log := logger.FromContext(ctx)

	providers := make([]*goose.Provider, 0, len(moduleNames))
	for _, name := range moduleNames {
		fsys, ok := lookup(name)
		if !ok {
			return dberr.NewConfigurationError(name, "unknown model module %q", name).
				WithHint("registered modules: " + strings.Join(Modules(), ", "))
		}
		store, err := database.NewStore(dialect, VersionTable(name))
		if err != nil {
			return fmt.Errorf("create migration store for %q: %w", name, err)
		}
		p, err := goose.NewProvider("", db, fsys, goose.WithStore(store))
		if err != nil {
			return fmt.Errorf("load migrations of %q: %w", name, err)
		}
		providers = append(providers, p)
	}

	for i, p := range providers {
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations of %q: %w", moduleNames[i], err)
		}
		log.DebugContext(ctx, "schema generated",
			"module", moduleNames[i],
			"applied", len(results))
	}
	return nil
}
