package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
	"github.com/phrazzld/dbharness/internal/engine"
)

// sqlDriverName is the name modernc.org/sqlite registers with database/sql.
const sqlDriverName = "sqlite"

func init() {
	engine.Register(Driver{})
}

// Driver implements engine.Driver for sqlite.
type Driver struct{}

// Name returns dburl.EngineSQLite.
func (Driver) Name() string { return dburl.EngineSQLite }

// Dialect returns the goose sqlite dialect.
func (Driver) Dialect() database.Dialect { return database.DialectSQLite3 }

// DSN builds a modernc.org/sqlite data source name: the file path followed by
// the remaining credentials as query parameters.
func DSN(creds map[string]string) (string, error) {
	path := creds[dburl.KeyFilePath]
	if path == "" {
		return "", dberr.NewConfigurationError("", "sqlite credentials have no %s", dburl.KeyFilePath)
	}
	params := url.Values{}
	for k, v := range creds {
		if k != dburl.KeyFilePath {
			params.Set(k, v)
		}
	}
	if len(params) == 0 {
		return path, nil
	}
	return path + "?" + params.Encode(), nil
}

// Open returns a single-connection pool for the database.
func (Driver) Open(creds map[string]string) (*sql.DB, error) {
	dsn, err := DSN(creds)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dberr.ErrConnection, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// CreateDatabase creates the parent directory and the database file.
// It is a no-op for in-memory databases.
func (d Driver) CreateDatabase(ctx context.Context, creds map[string]string) error {
	path := creds[dburl.KeyFilePath]
	if path == dburl.MemoryPath {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
	}

	db, err := d.Open(creds)
	if err != nil {
		return err
	}
	defer db.Close()
	// sqlite creates the file lazily, on the first statement.
	if _, err := db.ExecContext(ctx, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("%w: %v", dberr.ErrConnection, err)
	}
	return nil
}

// DropDatabase removes the database file and its journal files. A missing
// file is reported as dberr.ErrDatabaseNotExist. Dropping an in-memory
// database is a no-op; closing its pool already discarded it.
func (Driver) DropDatabase(_ context.Context, creds map[string]string) error {
	path := creds[dburl.KeyFilePath]
	if path == dburl.MemoryPath {
		return nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", dberr.ErrDatabaseNotExist, path)
		}
		return fmt.Errorf("remove %s: %w", path, err)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path+suffix, err)
		}
	}
	return nil
}
