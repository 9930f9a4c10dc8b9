package postgres

import (
	"context"
	"database/sql"
	"maps"
	"net"
	"net/url"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3/database"

	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
	"github.com/phrazzld/dbharness/internal/engine"
)

// MaintenanceDatabase is the database administrative statements run in.
const MaintenanceDatabase = "postgres"

const sqlDriverName = "pgx"

func init() {
	engine.Register(New())
}

// Driver implements engine.Driver for PostgreSQL.
type Driver struct {
	openDB func(dsn string) (*sql.DB, error)
}

// New returns a driver that connects through pgx.
func New() *Driver {
	return &Driver{openDB: func(dsn string) (*sql.DB, error) {
		return sql.Open(sqlDriverName, dsn)
	}}
}

// Name returns dburl.EnginePostgres.
func (*Driver) Name() string { return dburl.EnginePostgres }

// Dialect returns the goose postgres dialect.
func (*Driver) Dialect() database.Dialect { return database.DialectPostgres }

// DSN builds a postgres:// connection string from resolved credentials.
// Credentials beyond the connection fields become query parameters, so
// sslmode and friends pass straight through to pgx.
func DSN(creds map[string]string) (string, error) {
	host := creds[dburl.KeyHost]
	if host == "" {
		return "", dberr.NewConfigurationError("", "postgres credentials have no %s", dburl.KeyHost)
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, creds[dburl.KeyPort]),
		Path:   "/" + creds[dburl.KeyDatabase],
	}
	if user := creds[dburl.KeyUser]; user != "" {
		if pw, ok := creds[dburl.KeyPassword]; ok && pw != "" {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	params := url.Values{}
	for k, v := range creds {
		switch k {
		case dburl.KeyUser, dburl.KeyPassword, dburl.KeyHost, dburl.KeyPort, dburl.KeyDatabase:
		default:
			params.Set(k, v)
		}
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// Open returns a pool for the database named in creds.
func (d *Driver) Open(creds map[string]string) (*sql.DB, error) {
	dsn, err := DSN(creds)
	if err != nil {
		return nil, err
	}
	db, err := d.openDB(dsn)
	if err != nil {
		return nil, MapError(err)
	}
	return db, nil
}

// CreateDatabase issues CREATE DATABASE from the maintenance database.
func (d *Driver) CreateDatabase(ctx context.Context, creds map[string]string) error {
	return d.admin(ctx, creds, "CREATE DATABASE ")
}

// DropDatabase issues DROP DATABASE from the maintenance database.
// A missing database is reported as dberr.ErrDatabaseNotExist.
func (d *Driver) DropDatabase(ctx context.Context, creds map[string]string) error {
	return d.admin(ctx, creds, "DROP DATABASE ")
}

func (d *Driver) admin(ctx context.Context, creds map[string]string, stmt string) error {
	name := creds[dburl.KeyDatabase]
	if name == "" {
		return dberr.NewConfigurationError("", "postgres credentials have no %s", dburl.KeyDatabase)
	}

	adminCreds := maps.Clone(creds)
	adminCreds[dburl.KeyDatabase] = MaintenanceDatabase

	db, err := d.Open(adminCreds)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, stmt+pgx.Identifier{name}.Sanitize()); err != nil {
		return MapError(err)
	}
	return nil
}
