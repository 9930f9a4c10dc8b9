package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3/database"

	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
	"github.com/phrazzld/dbharness/internal/engine"
)

// MySQL server error numbers
const (
	// errBadDB is ER_BAD_DB_ERROR, "Unknown database".
	errBadDB = 1049
	// errDBDropExists is ER_DB_DROP_EXISTS, "Can't drop database; database doesn't exist".
	errDBDropExists = 1008
)

const sqlDriverName = "mysql"

func init() {
	engine.Register(New())
}

// Driver implements engine.Driver for MySQL.
type Driver struct {
	openDB func(dsn string) (*sql.DB, error)
}

// New returns a driver that connects through go-sql-driver/mysql.
func New() *Driver {
	return &Driver{openDB: func(dsn string) (*sql.DB, error) {
		return sql.Open(sqlDriverName, dsn)
	}}
}

// Name returns dburl.EngineMySQL.
func (*Driver) Name() string { return dburl.EngineMySQL }

// Dialect returns the goose mysql dialect.
func (*Driver) Dialect() database.Dialect { return database.DialectMySQL }

// DSN builds a go-sql-driver/mysql data source name. When withDatabase is
// false the DSN selects no default database, which is what administrative
// statements need.
func DSN(creds map[string]string, withDatabase bool) (string, error) {
	host := creds[dburl.KeyHost]
	if host == "" {
		return "", dberr.NewConfigurationError("", "mysql credentials have no %s", dburl.KeyHost)
	}

	cfg := gomysql.NewConfig()
	cfg.User = creds[dburl.KeyUser]
	cfg.Passwd = creds[dburl.KeyPassword]
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, creds[dburl.KeyPort])
	if withDatabase {
		cfg.DBName = creds[dburl.KeyDatabase]
	}
	for k, v := range creds {
		switch k {
		case dburl.KeyUser, dburl.KeyPassword, dburl.KeyHost, dburl.KeyPort, dburl.KeyDatabase:
		default:
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN(), nil
}

// Open returns a pool for the database named in creds.
func (d *Driver) Open(creds map[string]string) (*sql.DB, error) {
	dsn, err := DSN(creds, true)
	if err != nil {
		return nil, err
	}
	db, err := d.openDB(dsn)
	if err != nil {
		return nil, MapError(err)
	}
	return db, nil
}

// CreateDatabase issues CREATE DATABASE on a connection without a default
// database.
func (d *Driver) CreateDatabase(ctx context.Context, creds map[string]string) error {
	return d.admin(ctx, creds, "CREATE DATABASE ")
}

// DropDatabase issues DROP DATABASE. A missing database is reported as
// dberr.ErrDatabaseNotExist.
func (d *Driver) DropDatabase(ctx context.Context, creds map[string]string) error {
	return d.admin(ctx, creds, "DROP DATABASE ")
}

func (d *Driver) admin(ctx context.Context, creds map[string]string, stmt string) error {
	name := creds[dburl.KeyDatabase]
	if name == "" {
		return dberr.NewConfigurationError("", "mysql credentials have no %s", dburl.KeyDatabase)
	}
	dsn, err := DSN(creds, false)
	if err != nil {
		return err
	}
	db, err := d.openDB(dsn)
	if err != nil {
		return MapError(err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, stmt+quoteIdentifier(name)); err != nil {
		return MapError(err)
	}
	return nil
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// MapError classifies a MySQL error into the dberr taxonomy.
// The original error is kept in the chain.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errBadDB, errDBDropExists:
			return fmt.Errorf("%w: %w", dberr.ErrDatabaseNotExist, err)
		}
		return err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, gomysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %w", dberr.ErrConnection, err)
	}
	return err
}
