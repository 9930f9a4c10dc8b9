package postgres

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phrazzld/dbharness/internal/dberr"
)

// PostgreSQL error codes
const (
	// invalidCatalogNameCode is returned when the target database does not exist.
	invalidCatalogNameCode = "3D000"

	// duplicateDatabaseCode is returned by CREATE DATABASE for an existing name.
	duplicateDatabaseCode = "42P04"

	// objectInUseCode is returned by DROP DATABASE while sessions are connected.
	objectInUseCode = "55006"

	// cannotConnectNowCode is returned while the server is starting up or shutting down.
	cannotConnectNowCode = "57P03"
)

// MapError classifies a PostgreSQL error into the dberr taxonomy.
// The original error is kept in the chain.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case invalidCatalogNameCode:
			return fmt.Errorf("%w: %w", dberr.ErrDatabaseNotExist, err)
		case cannotConnectNowCode:
			return fmt.Errorf("%w: %w", dberr.ErrConnection, err)
		}
		return err
	}

	if isConnectionFailure(err) {
		return fmt.Errorf("%w: %w", dberr.ErrConnection, err)
	}
	return err
}

func isConnectionFailure(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, driver.ErrBadConn)
}

// IsDatabaseNotExist reports whether err says the database does not exist.
func IsDatabaseNotExist(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidCatalogNameCode
}

// IsDuplicateDatabase reports whether err says the database already exists.
func IsDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == duplicateDatabaseCode
}

// IsObjectInUse reports whether err says the database still has sessions.
func IsObjectInUse(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == objectInUseCode
}
