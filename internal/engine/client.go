package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
	"github.com/phrazzld/dbharness/internal/platform/logger"
)

// Querier is the statement-running subset shared by *sql.DB, *sql.Tx and
// *Transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
	_ Querier = (*Transaction)(nil)
)

// Client is the handle for one configured connection. The pool is opened
// lazily and can be closed and reopened; dropping the database closes it.
type Client struct {
	label  string
	config dburl.ConnectionConfig
	driver Driver
	logger *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewClient looks up the driver for cfg.Engine and returns an unopened
// client. An unregistered engine is a configuration error.
func NewClient(label string, cfg dburl.ConnectionConfig, l *slog.Logger) (*Client, error) {
	d, ok := Lookup(cfg.Engine)
	if !ok {
		return nil, dberr.NewConfigurationError(cfg.Engine, "no driver registered for engine %q", cfg.Engine).
			WithHint("registered drivers: " + strings.Join(Drivers(), ", ") +
				"; import the matching internal/platform package")
	}
	return &Client{
		label:  label,
		config: cfg.Clone(),
		driver: d,
		logger: logger.OrDiscard(l).With("connection", label, "engine", cfg.Engine),
	}, nil
}

// Label returns the connection label the client was created for.
func (c *Client) Label() string { return c.label }

// Config returns a copy of the resolved connection configuration.
func (c *Client) Config() dburl.ConnectionConfig { return c.config.Clone() }

// Identity names the physical database behind the client.
func (c *Client) Identity() string { return c.config.Identity() }

// Driver returns the engine driver of the client.
func (c *Client) Driver() Driver { return c.driver }

// DB returns the connection pool, opening it on first use.
func (c *Client) DB() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	db, err := c.driver.Open(c.config.Credentials)
	if err != nil {
		return nil, fmt.Errorf("open %s connection %q: %w", c.driver.Name(), c.label, err)
	}
	c.db = db
	return db, nil
}

// CreateDatabase creates the physical database.
func (c *Client) CreateDatabase(ctx context.Context) error {
	c.logger.DebugContext(ctx, "creating database", "database", c.Identity())
	if err := c.driver.CreateDatabase(ctx, c.config.Credentials); err != nil {
		return fmt.Errorf("create database %q: %w", c.Identity(), err)
	}
	return nil
}

// DropDatabase closes the pool and drops the physical database.
func (c *Client) DropDatabase(ctx context.Context) error {
	closeErr := c.Close()
	c.logger.DebugContext(ctx, "dropping database", "database", c.Identity())
	if err := c.driver.DropDatabase(ctx, c.config.Credentials); err != nil {
		return errors.Join(closeErr, fmt.Errorf("drop database %q: %w", c.Identity(), err))
	}
	return closeErr
}

// BeginTx starts a transaction on the client's pool.
func (c *Client) BeginTx(ctx context.Context) (*Transaction, error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction on %q: %w", c.label, err)
	}
	return &Transaction{label: c.label, tx: tx}, nil
}

// Close closes the pool if it is open. The client stays usable.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("close connection %q: %w", c.label, err)
	}
	return nil
}
