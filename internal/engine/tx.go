package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Transaction is a rollback-only transaction bound to a connection label.
// It has no Commit.
type Transaction struct {
	label string
	tx    *sql.Tx
}

// Label returns the connection label the transaction was opened on.
func (t *Transaction) Label() string { return t.label }

// ExecContext runs a statement inside the transaction.
func (t *Transaction) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the transaction.
func (t *Transaction) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction.
func (t *Transaction) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Rollback undoes the transaction. Rolling back a finished transaction is
// not an error.
func (t *Transaction) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction on %q: %w", t.label, err)
	}
	return nil
}
