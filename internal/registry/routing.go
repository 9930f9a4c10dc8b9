package registry

import (
	"context"
	"fmt"

	"github.com/phrazzld/dbharness/internal/config"
	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/engine"
)

// Connection returns the active client for label.
func (r *Registry) Connection(label string) (*engine.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectionLocked(label)
}

func (r *Registry) connectionLocked(label string) (*engine.Client, error) {
	if !r.initialized {
		return nil, dberr.ErrNotInitialized
	}
	c, ok := r.connections[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", dberr.ErrUnknownConnection, label)
	}
	return c, nil
}

// App returns the registered app for label.
func (r *Registry) App(label string) (config.App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return config.App{}, dberr.ErrNotInitialized
	}
	app, ok := r.apps[label]
	if !ok {
		return config.App{}, fmt.Errorf("%w: %q", dberr.ErrUnknownApp, label)
	}
	return app, nil
}

// ConnectionForApp returns the default connection of app.
func (r *Registry) ConnectionForApp(app string) (*engine.Client, error) {
	a, err := r.App(app)
	if err != nil {
		return nil, err
	}
	return r.Connection(a.DefaultConnection)
}

// Querier returns what statements on label should run against: the
// transaction in the label's slot if there is one, the pool otherwise.
func (r *Registry) Querier(label string) (engine.Querier, error) {
	r.mu.RLock()
	c, err := r.connectionLocked(label)
	tx := r.transactions[label]
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx, nil
	}
	return c.DB()
}

// BeginTransaction opens a transaction on label and puts it in the label's
// slot. Only one transaction per label can be current.
func (r *Registry) BeginTransaction(ctx context.Context, label string) (*engine.Transaction, error) {
	c, err := r.Connection(label)
	if err != nil {
		return nil, err
	}
	if _, busy := r.CurrentTransaction(label); busy {
		return nil, fmt.Errorf("begin transaction: a transaction is already current on %q", label)
	}

	tx, err := c.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.transactions[label] = tx
	r.mu.Unlock()
	return tx, nil
}

// CurrentTransaction returns the transaction in label's slot.
func (r *Registry) CurrentTransaction(label string) (*engine.Transaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.transactions[label]
	return tx, ok && tx != nil
}

// ClearTransaction empties label's slot without touching the transaction.
func (r *Registry) ClearTransaction(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transactions, label)
}
