package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/dbharness/internal/config"
	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/engine"
	"github.com/phrazzld/dbharness/internal/platform/logger"
	"github.com/phrazzld/dbharness/internal/schema"
)

// dropConcurrency bounds how many databases DropDatabases drops at once.
const dropConcurrency = 4

// Registry is the set of active connections and applications.
type Registry struct {
	logger *slog.Logger

	mu           sync.RWMutex
	apps         map[string]config.App
	connections  map[string]*engine.Client
	transactions map[string]*engine.Transaction
	initialized  bool
}

// New returns an empty registry. A nil logger discards output.
func New(l *slog.Logger) *Registry {
	return &Registry{
		logger:       logger.OrDiscard(l),
		apps:         make(map[string]config.App),
		connections:  make(map[string]*engine.Client),
		transactions: make(map[string]*engine.Transaction),
	}
}

// InitOptions controls Init.
type InitOptions struct {
	// CreateDatabase creates every connection's database before use.
	CreateDatabase bool
}

// Init replaces the registry's connections with one client per connection
// of tree, registers the apps of tree and marks the registry initialised.
// Clients replaced by Init are not closed; callers that need them later keep
// a Snapshot.
//
// If Init fails the registry is left as it was. Databases it had already
// created are dropped again.
func (r *Registry) Init(ctx context.Context, tree config.Tree, opts InitOptions) error {
	if err := tree.Validate(); err != nil {
		return err
	}

	clients := make(map[string]*engine.Client, len(tree.Connections))
	for _, label := range slices.Sorted(maps.Keys(tree.Connections)) {
		c, err := engine.NewClient(label, tree.Connections[label], r.logger)
		if err != nil {
			return errors.Join(err, discard(ctx, clients, opts.CreateDatabase))
		}
		if opts.CreateDatabase {
			if err := c.CreateDatabase(ctx); err != nil {
				_ = c.Close()
				return errors.Join(err, discard(ctx, clients, true))
			}
		}
		clients[label] = c
	}

	prev := r.SaveState()
	r.mu.Lock()
	r.connections = clients
	r.transactions = make(map[string]*engine.Transaction)
	r.mu.Unlock()

	if err := r.InitApps(tree.Apps); err != nil {
		r.RestoreState(prev)
		return errors.Join(err, discard(ctx, clients, opts.CreateDatabase))
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "registry initialised",
		"connections", len(clients),
		"apps", len(tree.Apps),
		"created", opts.CreateDatabase)
	return nil
}

// discard closes clients that never made it into the registry, dropping
// their databases first when Init created them.
func discard(ctx context.Context, clients map[string]*engine.Client, created bool) error {
	var errs []error
	for _, label := range slices.Sorted(maps.Keys(clients)) {
		c := clients[label]
		if created {
			if err := c.DropDatabase(ctx); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		_ = c.Close()
	}
	return errors.Join(errs...)
}

// InitApps replaces the registered apps. Every app's default connection must
// be an active connection.
func (r *Registry) InitApps(apps map[string]config.App) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]config.App, len(apps))
	for _, label := range slices.Sorted(maps.Keys(apps)) {
		app := apps[label]
		if _, ok := r.connections[app.DefaultConnection]; !ok {
			return dberr.NewConfigurationError(label,
				"app %q references unknown connection %q", label, app.DefaultConnection)
		}
		next[label] = config.App{Models: slices.Clone(app.Models), DefaultConnection: app.DefaultConnection}
	}
	r.apps = next
	return nil
}

// GenerateSchemas applies, for every connection, the migrations of every
// module of every app bound to it.
func (r *Registry) GenerateSchemas(ctx context.Context) error {
	r.mu.RLock()
	if !r.initialized {
		r.mu.RUnlock()
		return fmt.Errorf("generate schemas: %w", dberr.ErrNotInitialized)
	}
	type job struct {
		client  *engine.Client
		modules []string
	}
	var jobs []job
	for _, label := range slices.Sorted(maps.Keys(r.connections)) {
		var modules []string
		for _, appLabel := range slices.Sorted(maps.Keys(r.apps)) {
			app := r.apps[appLabel]
			if app.DefaultConnection != label {
				continue
			}
			for _, m := range app.Models {
				if !slices.Contains(modules, m) {
					modules = append(modules, m)
				}
			}
		}
		if len(modules) > 0 {
			jobs = append(jobs, job{client: r.connections[label], modules: modules})
		}
	}
	r.mu.RUnlock()

	for _, j := range jobs {
		db, err := j.client.DB()
		if err != nil {
			return err
		}
		if err := schema.Generate(ctx, db, j.client.Driver().Dialect(), j.modules); err != nil {
			return fmt.Errorf("generate schema for %q: %w", j.client.Label(), err)
		}
	}
	return nil
}

// DropDatabases rolls back any open transactions, drops every connection's
// database and resets the registry. All drop errors are returned joined.
func (r *Registry) DropDatabases(ctx context.Context) error {
	r.mu.Lock()
	clients := slices.Collect(maps.Values(r.connections))
	txs := slices.Collect(maps.Values(r.transactions))
	r.transactions = make(map[string]*engine.Transaction)
	r.mu.Unlock()

	var (
		errsMu sync.Mutex
		errs   []error
	)
	record := func(err error) {
		errsMu.Lock()
		errs = append(errs, err)
		errsMu.Unlock()
	}

	for _, tx := range txs {
		if tx == nil {
			continue
		}
		if err := tx.Rollback(); err != nil {
			record(err)
		}
	}

	var g errgroup.Group
	g.SetLimit(dropConcurrency)
	for _, c := range clients {
		g.Go(func() error {
			if err := c.DropDatabase(ctx); err != nil {
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.Reset()
	return errors.Join(errs...)
}

// Snapshot is a copy of the registry's connection handles.
type Snapshot struct {
	connections map[string]*engine.Client
}

// Labels returns the sorted connection labels in the snapshot.
func (s Snapshot) Labels() []string {
	return slices.Sorted(maps.Keys(s.connections))
}

// Client returns the snapshotted client for label.
func (s Snapshot) Client(label string) (*engine.Client, bool) {
	c, ok := s.connections[label]
	return c, ok
}

// Snapshot copies the current connection handles.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{connections: maps.Clone(r.connections)}
}

// Restore replaces the connections with a copy of s and empties every
// transaction slot. Apps and the initialised flag are left alone.
func (r *Registry) Restore(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = maps.Clone(s.connections)
	if r.connections == nil {
		r.connections = make(map[string]*engine.Client)
	}
	r.transactions = make(map[string]*engine.Transaction)
}

// State is a full copy of the registry: connections, apps, transaction slots
// and the initialised flag.
type State struct {
	apps         map[string]config.App
	connections  map[string]*engine.Client
	transactions map[string]*engine.Transaction
	initialized  bool
}

// SaveState copies the whole registry.
func (r *Registry) SaveState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return State{
		apps:         maps.Clone(r.apps),
		connections:  maps.Clone(r.connections),
		transactions: maps.Clone(r.transactions),
		initialized:  r.initialized,
	}
}

// RestoreState puts back a state taken with SaveState. Clients and
// transactions are neither closed nor rolled back.
func (r *Registry) RestoreState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps = orEmpty(maps.Clone(s.apps))
	r.connections = orEmpty(maps.Clone(s.connections))
	r.transactions = orEmpty(maps.Clone(s.transactions))
	r.initialized = s.initialized
}

func orEmpty[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return make(map[K]V)
	}
	return m
}

// MarkInitialized sets the initialised flag.
func (r *Registry) MarkInitialized() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = true
}

// Reset empties the registry. Clients are not closed.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps = make(map[string]config.App)
	r.connections = make(map[string]*engine.Client)
	r.transactions = make(map[string]*engine.Transaction)
	r.initialized = false
}

// Initialized reports whether the registry is ready for routing.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Labels returns the sorted labels of the active connections.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.connections))
}

// Apps returns a copy of the registered apps.
func (r *Registry) Apps() map[string]config.App {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]config.App, len(r.apps))
	for label, app := range r.apps {
		out[label] = config.App{Models: slices.Clone(app.Models), DefaultConnection: app.DefaultConnection}
	}
	return out
}
