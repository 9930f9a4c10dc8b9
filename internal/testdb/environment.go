package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/phrazzld/dbharness/internal/config"
	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/engine"
	"github.com/phrazzld/dbharness/internal/platform/logger"
	"github.com/phrazzld/dbharness/internal/redact"
	"github.com/phrazzld/dbharness/internal/registry"
)

// Environment is the process-level state of the harness: the settings, the
// registry, the default configuration tree and the connections created for
// it.
type Environment struct {
	settings config.Settings
	logger   *slog.Logger
	registry *registry.Registry
	runtime  *Runtime

	mu          sync.Mutex
	initialized bool
	defaultTree config.Tree
	defaults    registry.Snapshot
}

// EnvOption customises NewEnvironment.
type EnvOption func(*Environment)

// WithSettings uses s instead of loading settings from the environment.
func WithSettings(s config.Settings) EnvOption {
	return func(e *Environment) { e.settings = s }
}

// WithURL overrides the default test database URL.
func WithURL(rawURL string) EnvOption {
	return func(e *Environment) { e.settings.TestDB = rawURL }
}

// WithApp overrides the app label and its model modules.
func WithApp(label string, modules ...string) EnvOption {
	return func(e *Environment) {
		e.settings.AppLabel = label
		e.settings.Modules = slices.Clone(modules)
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) EnvOption {
	return func(e *Environment) { e.logger = l }
}

// NewEnvironment loads settings with config.Load, applies opts and returns
// an uninitialised environment.
func NewEnvironment(opts ...EnvOption) (*Environment, error) {
	s, err := config.Load()
	if err != nil {
		return nil, err
	}
	e := &Environment{settings: *s}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Setup(e.settings.LogLevel, os.Stderr).With("component", "testdb")
	}
	if e.settings.OperationTimeout <= 0 {
		e.settings.OperationTimeout = config.DefaultOperationTimeout
	}
	e.registry = registry.New(e.logger)
	e.runtime = NewRuntime(context.Background(), "environment")
	return e, nil
}

// MustEnvironment is like NewEnvironment but panics on error.
func MustEnvironment(opts ...EnvOption) *Environment {
	e, err := NewEnvironment(opts...)
	if err != nil {
		panic(fmt.Sprintf("testdb: %v", err))
	}
	return e
}

// Settings returns the settings in use.
func (e *Environment) Settings() config.Settings { return e.settings }

// Registry returns the environment's registry.
func (e *Environment) Registry() *registry.Registry { return e.registry }

// Runtime returns the long-lived process runtime.
func (e *Environment) Runtime() *Runtime { return e.runtime }

// Logger returns the lifecycle logger.
func (e *Environment) Logger() *slog.Logger { return e.logger }

// ConnectionLabel returns the label of the default connection. It equals the
// app label.
func (e *Environment) ConnectionLabel() string { return e.settings.AppLabel }

// DBConfig builds a fresh testing configuration: one app with the configured
// modules, bound to a connection of the same name. Each call yields a new
// database name when the URL carries the placeholder.
func (e *Environment) DBConfig() (config.Tree, error) {
	return config.Build(e.settings.TestDB,
		map[string][]string{e.settings.AppLabel: e.settings.Modules},
		config.WithConnectionLabel(e.settings.AppLabel),
		config.WithTesting(true))
}

// Initialized reports whether Initialize has completed.
func (e *Environment) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Initialize creates the default database and its schema. Any database
// left with the same name is dropped first; failures to reach it or find it
// are ignored. The connections are kept aside and the registry is emptied
// so tests start from a clean registry.
func (e *Environment) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	tree, err := e.DBConfig()
	if err != nil {
		return formatSetupError("resolve test database", e.settings.TestDB, err)
	}

	err = e.runtime.Run(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(logger.WithLogger(ctx, e.logger), e.settings.OperationTimeout)
		defer cancel()
		return initDB(ctx, e.registry, tree)
	})
	if err != nil {
		return formatSetupError("initialize test database", e.settings.TestDB, err)
	}

	e.defaultTree = tree
	e.defaults = e.registry.Snapshot()
	e.registry.Reset()
	e.initialized = true

	e.logger.InfoContext(ctx, "test database initialized",
		"connection", e.ConnectionLabel(),
		"database", tree.Connections[e.ConnectionLabel()].Identity())
	return nil
}

// initDB drops any stale database, then creates it and its schema.
func initDB(ctx context.Context, reg *registry.Registry, tree config.Tree) error {
	if err := reg.Init(ctx, tree, registry.InitOptions{}); err == nil {
		if err := reg.DropDatabases(ctx); err != nil && !dberr.IsTolerableDropError(err) {
			return err
		}
	} else if !dberr.IsTolerableDropError(err) {
		return err
	}

	if err := reg.Init(ctx, tree, registry.InitOptions{CreateDatabase: true}); err != nil {
		return err
	}
	return reg.GenerateSchemas(ctx)
}

// RestoreDefault puts the default connections and apps back into the
// registry with empty transaction slots and marks it initialised.
func (e *Environment) RestoreDefault() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return fmt.Errorf("restore default registry: %w", dberr.ErrNotInitialized)
	}
	e.registry.Restore(e.defaults)
	if err := e.registry.InitApps(e.defaultTree.Apps); err != nil {
		return err
	}
	e.registry.MarkInitialized()
	return nil
}

// DefaultClient returns the client of the default connection.
func (e *Environment) DefaultClient() (*engine.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, dberr.ErrNotInitialized
	}
	c, ok := e.defaults.Client(e.ConnectionLabel())
	if !ok {
		return nil, fmt.Errorf("%w: %q", dberr.ErrUnknownConnection, e.ConnectionLabel())
	}
	return c, nil
}

// DB returns the pool of the default connection. It does not go through the
// registry, so it works between tests and under the Shared strategy.
func (e *Environment) DB() (*sql.DB, error) {
	c, err := e.DefaultClient()
	if err != nil {
		return nil, err
	}
	return c.DB()
}

// Finalize drops every default database and empties the registry.
func (e *Environment) Finalize(ctx context.Context) error {
	if err := e.RestoreDefault(); err != nil {
		return err
	}
	e.runtime.Resume()

	err := e.runtime.Run(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(logger.WithLogger(ctx, e.logger), e.settings.OperationTimeout)
		defer cancel()
		return e.registry.DropDatabases(ctx)
	})

	e.mu.Lock()
	e.initialized = false
	e.defaults = registry.Snapshot{}
	e.mu.Unlock()
	e.registry.Reset()

	if err != nil {
		return formatSetupError("finalize test database", e.settings.TestDB, err)
	}
	e.logger.InfoContext(ctx, "test database dropped", "connection", e.ConnectionLabel())
	return nil
}

// Main runs the tests of m between Initialize and Finalize and returns the
// exit code for os.Exit.
func (e *Environment) Main(m *testing.M) int {
	ctx := context.Background()
	if err := e.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "testdb: %s\n", redact.Error(err))
		return 1
	}

	code := m.Run()

	if err := e.Finalize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "testdb: %s\n", redact.Error(err))
		if code == 0 {
			code = 1
		}
	}
	return code
}
