package testdb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/phrazzld/dbharness/internal/config"
	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/engine"
	"github.com/phrazzld/dbharness/internal/platform/logger"
	"github.com/phrazzld/dbharness/internal/registry"
)

// Strategy selects how a test case is isolated from other tests.
type Strategy int

const (
	StrategyShared Strategy = iota
	StrategyIsolated
	StrategyTransactional
)

func (s Strategy) String() string {
	switch s {
	case StrategyShared:
		return "shared"
	case StrategyIsolated:
		return "isolated"
	case StrategyTransactional:
		return "transactional"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// State is the lifecycle phase of a Case.
type State int

const (
	StateSetup State = iota
	StateRunning
	StateTeardownHooks
	StateTeardownDB
	StatePostconditionCheck
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateTeardownHooks:
		return "teardown-hooks"
	case StateTeardownDB:
		return "teardown-db"
	case StatePostconditionCheck:
		return "postcondition-check"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CaseOption customises Begin.
type CaseOption func(*caseOptions)

type caseOptions struct {
	leakCheck bool
	leakOpts  []goleak.Option
}

// WithLeakOptions adds goleak options to the case's leak check, typically
// goleak.IgnoreTopFunction for a goroutine the code under test keeps on
// purpose.
func WithLeakOptions(opts ...goleak.Option) CaseOption {
	return func(o *caseOptions) { o.leakOpts = append(o.leakOpts, opts...) }
}

// WithoutLeakCheck disables the goroutine leak check.
func WithoutLeakCheck() CaseOption {
	return func(o *caseOptions) { o.leakCheck = false }
}

// Case is one test running under a Strategy.
type Case struct {
	t        testing.TB
	env      *Environment
	strategy Strategy
	runtime  *Runtime
	leaks    *leakChecker

	mu       sync.Mutex
	state    State
	hooks    []func()
	client   *engine.Client
	tx       *engine.Transaction
	snapshot registry.Snapshot
	// prev is the registry as it was before the case began, restored last.
	prev registry.State
}

// Shared begins a case that uses the process-wide database as is.
func Shared(t testing.TB, env *Environment, opts ...CaseOption) *Case {
	t.Helper()
	return Begin(t, env, StrategyShared, opts...)
}

// Isolated begins a case with its own database, dropped at the end.
func Isolated(t testing.TB, env *Environment, opts ...CaseOption) *Case {
	t.Helper()
	return Begin(t, env, StrategyIsolated, opts...)
}

// Transactional begins a case whose statements run in a transaction on the
// process-wide database. The transaction is rolled back at the end.
func Transactional(t testing.TB, env *Environment, opts ...CaseOption) *Case {
	t.Helper()
	return Begin(t, env, StrategyTransactional, opts...)
}

// Begin prepares the database for strategy and registers the teardown with
// t.Cleanup. Setup failures stop the test with t.Fatal; the teardown still
// runs.
func Begin(t testing.TB, env *Environment, strategy Strategy, opts ...CaseOption) *Case {
	t.Helper()

	o := caseOptions{leakCheck: true}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Case{
		t:        t,
		env:      env,
		strategy: strategy,
		state:    StateSetup,
	}
	if o.leakCheck {
		c.leaks = newLeakChecker(o.leakOpts)
	}

	env.runtime.Suspend()
	c.prev = env.registry.SaveState()
	c.runtime = NewRuntime(logger.WithLogger(context.Background(), env.logger), t.Name())
	t.Cleanup(c.teardown)

	if err := c.setup(); err != nil {
		t.Fatalf("testdb: %s setup: %v", strategy, err)
	}
	c.setState(StateRunning)
	return c
}

func (c *Case) setup() error {
	env := c.env
	switch c.strategy {
	case StrategyShared:
		return env.RestoreDefault()

	case StrategyIsolated:
		tree, err := env.DBConfig()
		if err != nil {
			return formatSetupError("resolve test database", env.settings.TestDB, err)
		}
		return c.setupIsolated(tree)

	case StrategyTransactional:
		if !env.Initialized() {
			return fmt.Errorf("transactional case needs an initialized environment: %w", dberr.ErrNotInitialized)
		}
		if err := env.RestoreDefault(); err != nil {
			return err
		}
		// The transaction lives as long as the runtime context.
		tx, err := env.registry.BeginTransaction(c.runtime.Context(), env.ConnectionLabel())
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.tx = tx
		c.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("unknown strategy %s", c.strategy)
	}
}

func (c *Case) setupIsolated(tree config.Tree) error {
	env := c.env
	ctx, cancel := c.opContext()
	defer cancel()

	// A failed Init leaves the registry unchanged, so nothing is snapshotted.
	if err := env.registry.Init(ctx, tree, registry.InitOptions{CreateDatabase: true}); err != nil {
		return formatSetupError("create test database", env.settings.TestDB, err)
	}
	snap := env.registry.Snapshot()
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	if err := env.registry.GenerateSchemas(ctx); err != nil {
		return formatSetupError("generate schemas", env.settings.TestDB, err)
	}

	client, err := env.registry.Connection(env.ConnectionLabel())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

// opContext bounds a single database operation. It does not derive from the
// test's context, which is already cancelled when cleanups run.
func (c *Case) opContext() (context.Context, context.CancelFunc) {
	ctx := logger.WithLogger(context.Background(), c.env.logger)
	return context.WithTimeout(ctx, c.env.settings.OperationTimeout)
}

func (c *Case) teardown() {
	t := c.t
	env := c.env

	c.setState(StateTeardownHooks)
	c.mu.Lock()
	hooks := slices.Clone(c.hooks)
	c.hooks = nil
	c.mu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		runHook(t, hooks[i])
	}

	if err := c.runtime.Wait(); err != nil {
		t.Errorf("testdb: background work failed: %v", err)
	}

	c.setState(StateTeardownDB)
	if err := c.teardownDB(); err != nil {
		t.Errorf("testdb: %s teardown: %v", c.strategy, err)
	}
	env.registry.RestoreState(c.prev)

	if err := c.runtime.Close(); err != nil {
		t.Errorf("testdb: background work failed: %v", err)
	}
	env.runtime.Resume()

	c.setState(StatePostconditionCheck)
	if c.leaks != nil {
		if err := c.leaks.check(); err != nil {
			t.Errorf("%v", &dberr.PostconditionError{Test: t.Name(), Err: err})
		}
	}
	c.setState(StateDone)
}

func (c *Case) teardownDB() error {
	env := c.env
	c.mu.Lock()
	tx, snap := c.tx, c.snapshot
	c.tx, c.client = nil, nil
	c.mu.Unlock()

	switch c.strategy {
	case StrategyIsolated:
		if len(snap.Labels()) == 0 {
			return nil
		}
		env.registry.Restore(snap)
		ctx, cancel := c.opContext()
		defer cancel()
		return env.registry.DropDatabases(ctx)

	case StrategyTransactional:
		if tx == nil {
			return nil
		}
		restoreErr := env.RestoreDefault()
		return errors.Join(restoreErr, tx.Rollback())
	}
	return nil
}

func runHook(t testing.TB, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("testdb: cleanup hook panicked: %v", r)
		}
	}()
	fn()
}

func (c *Case) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the case's lifecycle phase.
func (c *Case) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Strategy returns the strategy the case was begun with.
func (c *Case) Strategy() Strategy { return c.strategy }

// Environment returns the environment the case belongs to.
func (c *Case) Environment() *Environment { return c.env }

// Registry returns the environment's registry.
func (c *Case) Registry() *registry.Registry { return c.env.registry }

// Runtime returns the case's runtime.
func (c *Case) Runtime() *Runtime { return c.runtime }

// Context returns a context that is cancelled when the case tears down.
func (c *Case) Context() context.Context { return c.runtime.Context() }

// Go runs fn on the case's runtime. Teardown waits for it and fails the test
// if it returns an error.
func (c *Case) Go(fn func(ctx context.Context) error) {
	c.t.Helper()
	if err := c.runtime.Go(fn); err != nil {
		c.t.Fatalf("testdb: start background work: %v", err)
	}
}

// Cleanup registers fn to run first during teardown. Hooks run last
// registered first; a panicking hook fails the test but does not stop the
// teardown.
func (c *Case) Cleanup(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Transaction returns the case's transaction under the Transactional
// strategy.
func (c *Case) Transaction() (*engine.Transaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx, c.tx != nil
}

// Client returns the client of the case's database: the per-test one under
// Isolated, the process-wide one otherwise.
func (c *Case) Client() *engine.Client {
	c.t.Helper()
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client != nil {
		return client
	}
	client, err := c.env.DefaultClient()
	if err != nil {
		c.t.Fatalf("testdb: %v", err)
	}
	return client
}

// Identity returns the file path or database name the case runs against.
func (c *Case) Identity() string {
	c.t.Helper()
	return c.Client().Identity()
}

// Querier returns where the test's statements should go: the transaction
// under Transactional, the case's database pool otherwise.
func (c *Case) Querier() engine.Querier {
	c.t.Helper()
	q, err := c.env.registry.Querier(c.env.ConnectionLabel())
	if err != nil {
		c.t.Fatalf("testdb: %v", err)
	}
	return q
}
