package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dbharness/internal/config"
	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
	"github.com/phrazzld/dbharness/internal/platform/logger"
	_ "github.com/phrazzld/dbharness/internal/platform/sqlite"
	"github.com/phrazzld/dbharness/internal/registry"
	"github.com/phrazzld/dbharness/internal/testdb/testmodels"
)

func fileTree(t *testing.T, label string) (config.Tree, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reg-{}.sqlite")
	tree, err := config.Build("sqlite://"+path, map[string][]string{"models": {testmodels.Module}},
		config.WithConnectionLabel(label), config.WithTesting(true))
	require.NoError(t, err)
	return tree, tree.Connections[label].Credentials["file_path"]
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(logger.NewTestLogger(t))
	tree, path := fileTree(t, "models")

	assert.False(t, reg.Initialized())
	require.NoError(t, reg.Init(ctx, tree, registry.InitOptions{CreateDatabase: true}))
	assert.True(t, reg.Initialized())
	assert.Equal(t, []string{"models"}, reg.Labels())
	assert.FileExists(t, path)

	require.NoError(t, reg.GenerateSchemas(ctx))

	client, err := reg.ConnectionForApp("models")
	require.NoError(t, err)
	assert.Equal(t, path, client.Identity())

	q, err := reg.Querier("models")
	require.NoError(t, err)
	_, err = q.ExecContext(ctx, "INSERT INTO tournaments (id, name) VALUES (1, 'Test')")
	require.NoError(t, err)

	require.NoError(t, reg.DropDatabases(ctx))
	assert.False(t, reg.Initialized())
	assert.Empty(t, reg.Labels())
	assert.Empty(t, reg.Apps())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "database file should be dropped")
}

func TestTransactionSlot(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(nil)
	tree, _ := fileTree(t, "models")
	require.NoError(t, reg.Init(ctx, tree, registry.InitOptions{CreateDatabase: true}))
	t.Cleanup(func() { _ = reg.DropDatabases(context.Background()) })
	require.NoError(t, reg.GenerateSchemas(ctx))

	_, ok := reg.CurrentTransaction("models")
	assert.False(t, ok)

	tx, err := reg.BeginTransaction(ctx, "models")
	require.NoError(t, err)

	current, ok := reg.CurrentTransaction("models")
	require.True(t, ok)
	assert.Same(t, tx, current)

	q, err := reg.Querier("models")
	require.NoError(t, err)
	assert.Same(t, tx, q, "queries should route through the current transaction")

	_, err = reg.BeginTransaction(ctx, "models")
	assert.Error(t, err, "only one transaction may be current per connection")

	_, err = q.ExecContext(ctx, "INSERT INTO tournaments (id, name) VALUES (1, 'Test')")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	reg.ClearTransaction("models")

	db, err := reg.Querier("models")
	require.NoError(t, err)
	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM tournaments").Scan(&n))
	assert.Zero(t, n)
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(nil)
	first, _ := fileTree(t, "models")
	require.NoError(t, reg.Init(ctx, first, registry.InitOptions{CreateDatabase: true}))
	snap := reg.Snapshot()
	original, err := reg.Connection("models")
	require.NoError(t, err)

	pending, err := reg.BeginTransaction(ctx, "models")
	require.NoError(t, err)

	second, _ := fileTree(t, "models")
	require.NoError(t, reg.Init(ctx, second, registry.InitOptions{CreateDatabase: true}))
	replaced, err := reg.Connection("models")
	require.NoError(t, err)
	assert.NotEqual(t, original.Identity(), replaced.Identity())
	require.NoError(t, reg.DropDatabases(ctx))

	reg.Restore(snap)
	reg.MarkInitialized()
	restored, err := reg.Connection("models")
	require.NoError(t, err)
	assert.Same(t, original, restored)
	_, ok := reg.CurrentTransaction("models")
	assert.False(t, ok, "restore should empty transaction slots")
	require.NoError(t, pending.Rollback())
	assert.Equal(t, []string{"models"}, snap.Labels())

	require.NoError(t, reg.DropDatabases(ctx))
}

func TestRoutingErrors(t *testing.T) {
	reg := registry.New(nil)

	_, err := reg.Connection("models")
	assert.ErrorIs(t, err, dberr.ErrNotInitialized)
	_, err = reg.Querier("models")
	assert.ErrorIs(t, err, dberr.ErrNotInitialized)
	_, err = reg.App("models")
	assert.ErrorIs(t, err, dberr.ErrNotInitialized)

	ctx := context.Background()
	tree, _ := fileTree(t, "models")
	require.NoError(t, reg.Init(ctx, tree, registry.InitOptions{CreateDatabase: true}))
	t.Cleanup(func() { _ = reg.DropDatabases(context.Background()) })

	_, err = reg.Connection("other")
	assert.ErrorIs(t, err, dberr.ErrUnknownConnection)
	_, err = reg.ConnectionForApp("other")
	assert.ErrorIs(t, err, dberr.ErrUnknownApp)

	err = reg.InitApps(map[string]config.App{"x": {Models: []string{"m"}, DefaultConnection: "nope"}})
	assert.ErrorIs(t, err, dberr.ErrConfiguration)
}

func TestInitUnknownEngine(t *testing.T) {
	reg := registry.New(nil)
	tree := config.Tree{
		Connections: map[string]dburl.ConnectionConfig{"default": {Engine: "oracle", Credentials: map[string]string{}}},
	}
	err := reg.Init(context.Background(), tree, registry.InitOptions{})
	assert.ErrorIs(t, err, dberr.ErrConfiguration)
	assert.False(t, reg.Initialized())
}

func TestDropDatabasesReportsMissing(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(nil)
	tree, path := fileTree(t, "models")
	require.NoError(t, reg.Init(ctx, tree, registry.InitOptions{}))

	err := reg.DropDatabases(ctx)
	require.Error(t, err, "database at %s was never created", path)
	assert.ErrorIs(t, err, dberr.ErrDatabaseNotExist)
	assert.False(t, reg.Initialized(), "registry should be reset even when drops fail")
}

func TestFailedInitLeavesRegistryUntouched(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(nil)
	tree, _ := fileTree(t, "models")
	require.NoError(t, reg.Init(ctx, tree, registry.InitOptions{CreateDatabase: true}))
	before, err := reg.Connection("models")
	require.NoError(t, err)

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	createdFirst := filepath.Join(dir, "a.sqlite")
	broken := config.Tree{
		Connections: map[string]dburl.ConnectionConfig{
			"a": {Engine: "sqlite", Credentials: map[string]string{"file_path": createdFirst}},
			"b": {Engine: "sqlite", Credentials: map[string]string{"file_path": filepath.Join(blocker, "b.sqlite")}},
		},
		Apps: map[string]config.App{"models": {Models: []string{testmodels.Module}, DefaultConnection: "a"}},
	}

	err = reg.Init(ctx, broken, registry.InitOptions{CreateDatabase: true})
	require.Error(t, err)

	_, statErr := os.Stat(createdFirst)
	assert.True(t, os.IsNotExist(statErr), "databases created before the failure should be dropped")
	after, err := reg.Connection("models")
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, []string{"models"}, reg.Labels())
	assert.True(t, reg.Initialized())

	require.NoError(t, reg.DropDatabases(ctx))
}

func TestSaveAndRestoreState(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(nil)
	tree, _ := fileTree(t, "models")
	require.NoError(t, reg.Init(ctx, tree, registry.InitOptions{CreateDatabase: true}))
	client, err := reg.Connection("models")
	require.NoError(t, err)
	tx, err := reg.BeginTransaction(ctx, "models")
	require.NoError(t, err)

	saved := reg.SaveState()
	reg.Reset()
	assert.False(t, reg.Initialized())

	reg.RestoreState(saved)
	assert.True(t, reg.Initialized())
	restored, err := reg.Connection("models")
	require.NoError(t, err)
	assert.Same(t, client, restored)
	current, ok := reg.CurrentTransaction("models")
	require.True(t, ok)
	assert.Same(t, tx, current)
	assert.Equal(t, "models", reg.Apps()["models"].DefaultConnection)

	reg.RestoreState(registry.State{})
	assert.False(t, reg.Initialized())
	assert.Empty(t, reg.Labels())

	require.NoError(t, tx.Rollback())
	reg.RestoreState(saved)
	require.NoError(t, reg.DropDatabases(ctx))
}
