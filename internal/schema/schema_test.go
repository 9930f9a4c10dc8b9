package schema_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
	"github.com/phrazzld/dbharness/internal/platform/sqlite"
	"github.com/phrazzld/dbharness/internal/schema"
)

var widgets = fstest.MapFS{
	"00001_create_widgets.sql": {Data: []byte(`-- +goose Up
CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);

-- +goose Down
DROP TABLE widgets;
`)},
}

var gadgets = fstest.MapFS{
	"00001_create_gadgets.sql": {Data: []byte(`-- +goose Up
CREATE TABLE gadgets (id INTEGER PRIMARY KEY);

-- +goose Down
DROP TABLE gadgets;
`)},
}

func init() {
	schema.MustRegister("schematest.widgets", widgets)
	schema.MustRegister("schematest_gadgets", gadgets)
}

func TestRegisterValidation(t *testing.T) {
	assert.Error(t, schema.Register("", widgets))
	assert.Error(t, schema.Register("has space", widgets))
	assert.Error(t, schema.Register("ok", nil))
	assert.Contains(t, schema.Modules(), "schematest.widgets")
}

func TestVersionTable(t *testing.T) {
	assert.Equal(t, "schema_migrations_schematest_widgets", schema.VersionTable("schematest.widgets"))
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	d := sqlite.Driver{}
	db, err := d.Open(map[string]string{dburl.KeyFilePath: dburl.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	modules := []string{"schematest.widgets", "schematest_gadgets"}
	require.NoError(t, schema.Generate(ctx, db, d.Dialect(), modules))
	require.NoError(t, schema.Generate(ctx, db, d.Dialect(), modules), "generating twice should be a no-op")

	_, err = db.ExecContext(ctx, "INSERT INTO widgets (name) VALUES ('w')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO gadgets (id) VALUES (1)")
	require.NoError(t, err)

	var tables int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'schema_migrations_%'").Scan(&tables))
	assert.Equal(t, 2, tables, "each module should keep its own version table")
}

func TestGenerateUnknownModule(t *testing.T) {
	ctx := context.Background()
	d := sqlite.Driver{}
	db, err := d.Open(map[string]string{dburl.KeyFilePath: dburl.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = schema.Generate(ctx, db, d.Dialect(), []string{"schematest.widgets", "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.ErrConfiguration)
	assert.Contains(t, err.Error(), "nope")

	var tables int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table'").Scan(&tables))
	assert.Zero(t, tables, "nothing should be applied when a module is unknown")
}
