package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
)

func TestBuildSharesOneConnection(t *testing.T) {
	tree, err := Build("sqlite:///some/test.sqlite", map[string][]string{
		"models": {"app.models"},
		"events": {"app.events", "app.audit"},
		"other":  {"app.other"},
	})
	require.NoError(t, err)

	require.Len(t, tree.Connections, 1)
	assert.Equal(t, dburl.ConnectionConfig{
		Engine:      "sqlite",
		Credentials: map[string]string{"file_path": "/some/test.sqlite"},
	}, tree.Connections[DefaultConnectionLabel])

	require.Len(t, tree.Apps, 3)
	for label, app := range tree.Apps {
		assert.Equal(t, DefaultConnectionLabel, app.DefaultConnection, "app %s", label)
	}
	assert.Equal(t, []string{"app.events", "app.audit"}, tree.Apps["events"].Models)
	assert.Equal(t, []string{"events", "models", "other"}, tree.AppsFor(DefaultConnectionLabel))
}

func TestBuildIsStructurallyIdempotent(t *testing.T) {
	apps := map[string][]string{"models": {"testmodels"}}
	first, err := Build("postgres://u:@h:5432/db?x=1", apps, WithConnectionLabel("primary"))
	require.NoError(t, err)
	second, err := Build("postgres://u:@h:5432/db?x=1", apps, WithConnectionLabel("primary"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuildCopiesModuleLists(t *testing.T) {
	modules := []string{"a", "b"}
	tree, err := Build("sqlite://:memory:", map[string][]string{"models": modules})
	require.NoError(t, err)

	modules[0] = "changed"
	assert.Equal(t, []string{"a", "b"}, tree.Apps["models"].Models)
}

func TestBuildTestingRewritesOnce(t *testing.T) {
	tree, err := Build("sqlite:///tmp/test-{}.sqlite", map[string][]string{"models": {"testmodels"}},
		WithConnectionLabel("models"), WithTesting(true))
	require.NoError(t, err)

	path := tree.Connections["models"].Credentials["file_path"]
	assert.NotContains(t, path, "{}")
	assert.Equal(t, "models", tree.Apps["models"].DefaultConnection)
}

func TestBuildErrors(t *testing.T) {
	testCases := []struct {
		name string
		url  string
		apps map[string][]string
		opts []BuildOption
	}{
		{"bad url", "moo://baa", map[string][]string{"models": {"m"}}, nil},
		{"empty connection label", "sqlite://:memory:", map[string][]string{"models": {"m"}}, []BuildOption{WithConnectionLabel("")}},
		{"empty app label", "sqlite://:memory:", map[string][]string{"": {"m"}}, nil},
		{"empty module list", "sqlite://:memory:", map[string][]string{"models": {}}, nil},
		{"empty module name", "sqlite://:memory:", map[string][]string{"models": {""}}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.url, tc.apps, tc.opts...)
			require.Error(t, err)
			assert.ErrorIs(t, err, dberr.ErrConfiguration)
		})
	}
}

func TestTreeValidateUnknownConnection(t *testing.T) {
	tree := Tree{
		Connections: map[string]dburl.ConnectionConfig{
			"default": {Engine: "sqlite", Credentials: map[string]string{"file_path": ":memory:"}},
		},
		Apps: map[string]App{
			"models": {Models: []string{"m"}, DefaultConnection: "missing"},
		},
	}
	err := tree.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.ErrConfiguration)
	assert.Contains(t, err.Error(), `app "models" references unknown connection "missing"`)
}

func TestTreeValidateMissingEngine(t *testing.T) {
	tree := Tree{Connections: map[string]dburl.ConnectionConfig{"default": {}}}
	assert.ErrorIs(t, tree.Validate(), dberr.ErrConfiguration)
}

func TestMerge(t *testing.T) {
	users, err := Build("sqlite:///tmp/users.sqlite", map[string][]string{"users": {"users"}},
		WithConnectionLabel("users"))
	require.NoError(t, err)
	events, err := Build("postgres://u:@h/events", map[string][]string{"events": {"events"}},
		WithConnectionLabel("events"))
	require.NoError(t, err)

	tree, err := Merge(users, events, users)
	require.NoError(t, err)
	assert.Len(t, tree.Connections, 2)
	assert.Equal(t, []string{"users"}, tree.AppsFor("users"))
	assert.Equal(t, []string{"events"}, tree.AppsFor("events"))

	clash, err := Build("sqlite:///tmp/other.sqlite", map[string][]string{"users": {"users"}},
		WithConnectionLabel("users"))
	require.NoError(t, err)
	_, err = Merge(users, clash)
	assert.ErrorIs(t, err, dberr.ErrConfiguration)
}

func TestTreeJSONShape(t *testing.T) {
	tree, err := Build("postgres://u:@h:5432/db?x=1", map[string][]string{"models": {"testmodels"}})
	require.NoError(t, err)

	raw, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"connections": {
			"default": {
				"engine": "postgres",
				"credentials": {"user": "u", "password": "", "host": "h", "port": "5432", "database": "db", "x": "1"}
			}
		},
		"apps": {"models": {"models": ["testmodels"], "default_connection": "default"}}
	}`, string(raw))
}

func TestTreeClone(t *testing.T) {
	tree, err := Build("sqlite://:memory:", map[string][]string{"models": {"testmodels"}})
	require.NoError(t, err)

	clone := tree.Clone()
	clone.Apps["models"].Models[0] = "changed"
	clone.Connections[DefaultConnectionLabel].Credentials["file_path"] = "x"

	assert.Equal(t, "testmodels", tree.Apps["models"].Models[0])
	assert.Equal(t, ":memory:", tree.Connections[DefaultConnectionLabel].Credentials["file_path"])
}
