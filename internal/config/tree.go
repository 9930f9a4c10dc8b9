package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
)

// DefaultConnectionLabel is the connection label Build uses when none is given.
const DefaultConnectionLabel = "default"

// App groups model modules that share a default connection.
type App struct {
	Models            []string `json:"models" yaml:"models" validate:"required,min=1,dive,required"`
	DefaultConnection string   `json:"default_connection" yaml:"default_connection" validate:"required"`
}

// Tree is a multi-connection, multi-application configuration.
// Every App.DefaultConnection must be a key of Connections.
type Tree struct {
	Connections map[string]dburl.ConnectionConfig `json:"connections" yaml:"connections" validate:"required,min=1,dive,keys,required,endkeys"`
	Apps        map[string]App                    `json:"apps" yaml:"apps" validate:"dive,keys,required,endkeys"`
}

var treeValidator = newTreeValidator()

func newTreeValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateTreeRefs, Tree{})
	return v
}

// validateTreeRefs reports apps whose default connection is not configured.
func validateTreeRefs(sl validator.StructLevel) {
	tree := sl.Current().Interface().(Tree)
	for _, label := range slices.Sorted(maps.Keys(tree.Apps)) {
		app := tree.Apps[label]
		if app.DefaultConnection == "" {
			continue
		}
		if _, ok := tree.Connections[app.DefaultConnection]; !ok {
			sl.ReportError(app.DefaultConnection, "Apps["+label+"].DefaultConnection",
				"DefaultConnection", "connection", label)
		}
	}
}

// Validate checks the structural rules of t and returns a
// *dberr.ConfigurationError describing every violation.
func (t Tree) Validate() error {
	err := treeValidator.Struct(t)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return dberr.NewConfigurationError("", "invalid configuration tree: %v", err)
	}
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		reasons = append(reasons, describe(fe))
	}
	return dberr.NewConfigurationError("", "invalid configuration tree: %s", strings.Join(reasons, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "connection":
		return fmt.Sprintf("app %q references unknown connection %q", fe.Param(), fe.Value())
	case "required", "min":
		return fmt.Sprintf("%s must not be empty", fe.Namespace())
	default:
		return fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
	}
}

// AppsFor returns the labels of apps bound to connection, sorted.
func (t Tree) AppsFor(connection string) []string {
	var labels []string
	for label, app := range t.Apps {
		if app.DefaultConnection == connection {
			labels = append(labels, label)
		}
	}
	slices.Sort(labels)
	return labels
}

// Clone returns a deep copy of t.
func (t Tree) Clone() Tree {
	out := Tree{
		Connections: make(map[string]dburl.ConnectionConfig, len(t.Connections)),
		Apps:        make(map[string]App, len(t.Apps)),
	}
	for label, conn := range t.Connections {
		out.Connections[label] = conn.Clone()
	}
	for label, app := range t.Apps {
		out.Apps[label] = App{Models: slices.Clone(app.Models), DefaultConnection: app.DefaultConnection}
	}
	return out
}

type buildOptions struct {
	connectionLabel string
	testing         bool
}

// BuildOption customises Build.
type BuildOption func(*buildOptions)

// WithConnectionLabel sets the label the resolved connection is stored under.
func WithConnectionLabel(label string) BuildOption {
	return func(o *buildOptions) { o.connectionLabel = label }
}

// WithTesting enables the placeholder rewrite of dburl.Resolve.
func WithTesting(testing bool) BuildOption {
	return func(o *buildOptions) { o.testing = testing }
}

// Build resolves rawURL once and binds every app in appModules to it.
// All apps share the single connection; call Build again and Merge the
// results to spread apps over several databases.
func Build(rawURL string, appModules map[string][]string, opts ...BuildOption) (Tree, error) {
	o := buildOptions{connectionLabel: DefaultConnectionLabel}
	for _, opt := range opts {
		opt(&o)
	}
	if o.connectionLabel == "" {
		return Tree{}, dberr.NewConfigurationError(dburl.Mask(rawURL), "empty connection label")
	}

	conn, err := dburl.Resolve(rawURL, o.testing)
	if err != nil {
		return Tree{}, err
	}

	tree := Tree{
		Connections: map[string]dburl.ConnectionConfig{o.connectionLabel: conn},
		Apps:        make(map[string]App, len(appModules)),
	}
	for label, modules := range appModules {
		tree.Apps[label] = App{Models: slices.Clone(modules), DefaultConnection: o.connectionLabel}
	}
	if err := tree.Validate(); err != nil {
		return Tree{}, err
	}
	return tree, nil
}

// Merge combines trees built independently into one. A connection or app
// label defined by more than one tree is an error unless both definitions
// are identical.
func Merge(trees ...Tree) (Tree, error) {
	out := Tree{
		Connections: make(map[string]dburl.ConnectionConfig),
		Apps:        make(map[string]App),
	}
	for _, t := range trees {
		for label, conn := range t.Connections {
			if prev, ok := out.Connections[label]; ok && !sameConnection(prev, conn) {
				return Tree{}, dberr.NewConfigurationError("", "connection %q defined twice with different settings", label)
			}
			out.Connections[label] = conn.Clone()
		}
		for label, app := range t.Apps {
			if prev, ok := out.Apps[label]; ok &&
				(prev.DefaultConnection != app.DefaultConnection || !slices.Equal(prev.Models, app.Models)) {
				return Tree{}, dberr.NewConfigurationError("", "app %q defined twice with different settings", label)
			}
			out.Apps[label] = App{Models: slices.Clone(app.Models), DefaultConnection: app.DefaultConnection}
		}
	}
	if err := out.Validate(); err != nil {
		return Tree{}, err
	}
	return out, nil
}

func sameConnection(a, b dburl.ConnectionConfig) bool {
	return a.Engine == b.Engine && maps.Equal(a.Credentials, b.Credentials)
}
