package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phrazzld/dbharness/internal/config"
	"github.com/phrazzld/dbharness/internal/dberr"
	"github.com/phrazzld/dbharness/internal/dburl"
	"github.com/phrazzld/dbharness/internal/schema"
)

func newResolveCmd() *cobra.Command {
	var testing bool
	cmd := &cobra.Command{
		Use:   "resolve URL",
		Short: "Print the connection record of a URL as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := dburl.Resolve(args[0], testing)
			if err != nil {
				return err
			}
			return writeJSON(cmd, cfg)
		},
	}
	cmd.Flags().BoolVar(&testing, "testing", false, "Replace the {} placeholder with a unique suffix")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var (
		testing bool
		label   string
		apps    []string
	)
	cmd := &cobra.Command{
		Use:   "config URL",
		Short: "Print a configuration tree built from a URL as JSON",
		Example: `  dbharness config sqlite://:memory: --app models=testmodels
  dbharness config 'postgres://postgres:@localhost/test_\{\}' --testing --label main --app shop=orders,users`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appModules, err := parseApps(apps)
			if err != nil {
				return err
			}
			tree, err := config.Build(args[0], appModules,
				config.WithConnectionLabel(label),
				config.WithTesting(testing))
			if err != nil {
				return err
			}
			return writeJSON(cmd, tree)
		},
	}
	cmd.Flags().BoolVar(&testing, "testing", false, "Replace the {} placeholder with a unique suffix")
	cmd.Flags().StringVar(&label, "label", config.DefaultConnectionLabel, "Connection label")
	cmd.Flags().StringArrayVar(&apps, "app", []string{config.DefaultAppLabel + "=" + config.DefaultModule},
		"App and its modules as label=mod1,mod2 (repeatable)")
	return cmd
}

// parseApps turns label=mod1,mod2 flags into an app-to-modules map.
func parseApps(entries []string) (map[string][]string, error) {
	apps := make(map[string][]string, len(entries))
	for _, entry := range entries {
		label, list, ok := strings.Cut(entry, "=")
		if !ok || label == "" {
			return nil, dberr.NewConfigurationError(entry, "expected label=module[,module...]")
		}
		var modules []string
		for _, m := range strings.Split(list, ",") {
			if m = strings.TrimSpace(m); m != "" {
				modules = append(modules, m)
			}
		}
		apps[label] = append(apps[label], modules...)
	}
	return apps, nil
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create URL",
		Short: "Create the database a URL points at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.openClient(args[0])
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()
			if err := client.CreateDatabase(ctx); err != nil {
				return fmt.Errorf("create %s: %w", client.Identity(), err)
			}
			opts.logger.Info("database created", "engine", client.Config().Engine, "database", client.Identity())
			return nil
		},
	}
}

func newDropCmd(opts *rootOptions) *cobra.Command {
	var ifExists bool
	cmd := &cobra.Command{
		Use:   "drop URL",
		Short: "Drop the database a URL points at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.openClient(args[0])
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()
			err = client.DropDatabase(ctx)
			switch {
			case err == nil:
				opts.logger.Info("database dropped", "engine", client.Config().Engine, "database", client.Identity())
				return nil
			case ifExists && errors.Is(err, dberr.ErrDatabaseNotExist):
				opts.logger.Info("database does not exist", "database", client.Identity())
				return nil
			default:
				return fmt.Errorf("drop %s: %w", client.Identity(), err)
			}
		},
	}
	cmd.Flags().BoolVar(&ifExists, "if-exists", false, "Succeed when the database does not exist")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var modules []string
	cmd := &cobra.Command{
		Use:   "migrate URL",
		Short: "Apply the schema of registered modules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.openClient(args[0])
			if err != nil {
				return err
			}
			defer client.Close()

			db, err := client.DB()
			if err != nil {
				return err
			}
			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()
			if err := schema.Generate(ctx, db, client.Driver().Dialect(), modules); err != nil {
				return fmt.Errorf("migrate %s: %w", client.Identity(), err)
			}
			opts.logger.Info("schema applied", "database", client.Identity(), "modules", modules)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&modules, "module", []string{config.DefaultModule},
		"Module whose schema to apply (repeatable). Registered: "+strings.Join(schema.Modules(), ", "))
	return cmd
}
