package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/dbharness/internal/config"
	"github.com/phrazzld/dbharness/internal/dburl"
	"github.com/phrazzld/dbharness/internal/engine"
	"github.com/phrazzld/dbharness/internal/platform/logger"

	_ "github.com/phrazzld/dbharness/internal/platform/mysql"
	_ "github.com/phrazzld/dbharness/internal/platform/postgres"
	_ "github.com/phrazzld/dbharness/internal/platform/sqlite"
	_ "github.com/phrazzld/dbharness/internal/testdb/testmodels"
)

// cliConnectionLabel labels the single connection the CLI commands open.
const cliConnectionLabel = "cli"

type rootOptions struct {
	logLevel string
	timeout  time.Duration
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "dbharness",
		Short: "Resolve database URLs and manage test databases",
		Long: `dbharness turns connection URLs into configuration records and creates,
drops and migrates the databases they point at.

Supported schemes: sqlite, postgres, postgresql, mysql.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.logger = logger.Setup(opts.logLevel, cmd.ErrOrStderr())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug|info|warn|error)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", config.DefaultOperationTimeout, "Timeout for each database operation")
	_ = root.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newResolveCmd(),
		newConfigCmd(),
		newCreateCmd(opts),
		newDropCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// withTimeout bounds one database operation.
func (o *rootOptions) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := logger.WithLogger(cmd.Context(), o.logger)
	return context.WithTimeout(ctx, o.timeout)
}

// openClient resolves rawURL and returns an unopened client for it.
func (o *rootOptions) openClient(rawURL string) (*engine.Client, error) {
	cfg, err := dburl.Resolve(rawURL, false)
	if err != nil {
		return nil, err
	}
	return engine.NewClient(cliConnectionLabel, cfg, o.logger)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
