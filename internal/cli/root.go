// Package cli provides the finimport command-line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/finimport/internal/config"
	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/logging"
	"github.com/JonMunkholm/finimport/internal/store"
)

// Version information (set at build time).
var Version = "0.1.0"

// globalOptions holds the persistent flags.
type globalOptions struct {
	output      string
	logLevel    string
	databaseURL string
	tenant      string
}

// configKey is used to store config in context.
type configKey struct{}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "finimport",
		Short: "Import bank statements and ledgers from spreadsheets",
		Long: `finimport reads transaction tables from .xlsx workbooks and delimited
text files, detects the date, amount and description columns, and imports
the rows as transaction records.

Configuration comes from the same environment variables as the server
(IMPORT_MAX_ROWS, IMPORT_SAMPLE_SIZE, DATABASE_URL, ...).`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			if opts.output != "table" && opts.output != "json" {
				return fmt.Errorf("unknown output format %q (want table or json)", opts.output)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.databaseURL != "" {
				cfg.Database.URL = opts.databaseURL
			}
			level := cfg.Logging.Level
			if opts.logLevel != "" {
				level = opts.logLevel
			}

			// Logs go to stderr so stdout stays parseable.
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), level, cfg.Logging.Format))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format (table|json)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.tenant, "tenant", "default", "Tenant imported records belong to")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newProbeCommand(opts))
	rootCmd.AddCommand(newPreviewCommand(opts))
	rootCmd.AddCommand(newImportCommand(opts))

	return rootCmd
}

// ExecuteContext runs the root command. Cancelling ctx cancels a running
// import.
func ExecuteContext(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		return err
	}
	return nil
}

// describe prefers the user-facing message for known errors.
func describe(err error) string {
	if core.IsUserFacing(err) {
		return core.FormatUserError(err)
	}
	return err.Error()
}

// getConfig retrieves the config from the command context.
func getConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{}
}

// newService builds a service over Postgres when a database is configured.
// Otherwise records go to an in-memory store, which is returned so dry runs
// can show what would have been written. The cleanup func closes the pool.
func newService(ctx context.Context, cfg *config.Config) (*core.Service, *store.Memory, func(), error) {
	opts := core.OptionsFromConfig(cfg.Import)
	if !cfg.Database.UsesDatabase() {
		mem := store.NewMemory()
		return core.NewService(mem, opts), mem, func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return core.NewService(pg, opts), nil, pool.Close, nil
}
