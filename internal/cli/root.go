// Package cli implements the bursar command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Driver     string
	DSN        string
	SchoolID   string
	NoMigrate  bool
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the bursar CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "bursar",
		Short: "Bursar - fee and exam result reconciliation",
		Long: `Operator tool for the Bursar engine.

The store is chosen by a YAML config file (driver, dsn, currency, redis_addr)
and can be overridden with --driver and --dsn.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: bursar.yaml when present)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "store driver (memory|sqlite|postgres|mongo)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "store connection string")
	cmd.PersistentFlags().StringVar(&opts.SchoolID, "school", "", "school id")
	cmd.PersistentFlags().BoolVar(&opts.NoMigrate, "no-migrate", false, "do not migrate the store before running")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewResolveFeeCommand(opts))
	cmd.AddCommand(NewNextVoucherCommand(opts))
	cmd.AddCommand(NewSweepOverdueCommand(opts))
	cmd.AddCommand(NewImportResultsCommand(opts))
	cmd.AddCommand(NewRankCommand(opts))
	cmd.AddCommand(NewMeritCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))
	cmd.AddCommand(NewClassSummaryCommand(opts))
	cmd.AddCommand(NewWatchSummaryCommand(opts))

	return cmd
}
