package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/bursar/fee"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables and indexes of the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := *rootOpts
			opts.NoMigrate = false
			return withSession(cmd, &opts, func(ctx context.Context, sess *session) error {
				return newFormatter(cmd, rootOpts).Success(map[string]string{"driver": sess.cfg.Driver}, func(w io.Writer) {
					fmt.Fprintf(w, "migrated %s store\n", sess.cfg.Driver)
				})
			})
		},
	}
}

// NewResolveFeeCommand creates the resolve-fee command.
func NewResolveFeeCommand(rootOpts *RootOptions) *cobra.Command {
	var kind, className string

	cmd := &cobra.Command{
		Use:   "resolve-fee",
		Short: "Show the effective fee of a class and where it came from",
		Long: `Resolve the fee charged to a class. Sources are tried in order:
management table, legacy table, class-wise definition, all-classes
definition, and finally the configured default.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, sess *session) error {
				res, err := sess.engine.ExplainFee(ctx, rootOpts.SchoolID, fee.Kind(kind), className)
				if err != nil {
					return err
				}
				out := map[string]any{
					"kind":      string(res.Kind),
					"className": res.ClassName,
					"amount":    res.Amount,
					"source":    string(res.Tier),
				}
				return newFormatter(cmd, rootOpts).Success(out, func(w io.Writer) {
					fmt.Fprintf(w, "%s fee for %s: %s (%s)\n", res.Kind, res.ClassName, res.Amount, res.Tier)
				})
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(fee.KindTuition), "fee kind (tuition|admission|monthly|quarterly|half-yearly|annual)")
	cmd.Flags().StringVar(&className, "class", "", "class name")
	_ = cmd.MarkFlagRequired("class") //nolint:errcheck // flag exists

	return cmd
}

// NewNextVoucherCommand creates the next-voucher command.
func NewNextVoucherCommand(rootOpts *RootOptions) *cobra.Command {
	var year string

	cmd := &cobra.Command{
		Use:   "next-voucher",
		Short: "Show the next voucher number of a year",
		Long: `Show the next voucher number of the year. Stores with an atomic
sequence (sqlite, postgres, mongo, redis) hand the number out, so asking
twice gives two different numbers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, sess *session) error {
				v := sess.engine.NextVoucher(ctx, year)
				return newFormatter(cmd, rootOpts).Success(map[string]string{"year": year, "voucher": v}, func(w io.Writer) {
					fmt.Fprintln(w, v)
				})
			})
		},
	}

	cmd.Flags().StringVar(&year, "year", strconv.Itoa(time.Now().Year()), "voucher year")

	return cmd
}

// NewSweepOverdueCommand creates the sweep-overdue command.
func NewSweepOverdueCommand(rootOpts *RootOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Mark pending fee collections past their due date as overdue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.DateOnly, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q: %w", at, err)
				}
				now = t
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, sess *session) error {
				moved, err := sess.engine.MarkOverdue(ctx, now)
				if perr := newFormatter(cmd, rootOpts).Success(map[string]int{"moved": moved}, func(w io.Writer) {
					fmt.Fprintf(w, "%d fee collection(s) marked overdue\n", moved)
				}); perr != nil {
					return perr
				}
				if err != nil {
					return &ExitError{Code: ExitFailure, Message: "some collections were not swept", Err: err}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "sweep as of this date (YYYY-MM-DD, default now)")

	return cmd
}
