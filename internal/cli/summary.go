package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/bursar/summary"
	"github.com/xraph/bursar/transaction"
)

// summaryFlags selects the ledger entries of a financial summary.
type summaryFlags struct {
	from, to  string
	studentID string
}

func (f *summaryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "first day included (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "first day excluded (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.studentID, "student", "", "only entries of this student")
}

func (f *summaryFlags) filter(schoolID string) (transaction.Filter, error) {
	tf := transaction.Filter{SchoolID: schoolID, StudentID: f.studentID}
	for _, d := range []struct {
		name, value string
		dst         *time.Time
	}{
		{"from", f.from, &tf.From},
		{"to", f.to, &tf.To},
	} {
		if d.value == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, d.value)
		if err != nil {
			return tf, fmt.Errorf("invalid --%s %q: %w", d.name, d.value, err)
		}
		*d.dst = t
	}
	return tf, nil
}

func printFinancial(w io.Writer, s summary.Financial) {
	table(w, "INCOME\tEXPENSE\tNET\tPENDING IN\tPENDING OUT\tENTRIES", []string{
		fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%d",
			s.TotalIncome, s.TotalExpense, s.NetAmount, s.PendingIncome, s.PendingExpense, s.TransactionCount),
	})
}

func printClasses(w io.Writer, classes map[string]summary.ClassFeeSummary) {
	names := make([]string, 0, len(classes))
	for n := range classes {
		names = append(names, n)
	}
	sort.Strings(names)

	rows := make([]string, len(names))
	for i, n := range names {
		c := classes[n]
		rows[i] = fmt.Sprintf("%s\t%d/%d\t%s\t%s", c.ClassName, c.PaidStudents, c.TotalStudents, c.TotalPaid, c.TotalDue)
	}
	table(w, "CLASS\tPAID\tCOLLECTED\tDUE", rows)
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var flags summaryFlags

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show income, expense and pending totals of the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := flags.filter(rootOpts.SchoolID)
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, sess *session) error {
				s, err := sess.engine.Summarize(ctx, tf)
				if err != nil {
					return err
				}
				return newFormatter(cmd, rootOpts).Success(s, func(w io.Writer) { printFinancial(w, s) })
			})
		},
	}
	flags.bind(cmd)

	return cmd
}

// NewClassSummaryCommand creates the class-summary command.
func NewClassSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "class-summary",
		Short: "Show fee collection status per class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, sess *session) error {
				classes, err := sess.engine.SummarizeClasses(ctx, rootOpts.SchoolID)
				if err != nil {
					return err
				}
				return newFormatter(cmd, rootOpts).Success(classes, func(w io.Writer) { printClasses(w, classes) })
			})
		},
	}
}

// NewWatchSummaryCommand creates the watch-summary command.
func NewWatchSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		flags   summaryFlags
		classes bool
		maxWait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch-summary",
		Short: "Print the summary again every time the ledger changes",
		Long: `Keep a live summary of the ledger, or with --classes of the fee
collections, and print it on every change until interrupted. In JSON mode
each update is one line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := flags.filter(rootOpts.SchoolID)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if maxWait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, maxWait)
				defer cancel()
			}
			cmd.SetContext(ctx)

			w := cmd.OutOrStdout()
			enc := json.NewEncoder(w)
			onError := func(err error) { fmt.Fprintln(cmd.ErrOrStderr(), "watch:", err) }

			return withSession(cmd, rootOpts, func(ctx context.Context, sess *session) error {
				if classes {
					p, err := sess.engine.WatchClassSummary(ctx, rootOpts.SchoolID, summary.SinkFuncs[map[string]summary.ClassFeeSummary]{
						Update: func(v map[string]summary.ClassFeeSummary) {
							if rootOpts.Format == "json" {
								_ = enc.Encode(v) //nolint:errcheck // terminal output
								return
							}
							printClasses(w, v)
							fmt.Fprintln(w)
						},
						Error: onError,
					})
					if err != nil {
						return err
					}
					defer p.Unsubscribe()
				} else {
					p, err := sess.engine.WatchSummary(ctx, tf, summary.SinkFuncs[summary.Financial]{
						Update: func(v summary.Financial) {
							if rootOpts.Format == "json" {
								_ = enc.Encode(v) //nolint:errcheck // terminal output
								return
							}
							printFinancial(w, v)
							fmt.Fprintln(w)
						},
						Error: onError,
					})
					if err != nil {
						return err
					}
					defer p.Unsubscribe()
				}

				<-ctx.Done()
				return nil
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&classes, "classes", false, "watch the per-class fee collection status instead")
	cmd.Flags().DurationVar(&maxWait, "for", 0, "stop after this long (default: until interrupted)")

	return cmd
}
