package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/bursar/result"
	"github.com/xraph/bursar/sheet"
)

// NewImportResultsCommand creates the import-results command.
func NewImportResultsCommand(rootOpts *RootOptions) *cobra.Command {
	var d sheet.Defaults

	cmd := &cobra.Command{
		Use:   "import-results <file.csv|file.xlsx>",
		Short: "Save exam results from a spreadsheet",
		Long: `Save every row of a CSV or XLSX sheet as an exam result. Rows are
upserted by (exam, student, subject), so importing a sheet twice leaves one
result per key. Columns missing from the sheet take the flag defaults.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d.SchoolID = rootOpts.SchoolID
			rows, err := sheet.ReadFile(args[0], d)
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, sess *session) error {
				report, err := sess.engine.ImportRows(ctx, rows)
				if err != nil {
					return err
				}

				out := map[string]any{
					"total":     report.Total,
					"succeeded": report.Succeeded,
					"failed":    report.Failed,
					"elapsedMs": report.Elapsed.Milliseconds(),
				}
				errs := make([]string, len(report.Errors))
				for i, e := range report.Errors {
					errs[i] = e.Error()
				}
				if len(errs) > 0 {
					out["errors"] = errs
				}
				if perr := newFormatter(cmd, rootOpts).Success(out, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d of %d row(s) in %s\n", report.Succeeded, report.Total, report.Elapsed.Round(time.Millisecond))
					for _, e := range errs {
						fmt.Fprintln(w, "  "+e)
					}
				}); perr != nil {
					return perr
				}

				if report.Failed > 0 {
					return &ExitError{
						Code:    ExitFailure,
						Message: fmt.Sprintf("%d row(s) not imported", report.Failed),
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&d.ExamID, "exam", "", "exam id for rows without one")
	cmd.Flags().StringVar(&d.ClassName, "class", "", "class name for rows without one")
	cmd.Flags().Float64Var(&d.TotalMarks, "total", 100, "total marks for rows without them")

	return cmd
}

// NewRankCommand creates the rank command.
func NewRankCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rank <exam-id>",
		Short: "Rank every subject of an exam and store the positions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, sess *session) error {
				ranked, err := sess.engine.RankExam(ctx, args[0])
				if err != nil {
					return err
				}
				return newFormatter(cmd, rootOpts).Success(ranked, func(w io.Writer) {
					rows := make([]string, len(ranked))
					for i, r := range ranked {
						rows[i] = fmt.Sprintf("%s\t%s\t%s\t%g/%g\t%s", r.Subject, position(r), r.StudentID, r.ObtainedMarks, r.TotalMarks, r.Grade)
					}
					table(w, "SUBJECT\tPOS\tSTUDENT\tMARKS\tGRADE", rows)
				})
			})
		},
	}
}

func position(r *result.Record) string {
	if r.Position == nil {
		return "-"
	}
	return fmt.Sprint(*r.Position)
}

// NewMeritCommand creates the merit command.
func NewMeritCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "merit <exam-id>",
		Short: "Show or export the overall merit list of an exam",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID := args[0]
			return withSession(cmd, rootOpts, func(ctx context.Context, sess *session) error {
				standings, err := sess.engine.MeritList(ctx, examID)
				if err != nil {
					return err
				}

				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					if err := sheet.WriteMeritList(f, examID, standings); err != nil {
						_ = f.Close() //nolint:errcheck // already failing
						return err
					}
					if err := f.Close(); err != nil {
						return err
					}
				}

				return newFormatter(cmd, rootOpts).Success(standings, func(w io.Writer) {
					if out != "" {
						fmt.Fprintf(w, "wrote %d standing(s) to %s\n", len(standings), out)
						return
					}
					rows := make([]string, len(standings))
					for i, s := range standings {
						rows[i] = fmt.Sprintf("%d\t%s\t%s\t%g/%g\t%.2f\t%s", s.Position, s.StudentID, s.ClassName, s.Obtained, s.Total, s.Percentage, s.Grade)
					}
					table(w, "POS\tSTUDENT\tCLASS\tMARKS\tPERCENT\tGRADE", rows)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the merit list to this .xlsx file")

	return cmd
}
