package bursar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/result"
	"github.com/xraph/bursar/sheet"
)

// ItemError is the failure of one entry of a bulk import.
type ItemError struct {
	// Index is the position of the entry in the input.
	Index int
	// Line is the sheet line the entry came from, when known.
	Line int
	Key  result.Key
	Err  error
}

func (e ItemError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d (%s): %v", e.Line, e.Key, e.Err)
	}
	return fmt.Sprintf("entry %d (%s): %v", e.Index, e.Key, e.Err)
}

// Unwrap returns the cause.
func (e ItemError) Unwrap() error { return e.Err }

// ImportReport summarizes a bulk import.
type ImportReport struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    []ItemError
	Elapsed   time.Duration
}

// Err returns the item failures as a MultiError, or nil.
func (r ImportReport) Err() error {
	var errs MultiError
	for _, e := range r.Errors {
		errs.Add(e)
	}
	return errs.ErrOrNil()
}

// ──────────────────────────────────────────────────
// Result Ledger
// ──────────────────────────────────────────────────

// SaveResult upserts the mark of one student in one subject of one exam
// and returns the record id. Saving the same entry twice leaves one
// record. Writes to one key are serialized; duplicates written by other
// clients are merged on the way.
func (b *Bursar) SaveResult(ctx context.Context, entry result.Entry) (string, error) {
	if err := validateEntry(entry); err != nil {
		return "", err
	}
	key := entry.Key()

	unlock, err := b.locker.Lock(ctx, resultLockKey(key))
	if err != nil {
		return "", err
	}
	defer unlock()

	existing, err := b.results.ByKey(ctx, key)
	if err != nil {
		return "", err
	}

	now := b.now()
	if len(existing) == 0 {
		rec := result.NewRecord(id.NewResultID().String(), entry, now)
		if err := b.results.Put(ctx, rec); err != nil {
			return "", err
		}
		b.logger.Debug("result created", "result_id", rec.ID, "key", key.String())
		b.plugins.EmitResultSaved(ctx, rec, true)
		return rec.ID, nil
	}

	rec, dropped := result.Latest(existing)
	if len(dropped) > 0 {
		if err := b.resolveConflict(ctx, result.Conflict{Key: key, Kept: rec, Dropped: dropped}); err != nil {
			return "", err
		}
	}

	rec.Apply(entry, now)
	if err := b.results.Overwrite(ctx, rec); err != nil {
		return "", err
	}
	b.logger.Debug("result overwritten", "result_id", rec.ID, "key", key.String())
	b.plugins.EmitResultSaved(ctx, rec, false)
	return rec.ID, nil
}

// resolveConflict deletes the losing duplicates of one key.
func (b *Bursar) resolveConflict(ctx context.Context, c result.Conflict) error {
	for _, r := range c.Dropped {
		if err := b.results.Delete(ctx, r.ID); err != nil {
			return err
		}
	}

	cerr := &ConflictError{Key: c.Key.String(), Kept: c.Kept.ID, Dropped: c.DroppedIDs()}
	b.logger.Warn("duplicate exam results merged",
		"key", cerr.Key,
		"kept", cerr.Kept,
		"dropped", cerr.Dropped,
		"error", cerr,
	)
	b.plugins.EmitIdentityConflict(ctx, c)
	return nil
}

func validateEntry(e result.Entry) error {
	var errs MultiError
	key := e.Key()
	if key.StudentID == "" {
		errs.Add(ValidationError{Field: "studentId", Message: "must not be empty"})
	}
	if key.ExamID == "" {
		errs.Add(ValidationError{Field: "examId", Message: "must not be empty"})
	}
	if key.Subject == "" {
		errs.Add(ValidationError{Field: "subject", Message: "must not be empty"})
	}
	switch {
	case !result.Finite(e.TotalMarks):
		errs.Add(ValidationError{Field: "totalMarks", Message: "must be a finite number"})
	case e.TotalMarks <= 0:
		errs.Add(ValidationError{Field: "totalMarks", Message: "must be positive"})
	}
	switch {
	case e.IsAbsent:
	case !result.Finite(e.ObtainedMarks):
		errs.Add(ValidationError{Field: "obtainedMarks", Message: "must be a finite number"})
	case e.ObtainedMarks < 0 || e.ObtainedMarks > e.TotalMarks:
		errs.Add(ValidationError{
			Field:   "obtainedMarks",
			Message: fmt.Sprintf("%g is outside 0..%g", e.ObtainedMarks, e.TotalMarks),
		})
	}
	return errs.ErrOrNil()
}

func resultLockKey(k result.Key) string { return "result:" + k.String() }

// ImportResults saves every entry, a bounded number at a time. A failed
// entry does not stop the others; failures are listed in the report. The
// returned error is only set when ctx ended before every entry was tried.
func (b *Bursar) ImportResults(ctx context.Context, entries []result.Entry) (ImportReport, error) {
	rows := make([]sheet.Row, len(entries))
	for i, e := range entries {
		rows[i] = sheet.Row{Entry: e}
	}
	return b.ImportRows(ctx, rows)
}

// ImportRows is ImportResults for parsed sheet rows. Rows that failed to
// parse count as failed entries.
func (b *Bursar) ImportRows(ctx context.Context, rows []sheet.Row) (ImportReport, error) {
	start := time.Now()
	report := ImportReport{Total: len(rows)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(b.importConcurrency)

	fail := func(i int, row sheet.Row, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Failed++
		report.Errors = append(report.Errors, ItemError{Index: i, Line: row.Line, Key: row.Entry.Key(), Err: err})
	}

	for i, row := range rows {
		if row.Err != nil {
			fail(i, row, errors.Join(ErrInvalidInput, row.Err))
			continue
		}
		if ctx.Err() != nil {
			fail(i, row, ctx.Err())
			continue
		}
		g.Go(func() error {
			if _, err := b.SaveResult(ctx, row.Entry); err != nil {
				fail(i, row, err)
				return nil
			}
			mu.Lock()
			report.Succeeded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].Index < report.Errors[j].Index })
	report.Elapsed = time.Since(start)

	b.logger.Info("results imported",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"elapsed", report.Elapsed,
	)
	b.plugins.EmitResultsImported(ctx, report.Total, report.Succeeded, report.Failed, report.Elapsed)

	return report, ctx.Err()
}

// Result returns one record.
func (b *Bursar) Result(ctx context.Context, resultID string) (*result.Record, error) {
	return b.results.Get(ctx, resultID)
}

// ExamResults returns the records of one exam, one per key. Duplicates
// found on the way are merged.
func (b *Bursar) ExamResults(ctx context.Context, examID string) ([]*result.Record, error) {
	records, err := b.results.ByExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	kept, conflicts := result.Dedup(records)
	for _, c := range conflicts {
		if err := b.resolveConflict(ctx, c); err != nil {
			// The read is still correct; the next read retries the cleanup.
			b.logger.Warn("duplicate cleanup failed", "key", c.Key.String(), "error", err)
		}
	}
	return kept, nil
}

// DeleteResult removes one record.
func (b *Bursar) DeleteResult(ctx context.Context, resultID string) error {
	if _, err := b.results.Get(ctx, resultID); err != nil {
		return err
	}
	return b.results.Delete(ctx, resultID)
}

// ──────────────────────────────────────────────────
// Merit Ranking
// ──────────────────────────────────────────────────

// RankExam ranks every subject of an exam separately and stores the
// positions. Absent records lose their position. Records come back grouped
// by subject in rank order.
func (b *Bursar) RankExam(ctx context.Context, examID string) ([]*result.Record, error) {
	records, err := b.ExamResults(ctx, examID)
	if err != nil {
		return nil, err
	}

	previous := make(map[string]*int, len(records))
	for _, r := range records {
		previous[r.ID] = r.Position
	}

	groups := result.BySubject(records)
	subjects := make([]string, 0, len(groups))
	for s := range groups {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	ranked := make([]*result.Record, 0, len(records))
	for _, s := range subjects {
		ranked = append(ranked, result.Rank(groups[s])...)
	}

	for _, r := range ranked {
		if samePosition(previous[r.ID], r.Position) {
			continue
		}
		if err := b.results.SetPosition(ctx, r.ID, r.Position); err != nil {
			return nil, err
		}
	}

	b.logger.Debug("exam ranked", "exam_id", examID, "records", len(ranked), "subjects", len(subjects))
	b.plugins.EmitExamRanked(ctx, examID, ranked)
	return ranked, nil
}

func samePosition(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// MeritList returns the overall standings of an exam.
func (b *Bursar) MeritList(ctx context.Context, examID string) ([]*result.Standing, error) {
	records, err := b.ExamResults(ctx, examID)
	if err != nil {
		return nil, err
	}
	return result.Standings(records), nil
}
