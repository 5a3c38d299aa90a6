// Package bursar provides the fee and academic-result reconciliation engine
// of a school management system.
//
// Bursar is designed as a library, not a service. It runs against any
// Record Store (see package store) and provides:
//
//   - Deterministic fee resolution across management tables, legacy tables
//     and class-wise base fees
//   - Year-scoped voucher numbers that stay unique under concurrent writers
//   - An idempotent ledger of exam marks keyed by student, exam and subject
//   - Competition ranking per subject and overall merit lists
//   - Financial and per-class collection summaries, on demand or live
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/bursar"
//	    "github.com/xraph/bursar/store/sqlite"
//	)
//
//	s, err := sqlite.Open(ctx, "bursar.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	b := bursar.New(s, bursar.WithDefaultFee(bursar.BDT(0)))
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
//
// # Fees
//
// The effective fee of a kind for a class is the first positive amount
// among the management exam fee table, the legacy exam fee table, the
// class's base fee definition and the all-classes base fee definition. A
// zero amount counts as not configured; when nothing is configured the
// default fee applies:
//
//	amount, err := b.ResolveFee(ctx, schoolID, fee.KindMonthlyExam, "Class 5")
//
// # Vouchers
//
// Ledger entries get "{year}-NNN" voucher numbers. When the store can hand
// out sequences atomically they come from a counter; otherwise they are
// scanned from the ledger and checked after the write. When the ledger
// cannot be read at all a "V"+millis token is used instead, so a payment
// is never refused for want of a number.
//
// # Results
//
// SaveResult is an upsert: saving the same entry twice leaves one record.
// Reads merge duplicates written by other clients, keeping the most
// recently entered record.
//
//	resultID, err := b.SaveResult(ctx, result.Entry{
//	    StudentID: "s-17", ExamID: "term-1", Subject: "Math",
//	    ObtainedMarks: 78, TotalMarks: 100,
//	})
//	ranked, err := b.RankExam(ctx, "term-1")
//
// # Summaries
//
// Summaries are always recomputed from the full record set. WatchSummary
// and WatchClassSummary keep a sink up to date from a live query; bursts of
// writes collapse into one recompute.
//
// # TypeID
//
// Records created by the engine use TypeIDs:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41   // Transaction ID
//	res_01h455vb4pex5vsknk084sn02q   // Exam result ID
package bursar
