package bursar

import (
	"context"

	"github.com/xraph/bursar/feecollection"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/summary"
	"github.com/xraph/bursar/transaction"
)

// ──────────────────────────────────────────────────
// Summaries
// ──────────────────────────────────────────────────

// Summarize returns the financial summary of the ledger entries matching f.
func (b *Bursar) Summarize(ctx context.Context, f transaction.Filter) (summary.Financial, error) {
	txns, err := b.txns.List(ctx, f)
	if err != nil {
		return summary.Financial{}, err
	}
	return summary.Summarize(txns).In(b.currency), nil
}

// SummarizeClasses returns the per-class collection status of a school.
// An empty schoolID covers every school.
func (b *Bursar) SummarizeClasses(ctx context.Context, schoolID string) (map[string]summary.ClassFeeSummary, error) {
	records, err := b.collections.List(ctx, feecollection.Filter{SchoolID: schoolID})
	if err != nil {
		return nil, err
	}
	return summary.SummarizeClasses(records), nil
}

// WatchSummary keeps sink up to date with the financial summary of the
// ledger entries matching f. The projection ends when ctx is done or the
// returned projector is unsubscribed.
func (b *Bursar) WatchSummary(
	ctx context.Context,
	f transaction.Filter,
	sink summary.Sink[summary.Financial],
) (*summary.Projector[summary.Financial], error) {
	compute := func(docs []store.Document) (summary.Financial, error) {
		return summary.Summarize(transaction.FromDocuments(docs, b.currency)).In(b.currency), nil
	}
	return summary.Watch(ctx, b.store, store.CollectionFinancialTransactions, f.Query(), compute,
		projectionSinkFor(b, "financial", sink), summary.WithLogger(b.logger))
}

// WatchClassSummary keeps sink up to date with the per-class collection
// status of a school.
func (b *Bursar) WatchClassSummary(
	ctx context.Context,
	schoolID string,
	sink summary.Sink[map[string]summary.ClassFeeSummary],
) (*summary.Projector[map[string]summary.ClassFeeSummary], error) {
	compute := func(docs []store.Document) (map[string]summary.ClassFeeSummary, error) {
		return summary.SummarizeClasses(feecollection.FromDocuments(docs, b.currency)), nil
	}
	q := feecollection.Filter{SchoolID: schoolID}.Query()
	return summary.Watch(ctx, b.store, store.CollectionFeeCollections, q, compute,
		projectionSinkFor(b, "class_fees", sink), summary.WithLogger(b.logger))
}

// projectionSinkFor forwards to sink and reports errors to plugins first.
func projectionSinkFor[T any](b *Bursar, name string, sink summary.Sink[T]) summary.Sink[T] {
	return summary.SinkFuncs[T]{
		Update: sink.OnUpdate,
		Error: func(err error) {
			b.plugins.EmitProjectionError(context.Background(), name, err)
			sink.OnError(err)
		},
	}
}
