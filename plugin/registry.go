package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/feecollection"
	"github.com/xraph/bursar/result"
	"github.com/xraph/bursar/transaction"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook lists are cached per interface at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                     []OnInit
	onShutdown                 []OnShutdown
	onFeeDefinitionSaved       []OnFeeDefinitionSaved
	onFeeAssessed              []OnFeeAssessed
	onFeePaid                  []OnFeePaid
	onFeeCancelled             []OnFeeCancelled
	onFeesOverdue              []OnFeesOverdue
	onTransactionRecorded      []OnTransactionRecorded
	onTransactionStatusChanged []OnTransactionStatusChanged
	onVoucherFallback          []OnVoucherFallback
	onSequencingRace           []OnSequencingRace
	onResultSaved              []OnResultSaved
	onIdentityConflict         []OnIdentityConflict
	onExamRanked               []OnExamRanked
	onResultsImported          []OnResultsImported
	onProjectionError          []OnProjectionError
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnFeeDefinitionSaved); ok {
		r.onFeeDefinitionSaved = append(r.onFeeDefinitionSaved, v)
	}
	if v, ok := p.(OnFeeAssessed); ok {
		r.onFeeAssessed = append(r.onFeeAssessed, v)
	}
	if v, ok := p.(OnFeePaid); ok {
		r.onFeePaid = append(r.onFeePaid, v)
	}
	if v, ok := p.(OnFeeCancelled); ok {
		r.onFeeCancelled = append(r.onFeeCancelled, v)
	}
	if v, ok := p.(OnFeesOverdue); ok {
		r.onFeesOverdue = append(r.onFeesOverdue, v)
	}
	if v, ok := p.(OnTransactionRecorded); ok {
		r.onTransactionRecorded = append(r.onTransactionRecorded, v)
	}
	if v, ok := p.(OnTransactionStatusChanged); ok {
		r.onTransactionStatusChanged = append(r.onTransactionStatusChanged, v)
	}
	if v, ok := p.(OnVoucherFallback); ok {
		r.onVoucherFallback = append(r.onVoucherFallback, v)
	}
	if v, ok := p.(OnSequencingRace); ok {
		r.onSequencingRace = append(r.onSequencingRace, v)
	}
	if v, ok := p.(OnResultSaved); ok {
		r.onResultSaved = append(r.onResultSaved, v)
	}
	if v, ok := p.(OnIdentityConflict); ok {
		r.onIdentityConflict = append(r.onIdentityConflict, v)
	}
	if v, ok := p.(OnExamRanked); ok {
		r.onExamRanked = append(r.onExamRanked, v)
	}
	if v, ok := p.(OnResultsImported); ok {
		r.onResultsImported = append(r.onResultsImported, v)
	}
	if v, ok := p.(OnProjectionError); ok {
		r.onProjectionError = append(r.onProjectionError, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implemented(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnFeeDefinitionSaved", reflect.TypeOf((*OnFeeDefinitionSaved)(nil)).Elem()},
	{"OnFeeAssessed", reflect.TypeOf((*OnFeeAssessed)(nil)).Elem()},
	{"OnFeePaid", reflect.TypeOf((*OnFeePaid)(nil)).Elem()},
	{"OnFeeCancelled", reflect.TypeOf((*OnFeeCancelled)(nil)).Elem()},
	{"OnFeesOverdue", reflect.TypeOf((*OnFeesOverdue)(nil)).Elem()},
	{"OnTransactionRecorded", reflect.TypeOf((*OnTransactionRecorded)(nil)).Elem()},
	{"OnTransactionStatusChanged", reflect.TypeOf((*OnTransactionStatusChanged)(nil)).Elem()},
	{"OnVoucherFallback", reflect.TypeOf((*OnVoucherFallback)(nil)).Elem()},
	{"OnSequencingRace", reflect.TypeOf((*OnSequencingRace)(nil)).Elem()},
	{"OnResultSaved", reflect.TypeOf((*OnResultSaved)(nil)).Elem()},
	{"OnIdentityConflict", reflect.TypeOf((*OnIdentityConflict)(nil)).Elem()},
	{"OnExamRanked", reflect.TypeOf((*OnExamRanked)(nil)).Elem()},
	{"OnResultsImported", reflect.TypeOf((*OnResultsImported)(nil)).Elem()},
	{"OnProjectionError", reflect.TypeOf((*OnProjectionError)(nil)).Elem()},
}

// implemented returns the hook interfaces implemented by the plugin.
func implemented(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// dispatch calls one hook on every plugin of a cached list. Failures are
// logged and never reach the caller.
func dispatch[P Plugin](ctx context.Context, r *Registry, hook string, list func(*Registry) []P, call func(P) error) {
	r.mu.RLock()
	plugins := list(r)
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return call(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	dispatch(ctx, r, "OnInit", func(r *Registry) []OnInit { return r.onInit },
		func(p OnInit) error { return p.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", func(r *Registry) []OnShutdown { return r.onShutdown },
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitFeeDefinitionSaved emits a fee definition saved event.
func (r *Registry) EmitFeeDefinitionSaved(ctx context.Context, def *fee.Definition) {
	dispatch(ctx, r, "OnFeeDefinitionSaved", func(r *Registry) []OnFeeDefinitionSaved { return r.onFeeDefinitionSaved },
		func(p OnFeeDefinitionSaved) error { return p.OnFeeDefinitionSaved(ctx, def) })
}

// EmitFeeAssessed emits a fee assessed event.
func (r *Registry) EmitFeeAssessed(ctx context.Context, rec *feecollection.Record) {
	dispatch(ctx, r, "OnFeeAssessed", func(r *Registry) []OnFeeAssessed { return r.onFeeAssessed },
		func(p OnFeeAssessed) error { return p.OnFeeAssessed(ctx, rec) })
}

// EmitFeePaid emits a fee paid event.
func (r *Registry) EmitFeePaid(ctx context.Context, rec *feecollection.Record, txn *transaction.Transaction) {
	dispatch(ctx, r, "OnFeePaid", func(r *Registry) []OnFeePaid { return r.onFeePaid },
		func(p OnFeePaid) error { return p.OnFeePaid(ctx, rec, txn) })
}

// EmitFeeCancelled emits a fee cancelled event.
func (r *Registry) EmitFeeCancelled(ctx context.Context, rec *feecollection.Record) {
	dispatch(ctx, r, "OnFeeCancelled", func(r *Registry) []OnFeeCancelled { return r.onFeeCancelled },
		func(p OnFeeCancelled) error { return p.OnFeeCancelled(ctx, rec) })
}

// EmitFeesOverdue emits an overdue sweep event.
func (r *Registry) EmitFeesOverdue(ctx context.Context, recordIDs []string) {
	dispatch(ctx, r, "OnFeesOverdue", func(r *Registry) []OnFeesOverdue { return r.onFeesOverdue },
		func(p OnFeesOverdue) error { return p.OnFeesOverdue(ctx, recordIDs) })
}

// EmitTransactionRecorded emits a transaction recorded event.
func (r *Registry) EmitTransactionRecorded(ctx context.Context, txn *transaction.Transaction) {
	dispatch(ctx, r, "OnTransactionRecorded", func(r *Registry) []OnTransactionRecorded { return r.onTransactionRecorded },
		func(p OnTransactionRecorded) error { return p.OnTransactionRecorded(ctx, txn) })
}

// EmitTransactionStatusChanged emits a status correction event.
func (r *Registry) EmitTransactionStatusChanged(ctx context.Context, txn *transaction.Transaction, from transaction.Status) {
	dispatch(ctx, r, "OnTransactionStatusChanged", func(r *Registry) []OnTransactionStatusChanged { return r.onTransactionStatusChanged },
		func(p OnTransactionStatusChanged) error { return p.OnTransactionStatusChanged(ctx, txn, from) })
}

// EmitVoucherFallback emits a voucher fallback event.
func (r *Registry) EmitVoucherFallback(ctx context.Context, year, token string, cause error) {
	dispatch(ctx, r, "OnVoucherFallback", func(r *Registry) []OnVoucherFallback { return r.onVoucherFallback },
		func(p OnVoucherFallback) error { return p.OnVoucherFallback(ctx, year, token, cause) })
}

// EmitSequencingRace emits a voucher collision event.
func (r *Registry) EmitSequencingRace(ctx context.Context, voucher, txnID string, attempt int) {
	dispatch(ctx, r, "OnSequencingRace", func(r *Registry) []OnSequencingRace { return r.onSequencingRace },
		func(p OnSequencingRace) error { return p.OnSequencingRace(ctx, voucher, txnID, attempt) })
}

// EmitResultSaved emits a result saved event.
func (r *Registry) EmitResultSaved(ctx context.Context, rec *result.Record, created bool) {
	dispatch(ctx, r, "OnResultSaved", func(r *Registry) []OnResultSaved { return r.onResultSaved },
		func(p OnResultSaved) error { return p.OnResultSaved(ctx, rec, created) })
}

// EmitIdentityConflict emits a merged duplicate event.
func (r *Registry) EmitIdentityConflict(ctx context.Context, conflict result.Conflict) {
	dispatch(ctx, r, "OnIdentityConflict", func(r *Registry) []OnIdentityConflict { return r.onIdentityConflict },
		func(p OnIdentityConflict) error { return p.OnIdentityConflict(ctx, conflict) })
}

// EmitExamRanked emits an exam ranked event.
func (r *Registry) EmitExamRanked(ctx context.Context, examID string, records []*result.Record) {
	dispatch(ctx, r, "OnExamRanked", func(r *Registry) []OnExamRanked { return r.onExamRanked },
		func(p OnExamRanked) error { return p.OnExamRanked(ctx, examID, records) })
}

// EmitResultsImported emits a bulk import event.
func (r *Registry) EmitResultsImported(ctx context.Context, total, succeeded, failed int, elapsed time.Duration) {
	dispatch(ctx, r, "OnResultsImported", func(r *Registry) []OnResultsImported { return r.onResultsImported },
		func(p OnResultsImported) error { return p.OnResultsImported(ctx, total, succeeded, failed, elapsed) })
}

// EmitProjectionError emits a projection error event.
func (r *Registry) EmitProjectionError(ctx context.Context, projection string, err error) {
	dispatch(ctx, r, "OnProjectionError", func(r *Registry) []OnProjectionError { return r.onProjectionError },
		func(p OnProjectionError) error { return p.OnProjectionError(ctx, projection, err) })
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the reconciliation pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	t := time.NewTimer(r.timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
