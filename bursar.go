package bursar

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/feecollection"
	"github.com/xraph/bursar/lock"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/result"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/transaction"
	"github.com/xraph/bursar/types"
)

// DefaultCurrency is the currency amounts are read in unless WithCurrency
// says otherwise.
const DefaultCurrency = "bdt"

// Bursar is the reconciliation engine. It resolves fees, numbers vouchers,
// keeps exam results unique and ranked, and computes summaries over a
// Record Store.
type Bursar struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	fees        *fee.Store
	txns        *transaction.Store
	results     *result.Store
	collections *feecollection.Store

	locker    lock.Locker
	sequencer store.Sequencer

	// Background workers
	cron      *cron.Cron
	sweepSpec string
	migrate   bool
	startOnce sync.Once
	stopOnce  sync.Once

	// Configuration
	currency          string
	defaultFee        types.Money
	clock             func() time.Time
	voucherRetries    int
	importConcurrency int
}

// New creates a new Bursar instance over s. When s can hand out sequences
// atomically it is used for voucher numbers.
func New(s store.Store, opts ...Option) *Bursar {
	b := &Bursar{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		locker:            lock.NewLocal(),
		sweepSpec:         "@hourly",
		migrate:           true,
		currency:          DefaultCurrency,
		clock:             time.Now,
		voucherRetries:    3,
		importConcurrency: 8,
	}
	if seq, ok := s.(store.Sequencer); ok {
		b.sequencer = seq
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.defaultFee.Currency == "" {
		b.defaultFee = types.Zero(b.currency)
	}
	b.fees = fee.NewStore(s, b.currency)
	b.txns = transaction.NewStore(s, b.currency)
	b.results = result.NewStore(s)
	b.collections = feecollection.NewStore(s, b.currency)

	return b
}

// Option configures a Bursar instance.
type Option func(*Bursar)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bursar) {
		b.logger = logger
		b.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(b *Bursar) {
		_ = b.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithLocker sets the lock used to serialize result writes. The default
// is an in-process keyed mutex; use a lock.Redis when several processes
// write results.
func WithLocker(l lock.Locker) Option {
	return func(b *Bursar) { b.locker = l }
}

// WithSequencer sets the atomic counter used for voucher numbers. A nil
// sequencer disables atomic numbering.
func WithSequencer(s store.Sequencer) Option {
	return func(b *Bursar) { b.sequencer = s }
}

// WithDefaultFee sets the amount returned when no fee source is
// configured.
func WithDefaultFee(m types.Money) Option {
	return func(b *Bursar) { b.defaultFee = m }
}

// WithCurrency sets the currency amounts are read in.
func WithCurrency(currency string) Option {
	return func(b *Bursar) {
		if currency != "" {
			b.currency = strings.ToLower(currency)
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bursar) { b.clock = now }
}

// WithOverdueSweep sets the cron schedule of the overdue sweep. An empty
// spec disables it.
func WithOverdueSweep(spec string) Option {
	return func(b *Bursar) { b.sweepSpec = spec }
}

// WithMigrate controls whether Start migrates the store. It is on by
// default.
func WithMigrate(enabled bool) Option {
	return func(b *Bursar) { b.migrate = enabled }
}

// WithVoucherRetries sets how many times a transaction that lost a
// voucher race is renumbered before it takes a fallback token.
func WithVoucherRetries(n int) Option {
	return func(b *Bursar) {
		if n >= 0 {
			b.voucherRetries = n
		}
	}
}

// WithImportConcurrency bounds the parallel writes of ImportResults.
func WithImportConcurrency(n int) Option {
	return func(b *Bursar) {
		if n > 0 {
			b.importConcurrency = n
		}
	}
}

// Store returns the underlying Record Store.
func (b *Bursar) Store() store.Store { return b.store }

// Plugins returns the plugin registry.
func (b *Bursar) Plugins() *plugin.Registry { return b.plugins }

// Logger returns the engine logger.
func (b *Bursar) Logger() *slog.Logger { return b.logger }

// Currency returns the currency amounts are read in.
func (b *Bursar) Currency() string { return b.currency }

func (b *Bursar) now() time.Time { return b.clock().UTC() }

// Start migrates the store and begins background workers.
func (b *Bursar) Start(ctx context.Context) error {
	// Migrate database
	if b.migrate {
		if err := b.store.Migrate(ctx); err != nil {
			return errors.Join(ErrMigrationFailed, err)
		}
	}

	// Initialize plugins
	b.plugins.EmitInit(ctx, b)

	var err error
	b.startOnce.Do(func() {
		if b.sweepSpec == "" {
			return
		}
		b.cron = cron.New(cron.WithLogger(cronLogger{b.logger}))
		_, err = b.cron.AddFunc(b.sweepSpec, b.sweepOverdue)
		if err != nil {
			b.cron = nil
			return
		}
		b.cron.Start()
	})
	if err != nil {
		return ValidationError{Field: "overdue_sweep", Message: err.Error()}
	}

	b.logger.Info("bursar started",
		"currency", b.currency,
		"overdue_sweep", b.sweepSpec,
		"voucher_retries", b.voucherRetries,
		"atomic_vouchers", b.sequencer != nil,
		"plugins", b.plugins.Count(),
	)

	return nil
}

// Stop waits for running background jobs and closes the store.
func (b *Bursar) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		if b.cron != nil {
			<-b.cron.Stop().Done()
		}

		ctx := context.Background()
		b.plugins.EmitShutdown(ctx)

		err = b.store.Close()
	})
	return err
}

// sweepOverdue is the cron job body.
func (b *Bursar) sweepOverdue() {
	ctx := context.Background()
	n, err := b.MarkOverdue(ctx, b.now())
	if err != nil {
		b.logger.Error("overdue sweep failed", "error", err)
		return
	}
	b.logger.Debug("overdue sweep finished", "moved", n)
}

// cronLogger routes scheduler logs to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
