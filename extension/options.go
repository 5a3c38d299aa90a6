package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/store"
)

// Option configures the Bursar Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine. It takes precedence over the
// configured driver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store on an already opened grove database.
// driver is one of DriverSQLite, DriverPostgres or DriverMongo.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.Driver = driver
	}
}

// WithBursarOption passes a bursar.Option through to the underlying engine.
func WithBursarOption(opt bursar.Option) Option {
	return func(e *Extension) {
		e.bursarOpts = append(e.bursarOpts, opt)
	}
}

// WithPlugin registers a bursar plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.bursarOpts = append(e.bursarOpts, bursar.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDriver selects the store driver and its connection string.
func WithDriver(driver, dsn string) Option {
	return func(e *Extension) {
		e.config.Driver = driver
		e.config.DSN = dsn
	}
}

// WithRedis coordinates writers through the Redis server at addr.
func WithRedis(addr string) Option {
	return func(e *Extension) { e.config.RedisAddr = addr }
}

// WithCurrency sets the currency amounts are read in.
func WithCurrency(currency string) Option {
	return func(e *Extension) { e.config.Currency = currency }
}

// WithOverdueSweep sets the cron schedule of the overdue sweep.
func WithOverdueSweep(spec string) Option {
	return func(e *Extension) { e.config.OverdueSweep = spec }
}

// WithPollInterval sets how often live queries re-read their result.
func WithPollInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.PollInterval = d }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
