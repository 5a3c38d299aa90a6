package extension

import "time"

// Store drivers understood by Config.Driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config holds the Bursar extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.bursar" or "bursar" keys).
type Config struct {
	// Driver selects the Record Store: memory, sqlite, postgres or mongo
	// (default: memory). Ignored when a store was passed with WithStore.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DSN is the connection string of the store. For mongo it is the URI
	// with the database name as its path.
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`

	// RedisAddr, when set, makes result writes and voucher numbers
	// coordinate through Redis so several processes can share a store.
	RedisAddr string `json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`

	// RedisPassword authenticates against RedisAddr.
	RedisPassword string `json:"redis_password" mapstructure:"redis_password" yaml:"redis_password"`

	// Currency is the currency amounts are read in (default: "bdt").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// DefaultFee is the fee, in major units, returned when no fee source
	// is configured for a class.
	DefaultFee float64 `json:"default_fee" mapstructure:"default_fee" yaml:"default_fee"`

	// OverdueSweep is the cron schedule of the overdue sweep
	// (default: "@hourly"). Set DisableOverdueSweep to turn it off.
	OverdueSweep string `json:"overdue_sweep" mapstructure:"overdue_sweep" yaml:"overdue_sweep"`

	// DisableOverdueSweep turns the overdue sweep off.
	DisableOverdueSweep bool `json:"disable_overdue_sweep" mapstructure:"disable_overdue_sweep" yaml:"disable_overdue_sweep"`

	// PollInterval is how often live queries re-read their result on
	// SQL and Mongo stores (default: 2s).
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval" yaml:"poll_interval"`

	// ImportConcurrency bounds the parallel writes of a bulk import
	// (default: 8).
	ImportConcurrency int `json:"import_concurrency" mapstructure:"import_concurrency" yaml:"import_concurrency"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:            DriverMemory,
		Currency:          "bdt",
		OverdueSweep:      "@hourly",
		PollInterval:      2 * time.Second,
		ImportConcurrency: 8,
	}
}
