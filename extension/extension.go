// Package extension provides the Forge extension adapter for Bursar.
//
// It implements the forge.Extension interface to integrate Bursar
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.bursar" or "bursar" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/lock"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/store/mongo"
	"github.com/xraph/bursar/store/postgres"
	"github.com/xraph/bursar/store/sqlite"
	"github.com/xraph/bursar/types"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "bursar"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "School fee and exam result reconciliation engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Bursar as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *bursar.Bursar
	store      store.Store
	groveDB    *grove.DB
	redis      *lock.Redis
	bursarOpts []bursar.Option
}

// New creates a new Bursar Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Bursar instance.
// This is nil until Register is called.
func (e *Extension) Engine() *bursar.Bursar { return e.engine }

// Register implements [forge.Extension]. It loads configuration, opens
// the store, initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	ctx := context.Background()
	if e.store == nil {
		s, err := OpenStore(ctx, e.config, e.groveDB)
		if err != nil {
			return err
		}
		e.store = s
	}

	if e.config.RedisAddr != "" {
		r, err := lock.DialRedis(ctx, e.config.RedisAddr, e.config.RedisPassword, 0)
		if err != nil {
			return fmt.Errorf("bursar: redis: %w", err)
		}
		e.redis = r
	}

	e.engine = bursar.New(e.store, e.buildBursarOpts()...)

	return vessel.Provide(fapp.Container(), func() (*bursar.Bursar, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("bursar: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	var errs []error
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	e.MarkStopped()
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("bursar: store not initialized")
	}
	return e.store.Ping(ctx)
}

// OpenStore builds the Record Store named by cfg.Driver, on db when one
// was injected and on cfg.DSN otherwise.
func OpenStore(ctx context.Context, cfg Config, db *grove.DB) (store.Store, error) {
	if db == nil && cfg.DSN == "" && cfg.Driver != "" && cfg.Driver != DriverMemory {
		return nil, bursar.ValidationError{Field: "dsn", Message: "required for the " + cfg.Driver + " driver"}
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		opts := []sqlite.Option{sqlite.WithPollInterval(cfg.PollInterval)}
		if db != nil {
			return sqlite.New(db, opts...), nil
		}
		return sqlite.Open(ctx, cfg.DSN, opts...)
	case DriverPostgres:
		opts := []postgres.Option{postgres.WithPollInterval(cfg.PollInterval)}
		if db != nil {
			return postgres.New(db, opts...), nil
		}
		return postgres.Open(ctx, cfg.DSN, opts...)
	case DriverMongo:
		opts := []mongo.Option{mongo.WithPollInterval(cfg.PollInterval)}
		if db != nil {
			return mongo.New(db, opts...), nil
		}
		return mongo.Open(ctx, cfg.DSN, opts...)
	default:
		return nil, bursar.ValidationError{Field: "driver", Message: fmt.Sprintf("unknown store driver %q", cfg.Driver)}
	}
}

// buildBursarOpts constructs bursar.Option values from the resolved config.
func (e *Extension) buildBursarOpts() []bursar.Option {
	opts := make([]bursar.Option, 0, len(e.bursarOpts)+8)

	opts = append(opts,
		bursar.WithCurrency(e.config.Currency),
		bursar.WithMigrate(!e.config.DisableMigrate),
		bursar.WithImportConcurrency(e.config.ImportConcurrency),
	)

	if e.config.DisableOverdueSweep {
		opts = append(opts, bursar.WithOverdueSweep(""))
	} else if e.config.OverdueSweep != "" {
		opts = append(opts, bursar.WithOverdueSweep(e.config.OverdueSweep))
	}

	if e.config.DefaultFee > 0 {
		opts = append(opts, bursar.WithDefaultFee(types.FromMajor(e.config.Currency, e.config.DefaultFee)))
	}

	if e.redis != nil {
		opts = append(opts, bursar.WithLocker(e.redis), bursar.WithSequencer(e.redis))
	}

	// Append any pass-through bursar options.
	opts = append(opts, e.bursarOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("bursar: configuration is required but not found in config files; " +
				"ensure 'extensions.bursar' or 'bursar' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("bursar: configuration loaded",
		forge.F("driver", e.config.Driver),
		forge.F("redis", e.config.RedisAddr != ""),
		forge.F("currency", e.config.Currency),
		forge.F("overdue_sweep", e.config.OverdueSweep),
		forge.F("disable_overdue_sweep", e.config.DisableOverdueSweep),
		forge.F("poll_interval", e.config.PollInterval),
		forge.F("disable_migrate", e.config.DisableMigrate),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.bursar", "bursar"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("bursar: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("bursar: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.OverdueSweep == "" {
		cfg.OverdueSweep = defaults.OverdueSweep
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ImportConcurrency == 0 {
		cfg.ImportConcurrency = defaults.ImportConcurrency
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableOverdueSweep {
		yamlConfig.DisableOverdueSweep = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.Driver == "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}
	if yamlConfig.DSN == "" {
		yamlConfig.DSN = programmaticConfig.DSN
	}
	if yamlConfig.RedisAddr == "" {
		yamlConfig.RedisAddr = programmaticConfig.RedisAddr
	}
	if yamlConfig.RedisPassword == "" {
		yamlConfig.RedisPassword = programmaticConfig.RedisPassword
	}
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.OverdueSweep == "" {
		yamlConfig.OverdueSweep = programmaticConfig.OverdueSweep
	}

	// Numeric fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.DefaultFee == 0 {
		yamlConfig.DefaultFee = programmaticConfig.DefaultFee
	}
	if yamlConfig.PollInterval == 0 {
		yamlConfig.PollInterval = programmaticConfig.PollInterval
	}
	if yamlConfig.ImportConcurrency == 0 {
		yamlConfig.ImportConcurrency = programmaticConfig.ImportConcurrency
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
