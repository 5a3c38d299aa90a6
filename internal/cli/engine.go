package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/extension"
	"github.com/xraph/bursar/lock"
	"github.com/xraph/bursar/types"
)

// defaultConfigPath is read when --config is not given and the file exists.
const defaultConfigPath = "bursar.yaml"

// LoadConfig reads a YAML config file. An empty path reads
// defaultConfigPath when it exists and returns the defaults otherwise.
func LoadConfig(path string) (extension.Config, error) {
	cfg := extension.DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// session is one opened engine and what has to be released with it.
type session struct {
	cfg    extension.Config
	engine *bursar.Bursar
	redis  *lock.Redis
}

func (s *session) Close() error {
	errs := []error{s.engine.Stop()}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}

// openSession opens the configured store and starts an engine on it. The
// overdue sweep never runs in the CLI; sweep-overdue runs it on demand.
func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		cfg.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.DSN = opts.DSN
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	s, err := extension.OpenStore(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}

	bopts := []bursar.Option{
		bursar.WithLogger(logger),
		bursar.WithCurrency(cfg.Currency),
		bursar.WithOverdueSweep(""),
		bursar.WithMigrate(!opts.NoMigrate && !cfg.DisableMigrate),
	}
	if cfg.ImportConcurrency > 0 {
		bopts = append(bopts, bursar.WithImportConcurrency(cfg.ImportConcurrency))
	}
	if cfg.DefaultFee > 0 {
		bopts = append(bopts, bursar.WithDefaultFee(types.FromMajor(cfg.Currency, cfg.DefaultFee)))
	}

	sess := &session{cfg: cfg}
	if cfg.RedisAddr != "" {
		r, err := lock.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, 0, lock.WithLogger(logger))
		if err != nil {
			_ = s.Close() //nolint:errcheck // best-effort cleanup
			return nil, fmt.Errorf("redis: %w", err)
		}
		sess.redis = r
		bopts = append(bopts, bursar.WithLocker(r), bursar.WithSequencer(r))
	}

	sess.engine = bursar.New(s, bopts...)
	if err := sess.engine.Start(ctx); err != nil {
		_ = sess.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	return sess, nil
}

// withSession runs fn on an opened engine and closes it afterwards.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, sess *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sess, err := openSession(ctx, cmd, opts)
	if err != nil {
		return err
	}
	runErr := fn(ctx, sess)
	return errors.Join(runErr, sess.Close())
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
