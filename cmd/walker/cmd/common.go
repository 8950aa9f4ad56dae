package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/bryanowens-dev/walker/internal/config"
	"github.com/bryanowens-dev/walker/internal/coord"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// newLogger builds the bootstrap logger from the persistent flags. It
// reports config-load problems; once the config is loaded the process
// switches to configLogger.
func newLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stdout,
	})
}

// configLogger builds the process logger from the loaded configuration.
// Flag values still win inside cfg because the flags are bound into the
// shared viper instance.
func configLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    os.Stdout,
		AddSource: cfg.Log.AddSource,
	})
}

// loadConfig loads and validates the deployment configuration through
// the shared viper instance so persistent flags apply.
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loader, nil
}

// openStore builds the shared redis client and the coordination store
// on top of it. Closing the store closes the client.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*redis.Client, *coord.Store, error) {
	opts, err := redis.ParseURL(cfg.Store.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("store URL: %w", err)
	}
	opts.DialTimeout = duration(cfg.Store.DialTimeout)
	opts.ReadTimeout = duration(cfg.Store.OpTimeout)
	opts.WriteTimeout = duration(cfg.Store.OpTimeout)

	rdb := redis.NewClient(opts)
	store := coord.NewStore(rdb, logger)
	if err := store.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return rdb, store, nil
}

// duration parses a duration string already vetted by the config
// validator.
func duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
