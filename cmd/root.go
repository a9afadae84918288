package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itiky/drop-engine/config"
	"github.com/itiky/drop-engine/toggle"
	"github.com/itiky/drop-engine/transport"
)

var (
	appConfig *config.Config
	logger    *zap.Logger
)

// rootCmd is a base command.
var rootCmd = &cobra.Command{
	Use:   "drop-engine",
	Short: "Drop engine headless client, sandbox server and tools",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		appConfig = cfg

		l, err := config.NewLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		logger = l

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// newToggleStore builds the enabled flag store of the configured backend.
func newToggleStore(cfg *config.Config) (toggle.Store, error) {
	switch toggle.Backend(cfg.Toggle.Backend) {
	case toggle.BackendMemory:
		return toggle.NewMemoryOrigin().Context(cfg.Toggle.Key), nil
	case toggle.BackendSQLite:
		return toggle.NewSQLiteStore(toggle.SQLiteConfig{
			Path:        cfg.Toggle.SQLitePath,
			Key:         cfg.Toggle.Key,
			WatchPeriod: cfg.Toggle.WatchPeriod,
		}, logger)
	case toggle.BackendRedis:
		return toggle.NewRedisStore(toggle.RedisConfig{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Toggle.Key,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported toggle backend: %q", cfg.Toggle.Backend)
	}
}

// newAPIClient builds the action endpoint client.
func newAPIClient(cfg *config.Config) (*transport.Client, error) {
	return transport.NewClient(cfg.Engine.BaseURL, cfg.Engine.HTTPTimeout, transport.WithLogger(logger))
}

// waitForStop blocks until SIGINT / SIGTERM.
func waitForStop() {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("rootCmd.Execute: %v", err)
	}
}
