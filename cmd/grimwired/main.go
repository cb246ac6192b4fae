package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OpenSourceInternetV2/grimwire/internal/config"
	"github.com/OpenSourceInternetV2/grimwire/internal/logging"
	"github.com/OpenSourceInternetV2/grimwire/internal/server"
	"github.com/OpenSourceInternetV2/grimwire/internal/store"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts, err := openAccounts(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open account store", zap.Error(err))
	}

	srv := server.New(cfg, logger, accounts)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func openAccounts(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Accounts, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		pg, err := store.OpenPostgres(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		log.Info("account store ready", zap.String("driver", cfg.Storage.Driver))
		return pg, nil
	default:
		// Accounts vanish with the process; useful for development only.
		log.Warn("using in-memory account store; accounts are not persisted")
		return store.NewMemory(), nil
	}
}
