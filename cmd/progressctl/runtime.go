package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/basecamp-labs/progress-hub/config"
	"github.com/basecamp-labs/progress-hub/internal/application/session"
	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/infrastructure/external/backend"
	"github.com/basecamp-labs/progress-hub/internal/infrastructure/external/wallet"
	"github.com/basecamp-labs/progress-hub/internal/infrastructure/persistence/memory"
	"github.com/basecamp-labs/progress-hub/internal/infrastructure/persistence/redis"
	"github.com/basecamp-labs/progress-hub/internal/infrastructure/persistence/sqlite"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// localBackend is a local state store that can also list its keys.
type localBackend interface {
	progress.KeyValueStore
	Keys(ctx context.Context) ([]string, error)
}

// runtime holds everything one progressctl invocation needs.
type runtime struct {
	config  *config.Config
	engine  *session.Engine
	local   localBackend
	logger  *slog.Logger
	closers []func() error
}

func openRuntime(ctx context.Context, opts *options, stderr io.Writer) (_ *runtime, err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if opts.verbose {
		level = "debug"
	}
	log := logger.New(logger.Options{Output: stderr, Level: logger.ParseLevel(level)})

	rt := &runtime{config: cfg, logger: log}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if rt.local, err = rt.openLocal(ctx); err != nil {
		return nil, err
	}

	deps := session.Dependencies{
		Store: backend.NewClient(backend.ClientConfig{
			BaseURL:     cfg.Backend.URL,
			Timeout:     cfg.Backend.Timeout,
			MaxAttempts: cfg.Backend.MaxAttempts,
			APIKey:      cfg.Backend.APIKey,
			Catalog:     progress.DefaultCatalog,
			Logger:      log,
		}),
		Local:   rt.local,
		Catalog: progress.DefaultCatalog,
		Logger:  log,
	}

	target := progress.NetworkID(cfg.Wallet.Network)

	if cfg.Wallet.RPCURL != "" {
		provider, err := wallet.Dial(ctx, cfg.Wallet.RPCURL, log)
		if err != nil {
			return nil, err
		}
		rt.onClose(func() error { provider.Close(); return nil })
		deps.Provider = provider
	}

	if cfg.Wallet.CheckerURL != "" {
		checker, err := wallet.DialChecker(ctx, cfg.Wallet.CheckerURL, target)
		if err != nil {
			log.Warn("network checker unavailable", logger.Err(err))
		} else {
			rt.onClose(func() error { checker.Close(); return nil })
			deps.Checker = checker
		}
	}

	rt.engine, err = session.NewEngine(deps, session.Config{
		Target:         target,
		ResolveTimeout: cfg.Engine.ResolveTimeout,
		ProbeTimeout:   cfg.Engine.ProbeTimeout,
		RefreshTimeout: cfg.Engine.RefreshTimeout,
		WriteTimeout:   cfg.Engine.WriteTimeout,
		JoinTimeout:    cfg.Engine.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) openLocal(ctx context.Context) (localBackend, error) {
	cfg := rt.config
	switch cfg.Local.Backend {
	case config.LocalSQLite:
		store, err := sqlite.Open(cfg.Local.Path)
		if err != nil {
			return nil, err
		}
		rt.onClose(store.Close)
		return store, nil

	case config.LocalRedis:
		store, err := redis.NewStore(ctx, redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			SnapshotTTL:  cfg.Redis.SnapshotTTL,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		rt.onClose(store.Close)
		return store, nil

	default:
		return memory.NewKV(), nil
	}
}

func (rt *runtime) onClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases connections in reverse order of opening.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
