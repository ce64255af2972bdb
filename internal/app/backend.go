package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/walletchat/internal/config"
	"github.com/R3E-Network/walletchat/internal/database"
	"github.com/R3E-Network/walletchat/internal/database/postgres"
	"github.com/R3E-Network/walletchat/internal/lock"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

// closers releases resources opened while building a backend.
type closers []func() error

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenBackend builds the Backend Adapter named by cfg. Records come from
// cfg.Kind; blobs come from cfg.Blobs when it names a different
// implementation. The returned function releases connections.
func OpenBackend(ctx context.Context, cfg config.BackendConfig, log *logger.Logger) (database.Backend, func() error, error) {
	if log == nil {
		log = logger.NewDefault("backend")
	}
	var open closers
	opened := map[string]database.Backend{}

	get := func(kind string) (database.Backend, error) {
		if b, ok := opened[kind]; ok {
			return b, nil
		}
		b, closeFn, err := openKind(ctx, kind, cfg)
		if err != nil {
			return nil, err
		}
		if closeFn != nil {
			open = append(open, closeFn)
		}
		opened[kind] = b
		return b, nil
	}

	base, err := get(cfg.Kind)
	if err != nil {
		_ = open.close()
		return nil, nil, err
	}
	blobs := cfg.Blobs
	if blobs == "" || blobs == cfg.Kind {
		log.WithField("backend", cfg.Kind).Info("backend ready")
		return base, open.close, nil
	}

	blobStore, err := get(blobs)
	if err != nil {
		_ = open.close()
		return nil, nil, fmt.Errorf("blob backend: %w", err)
	}
	composite := database.NewComposite(base).WithBlobs(blobStore)
	if err := composite.Validate(); err != nil {
		_ = open.close()
		return nil, nil, err
	}
	log.WithField("backend", cfg.Kind).WithField("blobs", blobs).Info("composite backend ready")
	return composite, open.close, nil
}

func openKind(ctx context.Context, kind string, cfg config.BackendConfig) (database.Backend, func() error, error) {
	switch kind {
	case config.BackendMemory:
		return database.NewMockRepository(), nil, nil
	case config.BackendSupabase:
		client, err := database.NewClient(database.Config{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseKey,
			Bucket:     cfg.Bucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("supabase client: %w", err)
		}
		return database.NewRepository(client), nil, nil
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// OpenLocker returns a Redis locker when an address is configured, otherwise
// an in-process one.
func OpenLocker(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (lock.Locker, func() error, error) {
	if cfg.Addr == "" {
		return lock.NewMemory(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	if log != nil {
		log.WithField("addr", cfg.Addr).Info("using redis locks")
	}
	return lock.NewRedis(client, cfg.LockTTL), client.Close, nil
}
