package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mscolab/api/internal/app"
	"mscolab/api/internal/blob"
	"mscolab/api/internal/config"
	"mscolab/api/internal/gitrepo"
	"mscolab/api/internal/hub"
	"mscolab/api/internal/logging"
	"mscolab/api/internal/search"
	"mscolab/api/internal/session"
	"mscolab/api/internal/store"
)

// infra holds the backing services the commands share. Close releases
// them in reverse order of creation.
type infra struct {
	cfg    config.Config
	logger *slog.Logger

	db      *sql.DB
	store   store.Store
	archive *gitrepo.Service
	blobs   blob.Store
	meili   *search.Meili
	redis   *redis.Client
	bus     hub.Bus
	revoked session.Revocations

	closers []func() error
}

// newInfra loads configuration and opens the store. With full set it also
// opens the archive, blob backend, search engine and Redis.
func newInfra(ctx context.Context, full bool) (*infra, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	in := &infra{cfg: cfg, logger: logging.New(os.Stderr, cfg.LogLevel)}

	if err := in.openStore(ctx); err != nil {
		in.Close()
		return nil, err
	}
	if cfg.MeiliURL != "" {
		in.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, in.logger)
		in.onClose(func() error { in.meili.Close(); return nil })
	}
	if !full {
		return in, nil
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		in.Close()
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	in.archive = gitrepo.New(cfg.ArchiveDir)

	in.blobs, err = blob.NewFromConfig(ctx, blob.Config{
		Backend: cfg.Blob.Backend,
		Dir:     cfg.Blob.Dir,
		Minio: blob.MinioConfig{
			Endpoint:  cfg.Blob.MinioEndpoint,
			AccessKey: cfg.Blob.MinioAccessKey,
			SecretKey: cfg.Blob.MinioSecretKey,
			Bucket:    cfg.Blob.MinioBucket,
			UseSSL:    cfg.Blob.MinioUseSSL,
		},
	})
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("blob backend: %w", err)
	}

	if err := in.openRedis(ctx); err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

func (in *infra) openStore(ctx context.Context) error {
	var inner store.Store
	switch strings.ToLower(in.cfg.Store) {
	case "memory":
		in.logger.Warn("using in-memory store; state is lost on restart")
		inner = store.NewMemoryStore()
	case "postgres", "":
		db, err := store.Open(ctx, in.cfg.DatabaseURL, store.DefaultPoolOptions)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		in.db = db
		in.onClose(db.Close)
		if err := store.ApplyMigrations(db); err != nil {
			return err
		}
		inner = store.NewPostgresStore(db)
	default:
		return fmt.Errorf("unknown store %q", in.cfg.Store)
	}
	in.store = store.WithRetry(inner, store.RetryPolicy{
		Timeout:         in.cfg.StoreTimeout,
		Retries:         in.cfg.StoreRetries,
		InitialInterval: store.DefaultRetryPolicy.InitialInterval,
	})
	return nil
}

func (in *infra) openRedis(ctx context.Context) error {
	if strings.TrimSpace(in.cfg.RedisURL) == "" {
		in.bus = hub.NewLocalBus()
		in.revoked = session.NewMemoryStore()
		return nil
	}
	opts, err := redis.ParseURL(in.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	in.redis = redis.NewClient(opts)
	in.onClose(in.redis.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := in.redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	bus, err := hub.NewRedisBus(ctx, in.redis, "", in.logger)
	if err != nil {
		return err
	}
	in.onClose(bus.Close)
	in.bus = bus
	in.revoked = session.NewRedisStore(in.redis, "")
	in.logger.Info("using redis for room fan-out and token revocation")
	return nil
}

func (in *infra) deps() app.Deps {
	deps := app.Deps{
		Store:       in.store,
		Blobs:       in.blobs,
		Bus:         in.bus,
		Revocations: in.revoked,
		Logger:      in.logger,
	}
	if in.archive != nil {
		deps.Archive = in.archive
	}
	if in.meili != nil {
		deps.SearchEngine = in.meili
	}
	return deps
}

func (in *infra) onClose(fn func() error) {
	in.closers = append(in.closers, fn)
}

func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil {
			in.logger.Warn("close", "error", err)
		}
	}
	in.closers = nil
}
