package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"taskmarket/internal/cache"
	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/engine"
	"taskmarket/internal/migrate"
)

type Options struct {
	Workspace string
	// JWTSecret overrides auth.jwt_secret from taskmarket.yml when set.
	JWTSecret string
	// RedisAddr overrides cache.redis_addr when set.
	RedisAddr string
	Logger    *slog.Logger
}

// App is an opened workspace: migrated database, loaded config, seeded
// skills and an engine bound to all three.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Logger *slog.Logger

	redis *cache.Redis
}

// Open prepares the workspace for use. A missing taskmarket.yml means the
// defaults. An unreachable Redis is logged and the skill list is read from
// the database directly.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if opts.JWTSecret != "" {
		cfg.Auth.JWTSecret = opts.JWTSecret
	}
	if opts.RedisAddr != "" {
		cfg.Cache.RedisAddr = opts.RedisAddr
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a := &App{DB: conn, Config: cfg, Engine: engine.New(conn, cfg), Logger: logger}
	a.Engine.Logger = logger

	if addr := cfg.Cache.RedisAddr; addr != "" {
		r, err := cache.Dial(ctx, addr, cfg.Cache.Prefix)
		if err != nil {
			logger.Warn("skill cache disabled", slog.String("addr", addr), slog.String("error", err.Error()))
		} else {
			a.redis = r
			a.Engine.Skills = cache.NewCatalog(r, cfg.Cache.TTL.Std(), logger)
		}
	}

	added, err := a.Engine.SeedSkills(ctx, cfg.Skills)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("seed skills: %w", err)
	}
	if added > 0 {
		logger.Info("seeded skills", slog.Int("count", added))
	}
	return a, nil
}

func (a *App) Close() error {
	if a.redis != nil {
		a.redis.Close()
	}
	return a.DB.Close()
}
