package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"quizzer/internal/app"
	"quizzer/internal/config"
	"quizzer/internal/infra/memory"
	"quizzer/internal/infra/postgres"
	redisinfra "quizzer/internal/infra/redis"
	"quizzer/internal/infra/sqlite"
	"quizzer/internal/logger"
)

// backends holds the connections a command opened so it can close them.
type backends struct {
	redis    *redis.Client
	pg       *pgxpool.Pool
	sqlite   *sqlite.ScoreStore
	scores   app.ScoreStore
	storeTag string
}

// openBackends connects to whatever the config names. The score store is
// picked in order: postgres, sqlite, redis, in-process memory.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.pg = pool
	}

	switch {
	case b.pg != nil:
		b.scores, b.storeTag = postgres.NewScoreStore(b.pg), "postgres"
	case cfg.SQLite.Path != "":
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.sqlite = store
		b.scores, b.storeTag = store, "sqlite"
	case b.redis != nil:
		b.scores, b.storeTag = redisinfra.NewScoreStore(b.redis), "redis"
	default:
		b.scores, b.storeTag = memory.NewScoreStore(), "memory"
	}
	logger.Info("score store selected", "backend", b.storeTag)
	return b, nil
}

func (b *backends) Close() {
	if b.sqlite != nil {
		if err := b.sqlite.Close(); err != nil {
			logger.Warn("close sqlite", "error", err)
		}
	}
	if b.pg != nil {
		b.pg.Close()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
}
