// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/llmclient"
	"github.com/xkilldash9x/autoapply/internal/metrics"
	"github.com/xkilldash9x/autoapply/internal/session"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
)

// SiteMemoryStore persists site memory between runs. *store.Store satisfies it.
type SiteMemoryStore interface {
	LoadSiteMemory(ctx context.Context) ([]sitememory.Entry, error)
	SaveSiteMemory(ctx context.Context, entries []sitememory.Entry) error
}

// InitializeDatabase opens and verifies a pgx connection pool.
func InitializeDatabase(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Info("Database connection established successfully.", zap.String("host", poolConfig.ConnConfig.Host))
	return pool, nil
}

// InitializeSessionStore picks the cookie store: Redis when enabled, an
// in-process map otherwise. The returned client is nil for the latter.
func InitializeSessionStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (session.Store, *redis.Client, error) {
	if !cfg.Enabled {
		logger.Warn("Redis is not enabled; cookies will only be kept for the lifetime of this process.")
		return session.NewMemoryStore(), nil, nil
	}
	st, client, err := session.NewRedisStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis session store: %w", err)
	}
	logger.Info("Redis session store initialized.", zap.String("addr", cfg.Addr))
	return st, client, nil
}

// InitializeLLMClient creates the tiered LLM client backing the oracle.
func InitializeLLMClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llmClient, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. The oracle cannot run without it.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llmClient, nil
}

// InitializeMetrics builds a dedicated Prometheus registry with the runtime
// collectors and the application recorder. Both are nil when disabled.
func InitializeMetrics(cfg config.MetricsConfig) (*prometheus.Registry, *metrics.Recorder) {
	if !cfg.Enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.New(cfg.Namespace, reg)
}

// RestoreSiteMemory loads persisted entries into mem.
func RestoreSiteMemory(ctx context.Context, st SiteMemoryStore, mem *sitememory.Memory, logger *zap.Logger) error {
	entries, err := st.LoadSiteMemory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load site memory: %w", err)
	}
	mem.Restore(entries)
	logger.Info("Site memory restored.", zap.Int("origins", len(entries)))
	return nil
}

// SaveSiteMemory writes a snapshot of mem.
func SaveSiteMemory(ctx context.Context, st SiteMemoryStore, mem *sitememory.Memory, logger *zap.Logger) error {
	entries := mem.Snapshot()
	if err := st.SaveSiteMemory(ctx, entries); err != nil {
		return fmt.Errorf("failed to save site memory: %w", err)
	}
	logger.Debug("Site memory snapshot saved.", zap.Int("origins", len(entries)))
	return nil
}
