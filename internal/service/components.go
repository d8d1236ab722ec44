// File: internal/service/components.go
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/browser"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/metrics"
	"github.com/xkilldash9x/autoapply/internal/navigator"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
	"github.com/xkilldash9x/autoapply/internal/statusapi"
)

// Components holds everything an apply run or the server needs. It
// centralizes the lifecycle of those dependencies.
type Components struct {
	Engine    *engine.TaskEngine
	Navigator *navigator.Navigator
	Registry  *statusapi.Registry
	Outcomes  schemas.OutcomeStore
	// History is nil when no database is configured.
	History  statusapi.OutcomeReader
	Memory   *sitememory.Memory
	Browsers *browser.Manager
	LLM      schemas.LLMClient
	Metrics  *prometheus.Registry

	DBPool *pgxpool.Pool
	Redis  *redis.Client

	memoryStore   SiteMemoryStore
	persistMemory bool
	logger        *zap.Logger
}

// MetricsHandler returns the Prometheus endpoint, or nil when metrics are off.
func (c *Components) MetricsHandler() http.Handler {
	if c.Metrics == nil {
		return nil
	}
	return metrics.Handler(c.Metrics)
}

// Shutdown gracefully closes all components, ensuring resources are released in the correct order.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the engine first so no attempt is still using the browser.
	if c.Engine != nil {
		c.Engine.Stop()
	}

	// 2. Persist what the run learned before the database goes away.
	if c.persistMemory && c.memoryStore != nil && c.Memory != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := SaveSiteMemory(saveCtx, c.memoryStore, c.Memory, logger); err != nil {
			logger.Warn("Failed to persist site memory.", zap.Error(err))
		}
		cancel()
	}

	// 3. Browsers.
	if c.Browsers != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := c.Browsers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		}
		cancel()
	}

	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Warn("Error closing Redis client.", zap.Error(err))
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
