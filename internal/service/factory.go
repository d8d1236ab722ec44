// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/humanoid"
	"github.com/xkilldash9x/autoapply/internal/navigator"
	"github.com/xkilldash9x/autoapply/internal/oracle"
	"github.com/xkilldash9x/autoapply/internal/session"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
	"github.com/xkilldash9x/autoapply/internal/statusapi"
	"github.com/xkilldash9x/autoapply/internal/store"
)

// ComponentFactory creates the set of components needed to run applications.
// Commands depend on it so tests can swap in a fake.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Metrics
	reg, recorder := InitializeMetrics(cfg.Metrics())
	components.Metrics = reg

	// 2. Database and outcome store
	if url := cfg.Database().URL; url != "" {
		pool, err := InitializeDatabase(ctx, url, logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.DBPool = pool

		pgStore, err := store.New(ctx, pool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Outcomes = pgStore
		components.History = pgStore
		components.memoryStore = pgStore
	} else {
		logger.Warn("Database URL (AUTOAPPLY_DATABASE_URL) is not set. Outcomes will only be logged.")
		components.Outcomes = store.NewLogStore(logger)
	}

	// 3. Site memory
	memCfg := cfg.Memory()
	components.Memory = sitememory.New(memCfg, logger)
	if memCfg.Persist {
		if components.memoryStore == nil {
			logger.Warn("memory.persist is set but no database is configured; site memory will not survive this run.")
		} else {
			if err := RestoreSiteMemory(ctx, components.memoryStore, components.Memory, logger); err != nil {
				initializationErr = err
				return nil, initializationErr
			}
			components.persistMemory = true
		}
	}

	// 4. Cookie sessions
	cookieStore, redisClient, err := InitializeSessionStore(ctx, cfg.Redis(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Redis = redisClient
	cookies := session.NewManager(cookieStore, logger)

	// 5. Oracle
	llm, err := InitializeLLMClient(ctx, cfg.Agent(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.LLM = llm
	pageOracle := oracle.NewClient(llm, cfg.Oracle(), recorder, logger)

	// 6. Browser manager. The allocator outlives ctx; Shutdown releases it.
	components.Browsers = browser.NewManager(context.Background(), cfg.Browser(), logger)

	// 7. Navigator
	nav, err := navigator.New(cfg, navigator.Deps{
		Browsers: components.Browsers,
		Oracle:   pageOracle,
		Memory:   components.Memory,
		Typist:   humanoid.NewTypist(cfg.Browser().Humanoid, 0),
		Cookies:  cookies,
		Metrics:  recorder,
	}, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create navigator: %w", err)
		return nil, initializationErr
	}
	components.Navigator = nav

	// 8. Task engine, reporting into the status registry.
	components.Registry = statusapi.NewRegistry(logger)
	taskEngine, err := engine.New(cfg, logger, components.Outcomes, nav, components.Registry)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize task engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = taskEngine

	logger.Info("All components initialized successfully.")
	return components, nil
}
