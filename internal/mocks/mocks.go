// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	return m.Called().Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Redis() config.RedisConfig {
	return m.Called().Get(0).(config.RedisConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	return m.Called().Get(0).(config.EngineConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	return m.Called().Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Navigator() config.NavigatorConfig {
	return m.Called().Get(0).(config.NavigatorConfig)
}

func (m *MockConfig) Executor() config.ExecutorConfig {
	return m.Called().Get(0).(config.ExecutorConfig)
}

func (m *MockConfig) Oracle() config.OracleConfig {
	return m.Called().Get(0).(config.OracleConfig)
}

func (m *MockConfig) Obstacle() config.ObstacleConfig {
	return m.Called().Get(0).(config.ObstacleConfig)
}

func (m *MockConfig) Memory() config.MemoryConfig {
	return m.Called().Get(0).(config.MemoryConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	return m.Called().Get(0).(config.AgentConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	return m.Called().Get(0).(config.MetricsConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	return m.Called().Get(0).(config.ServerConfig)
}

func (m *MockConfig) SetEngineWorkerConcurrency(w int) { m.Called(w) }
func (m *MockConfig) SetBrowserHeadless(b bool)        { m.Called(b) }
func (m *MockConfig) SetNavigatorMaxIterations(n int)  { m.Called(n) }

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Outcome Store Mock --

// MockOutcomeStore mocks schemas.OutcomeStore.
type MockOutcomeStore struct {
	mock.Mock
}

func (m *MockOutcomeStore) SaveOutcome(ctx context.Context, outcome *schemas.ApplicationOutcome) error {
	args := m.Called(ctx, outcome)
	return args.Error(0)
}

// -- Browser Factory Mock --

// MockBrowserFactory mocks schemas.BrowserFactory.
type MockBrowserFactory struct {
	mock.Mock
}

func (m *MockBrowserFactory) NewBrowser(ctx context.Context) (schemas.Browser, error) {
	args := m.Called(ctx)
	if b := args.Get(0); b != nil {
		return b.(schemas.Browser), args.Error(1)
	}
	return nil, args.Error(1)
}
