// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Redis() RedisConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Navigator() NavigatorConfig
	Executor() ExecutorConfig
	Oracle() OracleConfig
	Obstacle() ObstacleConfig
	Memory() MemoryConfig
	Agent() AgentConfig
	Metrics() MetricsConfig
	Server() ServerConfig

	// Setters used by CLI flag overrides.
	SetEngineWorkerConcurrency(int)
	SetBrowserHeadless(bool)
	SetNavigatorMaxIterations(int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	RedisCfg     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	EngineCfg    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	NavigatorCfg NavigatorConfig `mapstructure:"navigator" yaml:"navigator"`
	ExecutorCfg  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	OracleCfg    OracleConfig    `mapstructure:"oracle" yaml:"oracle"`
	ObstacleCfg  ObstacleConfig  `mapstructure:"obstacle" yaml:"obstacle"`
	MemoryCfg    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	AgentCfg     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	ServerCfg    ServerConfig    `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Redis() RedisConfig         { return c.RedisCfg }
func (c *Config) Engine() EngineConfig       { return c.EngineCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Navigator() NavigatorConfig { return c.NavigatorCfg }
func (c *Config) Executor() ExecutorConfig   { return c.ExecutorCfg }
func (c *Config) Oracle() OracleConfig       { return c.OracleCfg }
func (c *Config) Obstacle() ObstacleConfig   { return c.ObstacleCfg }
func (c *Config) Memory() MemoryConfig       { return c.MemoryCfg }
func (c *Config) Agent() AgentConfig         { return c.AgentCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }
func (c *Config) Server() ServerConfig       { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkerConcurrency(w int) { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetNavigatorMaxIterations(n int)  { c.NavigatorCfg.MaxIterations = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// RedisConfig configures the cookie store shared between sessions.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"-"`
	DB        int           `mapstructure:"db" yaml:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	CookieTTL time.Duration `mapstructure:"cookie_ttl" yaml:"cookie_ttl"`
}

// EngineConfig configures the worker pool that runs applications in parallel.
type EngineConfig struct {
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug             bool           `mapstructure:"debug" yaml:"debug"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Humanoid          HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// NavigatorConfig bounds the navigation loop.
type NavigatorConfig struct {
	MaxIterations          int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxSessions            int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	AttemptTimeout         time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	HistoryWindow          int           `mapstructure:"history_window" yaml:"history_window"`
	IdenticalObstacleLimit int           `mapstructure:"identical_obstacle_limit" yaml:"identical_obstacle_limit"`
	StrategyRetries        int           `mapstructure:"strategy_retries" yaml:"strategy_retries"`
	SnapshotTimeout        time.Duration `mapstructure:"snapshot_timeout" yaml:"snapshot_timeout"`
}

// ExecutorConfig tunes the candidate fallback executor.
type ExecutorConfig struct {
	CandidateTimeout time.Duration `mapstructure:"candidate_timeout" yaml:"candidate_timeout"`
	MaxWait          time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// OracleConfig tunes the page oracle client.
type OracleConfig struct {
	MaxSnapshotBytes  int           `mapstructure:"max_snapshot_bytes" yaml:"max_snapshot_bytes"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Tier              string        `mapstructure:"tier" yaml:"tier"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
}

// ObstacleConfig tunes the obstacle classifier's heuristics.
type ObstacleConfig struct {
	// RateLimitInterval is the window inside which a repeated identical
	// failure on an unchanged page counts as rate limiting.
	RateLimitInterval     time.Duration `mapstructure:"rate_limit_interval" yaml:"rate_limit_interval"`
	ExtraChallengeMarkers []string      `mapstructure:"extra_challenge_markers" yaml:"extra_challenge_markers"`
}

// MemoryConfig tunes per-site memory.
type MemoryConfig struct {
	ListCap       int     `mapstructure:"list_cap" yaml:"list_cap"`
	ReuseMinUses  int     `mapstructure:"reuse_min_uses" yaml:"reuse_min_uses"`
	ReuseMinRatio float64 `mapstructure:"reuse_min_ratio" yaml:"reuse_min_ratio"`
	// Persist loads site memory from the database at startup and saves it on shutdown.
	Persist bool `mapstructure:"persist" yaml:"persist"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AgentConfig holds settings related to the language model backing the oracle.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderOllama LLMProvider = "ollama"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autoapply")
	v.SetDefault("logger.log_file", "autoapply.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Redis --
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "autoapply:cookies:")
	v.SetDefault("redis.cookie_ttl", "720h")

	// -- Engine --
	v.SetDefault("engine.queue_size", 100)
	v.SetDefault("engine.worker_concurrency", 2)
	v.SetDefault("engine.default_task_timeout", "12m")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.post_load_wait", "1500ms")
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})
	setHumanoidDefaults(v)

	// -- Navigator --
	v.SetDefault("navigator.max_iterations", 15)
	v.SetDefault("navigator.max_sessions", 3)
	v.SetDefault("navigator.attempt_timeout", "10m")
	v.SetDefault("navigator.history_window", 5)
	v.SetDefault("navigator.identical_obstacle_limit", 3)
	v.SetDefault("navigator.strategy_retries", 1)
	v.SetDefault("navigator.snapshot_timeout", "15s")

	// -- Executor --
	v.SetDefault("executor.candidate_timeout", "4s")
	v.SetDefault("executor.max_wait", "10s")

	// -- Oracle --
	v.SetDefault("oracle.max_snapshot_bytes", 24*1024)
	v.SetDefault("oracle.request_timeout", "60s")
	v.SetDefault("oracle.requests_per_minute", 30)
	v.SetDefault("oracle.tier", "fast")
	v.SetDefault("oracle.temperature", 0.2)

	// -- Obstacle --
	v.SetDefault("obstacle.rate_limit_interval", "3s")

	// -- Memory --
	v.SetDefault("memory.list_cap", 50)
	v.SetDefault("memory.reuse_min_uses", 3)
	v.SetDefault("memory.reuse_min_ratio", 0.7)
	v.SetDefault("memory.persist", false)

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "autoapply")

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "AUTOAPPLY_DATABASE_URL")
	v.BindEnv("redis.password", "AUTOAPPLY_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Model API keys live in a map, which viper cannot bind per entry.
	for name, model := range cfg.AgentCfg.LLM.Models {
		if model.APIKey != "" {
			continue
		}
		switch model.Provider {
		case ProviderGemini:
			model.APIKey = firstEnv("AUTOAPPLY_GEMINI_API_KEY", "GEMINI_API_KEY")
		case ProviderOpenAI:
			model.APIKey = firstEnv("AUTOAPPLY_OPENAI_API_KEY", "OPENAI_API_KEY")
		}
		cfg.AgentCfg.LLM.Models[name] = model
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if err := c.NavigatorCfg.Validate(); err != nil {
		return fmt.Errorf("navigator configuration invalid: %w", err)
	}
	if err := c.MemoryCfg.Validate(); err != nil {
		return fmt.Errorf("memory configuration invalid: %w", err)
	}
	if c.ExecutorCfg.CandidateTimeout <= 0 {
		return fmt.Errorf("executor.candidate_timeout must be a positive duration")
	}
	if c.OracleCfg.MaxSnapshotBytes < 1024 {
		return fmt.Errorf("oracle.max_snapshot_bytes must be at least 1024")
	}
	if c.MemoryCfg.Persist && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("memory.persist requires database.url")
	}
	return nil
}

// Validate checks the navigator budgets.
func (n *NavigatorConfig) Validate() error {
	if n.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be greater than 0")
	}
	if n.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be greater than 0")
	}
	if n.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt_timeout must be a positive duration")
	}
	if n.IdenticalObstacleLimit < 2 {
		return fmt.Errorf("identical_obstacle_limit must be at least 2")
	}
	if n.HistoryWindow < 0 || n.StrategyRetries < 0 {
		return fmt.Errorf("history_window and strategy_retries must not be negative")
	}
	return nil
}

// Validate checks the site memory settings.
func (m *MemoryConfig) Validate() error {
	if m.ListCap <= 0 {
		return fmt.Errorf("list_cap must be greater than 0")
	}
	if m.ReuseMinRatio <= 0.0 || m.ReuseMinRatio > 1.0 {
		return fmt.Errorf("reuse_min_ratio must be greater than 0.0 and at most 1.0")
	}
	if m.ReuseMinUses <= 0 {
		return fmt.Errorf("reuse_min_uses must be greater than 0")
	}
	return nil
}
