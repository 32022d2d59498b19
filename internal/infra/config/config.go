package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Provider ProviderConfig `yaml:"provider"`
	Executor ExecutorConfig `yaml:"executor"`
	Cache    CacheConfig    `yaml:"cache"`
	Storage  StorageConfig  `yaml:"storage"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// AgentConfig holds conversation-loop settings.
type AgentConfig struct {
	SystemPrompt  string `yaml:"system_prompt"`
	Model         string `yaml:"model"`
	MaxIterations int    `yaml:"max_iterations"`
	// RetryCount is the number of retries after a failed model call
	// (0 = a single attempt, no retry).
	RetryCount int `yaml:"retry_count"`
	// ToolMode is "auto" or "any". Empty = derived from the tool list.
	ToolMode string `yaml:"tool_mode"`
}

// ProviderConfig holds model API transport settings.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// BreakerConfig holds circuit breaker settings for the model API.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ExecutorConfig holds tool-executor settings.
type ExecutorConfig struct {
	// MaxBatchSize bounds concurrent tool invocations. 0 = unbounded.
	MaxBatchSize int `yaml:"max_batch_size"`
	// StopMode is "wave" (skip remaining waves after a fatal failure) or
	// "all" (run every wave regardless).
	StopMode    string `yaml:"stop_mode"`
	EventBuffer int    `yaml:"event_buffer"`
	// DispatchRate paces invocation dispatch in calls/second. 0 = unpaced.
	DispatchRate  float64 `yaml:"dispatch_rate"`
	DispatchBurst int     `yaml:"dispatch_burst"`
}

// CacheConfig holds cached-content settings for the conversation loop.
type CacheConfig struct {
	Name       string        `yaml:"name"`
	TTL        time.Duration `yaml:"ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	AutoManage bool          `yaml:"auto_manage"`
}

// StorageConfig holds conversation history storage settings.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the SQLite database file (sqlite backend only).
	Path string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// Defaults returns a configuration with sensible defaults applied.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:         "gemini-2.0-flash",
			MaxIterations: 10,
			RetryCount:    1,
		},
		Provider: ProviderConfig{
			Name:        "gemini",
			BaseURL:     "https://generativelanguage.googleapis.com",
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
		},
		Executor: ExecutorConfig{
			StopMode:    "wave",
			EventBuffer: 64,
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Path:    "genflow.db",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides.
// A missing file is not an error; defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies GENFLOW_* environment variables on top of cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GENFLOW_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("GENFLOW_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("GENFLOW_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("GENFLOW_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("GENFLOW_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("GENFLOW_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("GENFLOW_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("GENFLOW_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("GENFLOW_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("GENFLOW_CACHE_NAME"); v != "" {
		cfg.Cache.Name = v
	}
}

// Validate checks configuration invariants.
func Validate(cfg *Config) error {
	if cfg.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.RetryCount < 0 {
		return fmt.Errorf("agent.retry_count must be non-negative, got %d", cfg.Agent.RetryCount)
	}
	switch cfg.Agent.ToolMode {
	case "", "auto", "any":
	default:
		return fmt.Errorf("agent.tool_mode must be \"auto\" or \"any\", got %q", cfg.Agent.ToolMode)
	}
	if cfg.Executor.MaxBatchSize < 0 {
		return fmt.Errorf("executor.max_batch_size must be non-negative, got %d", cfg.Executor.MaxBatchSize)
	}
	switch cfg.Executor.StopMode {
	case "", "wave", "all":
	default:
		return fmt.Errorf("executor.stop_mode must be \"wave\" or \"all\", got %q", cfg.Executor.StopMode)
	}
	if cfg.Executor.DispatchRate < 0 {
		return fmt.Errorf("executor.dispatch_rate must be non-negative, got %f", cfg.Executor.DispatchRate)
	}
	switch cfg.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"sqlite\", got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "sqlite" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the sqlite backend")
	}
	if cfg.Cache.TTL < 0 || cfg.Cache.RefreshTTL < 0 {
		return fmt.Errorf("cache TTLs must be non-negative")
	}
	return nil
}
