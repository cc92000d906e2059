package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the BeVisible pipeline server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Automation AutomationConfig
	AI         AIConfig
	Pipeline   PipelineConfig
	Capacity   CapacityConfig
	Batch      BatchConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AutomationConfig drives the browser automation session against the chat
// service the nightly questions are asked on.
type AutomationConfig struct {
	ChatURL         string
	Headless        bool
	PollInterval    time.Duration // rendered-output sampling interval
	StablePolls     int           // consecutive unchanged polls before a response counts as final
	MaxPolls        int           // per-query convergence bound; exceeding it is a query timeout
	NavigateTimeout time.Duration
	QueriesPerMin   int // submission pacing per session
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // any OpenAI-compatible endpoint, incl. self-hosted
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

// PipelineConfig controls the job processor's polling loop.
type PipelineConfig struct {
	PollInterval time.Duration
	BatchLimit   int           // max jobs claimed per tick
	JobTimeout   time.Duration // hard deadline for one stage execution
	MaxAttempts  int
	BackoffBase  time.Duration // retry delay grows from this with each attempt
}

// CapacityConfig controls account allocation and wait estimation.
type CapacityConfig struct {
	ReservationWindow time.Duration // look-ahead during which a scheduled batch holds its account
	PerItemDuration   time.Duration // wall-clock estimate for one automation query
	DefaultWait       time.Duration // fallback estimate when an account has no instrumentation
	LeaseTTL          time.Duration // Redis lease lifetime for a claimed account
}

// BatchConfig controls the nightly planner.
type BatchConfig struct {
	NightlyCron string // standard 5-field cron expression
	Stagger     time.Duration
}

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("BEVISIBLE_PORT", 8080),
			Env:  envString("BEVISIBLE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Automation: AutomationConfig{
			ChatURL:         os.Getenv("AUTOMATION_CHAT_URL"),
			Headless:        envBool("AUTOMATION_HEADLESS", true),
			PollInterval:    envDuration("AUTOMATION_POLL_INTERVAL", 2*time.Second),
			StablePolls:     envInt("AUTOMATION_STABLE_POLLS", 3),
			MaxPolls:        envInt("AUTOMATION_MAX_POLLS", 60),
			NavigateTimeout: envDuration("AUTOMATION_NAVIGATE_TIMEOUT", 30*time.Second),
			QueriesPerMin:   envInt("AUTOMATION_QUERIES_PER_MIN", 2),
		},
		AI: AIConfig{
			Provider:         envString("AI_PROVIDER", "openai"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			},
			Anthropic: AnthropicConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
				Model:  envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Pipeline: PipelineConfig{
			PollInterval: envDuration("PIPELINE_POLL_INTERVAL", 15*time.Second),
			BatchLimit:   envInt("PIPELINE_BATCH_LIMIT", 10),
			JobTimeout:   envDuration("PIPELINE_JOB_TIMEOUT", 30*time.Minute),
			MaxAttempts:  envInt("PIPELINE_MAX_ATTEMPTS", 3),
			BackoffBase:  envDuration("PIPELINE_BACKOFF_BASE", 2*time.Minute),
		},
		Capacity: CapacityConfig{
			ReservationWindow: envDuration("CAPACITY_RESERVATION_WINDOW", 15*time.Minute),
			PerItemDuration:   envDuration("CAPACITY_PER_ITEM_DURATION", 90*time.Second),
			DefaultWait:       envDuration("CAPACITY_DEFAULT_WAIT", 10*time.Minute),
			LeaseTTL:          envDuration("CAPACITY_LEASE_TTL", 2*time.Minute),
		},
		Batch: BatchConfig{
			NightlyCron: envString("BATCH_NIGHTLY_CRON", "0 2 * * *"),
			Stagger:     envDuration("BATCH_STAGGER", 20*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Automation.ChatURL == "" {
		return fmt.Errorf("AUTOMATION_CHAT_URL is required")
	}
	if !strings.HasPrefix(c.Automation.ChatURL, "http://") && !strings.HasPrefix(c.Automation.ChatURL, "https://") {
		return fmt.Errorf("AUTOMATION_CHAT_URL must start with http:// or https://, got %q", c.Automation.ChatURL)
	}
	if c.Automation.StablePolls < 1 {
		return fmt.Errorf("AUTOMATION_STABLE_POLLS must be at least 1")
	}
	if c.Automation.MaxPolls < c.Automation.StablePolls {
		return fmt.Errorf("AUTOMATION_MAX_POLLS must be >= AUTOMATION_STABLE_POLLS")
	}
	if c.Automation.QueriesPerMin < 1 {
		return fmt.Errorf("AUTOMATION_QUERIES_PER_MIN must be at least 1")
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openai, anthropic, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}

	if c.Pipeline.BatchLimit < 1 {
		return fmt.Errorf("PIPELINE_BATCH_LIMIT must be at least 1")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("PIPELINE_MAX_ATTEMPTS must be at least 1")
	}

	if c.Capacity.ReservationWindow <= 0 {
		return fmt.Errorf("CAPACITY_RESERVATION_WINDOW must be positive")
	}
	if c.Capacity.PerItemDuration <= 0 {
		return fmt.Errorf("CAPACITY_PER_ITEM_DURATION must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
