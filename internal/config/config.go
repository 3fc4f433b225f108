package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all runtime settings for the research engine. Values come from
// an optional YAML file (CONFIG_PATH, default ./config/researchd.yaml) with
// environment variables taking precedence.
type Config struct {
	// Pool and worker limits
	MaxParallelSubagents  int           `mapstructure:"max_parallel_subagents"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	MaxAgentTurns         int           `mapstructure:"max_agent_turns"`
	AgentExecutionTimeout time.Duration `mapstructure:"agent_execution_timeout"`
	SoftExitTimeout       time.Duration `mapstructure:"soft_exit_timeout"`
	ToolTimeout           time.Duration `mapstructure:"tool_timeout"`

	// Adapters
	APITimeout      time.Duration `mapstructure:"api_timeout"`
	JinaTimeout     time.Duration `mapstructure:"jina_timeout"`
	JinaRetries     int           `mapstructure:"jina_retries"`
	JinaSkipDomains []string      `mapstructure:"jina_skip_domains"`

	// Search and content
	MaxSearchResults int `mapstructure:"max_search_results"`
	MaxContentChars  int `mapstructure:"max_content_chars"`

	// Confidence scoring
	EnableLLMConfidence bool    `mapstructure:"enable_llm_confidence"`
	LLMConfidenceWeight float64 `mapstructure:"llm_confidence_weight"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`

	// Providers
	LLMAPIBase    string `mapstructure:"llm_api_base"`
	LLMAPIKey     string `mapstructure:"llm_api_key"`
	LLMModel      string `mapstructure:"llm_model"`
	LLMRateLimit  int    `mapstructure:"llm_rate_limit"` // requests/minute, 0 disables pacing
	SearchAPIBase string `mapstructure:"search_api_base"`
	SearchAPIKey  string `mapstructure:"search_api_key"`
	FetchAPIBase  string `mapstructure:"fetch_api_base"`
	FetchAPIKey   string `mapstructure:"fetch_api_key"`

	// Service surface
	HTTPAddr       string `mapstructure:"http_addr"`
	RedisAddr      string `mapstructure:"redis_addr"`
	SessionBackend string `mapstructure:"session_backend"` // "memory" or "redis"

	// Optional YAML file overriding the built-in scenario rule table.
	ScenarioRulesPath string `mapstructure:"scenario_rules_path"`
}

// Load reads configuration from file and environment with defaults applied.
// Out-of-range values are clamped, not rejected, and logged as warnings.
func Load(logger *zap.Logger) (*Config, error) {
	v := viper.New()

	v.SetDefault("max_parallel_subagents", 5)
	v.SetDefault("max_concurrent_requests", 4)
	v.SetDefault("max_agent_turns", 2)
	v.SetDefault("agent_execution_timeout", "180s")
	v.SetDefault("soft_exit_timeout", "90s")
	v.SetDefault("tool_timeout", "20s")
	v.SetDefault("api_timeout", "30s")
	v.SetDefault("jina_timeout", "3s")
	v.SetDefault("jina_retries", 0)
	v.SetDefault("jina_skip_domains", []string{})
	v.SetDefault("max_search_results", 15)
	v.SetDefault("max_content_chars", 3000)
	v.SetDefault("enable_llm_confidence", false)
	v.SetDefault("llm_confidence_weight", 0.4)
	v.SetDefault("confidence_threshold", 0.75)
	v.SetDefault("llm_api_base", "https://api.deepseek.com/v1")
	v.SetDefault("llm_model", "deepseek-chat")
	v.SetDefault("llm_rate_limit", 0)
	v.SetDefault("search_api_base", "https://google.serper.dev")
	v.SetDefault("fetch_api_base", "https://r.jina.ai")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("session_backend", "memory")
	v.SetDefault("scenario_rules_path", "")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/researchd.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
			logger.Warn("Config file unreadable, using defaults and environment",
				zap.String("path", path), zap.Error(err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.clamp(logger)
	return &cfg, nil
}

// clamp enforces hard bounds on loaded values.
func (c *Config) clamp(logger *zap.Logger) {
	if c.LLMConfidenceWeight < 0 || c.LLMConfidenceWeight > 1 {
		logger.Warn("llm_confidence_weight out of range, clamping to [0,1]",
			zap.Float64("value", c.LLMConfidenceWeight))
		if c.LLMConfidenceWeight < 0 {
			c.LLMConfidenceWeight = 0
		} else {
			c.LLMConfidenceWeight = 1
		}
	}
	// Page fetches are never retried; a positive value here would triple tail
	// latency on dead hosts.
	if c.JinaRetries != 0 {
		logger.Warn("jina_retries is fixed at 0", zap.Int("requested", c.JinaRetries))
		c.JinaRetries = 0
	}
	if c.MaxParallelSubagents < 1 {
		c.MaxParallelSubagents = 1
	}
	if c.MaxConcurrentRequests < 1 {
		c.MaxConcurrentRequests = 1
	}
	if c.MaxAgentTurns < 0 {
		c.MaxAgentTurns = 0
	}
	if c.MaxSearchResults < 1 {
		c.MaxSearchResults = 1
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		logger.Warn("confidence_threshold out of range, resetting to 0.75",
			zap.Float64("value", c.ConfidenceThreshold))
		c.ConfidenceThreshold = 0.75
	}
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
