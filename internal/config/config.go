package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Planner   PlannerConfig   `toml:"planner"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Observer  ObserverConfig  `toml:"observer"`
}

type LLMConfig struct {
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// PlannerConfig overrides the model for planning calls; empty fields fall
// back to the main LLM settings.
type PlannerConfig struct {
	Model  string `toml:"model"`
	APIKey string `toml:"api_key"`
}

type SchedulerConfig struct {
	MaxConcurrentTasks int `toml:"max_concurrent_tasks"`
	RetryMaxAttempts   int `toml:"retry_max_attempts"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	Endpoint    string `toml:"endpoint"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
		Scheduler: SchedulerConfig{MaxConcurrentTasks: 5, RetryMaxAttempts: 3},
		Server:    ServerConfig{Addr: ":8080"},
		Observer:  ObserverConfig{ServiceName: "agentos"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "agentos.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("AGENTOS_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("AGENTOS_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("AGENTOS_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGENTOS_PLANNER_MODEL"); v != "" {
		cfg.Planner.Model = v
	}
	if v := os.Getenv("AGENTOS_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.MaxConcurrentTasks = n
		}
	}
	if v := os.Getenv("AGENTOS_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AGENTOS_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
	if v := os.Getenv("AGENTOS_OBSERVER_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}

	// Fallbacks
	if cfg.Planner.Model == "" {
		cfg.Planner.Model = cfg.LLM.Model
	}
	if cfg.Planner.APIKey == "" {
		cfg.Planner.APIKey = cfg.LLM.APIKey
	}
	if cfg.Scheduler.MaxConcurrentTasks <= 0 {
		cfg.Scheduler.MaxConcurrentTasks = 5
	}

	return cfg
}
