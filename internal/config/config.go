package config

import (
	"os"
	"path"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	Addr               string   `yaml:"addr"`
	LogLevel           string   `yaml:"log_level"`
	LogJSON            bool     `yaml:"log_json"`
	TablesFile         string   `yaml:"tables_file"`
	MaxLimit           int      `yaml:"max_limit"`            // row cap enforced by the guard
	RequestDeadlineSec int      `yaml:"request_deadline_sec"` // full pipeline budget
	StatementTimeoutMS int      `yaml:"statement_timeout_ms"` // per-statement budget
	PoolMaxConns       int      `yaml:"pool_max_conns"`
	PoolIdleTimeoutSec int      `yaml:"pool_idle_timeout_sec"`
	LLM                LLM      `yaml:"llm"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	RequireKeyAlways   bool     `yaml:"require_key_always"` // disable the same-origin bypass
	DebugSQL           bool     // env only
}

type LLM struct {
	Model        string `yaml:"model"`
	SummaryModel string `yaml:"summary_model"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	BaseURL      string `yaml:"base_url"`
}

type Private struct {
	DatabaseURL   string `yaml:"database_url"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	ServiceAPIKey string `yaml:"service_api_key"`
}

func (c *Config) RequestDeadline() time.Duration {
	return time.Duration(c.Public.RequestDeadlineSec) * time.Second
}

func (c *Config) StatementTimeout() time.Duration {
	return time.Duration(c.Public.StatementTimeoutMS) * time.Millisecond
}

func (c *Config) PoolIdleTimeout() time.Duration {
	return time.Duration(c.Public.PoolIdleTimeoutSec) * time.Second
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.Public.LLM.TimeoutSec) * time.Second
}

func mustLoadPath(configPath string, output interface{}) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file")
	}
	if err := yaml.Unmarshal(configFile, output); err != nil {
		panic("can't unmarshal config file")
	}
}

// MustLoad reads public.yaml plus an optional private.yaml from configFolder,
// then applies environment overrides. Secrets normally come from the
// environment; private.yaml exists for local development.
func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)
	public.applyDefaults()

	var private Private
	privatePath := path.Join(configFolder, "private.yaml")
	if _, err := os.Stat(privatePath); err == nil {
		mustLoadPath(privatePath, &private)
	}

	cfg := &Config{public, private}
	cfg.applyEnv()
	return cfg
}

func (p *Public) applyDefaults() {
	if p.Addr == "" {
		p.Addr = ":8080"
	}
	if p.TablesFile == "" {
		p.TablesFile = "config/tables.yaml"
	}
	if p.MaxLimit == 0 {
		p.MaxLimit = 500
	}
	if p.RequestDeadlineSec == 0 {
		p.RequestDeadlineSec = 120
	}
	if p.StatementTimeoutMS == 0 {
		p.StatementTimeoutMS = 60000
	}
	if p.PoolMaxConns == 0 {
		p.PoolMaxConns = 5
	}
	if p.PoolIdleTimeoutSec == 0 {
		p.PoolIdleTimeoutSec = 10
	}
	if p.LLM.Model == "" {
		p.LLM.Model = "gpt-4o-mini"
	}
	if p.LLM.SummaryModel == "" {
		p.LLM.SummaryModel = p.LLM.Model
	}
	if p.LLM.TimeoutSec == 0 {
		p.LLM.TimeoutSec = 60
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Private.DatabaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Private.OpenAIAPIKey = v
	}
	if v := os.Getenv("SERVICE_API_KEY"); v != "" {
		c.Private.ServiceAPIKey = v
	}
	if v := os.Getenv("DB_QUERY_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Public.StatementTimeoutMS = ms
		}
	}
	if v := os.Getenv("DEBUG_SQL"); v == "1" || v == "true" {
		c.Public.DebugSQL = true
	}
}
