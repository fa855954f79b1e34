package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/helpgate/pkg/policy"
)

// DefaultOpenRouterModel is used when the OpenRouter backend has no model configured.
const DefaultOpenRouterModel = "nvidia/nemotron-nano-9b-v2:free"

// Config holds the application configuration.
type Config struct {
	Log        LogConfig       `yaml:"log"`
	FAQ        FAQConfig       `yaml:"faq"`
	Session    SessionConfig   `yaml:"session"`
	Router     RouterConfig    `yaml:"router"`
	Escalation policy.Config   `yaml:"escalation"`
	Generator  GeneratorConfig `yaml:"generator"`
	APIKeys    APIKeysConfig   `yaml:"api_keys"`
	Server     ServerConfig    `yaml:"server"`

	// ConfigDir is where the config file was looked up.
	ConfigDir string `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type FAQConfig struct {
	// Path is a YAML file with a top-level faqs list.
	Path string `yaml:"path"`
	// SQLiteDSN, when set, takes precedence over Path.
	SQLiteDSN           string  `yaml:"sqlite_dsn"`
	AcceptanceThreshold float64 `yaml:"acceptance_threshold"`
	MinKeywordOverlap   int     `yaml:"min_keyword_overlap"`
}

type SessionConfig struct {
	ContextWindow int `yaml:"context_window"`
	// RedisURL selects the Redis driver; empty keeps sessions in memory.
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type RouterConfig struct {
	MaxMessageLength int `yaml:"max_message_length"`
}

type GeneratorConfig struct {
	Backend      string            `yaml:"backend"`
	Model        string            `yaml:"model"`
	BaseURL      string            `yaml:"base_url"`
	Timeout      time.Duration     `yaml:"timeout"`
	Temperature  *float64          `yaml:"temperature"`
	MaxTokens    int               `yaml:"max_tokens"`
	SystemPrompt string            `yaml:"system_prompt"`
	Aliases      map[string]string `yaml:"aliases"`
}

// APIKeysConfig holds provider credentials. Environment variables win.
type APIKeysConfig struct {
	OpenRouter string `yaml:"openrouter"`
	OpenAI     string `yaml:"openai"`
	Anthropic  string `yaml:"anthropic"`
	Google     string `yaml:"google"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit uses the limiter's formatted rate, e.g. "10-M" for ten per minute.
	RateLimit string `yaml:"rate_limit"`
	Metrics   *bool  `yaml:"metrics"`
}

// Load reads ~/.helpgate/config.yaml (or path when non-empty), then applies
// environment overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	explicit := path != ""
	if !explicit {
		path = filepath.Join(configDir, "config.yaml")
	}

	cfg, err := loadFile(path, explicit)
	if err != nil {
		return nil, err
	}
	cfg.ConfigDir = configDir

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration built only from defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// loadFile parses path. A missing default file is not an error; a missing
// explicit file is.
func loadFile(path string, explicit bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.APIKeys.OpenRouter = getEnvOrDefault("OPENROUTER_API_KEY", c.APIKeys.OpenRouter)
	c.APIKeys.OpenAI = getEnvOrDefault("OPENAI_API_KEY", c.APIKeys.OpenAI)
	c.APIKeys.Anthropic = getEnvOrDefault("ANTHROPIC_API_KEY", c.APIKeys.Anthropic)
	c.APIKeys.Google = getEnvOrDefault("GOOGLE_API_KEY", c.APIKeys.Google)

	c.Generator.Backend = getEnvOrDefault("HELPGATE_BACKEND", c.Generator.Backend)
	c.Generator.Model = getEnvOrDefault("OPENROUTER_MODEL", c.Generator.Model)
	c.Generator.BaseURL = getEnvOrDefault("OPENROUTER_BASE_URL", c.Generator.BaseURL)
	c.Session.RedisURL = getEnvOrDefault("REDIS_URL", c.Session.RedisURL)
	c.FAQ.Path = getEnvOrDefault("FAQ_PATH", c.FAQ.Path)
	c.FAQ.SQLiteDSN = getEnvOrDefault("FAQ_SQLITE_DSN", c.FAQ.SQLiteDSN)
	c.Server.Addr = getEnvOrDefault("HELPGATE_ADDR", c.Server.Addr)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)

	var errs []error
	if v, ok := os.LookupEnv("CONFIDENCE_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envError("CONFIDENCE_THRESHOLD", err))
		c.Escalation.ConfidenceThreshold = f
	}
	if v, ok := os.LookupEnv("MAX_CONTEXT_MESSAGES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envError("MAX_CONTEXT_MESSAGES", err))
		c.Session.ContextWindow = n
	}
	if v, ok := os.LookupEnv("MAX_MESSAGE_LENGTH"); ok && v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envError("MAX_MESSAGE_LENGTH", err))
		c.Router.MaxMessageLength = n
	}
	if v, ok := os.LookupEnv("GENERATION_TIMEOUT"); ok && v != "" {
		d, err := parseDuration(v)
		errs = append(errs, envError("GENERATION_TIMEOUT", err))
		c.Generator.Timeout = d
	}
	return errors.Join(errs...)
}

func envError(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", name, err)
}

// parseDuration accepts Go durations ("5s") and bare seconds ("5", "2.5").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.FAQ.AcceptanceThreshold == 0 {
		c.FAQ.AcceptanceThreshold = 0.85
	}
	if c.FAQ.MinKeywordOverlap == 0 {
		c.FAQ.MinKeywordOverlap = 2
	}
	if c.Session.ContextWindow == 0 {
		c.Session.ContextWindow = 6
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 24 * time.Hour
	}
	if c.Router.MaxMessageLength == 0 {
		c.Router.MaxMessageLength = 2000
	}

	d := policy.DefaultConfig()
	if len(c.Escalation.HumanTerms) == 0 {
		c.Escalation.HumanTerms = d.HumanTerms
	}
	if len(c.Escalation.LegalTerms) == 0 {
		c.Escalation.LegalTerms = d.LegalTerms
	}
	if len(c.Escalation.SecurityTerms) == 0 {
		c.Escalation.SecurityTerms = d.SecurityTerms
	}
	if len(c.Escalation.BillingTerms) == 0 {
		c.Escalation.BillingTerms = d.BillingTerms
	}
	if len(c.Escalation.StandardTopics) == 0 {
		c.Escalation.StandardTopics = d.StandardTopics
	}
	if c.Escalation.ConfidenceThreshold == 0 {
		c.Escalation.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.Escalation.MinAnswerLength == 0 {
		c.Escalation.MinAnswerLength = d.MinAnswerLength
	}

	if c.Generator.Backend == "" {
		c.Generator.Backend = c.defaultBackend()
	}
	if c.Generator.Model == "" && c.Generator.Backend == "openrouter" {
		c.Generator.Model = DefaultOpenRouterModel
	}
	if c.Generator.Timeout == 0 {
		c.Generator.Timeout = 5 * time.Second
	}
	if c.Generator.Temperature == nil {
		t := 0.15
		c.Generator.Temperature = &t
	}
	if c.Generator.MaxTokens == 0 {
		c.Generator.MaxTokens = 512
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.RateLimit == "" {
		c.Server.RateLimit = "10-M"
	}
	if c.Server.Metrics == nil {
		on := true
		c.Server.Metrics = &on
	}
}

// defaultBackend picks the first provider with credentials, else the mock.
func (c *Config) defaultBackend() string {
	switch {
	case c.APIKeys.OpenRouter != "":
		return "openrouter"
	case c.APIKeys.OpenAI != "":
		return "openai"
	case c.APIKeys.Anthropic != "":
		return "anthropic"
	case c.APIKeys.Google != "":
		return "google"
	default:
		return "mock"
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if t := c.FAQ.AcceptanceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("faq.acceptance_threshold %v must be within [0,1]", t))
	}
	if t := c.Escalation.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("escalation.confidence_threshold %v must be within [0,1]", t))
	}
	if c.FAQ.MinKeywordOverlap < 0 {
		errs = append(errs, fmt.Errorf("faq.min_keyword_overlap must not be negative"))
	}
	if c.Session.ContextWindow < 0 {
		errs = append(errs, fmt.Errorf("session.context_window must be positive"))
	}
	if c.Router.MaxMessageLength < 0 {
		errs = append(errs, fmt.Errorf("router.max_message_length must be positive"))
	}
	if c.Escalation.MinAnswerLength < 0 {
		errs = append(errs, fmt.Errorf("escalation.min_answer_length must not be negative"))
	}
	if c.Generator.Timeout < 0 {
		errs = append(errs, fmt.Errorf("generator.timeout must be positive"))
	}
	if c.Generator.Temperature != nil && (*c.Generator.Temperature < 0 || *c.Generator.Temperature > 2) {
		errs = append(errs, fmt.Errorf("generator.temperature %v must be within [0,2]", *c.Generator.Temperature))
	}
	if !c.HasAdapter(c.Generator.Backend) {
		errs = append(errs, fmt.Errorf("generator backend %q has no API key", c.Generator.Backend))
	}
	return errors.Join(errs...)
}

// APIKey returns the credential for the named backend.
func (c *Config) APIKey(backend string) string {
	switch backend {
	case "openrouter":
		return c.APIKeys.OpenRouter
	case "openai":
		return c.APIKeys.OpenAI
	case "anthropic":
		return c.APIKeys.Anthropic
	case "google":
		return c.APIKeys.Google
	default:
		return ""
	}
}

// HasAdapter returns true if the API key for the given backend is configured.
func (c *Config) HasAdapter(name string) bool {
	return name == "mock" || c.APIKey(name) != ""
}

// ResolveModel maps a configured alias to a provider model name.
func (c *Config) ResolveModel(modelOrAlias string) string {
	if canonical, ok := c.Generator.Aliases[strings.TrimSpace(modelOrAlias)]; ok {
		return canonical
	}
	return modelOrAlias
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".helpgate"), nil
}
