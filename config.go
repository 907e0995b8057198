package main

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigDir = ".social-agent"

// ConfigOverrides allows overriding embedded defaults with file paths
type ConfigOverrides struct {
	SettingsPath     *string
	SystemPromptPath *string
	SchemaPath       *string
}

//go:embed config/settings.yaml
var defaultSettings string

//go:embed config/decider-system-prompt.md
var defaultSystemPrompt string

//go:embed config/decision-schema.json
var defaultDecisionSchema string

// Settings represents the YAML configuration structure
type Settings struct {
	Search struct {
		Terms    []string `yaml:"terms"`
		SkipSeen bool     `yaml:"skip_seen"`
	} `yaml:"search"`
	Ranking struct {
		MinScore         float64       `yaml:"min_score"`
		MaxItems         int           `yaml:"max_items"`
		FallbackMaxItems int           `yaml:"fallback_max_items"`
		Timeout          time.Duration `yaml:"timeout"`
		Concurrency      int           `yaml:"concurrency"`
		Embedder         struct {
			Provider  string `yaml:"provider"`
			Model     string `yaml:"model"`
			CacheSize int    `yaml:"cache_size"`
		} `yaml:"embedder"`
	} `yaml:"ranking"`
	Kernel KernelSettings `yaml:"kernel"`
	Budget struct {
		Store  string         `yaml:"store"`
		Limits map[string]int `yaml:"limits"`
	} `yaml:"budget"`
	Thread struct {
		MaxDepth   int     `yaml:"max_depth"`
		MinScore   float64 `yaml:"min_score"`
		MaxReplies int     `yaml:"max_replies"`
	} `yaml:"thread"`
	Actions struct {
		MinInterval time.Duration `yaml:"min_interval"`
		DryRun      bool          `yaml:"dry_run"`
	} `yaml:"actions"`
	Source struct {
		Kind       string        `yaml:"kind"`
		BaseURL    string        `yaml:"base_url"`
		Fixture    string        `yaml:"fixture"`
		Timeout    time.Duration `yaml:"timeout"`
		MaxRetries int           `yaml:"max_retries"`
	} `yaml:"source"`
	Ledger struct {
		DSN string `yaml:"dsn"`
	} `yaml:"ledger"`
	Schedule struct {
		Interval time.Duration `yaml:"interval"`
		Jitter   time.Duration `yaml:"jitter"`
	} `yaml:"schedule"`
}

// KernelSettings configures the decision kernel and its reasoning backend
type KernelSettings struct {
	Model          string        `yaml:"model"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	MaxReplyLength int           `yaml:"max_reply_length"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	MinConfidence  float64       `yaml:"min_confidence"`
}

// Secrets are read from the environment (and an optional .env file), never from YAML
type Secrets struct {
	AnthropicAPIKey string
	GeminiAPIKey    string
	SourceToken     string
	RedisURL        string
}

// Config holds settings, secrets and overrides
type Config struct {
	Settings  *Settings
	Secrets   Secrets
	Overrides *ConfigOverrides
}

// NewConfig loads settings (file over embedded defaults), validates them and reads secrets
func NewConfig(overrides *ConfigOverrides) (*Config, error) {
	if err := ensureConfigExists(); err != nil {
		return nil, fmt.Errorf("ensuring config files exist: %w", err)
	}

	settingsPath := filepath.Join(defaultConfigDir, "settings.yaml")
	required := false
	if overrides != nil && overrides.SettingsPath != nil {
		settingsPath = *overrides.SettingsPath
		required = true
	}

	settings, err := loadSettings(settingsPath, required)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return &Config{
		Settings:  settings,
		Secrets:   loadSecrets(),
		Overrides: overrides,
	}, nil
}

// DefaultSettings parses the embedded settings
func DefaultSettings() *Settings {
	var s Settings
	if err := yaml.Unmarshal([]byte(defaultSettings), &s); err != nil {
		panic(fmt.Sprintf("embedded settings are invalid: %v", err))
	}
	return &s
}

// loadSettings decodes the YAML file on top of the embedded defaults. A missing file
// falls back to defaults unless the path was given explicitly.
func loadSettings(settingsPath string, required bool) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return settings, nil
		}
		return nil, fmt.Errorf("reading settings file %s: %w", settingsPath, err)
	}

	// limits are replaced, not merged, so a file that omits a kind fails validation
	settings.Budget.Limits = nil
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}
	return settings, nil
}

// Validate fails fast on configuration the core cannot run with
func (s *Settings) Validate() error {
	var errs []error

	for _, kind := range []Kind{KindLike, KindComment} {
		if _, ok := s.Budget.Limits[string(kind)]; !ok {
			errs = append(errs, fmt.Errorf("budget.limits.%s is missing", kind))
		}
	}
	for name, limit := range s.Budget.Limits {
		if _, err := ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("budget.limits: %w", err))
		} else if limit < 0 {
			errs = append(errs, fmt.Errorf("budget.limits.%s is negative: %d", name, limit))
		}
	}
	switch s.Budget.Store {
	case "ledger", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("budget.store must be ledger, memory or redis, got %q", s.Budget.Store))
	}

	switch s.Source.Kind {
	case "http", "file":
	default:
		errs = append(errs, fmt.Errorf("source.kind must be http or file, got %q", s.Source.Kind))
	}
	switch s.Ranking.Embedder.Provider {
	case "genai", "keyword":
	default:
		errs = append(errs, fmt.Errorf("ranking.embedder.provider must be genai or keyword, got %q", s.Ranking.Embedder.Provider))
	}

	if s.Ranking.MinScore < 0 || s.Ranking.MinScore > 1 {
		errs = append(errs, fmt.Errorf("ranking.min_score must be within [0,1], got %v", s.Ranking.MinScore))
	}
	if s.Ranking.FallbackMaxItems < 0 || s.Ranking.MaxItems < 0 {
		errs = append(errs, errors.New("ranking item caps must not be negative"))
	}
	if s.Thread.MinScore < 0 || s.Thread.MinScore > 1 {
		errs = append(errs, fmt.Errorf("thread.min_score must be within [0,1], got %v", s.Thread.MinScore))
	}
	if s.Thread.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("thread.max_depth must not be negative, got %d", s.Thread.MaxDepth))
	}
	if s.Kernel.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("kernel.max_attempts must be at least 1, got %d", s.Kernel.MaxAttempts))
	}
	if s.Kernel.MaxReplyLength < 1 {
		errs = append(errs, fmt.Errorf("kernel.max_reply_length must be positive, got %d", s.Kernel.MaxReplyLength))
	}
	if s.Kernel.MinConfidence < 0 || s.Kernel.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("kernel.min_confidence must be within [0,1], got %v", s.Kernel.MinConfidence))
	}
	if s.Schedule.Interval <= 0 {
		errs = append(errs, fmt.Errorf("schedule.interval must be positive, got %s", s.Schedule.Interval))
	} else if s.Schedule.Jitter < 0 || s.Schedule.Jitter >= s.Schedule.Interval {
		errs = append(errs, fmt.Errorf("schedule.jitter must be within [0, interval), got %s", s.Schedule.Jitter))
	}
	for name, d := range map[string]time.Duration{
		"kernel.timeout":  s.Kernel.Timeout,
		"ranking.timeout": s.Ranking.Timeout,
		"source.timeout":  s.Source.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	return errors.Join(errs...)
}

// Limit returns the daily limit for a kind; kinds without a limit are unbudgeted
func (s *Settings) Limit(kind Kind) (int, bool) {
	limit, ok := s.Budget.Limits[string(kind)]
	return limit, ok
}

// SearchTerms returns the configured terms, trimmed and without blanks
func (s *Settings) SearchTerms() []string {
	var terms []string
	for _, t := range s.Search.Terms {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// GetSystemPrompt returns the decider system prompt (from override file or embedded)
func (c *Config) GetSystemPrompt() string {
	if c.Overrides != nil && c.Overrides.SystemPromptPath != nil {
		if content, err := os.ReadFile(*c.Overrides.SystemPromptPath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return strings.TrimSpace(defaultSystemPrompt)
}

// GetDecisionSchema returns the structured output schema (from override file or embedded)
func (c *Config) GetDecisionSchema() string {
	if c.Overrides != nil && c.Overrides.SchemaPath != nil {
		if content, err := os.ReadFile(*c.Overrides.SchemaPath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return strings.TrimSpace(defaultDecisionSchema)
}

func loadSecrets() Secrets {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	return Secrets{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:    firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")),
		SourceToken:     os.Getenv("SOURCE_TOKEN"),
		RedisURL:        os.Getenv("REDIS_URL"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ensureConfigExists creates the config directory and writes settings.yaml if needed
func ensureConfigExists() error {
	if err := os.MkdirAll(defaultConfigDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	settingsFile := filepath.Join(defaultConfigDir, "settings.yaml")
	if _, err := os.Stat(settingsFile); os.IsNotExist(err) {
		if err := os.WriteFile(settingsFile, []byte(defaultSettings), 0644); err != nil {
			return fmt.Errorf("writing settings.yaml: %w", err)
		}
	}
	return nil
}
