package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "America/Los_Angeles"

	configPathEnv     = "FEEDSCANNER_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDriverEnv = "DATABASE_DRIVER"
	llmProviderEnv    = "LLM_PROVIDER"
	llmModelEnv       = "LLM_MODEL"
	llmAPIKeyEnv      = "LLM_API_KEY"
	openAIAPIKeyEnv   = "OPENAI_API_KEY"
	anthropicKeyEnv   = "ANTHROPIC_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
)

// Supported LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderLangChain = "langchain"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Unknown category policies.
const (
	UnknownCategoryDrop   = "drop"
	UnknownCategoryReject = "reject"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Feeds         FeedsConfig        `yaml:"feeds"`
	Extraction    ExtractionConfig   `yaml:"extraction"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	LLM           LLMConfig          `yaml:"llm"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
	Lock          LockConfig         `yaml:"lock"`
	Seed          SeedConfig         `yaml:"seed"`
}

// DatabaseConfig selects the SQL driver and connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when the pipeline should run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// FeedsConfig tunes the feed fetcher.
type FeedsConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"userAgent"`
	CredentialHeaders []string      `yaml:"credentialHeaders"`
	CredentialScheme  string        `yaml:"credentialScheme"`
	Concurrency       int           `yaml:"concurrency"`
}

// ExtractionConfig selects and tunes the content extraction strategy.
type ExtractionConfig struct {
	Strategy string        `yaml:"strategy"`
	MinChars int           `yaml:"minChars"`
	MaxChars int           `yaml:"maxChars"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ClassifierConfig shapes prompts and throughput toward the language model.
type ClassifierConfig struct {
	MinInterval     time.Duration `yaml:"minInterval"`
	MaxContentChars int           `yaml:"maxContentChars"`
	UnknownCategory string        `yaml:"unknownCategory"`
}

// LLMConfig defines how to contact the completion backend.
type LLMConfig struct {
	Provider     string        `yaml:"provider"`
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	MaxTokens    int           `yaml:"maxTokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LockConfig points at the cross-process run lock file. Empty disables it.
type LockConfig struct {
	Path string `yaml:"path"`
}

// SeedConfig lists the sources and categories written by the seed command.
type SeedConfig struct {
	Sources    []SourceConfig   `yaml:"sources"`
	Categories []CategoryConfig `yaml:"categories"`
}

// SourceConfig describes a single feed endpoint.
type SourceConfig struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	AccessKey string `yaml:"accessKey"`
	Active    *bool  `yaml:"active"`
}

// CategoryConfig describes one taxonomy label.
type CategoryConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Color       string `yaml:"color"`
	Active      *bool  `yaml:"active"`
}

// IsActive treats a missing flag as active.
func (s SourceConfig) IsActive() bool { return s.Active == nil || *s.Active }

// IsActive treats a missing flag as active.
func (c CategoryConfig) IsActive() bool { return c.Active == nil || *c.Active }

// Load reads YAML configuration (if present) over defaults and applies environment overrides.
// An explicit path that cannot be read is an error; without a path the
// FEEDSCANNER_CONFIG variable is consulted and defaults are used when it is unset.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	cfg.bindTimezone()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the application cannot act on.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderLangChain:
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unsupported value %q", c.LLM.Provider))
	}
	switch c.Classifier.UnknownCategory {
	case UnknownCategoryDrop, UnknownCategoryReject:
	default:
		errs = append(errs, fmt.Errorf("classifier.unknownCategory: unsupported value %q", c.Classifier.UnknownCategory))
	}
	if c.Feeds.Concurrency < 1 {
		errs = append(errs, errors.New("feeds.concurrency: must be at least 1"))
	}
	if c.Classifier.MinInterval < 0 {
		errs = append(errs, errors.New("classifier.minInterval: must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(llmProviderEnv); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if c.LLM.APIKey == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case ProviderOpenAI:
			c.LLM.APIKey = os.Getenv(openAIAPIKeyEnv)
		case ProviderAnthropic:
			c.LLM.APIKey = os.Getenv(anthropicKeyEnv)
		}
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "postgresql" {
		c.Database.Driver = DriverPostgres
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Classifier.UnknownCategory = strings.ToLower(strings.TrimSpace(c.Classifier.UnknownCategory))
	c.Extraction.Strategy = strings.ToLower(strings.TrimSpace(c.Extraction.Strategy))

	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel(c.LLM.Provider)
	}
	if c.LLM.Provider == ProviderOpenAI && c.LLM.Endpoint == "" {
		c.LLM.Endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if len(c.Feeds.CredentialHeaders) == 0 {
		c.Feeds.CredentialHeaders = []string{"Authorization", "API-Key"}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	c.Scheduler.location = loc
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-3-haiku-20240307"
	case ProviderLangChain:
		return "llama3.1"
	default:
		return "gpt-4o-mini"
	}
}

func defaultConfig() Config {
	return Config{
		Database:  DatabaseConfig{Driver: DriverSQLite, DSN: "feedscanner.db"},
		Scheduler: SchedulerConfig{CronExpression: "0 9 * * *", Timezone: defaultTimezone},
		Feeds: FeedsConfig{
			Timeout:           15 * time.Second,
			UserAgent:         "FeedScanner/1.0",
			CredentialHeaders: []string{"Authorization", "API-Key"},
			Concurrency:       1,
		},
		Extraction: ExtractionConfig{
			Strategy: "inline",
			MinChars: 500,
			MaxChars: 3000,
			Timeout:  10 * time.Second,
		},
		Classifier: ClassifierConfig{
			MinInterval:     2 * time.Second,
			MaxContentChars: 2500,
			UnknownCategory: UnknownCategoryDrop,
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			MaxTokens:   600,
			Temperature: 0,
			Timeout:     30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Lock:    LockConfig{Path: "feedscanner.lock"},
		Seed:    defaultSeed(),
	}
}

func defaultSeed() SeedConfig {
	return SeedConfig{
		Sources: []SourceConfig{
			{Name: "Federal Reserve Board", URL: "https://www.federalreserve.gov/feeds/press_all.xml"},
			{Name: "San Francisco Fed", URL: "https://www.frbsf.org/news-and-media/press-releases/feed/"},
			{Name: "Reuters Economics", URL: "https://feeds.reuters.com/reuters/businessNews"},
			{Name: "Wall Street Journal Economics", URL: "https://feeds.a.dj.com/rss/RSSMarketsMain.xml"},
			{Name: "Financial Times", URL: "https://www.ft.com/rss/home/us"},
			{Name: "Bloomberg Economics", URL: "https://feeds.bloomberg.com/markets/news.rss"},
			{Name: "MarketWatch Economy", URL: "https://feeds.marketwatch.com/marketwatch/economy/"},
			{Name: "CNBC Economy", URL: "https://search.cnbc.com/rs/search/combinedcms/view.xml?partnerId=wrss01&id=15839069"},
		},
		Categories: []CategoryConfig{
			{Name: "Monetary Policy", Description: "Federal Reserve policy, interest rates, FOMC decisions", Color: "#1f4e79"},
			{Name: "Regional Economics", Description: "12th District economic conditions, West Coast trends", Color: "#28a745"},
			{Name: "Financial System", Description: "Banking, financial stability, credit markets", Color: "#dc3545"},
			{Name: "Technology & Payments", Description: "Fintech, digital payments, cybersecurity, AI", Color: "#007bff"},
			{Name: "Global Trade", Description: "International trade, Pacific Rim, geopolitical impacts", Color: "#6f42c1"},
			{Name: "Economic Indicators", Description: "Inflation, employment, GDP, housing market data", Color: "#17a2b8"},
			{Name: "Regulation", Description: "Banking supervision, regulatory changes, compliance", Color: "#ffc107"},
		},
	}
}
