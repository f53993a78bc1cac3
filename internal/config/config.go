package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone  = "UTC"
	configPathEnv    = "XFEED_CONFIG"
	databasePathEnv  = "DATABASE_PATH"
	openAIKeyEnv     = "OPENAI_API_KEY"
	anthropicKeyEnv  = "ANTHROPIC_API_KEY"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	telegramChatEnv  = "TELEGRAM_CHAT_ID"
	redisAddrEnv     = "REDIS_ADDR"
	smtpPasswordEnv  = "SMTP_PASSWORD"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging    LoggingConfig     `yaml:"logging"`
	Database   DatabaseConfig    `yaml:"database"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Providers  ProviderConfig    `yaml:"providers"`
	Summarizer SummarizerConfig  `yaml:"summarizer"`
	Delivery   DeliveryConfig    `yaml:"delivery"`
	Session    SessionConfig     `yaml:"session"`
	Owners     []OwnerSeedConfig `yaml:"owners"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig describes the sqlite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig sizes the run worker pool.
type SchedulerConfig struct {
	Workers  int    `yaml:"workers"`
	Timezone string `yaml:"timezone"`
}

// PipelineConfig bounds fetch retries.
type PipelineConfig struct {
	FetchAttempts int           `yaml:"fetchAttempts"`
	BackoffBase   time.Duration `yaml:"backoffBase"`
}

// ProviderConfig groups settings for feed sources.
type ProviderConfig struct {
	API     APIProviderConfig     `yaml:"api"`
	Scraper ScraperProviderConfig `yaml:"scraper"`
}

// APIProviderConfig wires the structured timeline API.
type APIProviderConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout time.Duration `yaml:"timeout"`
}

// ScraperProviderConfig wires the HTML scrape source.
type ScraperProviderConfig struct {
	TimelineURL string        `yaml:"timelineUrl"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SummarizerConfig is the ordered backend fallback chain.
type SummarizerConfig struct {
	Chain []BackendConfig `yaml:"chain"`
}

// BackendConfig describes one summary backend. Type is one of
// "openai", "anthropic", "keyword".
type BackendConfig struct {
	Type     string        `yaml:"type"`
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DeliveryConfig encapsulates outbound channels.
type DeliveryConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
	Render   RenderConfig   `yaml:"render"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// EmailConfig describes the SMTP relay.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RenderConfig points the display channel at an output directory.
type RenderConfig struct {
	Dir string `yaml:"dir"`
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redisAddr"`
	TTL       time.Duration `yaml:"ttl"`
}

// OwnerSeedConfig bootstraps an owner and its schedule into the store.
type OwnerSeedConfig struct {
	ID            string   `yaml:"id"`
	Handle        string   `yaml:"handle"`
	Timezone      string   `yaml:"timezone"`
	Preset        string   `yaml:"preset"`
	FeedSource    string   `yaml:"feedSource"`
	MaxItems      int      `yaml:"maxItems"`
	WindowHours   int      `yaml:"windowHours"`
	Channels      []string `yaml:"channels"`
	Cadence       string   `yaml:"cadence"`
	Interval      string   `yaml:"interval"`
	DailyAt       string   `yaml:"dailyAt"`
	DeliveryEmail string   `yaml:"deliveryEmail"`
}

// ParseDailyAt splits a "HH:MM" string into hour and minute.
func ParseDailyAt(v string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(v), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid dailyAt %q, want HH:MM", v)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid dailyAt hour %q: %w", parts[0], err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid dailyAt minute %q: %w", parts[1], err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("dailyAt %q out of range", v)
	}
	return hour, minute, nil
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Delivery.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatEnv); v != "" {
		c.Delivery.Telegram.ChatID = v
	}

	if v := os.Getenv(smtpPasswordEnv); v != "" {
		c.Delivery.Email.Password = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Session.RedisAddr = v
	}

	for i := range c.Summarizer.Chain {
		switch c.Summarizer.Chain[i].Type {
		case "openai":
			if v := os.Getenv(openAIKeyEnv); v != "" {
				c.Summarizer.Chain[i].APIKey = v
			}
		case "anthropic":
			if v := os.Getenv(anthropicKeyEnv); v != "" {
				c.Summarizer.Chain[i].APIKey = v
			}
		}
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Database.Path != "" {
		base.Database = override.Database
	}

	if override.Scheduler.Workers > 0 {
		base.Scheduler.Workers = override.Scheduler.Workers
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Pipeline.FetchAttempts > 0 {
		base.Pipeline.FetchAttempts = override.Pipeline.FetchAttempts
	}
	if override.Pipeline.BackoffBase > 0 {
		base.Pipeline.BackoffBase = override.Pipeline.BackoffBase
	}

	if override.Providers.API.BaseURL != "" {
		base.Providers.API = override.Providers.API
	}
	if override.Providers.Scraper.TimelineURL != "" {
		base.Providers.Scraper = override.Providers.Scraper
	}

	if len(override.Summarizer.Chain) > 0 {
		base.Summarizer = override.Summarizer
	}

	if override.Delivery.Telegram.BotToken != "" {
		base.Delivery.Telegram = override.Delivery.Telegram
	}
	if override.Delivery.Email.Host != "" {
		base.Delivery.Email = override.Delivery.Email
	}
	if override.Delivery.Render.Dir != "" {
		base.Delivery.Render = override.Delivery.Render
	}

	if override.Session.Backend != "" {
		base.Session.Backend = override.Session.Backend
	}
	if override.Session.RedisAddr != "" {
		base.Session.RedisAddr = override.Session.RedisAddr
	}
	if override.Session.TTL > 0 {
		base.Session.TTL = override.Session.TTL
	}

	if len(override.Owners) > 0 {
		base.Owners = override.Owners
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:   LoggingConfig{Level: "info"},
		Database:  DatabaseConfig{Path: "data/xfeedreader.db"},
		Scheduler: SchedulerConfig{Workers: 4, Timezone: defaultTimezone},
		Pipeline:  PipelineConfig{FetchAttempts: 3, BackoffBase: 2 * time.Second},
		Providers: ProviderConfig{
			API:     APIProviderConfig{BaseURL: "https://api.x.com/2", Timeout: 30 * time.Second},
			Scraper: ScraperProviderConfig{TimelineURL: "https://x.com/home", Timeout: 60 * time.Second},
		},
		Summarizer: SummarizerConfig{
			Chain: []BackendConfig{
				{Type: "openai", Endpoint: "https://api.openai.com/v1/chat/completions", Model: "gpt-4o-mini", Timeout: 60 * time.Second},
				{Type: "keyword"},
			},
		},
		Delivery: DeliveryConfig{
			Render: RenderConfig{Dir: "data/briefings"},
			Email:  EmailConfig{Port: 587},
		},
		Session: SessionConfig{Backend: "memory", TTL: 30 * time.Minute},
	}
}
