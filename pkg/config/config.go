// Package config provides configuration loading and validation for the bot.
//
// Configuration lives in a single YAML file plus two environment variables for
// secrets (BILIBILI_COOKIE, DEEPSEEK_API_KEY). Everything else, from search
// tuning to conversation lifecycle policy to resilience thresholds, is in the
// file, with defaults applied for any section left out.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"warmbot/pkg/resilience/protect"
)

// Environment variables carrying secrets.
const (
	EnvPlatformCookie = "BILIBILI_COOKIE"
	EnvAIKey          = "DEEPSEEK_API_KEY"
)

// Config is the root configuration.
type Config struct {
	Platform     PlatformConfig     `yaml:"platform"`
	AI           AIConfig           `yaml:"ai"`
	Conversation ConversationConfig `yaml:"conversation"`
	Scanner      ScannerConfig      `yaml:"scanner"`
	Resilience   protect.Config     `yaml:"resilience"`
	Store        StoreConfig        `yaml:"store"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// PlatformConfig configures the content platform client and search behavior.
type PlatformConfig struct {
	// Cookie is the raw browser cookie string for the bot account. Loaded
	// from BILIBILI_COOKIE, never from the file.
	Cookie string `yaml:"-"`

	// Keywords maps scene names to their search keywords.
	Keywords map[string][]string `yaml:"keywords"`

	// ScenePriority orders scenes into high/medium/low search rounds.
	ScenePriority ScenePriority `yaml:"scene_priority"`

	// CommentsContextCount caps how many section comments are fetched as
	// prompt ambiance context.
	CommentsContextCount int `yaml:"comments_context_count"`
}

// ScenePriority lists scenes by search priority.
type ScenePriority struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
	Low    []string `yaml:"low"`
}

// AIConfig configures the analysis upstream (OpenAI-compatible chat API).
type AIConfig struct {
	// APIKey is loaded from DEEPSEEK_API_KEY, never from the file.
	APIKey  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// ScoreThreshold is the minimum sentiment score for a first reply.
	ScoreThreshold float64 `yaml:"score_threshold"`

	// CacheTTL and CacheSize bound the analysis result cache.
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// ConversationConfig tunes the conversation lifecycle policy.
type ConversationConfig struct {
	// MaxChecks closes a replied conversation after this many no-reply checks.
	MaxChecks int `yaml:"max_checks"`

	// BackoffBase and MaxCheckInterval shape the exponential check backoff:
	// next check in min(MaxCheckInterval, BackoffBase * 2^(checkCount-1)).
	BackoffBase      time.Duration `yaml:"backoff_base"`
	MaxCheckInterval time.Duration `yaml:"max_check_interval"`

	// FirstCheckDelay schedules the first follow-up check after a reply.
	FirstCheckDelay time.Duration `yaml:"first_check_delay"`

	// Retention closes any conversation idle longer than this.
	Retention time.Duration `yaml:"retention"`

	// Paused tunes the human-takeover monitoring mode.
	Paused PausedConfig `yaml:"paused"`
}

// PausedConfig tunes monitoring of conversations a human has taken over.
type PausedConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	MaxChecks     int           `yaml:"max_checks"`
}

// ScannerConfig tunes the scan cycle.
type ScannerConfig struct {
	ScanInterval       time.Duration `yaml:"scan_interval"`
	MaxVideosPerScan   int           `yaml:"max_videos_per_scan"`
	MaxRepliesPerVideo int           `yaml:"max_replies_per_video"`
	TimeRangeDays      int           `yaml:"time_range_days"`

	// InterItemDelay spaces consecutive videos and conversations within a
	// cycle so bursts of platform calls stay spread out.
	InterItemDelay time.Duration `yaml:"inter_item_delay"`

	// EmergencyLogPath receives structured records for emergency-flagged
	// comments.
	EmergencyLogPath string `yaml:"emergency_log_path"`
}

// StoreConfig configures durable storage.
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Platform: PlatformConfig{
			CommentsContextCount: 30,
		},
		AI: AIConfig{
			BaseURL:        "https://api.deepseek.com",
			Model:          "deepseek-chat",
			ScoreThreshold: 0.55,
			CacheTTL:       time.Hour,
			CacheSize:      1000,
		},
		Conversation: ConversationConfig{
			MaxChecks:        5,
			BackoffBase:      30 * time.Minute,
			MaxCheckInterval: 4 * time.Hour,
			FirstCheckDelay:  time.Hour,
			Retention:        24 * time.Hour,
			Paused: PausedConfig{
				CheckInterval: 6 * time.Hour,
				MaxChecks:     10,
			},
		},
		Scanner: ScannerConfig{
			ScanInterval:       5 * time.Minute,
			MaxVideosPerScan:   5,
			MaxRepliesPerVideo: 5,
			TimeRangeDays:      7,
			InterItemDelay:     2 * time.Second,
			EmergencyLogPath:   "logs/emergency.log",
		},
		Resilience: protect.DefaultRegistryConfig(),
		Store: StoreConfig{
			DBPath: "warmbot.db",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
	}
}

// Load reads the YAML file at path, applies defaults for missing sections,
// pulls secrets from the environment, and validates the result. An empty path
// returns the validated defaults plus environment secrets.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Platform.Cookie = os.Getenv(EnvPlatformCookie)
	cfg.AI.APIKey = os.Getenv(EnvAIKey)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the bot cannot run with.
func (c *Config) Validate() error {
	if c.AI.ScoreThreshold < 0 || c.AI.ScoreThreshold > 1 {
		return fmt.Errorf("ai.score_threshold must be in [0,1], got %v", c.AI.ScoreThreshold)
	}
	if c.Conversation.MaxChecks <= 0 {
		return fmt.Errorf("conversation.max_checks must be positive, got %d", c.Conversation.MaxChecks)
	}
	if c.Conversation.BackoffBase <= 0 {
		return fmt.Errorf("conversation.backoff_base must be positive, got %v", c.Conversation.BackoffBase)
	}
	if c.Conversation.MaxCheckInterval < c.Conversation.BackoffBase {
		return fmt.Errorf("conversation.max_check_interval %v below backoff_base %v",
			c.Conversation.MaxCheckInterval, c.Conversation.BackoffBase)
	}
	if c.Conversation.Paused.MaxChecks <= 0 {
		return fmt.Errorf("conversation.paused.max_checks must be positive, got %d", c.Conversation.Paused.MaxChecks)
	}
	if c.Scanner.ScanInterval <= 0 {
		return fmt.Errorf("scanner.scan_interval must be positive, got %v", c.Scanner.ScanInterval)
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path must not be empty")
	}
	return nil
}
