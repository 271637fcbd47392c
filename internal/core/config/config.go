// Package config defines the startup configuration surface. Values are
// loaded once at startup and never hot-reloaded mid-run.
package config

import (
	"fmt"
	"time"

	"marketfeed/internal/core/domain"
	"marketfeed/internal/infra/cache"
)

// AppConfig is the top-level configuration.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Health   HealthConfig   `yaml:"health"`
	Alerting AlertingConfig `yaml:"alerting"`
	Sources  []SourceConfig `yaml:"sources"`
}

// ServerConfig holds the health/report HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CacheConfig holds cache tier settings and category TTLs.
type CacheConfig struct {
	Redis          cache.RedisConfig `yaml:"redis"`
	StaleRetention time.Duration     `yaml:"stale_retention"`
	SweepInterval  time.Duration     `yaml:"sweep_interval"`
	QuoteTTL       time.Duration     `yaml:"quote_ttl"`
	IndicatorTTL   time.Duration     `yaml:"indicator_ttl"`
	ReferenceTTL   time.Duration     `yaml:"reference_ttl"`
}

// TTLFor maps a data category onto its configured TTL.
func (c CacheConfig) TTLFor(cat domain.DataCategory) time.Duration {
	switch cat {
	case domain.CategoryQuote:
		return c.QuoteTTL
	case domain.CategoryReference:
		return c.ReferenceTTL
	default:
		return c.IndicatorTTL
	}
}

// PipelineConfig governs orchestrator runs.
type PipelineConfig struct {
	RunDeadline time.Duration `yaml:"run_deadline"` // bound on one whole run
	Interval    time.Duration `yaml:"interval"`     // scheduled run cadence
	HistorySize int           `yaml:"history_size"` // retained executions
	OutputPath  string        `yaml:"output_path"`  // snapshot JSON destination
	UserAgent   string        `yaml:"user_agent"`
}

// HealthConfig governs the health monitor cadences.
type HealthConfig struct {
	BasicInterval    time.Duration `yaml:"basic_interval"`
	DetailedInterval time.Duration `yaml:"detailed_interval"`
	Retention        time.Duration `yaml:"retention"`     // health record window
	ProbeTimeout     time.Duration `yaml:"probe_timeout"` // deadline on one probe
	// RecoveryStreak is the number of consecutive successful probes that
	// resets an open circuit.
	RecoveryStreak int `yaml:"recovery_streak"`
}

// AlertingConfig holds alert rules and the notification channel.
type AlertingConfig struct {
	Interval    time.Duration  `yaml:"interval"`
	HistorySize int            `yaml:"history_size"`
	Cooldown    time.Duration  `yaml:"cooldown"` // per-rule re-fire suppression
	Rules       []RuleConfig   `yaml:"rules"`
	Telegram    TelegramConfig `yaml:"telegram"`
}

// RuleConfig is one configured alert rule.
type RuleConfig struct {
	Name       string  `yaml:"name"`
	Metric     string  `yaml:"metric"`
	Comparison string  `yaml:"comparison"` // gt, gte, lt, lte
	Threshold  float64 `yaml:"threshold"`
	Severity   string  `yaml:"severity"`
}

// TelegramConfig configures the urgent-alert channel.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"`
}

// SourceConfig holds all per-source settings.
type SourceConfig struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Endpoints []string        `yaml:"endpoints"`
	Category  string          `yaml:"category"` // quote, indicator, reference
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Retry     RetryConfig     `yaml:"retry"`
	SLA       SLAConfig       `yaml:"sla"`
}

// RateLimitConfig is the token bucket for one source.
type RateLimitConfig struct {
	Capacity     int           `yaml:"capacity"`
	RefillPeriod time.Duration `yaml:"refill_period"`
}

// BreakerConfig holds circuit thresholds for one source.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	MaxTrialCalls    int           `yaml:"max_trial_calls"`
}

// RetryConfig holds the backoff policy for one source.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// SLAConfig holds the service-level targets for one source.
type SLAConfig struct {
	Availability float64       `yaml:"availability"` // percent
	MaxLatency   time.Duration `yaml:"max_latency"`
	MaxErrorRate float64       `yaml:"max_error_rate"` // percent
	MaxStaleness time.Duration `yaml:"max_staleness"`
}

// Source converts the config entry into the immutable domain value.
func (s SourceConfig) Source() domain.Source {
	return domain.Source{
		ID:        domain.SourceID(s.ID),
		Name:      s.Name,
		Endpoints: s.Endpoints,
		Category:  domain.DataCategory(s.Category),
		SLA: domain.SLATargets{
			Availability: s.SLA.Availability,
			MaxLatency:   s.SLA.MaxLatency,
			MaxErrorRate: s.SLA.MaxErrorRate,
			MaxStaleness: s.SLA.MaxStaleness,
		},
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *AppConfig) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("source id must not be empty")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		if len(s.Endpoints) == 0 {
			return fmt.Errorf("source %q has no endpoints", s.ID)
		}
		switch domain.DataCategory(s.Category) {
		case domain.CategoryQuote, domain.CategoryIndicator, domain.CategoryReference:
		default:
			return fmt.Errorf("source %q has unknown category %q", s.ID, s.Category)
		}
	}
	for _, r := range c.Alerting.Rules {
		if r.Name == "" || r.Metric == "" {
			return fmt.Errorf("alert rule must have a name and a metric")
		}
		switch r.Comparison {
		case "gt", "gte", "lt", "lte":
		default:
			return fmt.Errorf("alert rule %q has unknown comparison %q", r.Name, r.Comparison)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}
