package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. Environment variables in the
// file content are expanded before parsing.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-value settings. The per-source thresholds mirror
// the usual production values but remain fully adjustable.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Cache.StaleRetention == 0 {
		c.Cache.StaleRetention = 24 * time.Hour
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = 10 * time.Minute
	}
	if c.Cache.QuoteTTL == 0 {
		c.Cache.QuoteTTL = 5 * time.Minute
	}
	if c.Cache.IndicatorTTL == 0 {
		c.Cache.IndicatorTTL = time.Hour
	}
	if c.Cache.ReferenceTTL == 0 {
		c.Cache.ReferenceTTL = 24 * time.Hour
	}

	if c.Pipeline.RunDeadline == 0 {
		c.Pipeline.RunDeadline = 45 * time.Second
	}
	if c.Pipeline.Interval == 0 {
		c.Pipeline.Interval = 5 * time.Minute
	}
	if c.Pipeline.HistorySize == 0 {
		c.Pipeline.HistorySize = 20
	}
	if c.Pipeline.OutputPath == "" {
		c.Pipeline.OutputPath = "snapshot.json"
	}
	if c.Pipeline.UserAgent == "" {
		c.Pipeline.UserAgent = "marketfeed/1.0"
	}

	if c.Health.BasicInterval == 0 {
		c.Health.BasicInterval = time.Minute
	}
	if c.Health.DetailedInterval == 0 {
		c.Health.DetailedInterval = 5 * time.Minute
	}
	if c.Health.Retention == 0 {
		c.Health.Retention = 24 * time.Hour
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = 10 * time.Second
	}
	if c.Health.RecoveryStreak == 0 {
		c.Health.RecoveryStreak = 3
	}

	if c.Alerting.Interval == 0 {
		c.Alerting.Interval = time.Minute
	}
	if c.Alerting.HistorySize == 0 {
		c.Alerting.HistorySize = 100
	}
	if c.Alerting.Cooldown == 0 {
		c.Alerting.Cooldown = 15 * time.Minute
	}

	if len(c.Sources) == 0 {
		c.Sources = DefaultSources()
	}
	for i := range c.Sources {
		applySourceDefaults(&c.Sources[i])
	}
}

func applySourceDefaults(s *SourceConfig) {
	if s.Name == "" {
		s.Name = s.ID
	}
	if s.Category == "" {
		s.Category = "indicator"
	}
	if s.RateLimit.Capacity == 0 {
		s.RateLimit.Capacity = 60
	}
	if s.RateLimit.RefillPeriod == 0 {
		s.RateLimit.RefillPeriod = time.Minute
	}
	if s.Breaker.FailureThreshold == 0 {
		s.Breaker.FailureThreshold = 5
	}
	if s.Breaker.OpenTimeout == 0 {
		s.Breaker.OpenTimeout = 5 * time.Minute
	}
	if s.Breaker.MaxTrialCalls == 0 {
		s.Breaker.MaxTrialCalls = 3
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = 3
	}
	if s.Retry.InitialDelay == 0 {
		s.Retry.InitialDelay = time.Second
	}
	if s.Retry.MaxDelay == 0 {
		s.Retry.MaxDelay = 30 * time.Second
	}
	if s.Retry.Multiplier == 0 {
		s.Retry.Multiplier = 2.0
	}
	if s.Retry.JitterFraction == 0 {
		s.Retry.JitterFraction = 0.25
	}
	if s.Retry.AttemptTimeout == 0 {
		s.Retry.AttemptTimeout = 10 * time.Second
	}
	if s.SLA.Availability == 0 {
		s.SLA.Availability = 99.0
	}
	if s.SLA.MaxLatency == 0 {
		s.SLA.MaxLatency = 2 * time.Second
	}
	if s.SLA.MaxErrorRate == 0 {
		s.SLA.MaxErrorRate = 5.0
	}
	if s.SLA.MaxStaleness == 0 {
		switch s.Category {
		case "quote":
			s.SLA.MaxStaleness = 15 * time.Minute
		case "reference":
			s.SLA.MaxStaleness = 48 * time.Hour
		default:
			s.SLA.MaxStaleness = 2 * time.Hour
		}
	}
}

// DefaultSources is the dashboard source set used when none are configured.
// Endpoints are placeholders resolved from the environment in practice.
func DefaultSources() []SourceConfig {
	quote := func(id, name string) SourceConfig {
		return SourceConfig{
			ID:        id,
			Name:      name,
			Category:  "quote",
			Endpoints: []string{fmt.Sprintf("${QUOTE_API_BASE}/quote/%s", id)},
		}
	}
	return []SourceConfig{
		quote("spy", "SPDR S&P 500 ETF"),
		quote("qqq", "Invesco QQQ Trust"),
		quote("iwm", "iShares Russell 2000 ETF"),
		{
			ID: "vix", Name: "CBOE Volatility Index", Category: "indicator",
			Endpoints: []string{"${VIX_API_URL}"},
		},
		{
			ID: "fear-greed", Name: "Fear & Greed Index", Category: "indicator",
			Endpoints: []string{"${FEAR_GREED_API_URL}"},
		},
		{
			ID: "news-sentiment", Name: "News Sentiment", Category: "indicator",
			Endpoints: []string{"${NEWS_SENTIMENT_API_URL}"},
		},
		{
			ID: "econ", Name: "Economic Indicators", Category: "reference",
			Endpoints: []string{"${ECON_API_URL}"},
		},
	}
}
