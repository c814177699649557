// Package config handles configuration loading for riskforge.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"riskforge/internal/alerting"
	"riskforge/internal/autonomous"
	"riskforge/internal/cache"
	"riskforge/internal/connector"
	"riskforge/internal/consumer"
	"riskforge/internal/correlation"
	"riskforge/internal/kafka"
	"riskforge/internal/scoring"
	"riskforge/internal/storage"
	"riskforge/internal/storage/s3"
)

// Config holds the complete application configuration. Component
// packages own their own config types; this struct composes them under
// one YAML document.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Ingest      IngestConfig       `yaml:"ingest"`
	Queue       QueueConfig        `yaml:"queue"`
	Validation  ValidationConfig   `yaml:"validation"`
	Auth        AuthConfig         `yaml:"auth"`
	CORS        CORSConfig         `yaml:"cors"`
	RateLimit   RateLimitConfig    `yaml:"rate_limit"`
	Logging     LoggingConfig      `yaml:"logging"`
	Storage     StorageConfig      `yaml:"storage"`
	Consumer    consumer.Config    `yaml:"consumer"`
	Kafka       KafkaConfig        `yaml:"kafka"`
	Cache       cache.Config       `yaml:"cache"`
	Correlation correlation.Config `yaml:"correlation"`
	Scoring     ScoringConfig      `yaml:"scoring"`
	Autonomous  autonomous.Config  `yaml:"autonomous"`
	Archive     ArchiveConfig      `yaml:"archive"`
	Alerting    AlertingConfig     `yaml:"alerting"`
	Connector   connector.Config   `yaml:"connector"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"` // Max requests per IP per window
	WindowSize    time.Duration `yaml:"window_size"`     // Time window for rate limiting
	BurstSize     int           `yaml:"burst_size"`      // Allow burst above limit temporarily
	CleanupPeriod time.Duration `yaml:"cleanup_period"`  // How often to clean old entries
	ExemptPaths   []string      `yaml:"exempt_paths"`    // Paths exempt from rate limiting
	TrustProxy    bool          `yaml:"trust_proxy"`     // Trust X-Forwarded-For header
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"` // Preflight cache duration in seconds
}

// StorageConfig holds ClickHouse persistence settings.
type StorageConfig struct {
	Enabled     bool                      `yaml:"enabled"`
	ClickHouse  storage.ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter storage.BatchWriterConfig `yaml:"batch_writer"`
	Retention   storage.RetentionConfig   `yaml:"retention"`
}

// KafkaConfig holds Kafka transport settings. Client carries connection
// and tuning parameters, Topics names the pipeline output topics.
type KafkaConfig struct {
	Enabled               bool         `yaml:"enabled"`
	Client                kafka.Config `yaml:"client"`
	Topics                kafka.Topics `yaml:"topics"`
	FindingsConsumerGroup string       `yaml:"findings_consumer_group"`
}

// ScoringConfig holds risk scoring settings.
type ScoringConfig struct {
	Weights scoring.Weights     `yaml:"weights"`
	Batch   scoring.BatchConfig `yaml:"batch"`
	// RescoreInterval schedules full graph re-scoring runs. Zero
	// disables the background loop.
	RescoreInterval time.Duration `yaml:"rescore_interval"`
}

// ArchiveConfig holds S3 archival settings for resolved findings.
type ArchiveConfig struct {
	Enabled  bool              `yaml:"enabled"`
	S3       s3.Config         `yaml:"s3"`
	Archiver s3.ArchiverConfig `yaml:"archiver"`
}

// AlertingConfig holds notification channel settings.
type AlertingConfig struct {
	Enabled  bool                    `yaml:"enabled"`
	Delivery alerting.DeliveryConfig `yaml:"delivery"`

	Webhooks  []WebhookConfig `yaml:"webhooks"`
	Slack     SlackConfig     `yaml:"slack"`
	PagerDuty PagerDutyConfig `yaml:"pagerduty"`

	// IncidentURL and ThreatURL point at the external incident tracker
	// and threat analysis services consulted after action execution.
	IncidentURL    string `yaml:"incident_url"`
	IncidentAPIKey string `yaml:"incident_api_key"`
	ThreatURL      string `yaml:"threat_url"`
}

// WebhookConfig holds a single webhook notification target.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// PagerDutyConfig holds PagerDuty notification settings.
type PagerDutyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RoutingKey string `yaml:"routing_key"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	APIPort      int           `yaml:"api_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	MaxBatchSize   int `yaml:"max_batch_size"`
	MaxPayloadSize int `yaml:"max_payload_size"`
}

// QueueConfig holds queue settings.
type QueueConfig struct {
	Size           int    `yaml:"size"`
	OverflowPolicy string `yaml:"overflow_policy"`
}

// ValidationConfig holds validation settings.
type ValidationConfig struct {
	MaxEventAge time.Duration `yaml:"max_event_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
	StrictMode  bool          `yaml:"strict_mode"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
	Enabled      bool     `yaml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			APIPort:      8081,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBatchSize:   1000,
			MaxPayloadSize: 10 * 1024 * 1024, // 10MB
		},
		Queue: QueueConfig{
			Size:           100000,
			OverflowPolicy: "reject",
		},
		Validation: ValidationConfig{
			MaxEventAge: 7 * 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
			StrictMode:  false, // Disabled by default - enable for production
		},
		Auth: AuthConfig{
			APIKeyHeader: "X-API-Key",
			Enabled:      false, // Disabled by default for development
		},
		CORS: CORSConfig{
			Enabled:        true, // CORS enabled by default for API access
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-API-Key",
				"X-Request-ID",
			},
			ExposedHeaders: []string{
				"X-Request-ID",
				"X-RateLimit-Limit",
				"X-RateLimit-Remaining",
				"X-RateLimit-Reset",
			},
			AllowCredentials: false, // Set to false when AllowedOrigins is "*"
			MaxAge:           86400, // 24 hours preflight cache
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 1000,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health", "/healthz", "/metrics"},
			TrustProxy:    false, // Don't trust X-Forwarded-For by default
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Enabled:     false, // Disabled by default for development without ClickHouse
			ClickHouse:  storage.DefaultClickHouseConfig(),
			BatchWriter: storage.DefaultBatchWriterConfig(),
			Retention: storage.RetentionConfig{
				EventsTTL:     90 * 24 * time.Hour,
				LedgerTTL:     30 * 24 * time.Hour,
				QuarantineTTL: 14 * 24 * time.Hour,
				FindingsTTL:   365 * 24 * time.Hour,
				RiskEventsTTL: 180 * 24 * time.Hour,
			},
		},
		Consumer: consumer.DefaultConfig(),
		Kafka: KafkaConfig{
			Enabled:               false, // Disabled by default, HTTP ingest always available
			Client:                *kafka.DefaultConfig(),
			Topics:                kafka.DefaultTopics(),
			FindingsConsumerGroup: "riskforge-alerting",
		},
		Cache:       cache.DefaultConfig(),
		Correlation: correlation.DefaultConfig(),
		Scoring: ScoringConfig{
			Weights:         scoring.DefaultWeights(),
			Batch:           scoring.DefaultBatchConfig(),
			RescoreInterval: time.Hour,
		},
		Autonomous: autonomous.DefaultConfig(),
		Archive: ArchiveConfig{
			Enabled:  false,
			S3:       *s3.DefaultConfig(),
			Archiver: *s3.DefaultArchiverConfig(),
		},
		Alerting: AlertingConfig{
			Enabled:  true,
			Delivery: alerting.DefaultDeliveryConfig(),
			Slack:    SlackConfig{Username: "riskforge"},
		},
		Connector: connector.DefaultConfig(),
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Check for config file path in environment
	configPath := os.Getenv("RISKFORGE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// Try to load from file
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("RISKFORGE_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if port := os.Getenv("RISKFORGE_API_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.APIPort)
	}

	if level := os.Getenv("RISKFORGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if apiKey := os.Getenv("RISKFORGE_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	// Storage settings
	if enabled := os.Getenv("RISKFORGE_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = splitAndTrim(host, ",")
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	// Kafka settings
	if enabled := os.Getenv("RISKFORGE_KAFKA_ENABLED"); enabled == "true" {
		c.Kafka.Enabled = true
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Client.Brokers = splitAndTrim(brokers, ",")
	}

	// Redis settings
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Cache.Addr = addr
	}

	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Cache.Password = pass
	}

	// S3 settings
	if bucket := os.Getenv("RISKFORGE_ARCHIVE_BUCKET"); bucket != "" {
		c.Archive.S3.Bucket = bucket
		c.Archive.Enabled = true
	}

	// Alerting settings
	if url := os.Getenv("RISKFORGE_SLACK_WEBHOOK"); url != "" {
		c.Alerting.Slack.WebhookURL = url
		c.Alerting.Slack.Enabled = true
	}

	if key := os.Getenv("RISKFORGE_PAGERDUTY_KEY"); key != "" {
		c.Alerting.PagerDuty.RoutingKey = key
		c.Alerting.PagerDuty.Enabled = true
	}

	// CORS settings
	if enabled := os.Getenv("RISKFORGE_CORS_ENABLED"); enabled == "false" {
		c.CORS.Enabled = false
	}

	if origins := os.Getenv("RISKFORGE_CORS_ORIGINS"); origins != "" {
		c.CORS.AllowedOrigins = splitAndTrim(origins, ",")
	}

	// Rate limit settings
	if enabled := os.Getenv("RISKFORGE_RATELIMIT_ENABLED"); enabled == "false" {
		c.RateLimit.Enabled = false
	}

	if rps := os.Getenv("RISKFORGE_RATELIMIT_RPS"); rps != "" {
		fmt.Sscanf(rps, "%d", &c.RateLimit.RequestsPerIP)
	}

	if burst := os.Getenv("RISKFORGE_RATELIMIT_BURST"); burst != "" {
		fmt.Sscanf(burst, "%d", &c.RateLimit.BurstSize)
	}
}

// splitAndTrim splits a string by separator and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Server.APIPort < 0 || c.Server.APIPort > 65535 {
		return fmt.Errorf("invalid api_port: %d", c.Server.APIPort)
	}

	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}

	if c.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}

	if c.Correlation.Window <= 0 {
		return fmt.Errorf("correlation window must be positive")
	}

	if c.Storage.Enabled && len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("storage enabled but no clickhouse hosts configured")
	}

	if c.Kafka.Enabled {
		if err := c.Kafka.Client.Validate(); err != nil {
			return err
		}
	}

	if c.Archive.Enabled {
		if err := c.Archive.S3.Validate(); err != nil {
			return err
		}
	}

	if c.Connector.Enabled && c.Connector.Client.BaseURL == "" {
		return fmt.Errorf("connector enabled but no gateway base_url configured")
	}

	if c.Alerting.Slack.Enabled && c.Alerting.Slack.WebhookURL == "" {
		return fmt.Errorf("slack alerting enabled but no webhook_url configured")
	}

	if c.Alerting.PagerDuty.Enabled && c.Alerting.PagerDuty.RoutingKey == "" {
		return fmt.Errorf("pagerduty alerting enabled but no routing_key configured")
	}

	return nil
}

// Channels builds the configured notification channels. The log channel
// is always included so deliveries remain observable without any
// external channel configured.
func (c *AlertingConfig) Channels(logf func(format string, args ...interface{})) []alerting.NotificationChannel {
	channels := []alerting.NotificationChannel{alerting.NewLogChannel(logf)}
	for _, w := range c.Webhooks {
		channels = append(channels, alerting.NewWebhookChannel(w.Name, w.URL, w.Headers))
	}
	if c.Slack.Enabled {
		channels = append(channels, alerting.NewSlackChannel(c.Slack.WebhookURL, c.Slack.Channel, c.Slack.Username))
	}
	if c.PagerDuty.Enabled {
		channels = append(channels, alerting.NewPagerDutyChannel(c.PagerDuty.RoutingKey))
	}
	return channels
}
