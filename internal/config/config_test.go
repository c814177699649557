package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	// Server defaults
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected HTTPPort 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.APIPort != 8081 {
		t.Errorf("expected APIPort 8081, got %d", cfg.Server.APIPort)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected ReadTimeout 30s, got %v", cfg.Server.ReadTimeout)
	}

	// Queue defaults
	if cfg.Queue.Size != 100000 {
		t.Errorf("expected queue size 100000, got %d", cfg.Queue.Size)
	}

	// Validation defaults
	if cfg.Validation.MaxEventAge != 7*24*time.Hour {
		t.Errorf("expected MaxEventAge 7d, got %v", cfg.Validation.MaxEventAge)
	}
	if cfg.Validation.MaxFuture != 5*time.Minute {
		t.Errorf("expected MaxFuture 5m, got %v", cfg.Validation.MaxFuture)
	}

	// Component defaults are pulled from their packages
	if cfg.Kafka.Topics.Findings != "riskforge-findings" {
		t.Errorf("unexpected findings topic: %s", cfg.Kafka.Topics.Findings)
	}
	if cfg.Correlation.Window <= 0 {
		t.Error("expected positive correlation window")
	}
	if cfg.Scoring.Weights.AIIntegrations == 0 {
		t.Error("expected nonzero scoring weights")
	}
	if cfg.Autonomous.CheckInterval <= 0 {
		t.Error("expected positive autonomous check interval")
	}
	if !cfg.Cache.Enabled {
		t.Error("expected cache enabled by default")
	}
	if cfg.Storage.Retention.EventsTTL != 90*24*time.Hour {
		t.Errorf("unexpected events TTL: %v", cfg.Storage.Retention.EventsTTL)
	}

	// External transports are opt-in
	if cfg.Kafka.Enabled {
		t.Error("expected kafka disabled by default")
	}
	if cfg.Storage.Enabled {
		t.Error("expected storage disabled by default")
	}
	if cfg.Archive.Enabled {
		t.Error("expected archive disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("RISKFORGE_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.HTTPPort)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  http_port: 9090
queue:
  size: 5000
kafka:
  enabled: true
  client:
    brokers: ["kafka-1:9092", "kafka-2:9092"]
    topic: events
  topics:
    findings: findings-out
correlation:
  window: 15m
autonomous:
  auto_remediate: true
  thresholds:
    critical: 80
alerting:
  slack:
    enabled: true
    webhook_url: https://hooks.slack.com/services/T/B/X
    channel: "#riskforge"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RISKFORGE_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Queue.Size != 5000 {
		t.Errorf("expected queue size 5000, got %d", cfg.Queue.Size)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected kafka enabled")
	}
	if len(cfg.Kafka.Client.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.Kafka.Client.Brokers)
	}
	if cfg.Kafka.Topics.Findings != "findings-out" {
		t.Errorf("unexpected findings topic: %s", cfg.Kafka.Topics.Findings)
	}
	if cfg.Kafka.Topics.DLQ != "security-events-dlq" {
		t.Errorf("partial topics override should keep defaults, got %s", cfg.Kafka.Topics.DLQ)
	}
	if cfg.Correlation.Window != 15*time.Minute {
		t.Errorf("expected 15m window, got %v", cfg.Correlation.Window)
	}
	if !cfg.Autonomous.AutoRemediate {
		t.Error("expected auto_remediate enabled")
	}
	if cfg.Autonomous.Thresholds.Critical != 80 {
		t.Errorf("expected critical threshold 80, got %v", cfg.Autonomous.Thresholds.Critical)
	}
	if !cfg.Alerting.Slack.Enabled || cfg.Alerting.Slack.Channel != "#riskforge" {
		t.Errorf("unexpected slack config: %+v", cfg.Alerting.Slack)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RISKFORGE_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("RISKFORGE_HTTP_PORT", "7070")
	t.Setenv("RISKFORGE_API_KEY", "secret-key")
	t.Setenv("CLICKHOUSE_HOST", "ch-1:9000, ch-2:9000")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092")
	t.Setenv("REDIS_ADDR", "redis-0:6379")
	t.Setenv("RISKFORGE_RATELIMIT_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.HTTPPort)
	}
	if !cfg.Auth.Enabled {
		t.Error("expected auth enabled when API key is set")
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0] != "secret-key" {
		t.Errorf("unexpected API keys: %v", cfg.Auth.APIKeys)
	}
	if len(cfg.Storage.ClickHouse.Hosts) != 2 || cfg.Storage.ClickHouse.Hosts[1] != "ch-2:9000" {
		t.Errorf("unexpected clickhouse hosts: %v", cfg.Storage.ClickHouse.Hosts)
	}
	if len(cfg.Kafka.Client.Brokers) != 1 || cfg.Kafka.Client.Brokers[0] != "broker-1:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Client.Brokers)
	}
	if cfg.Cache.Addr != "redis-0:6379" {
		t.Errorf("unexpected redis addr: %s", cfg.Cache.Addr)
	}
	if cfg.RateLimit.Enabled {
		t.Error("expected rate limiting disabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }, true},
		{"bad api port", func(c *Config) { c.Server.APIPort = 70000 }, true},
		{"zero queue", func(c *Config) { c.Queue.Size = 0 }, true},
		{"zero batch", func(c *Config) { c.Ingest.MaxBatchSize = 0 }, true},
		{"zero correlation window", func(c *Config) { c.Correlation.Window = 0 }, true},
		{"storage without hosts", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.ClickHouse.Hosts = nil
		}, true},
		{"kafka without brokers", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Client.Brokers = nil
		}, true},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.S3.Bucket = ""
		}, true},
		{"slack without webhook", func(c *Config) { c.Alerting.Slack.Enabled = true }, true},
		{"pagerduty without key", func(c *Config) { c.Alerting.PagerDuty.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlertingChannels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alerting.Webhooks = []WebhookConfig{{Name: "soc", URL: "https://soc.example.com/hook"}}
	cfg.Alerting.Slack = SlackConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/x", Channel: "#sec"}
	cfg.Alerting.PagerDuty = PagerDutyConfig{Enabled: true, RoutingKey: "rk"}

	channels := cfg.Alerting.Channels(t.Logf)
	// log channel plus webhook, slack, pagerduty
	if len(channels) != 4 {
		t.Fatalf("expected 4 channels, got %d", len(channels))
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a, b ,, c ", ",")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("splitAndTrim() = %v", got)
	}
}
