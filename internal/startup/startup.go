// Package startup provides verbose startup diagnostics and initialization
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"time"

	"riskforge/internal/config"
)

// DiagnosticResult represents the result of a diagnostic check
type DiagnosticResult struct {
	Name    string
	Status  Status
	Message string
	Details map[string]string
}

// Status represents the status of a diagnostic check
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusError:
		return "ERROR"
	case StatusSkipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// Diagnostics runs all startup diagnostics
type Diagnostics struct {
	cfg     *config.Config
	results []DiagnosticResult
	logger  *slog.Logger
}

// NewDiagnostics creates a new diagnostics runner
func NewDiagnostics(cfg *config.Config, logger *slog.Logger) *Diagnostics {
	return &Diagnostics{
		cfg:    cfg,
		logger: logger,
	}
}

// RunAll runs all diagnostic checks
func (d *Diagnostics) RunAll(ctx context.Context) []DiagnosticResult {
	d.logger.Info("running startup diagnostics")

	// System checks
	d.checkSystem()
	d.checkConfiguration()

	// Network checks
	d.checkPorts()

	// Security checks
	d.checkSecurityConfiguration()

	// Module checks
	d.checkModules()

	// Backend checks
	d.checkBackends(ctx)

	// Summary
	d.printSummary()

	return d.results
}

func (d *Diagnostics) addResult(result DiagnosticResult) {
	d.results = append(d.results, result)

	// Log the result
	attrs := []any{
		"check", result.Name,
		"status", result.Status.String(),
	}
	if result.Message != "" {
		attrs = append(attrs, "message", result.Message)
	}
	for k, v := range result.Details {
		attrs = append(attrs, k, v)
	}

	switch result.Status {
	case StatusOK:
		d.logger.Info("diagnostic check passed", attrs...)
	case StatusWarning:
		d.logger.Warn("diagnostic check warning", attrs...)
	case StatusError:
		d.logger.Error("diagnostic check failed", attrs...)
	case StatusSkipped:
		d.logger.Debug("diagnostic check skipped", attrs...)
	}
}

func (d *Diagnostics) checkSystem() {
	d.logger.Info("checking system requirements")

	d.addResult(DiagnosticResult{
		Name:    "runtime",
		Status:  StatusOK,
		Message: "Go runtime detected",
		Details: map[string]string{
			"go_version": runtime.Version(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"cpus":       fmt.Sprintf("%d", runtime.NumCPU()),
		},
	})

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	d.addResult(DiagnosticResult{
		Name:    "memory",
		Status:  StatusOK,
		Message: "Memory statistics",
		Details: map[string]string{
			"alloc_mb":       fmt.Sprintf("%.2f", float64(m.Alloc)/1024/1024),
			"sys_mb":         fmt.Sprintf("%.2f", float64(m.Sys)/1024/1024),
			"num_goroutines": fmt.Sprintf("%d", runtime.NumGoroutine()),
		},
	})
}

func (d *Diagnostics) checkConfiguration() {
	d.logger.Info("validating configuration")

	configPath := os.Getenv("RISKFORGE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		d.addResult(DiagnosticResult{
			Name:    "config_file",
			Status:  StatusWarning,
			Message: "Config file not found, using defaults",
			Details: map[string]string{"path": configPath},
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "config_file",
			Status:  StatusOK,
			Message: "Config file found",
			Details: map[string]string{"path": configPath},
		})
	}

	if err := d.cfg.Validate(); err != nil {
		d.addResult(DiagnosticResult{
			Name:    "config_validation",
			Status:  StatusError,
			Message: fmt.Sprintf("Configuration validation failed: %s", err),
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "config_validation",
			Status:  StatusOK,
			Message: "Configuration is valid",
		})
	}
}

func (d *Diagnostics) checkPorts() {
	d.logger.Info("checking network ports")

	ports := []struct {
		name string
		port int
	}{
		{"ingest", d.cfg.Server.HTTPPort},
		{"api", d.cfg.Server.APIPort},
	}

	for _, p := range ports {
		// Try to bind to the port briefly
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", p.port))
		if err != nil {
			d.addResult(DiagnosticResult{
				Name:    fmt.Sprintf("port_%s", p.name),
				Status:  StatusError,
				Message: fmt.Sprintf("Port %d is not available: %s", p.port, err),
				Details: map[string]string{"port": fmt.Sprintf("%d", p.port)},
			})
		} else {
			listener.Close()
			d.addResult(DiagnosticResult{
				Name:    fmt.Sprintf("port_%s", p.name),
				Status:  StatusOK,
				Message: fmt.Sprintf("Port %d is available", p.port),
				Details: map[string]string{"port": fmt.Sprintf("%d", p.port)},
			})
		}
	}
}

func (d *Diagnostics) checkSecurityConfiguration() {
	d.logger.Info("checking security configuration")

	if !d.cfg.Auth.Enabled {
		d.addResult(DiagnosticResult{
			Name:    "auth",
			Status:  StatusWarning,
			Message: "Authentication is DISABLED - enable for production",
			Details: map[string]string{"recommendation": "Set auth.enabled=true"},
		})
	} else if len(d.cfg.Auth.APIKeys) == 0 {
		d.addResult(DiagnosticResult{
			Name:    "auth",
			Status:  StatusError,
			Message: "Authentication enabled but no API keys configured",
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "auth",
			Status:  StatusOK,
			Message: "Authentication is enabled",
			Details: map[string]string{"keys": fmt.Sprintf("%d", len(d.cfg.Auth.APIKeys))},
		})
	}

	if !d.cfg.RateLimit.Enabled {
		d.addResult(DiagnosticResult{
			Name:    "rate_limiting",
			Status:  StatusWarning,
			Message: "Rate limiting is DISABLED",
			Details: map[string]string{"recommendation": "Enable rate limiting for production"},
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "rate_limiting",
			Status:  StatusOK,
			Message: "Rate limiting is enabled",
			Details: map[string]string{
				"requests_per_ip": fmt.Sprintf("%d", d.cfg.RateLimit.RequestsPerIP),
				"window":          d.cfg.RateLimit.WindowSize.String(),
			},
		})
	}

	if d.cfg.Autonomous.AutoRemediate {
		d.addResult(DiagnosticResult{
			Name:    "auto_remediate",
			Status:  StatusWarning,
			Message: "Autonomous remediation is ENABLED - actions dispatch without approval",
			Details: map[string]string{"recommendation": "Confirm this is intended for this environment"},
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "auto_remediate",
			Status:  StatusOK,
			Message: "Responses require manual approval",
		})
	}
}

func (d *Diagnostics) checkModules() {
	d.logger.Info("checking enabled modules")

	modules := []struct {
		name    string
		enabled bool
	}{
		{"HTTP Ingest", true},
		{"Analyst API", true},
		{"ClickHouse Storage", d.cfg.Storage.Enabled},
		{"Kafka Publishing", d.cfg.Kafka.Enabled},
		{"Score Cache", d.cfg.Cache.Enabled},
		{"S3 Archive", d.cfg.Archive.Enabled},
		{"Alerting", d.cfg.Alerting.Enabled},
		{"Authentication", d.cfg.Auth.Enabled},
		{"Rate Limiting", d.cfg.RateLimit.Enabled},
		{"CORS", d.cfg.CORS.Enabled},
	}

	enabledCount := 0
	for _, m := range modules {
		status := StatusSkipped
		message := "Disabled"
		if m.enabled {
			status = StatusOK
			message = "Enabled"
			enabledCount++
		}
		d.addResult(DiagnosticResult{
			Name:    fmt.Sprintf("module_%s", m.name),
			Status:  status,
			Message: message,
		})
	}

	d.logger.Info("modules summary", "enabled", enabledCount, "total", len(modules))
}

// checkBackends probes external backends with a short TCP dial.
// Failures are errors for storage and warnings for the rest, since the
// pipeline can run degraded without Kafka or Redis.
func (d *Diagnostics) checkBackends(ctx context.Context) {
	d.logger.Info("checking backend connectivity")

	if !d.cfg.Storage.Enabled {
		d.addResult(DiagnosticResult{
			Name:    "storage",
			Status:  StatusWarning,
			Message: "Storage is DISABLED - events will not be persisted",
			Details: map[string]string{"recommendation": "Enable storage for production use"},
		})
	} else {
		host := "localhost:9000"
		if len(d.cfg.Storage.ClickHouse.Hosts) > 0 {
			host = d.cfg.Storage.ClickHouse.Hosts[0]
		}
		d.probe("clickhouse_connectivity", host, StatusError)
	}

	if d.cfg.Kafka.Enabled {
		broker := "localhost:9092"
		if len(d.cfg.Kafka.Client.Brokers) > 0 {
			broker = d.cfg.Kafka.Client.Brokers[0]
		}
		d.probe("kafka_connectivity", broker, StatusWarning)
	}

	if d.cfg.Cache.Enabled {
		addr := d.cfg.Cache.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		d.probe("redis_connectivity", addr, StatusWarning)
	}

	_ = ctx
}

func (d *Diagnostics) probe(name, addr string, failStatus Status) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		d.addResult(DiagnosticResult{
			Name:    name,
			Status:  failStatus,
			Message: fmt.Sprintf("Cannot connect to %s: %s", addr, err),
			Details: map[string]string{"addr": addr},
		})
		return
	}
	conn.Close()
	d.addResult(DiagnosticResult{
		Name:    name,
		Status:  StatusOK,
		Message: "Backend is reachable",
		Details: map[string]string{"addr": addr},
	})
}

func (d *Diagnostics) printSummary() {
	var ok, warnings, errors, skipped int
	for _, r := range d.results {
		switch r.Status {
		case StatusOK:
			ok++
		case StatusWarning:
			warnings++
		case StatusError:
			errors++
		case StatusSkipped:
			skipped++
		}
	}

	d.logger.Info("=== Diagnostics Summary ===",
		"passed", ok,
		"warnings", warnings,
		"errors", errors,
		"skipped", skipped,
	)

	if errors > 0 {
		d.logger.Error("startup diagnostics found critical errors - service may not function correctly")
	} else if warnings > 0 {
		d.logger.Warn("startup diagnostics found warnings - review for production readiness")
	} else {
		d.logger.Info("all startup diagnostics passed")
	}
}

// HasErrors returns true if any diagnostic check failed
func (d *Diagnostics) HasErrors() bool {
	for _, r := range d.results {
		if r.Status == StatusError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if any diagnostic check has warnings
func (d *Diagnostics) HasWarnings() bool {
	for _, r := range d.results {
		if r.Status == StatusWarning {
			return true
		}
	}
	return false
}
