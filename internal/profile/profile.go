// Package profile holds process-wide configuration for dialogmesh,
// populated from flags/env via viper in cmd/dialogmesh.
package profile

import (
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration needed to start the service.
type Profile struct {
	// Mode is "prod", "dev", or "demo".
	Mode string
	Addr string
	Port int

	// Driver selects exactly one storage backend: "sqlite", "postgres", or
	// "memory" (the in-process driver; besides being selectable directly, it
	// is used automatically when the configured driver fails to connect at
	// boot and Profile.AllowDegraded is set).
	Driver string
	DSN    string

	InstanceURL string
	Version     string

	// AllowDegraded permits falling back to the in-memory Driver when the
	// configured backend is unreachable at init time.
	AllowDegraded bool

	// LLM collaborator configuration (OpenAI-compatible protocol).
	LLMProvider    string
	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	LLMTimeoutSecs int

	// Cache Manager.
	CacheTTLSeconds int

	// WebSocket Optimizer.
	OptimizerBatchIntervalMs int
	OptimizerMaxBatchSize    int
	OptimizerTruncateChars   int

	// Presence Service.
	PresenceHeartbeatTimeoutSecs int
	PresenceMonitorIntervalSecs  int

	// Frequency-Aware Expression Pipeline.
	FrequencyExpressionThreshold    float64
	FrequencyCooldownSecs           int
	FrequencyMonitoringIntervalSecs int

	// Notification Service.
	OfflineMaxNotificationsPerUser int

	// DB Query Optimizer.
	BatchSize int
}

// FromEnv fills in defaults for any field left at its zero value. Called
// after viper binding.
func (p *Profile) FromEnv() {
	if p.Mode == "" {
		p.Mode = "dev"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Port == 0 {
		p.Port = 28090
	}
	if p.LLMTimeoutSecs == 0 {
		p.LLMTimeoutSecs = 120
	}
	if p.CacheTTLSeconds == 0 {
		p.CacheTTLSeconds = 300
	}
	if p.OptimizerBatchIntervalMs == 0 {
		p.OptimizerBatchIntervalMs = 100
	}
	if p.OptimizerMaxBatchSize == 0 {
		p.OptimizerMaxBatchSize = 20
	}
	if p.OptimizerTruncateChars == 0 {
		p.OptimizerTruncateChars = 1000
	}
	if p.PresenceHeartbeatTimeoutSecs == 0 {
		p.PresenceHeartbeatTimeoutSecs = 30
	}
	if p.PresenceMonitorIntervalSecs == 0 {
		p.PresenceMonitorIntervalSecs = 10
	}
	if p.FrequencyExpressionThreshold == 0 {
		p.FrequencyExpressionThreshold = 0.7
	}
	if p.FrequencyCooldownSecs == 0 {
		p.FrequencyCooldownSecs = 300
	}
	if p.FrequencyMonitoringIntervalSecs == 0 {
		p.FrequencyMonitoringIntervalSecs = 60
	}
	if p.OfflineMaxNotificationsPerUser == 0 {
		p.OfflineMaxNotificationsPerUser = 100
	}
	if p.BatchSize == 0 {
		p.BatchSize = 50
	}
}

// Validate checks that the profile is internally consistent before the
// server starts.
func (p *Profile) Validate() error {
	switch p.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return errors.Errorf("unsupported driver: %s", p.Driver)
	}
	if p.Driver != "memory" && p.DSN == "" {
		return errors.New("dsn required for sqlite/postgres driver")
	}
	switch p.Mode {
	case "dev", "demo", "prod":
	default:
		return errors.Errorf("unsupported mode: %s", p.Mode)
	}
	if p.FrequencyExpressionThreshold < 0 || p.FrequencyExpressionThreshold > 1 {
		return errors.New("frequency.expression_threshold must be in [0,1]")
	}
	return nil
}

// CacheTTL returns the configured cache TTL as a time.Duration.
func (p *Profile) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSeconds) * time.Second
}

// HeartbeatTimeout returns the presence heartbeat timeout as a time.Duration.
func (p *Profile) HeartbeatTimeout() time.Duration {
	return time.Duration(p.PresenceHeartbeatTimeoutSecs) * time.Second
}

// FrequencyCooldown returns the expression cooldown as a time.Duration.
func (p *Profile) FrequencyCooldown() time.Duration {
	return time.Duration(p.FrequencyCooldownSecs) * time.Second
}
