package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Arbiter governance core.
type Config struct {
	Port        int
	Version     string
	Registry    RegistryConfig
	Arbitration ArbitrationConfig
	Debate      DebateConfig
	Waiver      WaiverConfig
	Archive     ArchiveConfig
	Telemetry   TelemetryConfig
}

type RegistryConfig struct {
	// MaxAgents caps registrations; exceeding it fails with CapacityExceeded.
	MaxAgents int
	// AgentTTL is how long an agent may stay idle before the janitor
	// archives it. Archived agents are retained, never deleted.
	AgentTTL time.Duration
}

type ArbitrationConfig struct {
	// AutoResolveSeverity is the highest severity that may skip debate when
	// all findings are determinate.
	AutoResolveSeverity string
	// MaxAppealLevel bounds escalation; beyond it the last verdict stands.
	MaxAppealLevel int
	// EngineRetries bounds rule/reasoning engine retry attempts before the
	// session degrades to a lowest-confidence verdict.
	EngineRetries int
	// RetentionWindow is how long closed sessions stay in the hot store
	// before the janitor moves them to the archive.
	RetentionWindow time.Duration
}

type DebateConfig struct {
	MinParticipants int
	MaxDuration     time.Duration
}

type WaiverConfig struct {
	// MaxPendingPerRequester rate-limits concurrent pending requests.
	MaxPendingPerRequester int
}

type ArchiveConfig struct {
	// Path is the sqlite file holding published immutable documents.
	// Empty disables the durable archive.
	Path string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("ARBITER_PORT", 8080),
		Version: envStr("ARBITER_VERSION", "0.2.0"),
		Registry: RegistryConfig{
			MaxAgents: envInt("ARBITER_REGISTRY_MAX_AGENTS", 500),
			AgentTTL:  envDur("ARBITER_REGISTRY_AGENT_TTL", 30*24*time.Hour),
		},
		Arbitration: ArbitrationConfig{
			AutoResolveSeverity: envStr("ARBITER_AUTO_RESOLVE_SEVERITY", "major"),
			MaxAppealLevel:      envInt("ARBITER_MAX_APPEAL_LEVEL", 3),
			EngineRetries:       envInt("ARBITER_ENGINE_RETRIES", 2),
			RetentionWindow:     envDur("ARBITER_SESSION_RETENTION", 30*24*time.Hour),
		},
		Debate: DebateConfig{
			MinParticipants: envInt("ARBITER_DEBATE_MIN_PARTICIPANTS", 3),
			MaxDuration:     envDur("ARBITER_DEBATE_MAX_DURATION", 10*time.Minute),
		},
		Waiver: WaiverConfig{
			MaxPendingPerRequester: envInt("ARBITER_WAIVER_MAX_PENDING", 5),
		},
		Archive: ArchiveConfig{
			Path: envStr("ARBITER_ARCHIVE_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "arbiter-governance-core"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
