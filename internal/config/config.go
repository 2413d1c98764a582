// Package config loads engine settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/correlate"
	"github.com/wardenhq/warden/internal/evidence"
	"github.com/wardenhq/warden/internal/incident"
	"github.com/wardenhq/warden/internal/noise"
)

// Config is the full environment-derived configuration. Flags on the
// CLI override individual fields after Load.
type Config struct {
	DBPath    string `env:"WARDEN_DB_PATH" envDefault:"warden.db"`
	RulesPath string `env:"WARDEN_RULES_PATH"` // CUE rule file; empty uses the embedded base set

	LogLevel  string `env:"WARDEN_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"WARDEN_LOG_FORMAT" envDefault:"text"` // text or json

	QueueCapacity int `env:"WARDEN_QUEUE_CAPACITY" envDefault:"65536"`

	EntryDelayMS    int64 `env:"WARDEN_ENTRY_DELAY_MS" envDefault:"30000"`
	GraceWindowMS   int64 `env:"WARDEN_GRACE_WINDOW_MS" envDefault:"3000"`
	VerifyTimeoutMS int64 `env:"WARDEN_VERIFY_TIMEOUT_MS" envDefault:"60000"`
	SirenAutoStopMS int64 `env:"WARDEN_SIREN_AUTOSTOP_MS" envDefault:"240000"`

	CorrelationWindowMS int64 `env:"WARDEN_CORRELATION_WINDOW_MS" envDefault:"300000"`
	BoundarySilenceMS   int64 `env:"WARDEN_BOUNDARY_SILENCE_MS" envDefault:"60000"`
	SubjectDecayMS      int64 `env:"WARDEN_SUBJECT_DECAY_MS" envDefault:"120000"`

	EvidenceHoldTTLMS   int64 `env:"WARDEN_EVIDENCE_HOLD_TTL_MS" envDefault:"86400000"`
	EvidenceExtendTTLMS int64 `env:"WARDEN_EVIDENCE_EXTEND_TTL_MS" envDefault:"259200000"`

	ActionCooldownMS   int64 `env:"WARDEN_ACTION_COOLDOWN_MS" envDefault:"60000"`
	ActionMaxAttempts  int   `env:"WARDEN_ACTION_MAX_ATTEMPTS" envDefault:"3"`
	HeartbeatTimeoutMS int64 `env:"WARDEN_HEARTBEAT_TIMEOUT_MS" envDefault:"240000"`

	NoiseSamplingWatermark  int `env:"WARDEN_NOISE_SAMPLING_WATERMARK" envDefault:"1000"`
	NoiseSheddingWatermark  int `env:"WARDEN_NOISE_SHEDDING_WATERMARK" envDefault:"5000"`
	NoiseDowngradeWatermark int `env:"WARDEN_NOISE_DOWNGRADE_WATERMARK" envDefault:"20000"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c Config) Logger() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", c.LogFormat)
}

// Machine maps the timing fields onto the state machine policy.
func (c Config) Machine() incident.Config {
	mc := incident.DefaultConfig()
	mc.EntryDelayMS = c.EntryDelayMS
	mc.GraceWindowMS = c.GraceWindowMS
	mc.VerifyTimeoutMS = c.VerifyTimeoutMS
	mc.SirenAutoStopMS = c.SirenAutoStopMS
	return mc
}

// Correlation maps the lease windows.
func (c Config) Correlation() correlate.Config {
	cc := correlate.DefaultConfig()
	cc.ActiveWindowMS = c.CorrelationWindowMS
	cc.BoundarySilenceMS = c.BoundarySilenceMS
	cc.SubjectDecayMS = c.SubjectDecayMS
	return cc
}

// Evidence maps the retention windows.
func (c Config) Evidence() evidence.Config {
	return evidence.Config{
		HoldTTLMS:   c.EvidenceHoldTTLMS,
		ExtendTTLMS: c.EvidenceExtendTTLMS,
	}
}

// Actions maps the executor policy.
func (c Config) Actions() action.Config {
	ac := action.DefaultConfig()
	ac.CooldownMS = c.ActionCooldownMS
	ac.MaxAttempts = c.ActionMaxAttempts
	return ac
}

// Noise maps the degradation watermarks.
func (c Config) Noise() noise.Config {
	nc := noise.DefaultConfig()
	nc.SamplingWatermark = c.NoiseSamplingWatermark
	nc.SheddingWatermark = c.NoiseSheddingWatermark
	nc.DowngradeWatermark = c.NoiseDowngradeWatermark
	return nc
}
