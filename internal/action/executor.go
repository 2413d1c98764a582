package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/incident"
)

// Request is one attempt handed to an Actuator.
type Request struct {
	IncidentID string
	HomeID     string
	Zone       string
	Kind       Kind
	Reason     string
	AttemptMS  int64
}

// Actuator performs the real side effect: push gateway, SMS provider,
// siren controller. Implementations must be safe to retry.
type Actuator interface {
	Execute(ctx context.Context, req Request) error
}

// ActuatorFunc adapts a function to the Actuator interface.
type ActuatorFunc func(ctx context.Context, req Request) error

func (f ActuatorFunc) Execute(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// SuppressReason explains why an action did not fire.
type SuppressReason string

const (
	SuppressNotPermitted SuppressReason = "not_permitted"
	SuppressCooldown     SuppressReason = "cooldown"
	SuppressTier         SuppressReason = "tier_suppressed"
	SuppressReplay       SuppressReason = "replay"
)

// Outcome reports what one Dispatch call did.
type Outcome struct {
	Kind       Kind // the kind that actually fired, after fallback
	Attempts   int
	FellBack   bool
	Suppressed SuppressReason // empty when the action fired
}

// Config is the executor policy.
type Config struct {
	CooldownMS     int64         // per (incident, kind) refire floor
	AttemptTimeout time.Duration // wall-clock bound per actuator attempt
	MaxAttempts    int           // bounded retries per kind

	// Fallbacks maps a kind to the kind tried when all attempts fail,
	// e.g. push -> sms. Fallbacks never chain.
	Fallbacks map[Kind]Kind
}

// DefaultConfig returns the stock executor policy.
func DefaultConfig() Config {
	return Config{
		CooldownMS:     60_000,
		AttemptTimeout: 5 * time.Second,
		MaxAttempts:    3,
		Fallbacks: map[Kind]Kind{
			KindNotifyPush: KindNotifySMS,
		},
	}
}

type cooldownKey struct {
	incidentID string
	kind       Kind
}

// Executor gates, rate-limits and runs actions. Not safe for concurrent
// use; the engine's single writer drives it.
type Executor struct {
	cfg      Config
	actuator Actuator
	logger   *slog.Logger

	cooldowns map[cooldownKey]int64

	// minNotifyRank suppresses user-facing notifications for incidents
	// below this tier. Raised by the noise controller under load, never
	// applied to deterrents or dispatch.
	minNotifyRank int

	// dry suppresses all side effects; set during replay.
	dry bool

	firedTotal      int64
	suppressedTotal int64
	fallbackTotal   int64
}

// NewExecutor wires the executor to its actuator.
func NewExecutor(cfg Config, actuator Actuator, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:       cfg,
		actuator:  actuator,
		logger:    logger,
		cooldowns: make(map[cooldownKey]int64),
	}
}

// SetDryRun disables all side effects. Replay runs dry.
func (e *Executor) SetDryRun(dry bool) {
	e.dry = dry
}

// SetMinNotifyRank raises or lowers the notification suppression floor.
func (e *Executor) SetMinNotifyRank(rank int) {
	e.minNotifyRank = rank
}

// Dispatch runs one action for an incident at logical time nowMS. The
// gate and policy checks are deterministic; only the actuator call
// touches wall-clock time.
func (e *Executor) Dispatch(ctx context.Context, inc *incident.Incident, kind Kind, reason string, nowMS int64) (Outcome, error) {
	if e.dry {
		return Outcome{Kind: kind, Suppressed: SuppressReplay}, nil
	}
	if !Allowed(kind, inc.Threat, inc.SubPhase) {
		e.suppressedTotal++
		return Outcome{Kind: kind, Suppressed: SuppressNotPermitted}, nil
	}
	if e.tierSuppressed(inc, kind) {
		e.suppressedTotal++
		e.logger.Debug("action tier-suppressed",
			"incident", inc.ID, "kind", kind, "threat", inc.Threat)
		return Outcome{Kind: kind, Suppressed: SuppressTier}, nil
	}
	if last, ok := e.cooldowns[cooldownKey{inc.ID, kind}]; ok && nowMS-last < e.cfg.CooldownMS {
		e.suppressedTotal++
		return Outcome{Kind: kind, Suppressed: SuppressCooldown}, nil
	}

	attempts, err := e.try(ctx, inc, kind, reason, nowMS)
	if err == nil {
		e.cooldowns[cooldownKey{inc.ID, kind}] = nowMS
		e.firedTotal++
		return Outcome{Kind: kind, Attempts: attempts}, nil
	}

	fb, ok := e.cfg.Fallbacks[kind]
	if !ok || !Allowed(fb, inc.Threat, inc.SubPhase) {
		return Outcome{Kind: kind, Attempts: attempts}, fmt.Errorf("action %s for incident %s: %w", kind, inc.ID, err)
	}
	e.logger.Warn("action falling back",
		"incident", inc.ID, "kind", kind, "fallback", fb, "error", err)
	fbAttempts, fbErr := e.try(ctx, inc, fb, reason, nowMS)
	if fbErr != nil {
		return Outcome{Kind: fb, Attempts: attempts + fbAttempts, FellBack: true},
			fmt.Errorf("action %s and fallback %s failed for incident %s: %w", kind, fb, inc.ID, fbErr)
	}
	e.cooldowns[cooldownKey{inc.ID, fb}] = nowMS
	e.firedTotal++
	e.fallbackTotal++
	return Outcome{Kind: fb, Attempts: attempts + fbAttempts, FellBack: true}, nil
}

// StopDeterrents issues the siren-stop action, bypassing cooldown. The
// stop obligation is absolute once the machine leaves alarm_active.
func (e *Executor) StopDeterrents(ctx context.Context, inc *incident.Incident, nowMS int64) error {
	if e.dry {
		return nil
	}
	_, err := e.try(ctx, inc, KindSirenStop, "deterrent_stop", nowMS)
	if err != nil {
		return fmt.Errorf("deterrent stop for incident %s: %w", inc.ID, err)
	}
	e.firedTotal++
	return nil
}

func (e *Executor) try(ctx context.Context, inc *incident.Incident, kind Kind, reason string, nowMS int64) (int, error) {
	req := Request{
		IncidentID: inc.ID,
		HomeID:     inc.HomeID,
		Zone:       inc.Zone,
		Kind:       kind,
		Reason:     reason,
		AttemptMS:  nowMS,
	}
	var lastErr error
	limit := e.cfg.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	for attempt := 1; attempt <= limit; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if e.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		}
		lastErr = e.actuator.Execute(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
	}
	return limit, lastErr
}

func (e *Executor) tierSuppressed(inc *incident.Incident, kind Kind) bool {
	if kind != KindNotifyPush && kind != KindNotifySMS {
		return false
	}
	return inc.Threat.Rank() < e.minNotifyRank
}

// Stats reports counters for the metrics layer.
func (e *Executor) Stats() (fired, suppressed, fellBack int64) {
	return e.firedTotal, e.suppressedTotal, e.fallbackTotal
}
