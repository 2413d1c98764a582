package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/incident"
	"github.com/wardenhq/warden/internal/metrics"
	"github.com/wardenhq/warden/internal/noise"
	"github.com/wardenhq/warden/internal/rules"
)

// Engine is the single-writer correlation and alarm loop.
//
// All mutation happens in the Run goroutine: signal evaluation, timer
// delivery, command application, rule swaps and noise-level changes.
// External callers only Enqueue. That single-writer discipline is what
// makes the transition log a deterministic function of the event log.
type Engine struct {
	core     *Core
	registry *rules.Registry
	queue    *eventQueue
	noise    *noise.Controller
	noiseCfg noise.Config
	met      *metrics.Metrics
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches an instrument set to the run loop.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.met = m
	}
}

// WithNoiseConfig overrides the stock watermark ladder.
func WithNoiseConfig(cfg noise.Config) Option {
	return func(e *Engine) {
		e.noiseCfg = cfg
	}
}

// New wires a live engine around a core and its rule registry.
func New(core *Core, registry *rules.Registry, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		core:     core,
		registry: registry,
		queue:    newEventQueue(),
		logger:   logger,
		noiseCfg: noise.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.noise = noise.NewController(e.noiseCfg, noise.Hooks{
		ShedEvidence:  e.onShedEvidence,
		DowngradeSoft: core.machine.SetSoftDowngrade,
	}, logger)
	return e
}

// Enqueue submits an event to the run loop. Safe from any goroutine.
// Returns false once the engine has stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// NewCommandID mints a transport-level command id for idempotent
// redelivery. Safe from any goroutine.
func (e *Engine) NewCommandID() string {
	return uuid.NewString()
}

// Run starts the single-writer loop and blocks until the context is
// cancelled or Stop drains the queue.
//
// On a processing failure the error is logged with the event context
// and the loop continues. Retrying would make replay diverge from the
// live run, so failures are surfaced to operators instead.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			e.observePressure(ctx)
			if err := e.process(ctx, ev); err != nil {
				e.logEventError(ev, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "cause", "context cancelled")
			e.queue.Close()
			return ctx.Err()
		case <-e.queue.Wait():
			if e.queue.Len() == 0 {
				e.logger.Info("engine stopping", "cause", "queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once the backlog drains.
func (e *Engine) Stop() {
	e.queue.Close()
}

// QueueLen reports the pending event count.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Core exposes the pipeline for commands issued by the CLI and tests
// running the loop synchronously.
func (e *Engine) Core() *Core {
	return e.core
}

// NoiseLevel reports the controller's current degradation level.
func (e *Engine) NoiseLevel() noise.Level {
	return e.noise.Level()
}

// process routes one event. Run-goroutine only.
func (e *Engine) process(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTypeSignal:
		if ev.Signal == nil {
			return fmt.Errorf("signal event missing payload")
		}
		// Load shedding happens before persistence, so the stored log
		// only contains signals the pipeline actually evaluated.
		if !e.noise.Admit(ev.Signal) {
			if e.met != nil {
				e.met.SignalsSampled.Add(ctx, 1)
			}
			return nil
		}
		return e.core.HandleSignal(ctx, ev.Signal)

	case EventTypeCommand:
		if ev.Command == nil {
			return fmt.Errorf("command event missing payload")
		}
		return e.core.HandleCommand(ctx, ev.Command)

	case EventTypeRulePush:
		return e.applyRulePush(ev.Push)

	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
}

// applyRulePush compiles a pushed rule source and swaps the registry.
// A push that fails to compile is rejected whole; the running snapshot
// stays in place.
func (e *Engine) applyRulePush(source []byte) error {
	active, canary, canaryPct, err := rules.CompileRules(source)
	if err != nil {
		return fmt.Errorf("rule push rejected: %w", err)
	}
	e.registry.Swap(active)
	if canary != nil {
		if err := e.registry.SetCanary(canary, canaryPct); err != nil {
			return fmt.Errorf("rule push canary: %w", err)
		}
	} else {
		if err := e.registry.SetCanary(nil, 0); err != nil {
			return fmt.Errorf("rule push canary clear: %w", err)
		}
	}
	e.logger.Info("rule snapshot swapped",
		"version", active.Version, "rules", active.Len(),
		"canary", canary != nil, "canary_pct", canaryPct)
	return nil
}

// observePressure feeds the noise controller and gauges each cycle.
func (e *Engine) observePressure(ctx context.Context) {
	depth := e.queue.Len()
	level := e.noise.Observe(depth)
	if e.met != nil {
		e.met.QueueDepth.Record(ctx, int64(depth))
		e.met.NoiseLevel.Record(ctx, int64(level))
	}
}

// onShedEvidence releases held evidence below the pending tier while
// the shed level is engaged. Holds already escalated stay.
func (e *Engine) onShedEvidence(engaged bool) {
	if !engaged {
		return
	}
	nowMS := e.core.clock.NowMS()
	dropped := e.core.evid.DropBelow(incident.ThreatPending.Rank(), nowMS)
	for _, h := range dropped {
		if err := e.core.sink.DeleteHold(context.Background(), h.IncidentID); err != nil {
			e.logger.Error("evidence shed failed", "incident", h.IncidentID, "error", err)
		}
	}
	if len(dropped) > 0 {
		e.logger.Warn("evidence shed under load", "dropped", len(dropped))
	}
}

func (e *Engine) logEventError(ev Event, err error) {
	switch ev.Type {
	case EventTypeSignal:
		if ev.Signal != nil {
			e.logger.Error("signal processing failed",
				"error", err, "signal", ev.Signal.ID,
				"kind", ev.Signal.Kind, "home", ev.Signal.HomeID)
			return
		}
	case EventTypeCommand:
		if ev.Command != nil {
			e.logger.Error("command processing failed",
				"error", err, "command", ev.Command.ID, "type", ev.Command.Type)
			return
		}
	case EventTypeRulePush:
		e.logger.Error("rule push failed", "error", err)
		return
	}
	e.logger.Error("event processing failed", "error", err, "event_type", ev.Type)
}
