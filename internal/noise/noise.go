// Package noise is the backpressure controller. Under queue pressure it
// degrades in a strict, ordered sequence: first soft-signal sampling
// tightens, then low-tier evidence retention is shed, and only last is
// the top soft-reachable tier downgraded. Hard signals are exempt from
// every step; they are never sampled, shed or downgraded.
package noise

import (
	"log/slog"

	"github.com/wardenhq/warden/internal/envelope"
)

// Level is the degradation stage. Levels only engage in order and
// disengage in reverse order.
type Level int

const (
	LevelNormal Level = iota
	LevelSampling
	LevelShedding
	LevelDowngraded
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelSampling:
		return "sampling"
	case LevelShedding:
		return "shedding"
	case LevelDowngraded:
		return "downgraded"
	}
	return "unknown"
}

// Config sets the queue-depth watermarks and sampling rates. Engage
// watermarks are checked low to high; Recover applies hysteresis so the
// controller does not flap around a boundary.
type Config struct {
	SamplingWatermark   int // depth that engages soft sampling
	SheddingWatermark   int // depth that also sheds low-tier evidence
	DowngradeWatermark  int // depth that also downgrades the top soft tier
	RecoverBelowPercent int // step down when depth falls under this % of the step's watermark

	// KeepEvery is the soft-sampling rate per level: at LevelSampling
	// every KeepEvery[1]-th soft signal is kept, and so on. Index 0 is
	// unused (normal keeps everything).
	KeepEvery [4]int
}

// DefaultConfig returns the stock watermark ladder.
func DefaultConfig() Config {
	return Config{
		SamplingWatermark:   1_000,
		SheddingWatermark:   5_000,
		DowngradeWatermark:  20_000,
		RecoverBelowPercent: 50,
		KeepEvery:           [4]int{1, 2, 4, 8},
	}
}

// Hooks are the controller's downstream levers, invoked on level
// changes. Nil hooks are skipped.
type Hooks struct {
	// ShedEvidence releases held evidence below minRank when engaged.
	ShedEvidence func(engaged bool)
	// DowngradeSoft caps soft-reachable advances one tier lower while
	// engaged.
	DowngradeSoft func(engaged bool)
}

// Controller tracks pressure and applies the ordered policy. Driven by
// the engine's single writer.
type Controller struct {
	cfg    Config
	hooks  Hooks
	logger *slog.Logger

	level    Level
	softSeen int64

	droppedSoft int64
}

func NewController(cfg Config, hooks Hooks, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, hooks: hooks, logger: logger}
}

// Level returns the current degradation stage.
func (c *Controller) Level() Level {
	return c.level
}

// Observe updates the degradation level from the current queue depth.
// Levels move one step at a time so the ordered engage/disengage
// sequence is visible in the transition log.
func (c *Controller) Observe(queueDepth int) Level {
	for c.stepUp(queueDepth) || c.stepDown(queueDepth) {
	}
	return c.level
}

func (c *Controller) stepUp(depth int) bool {
	next := c.level + 1
	if next > LevelDowngraded || depth < c.engageAt(next) {
		return false
	}
	c.setLevel(next, depth)
	return true
}

func (c *Controller) stepDown(depth int) bool {
	if c.level == LevelNormal {
		return false
	}
	threshold := c.engageAt(c.level) * c.cfg.RecoverBelowPercent / 100
	if depth >= threshold {
		return false
	}
	c.setLevel(c.level-1, depth)
	return true
}

func (c *Controller) engageAt(l Level) int {
	switch l {
	case LevelSampling:
		return c.cfg.SamplingWatermark
	case LevelShedding:
		return c.cfg.SheddingWatermark
	case LevelDowngraded:
		return c.cfg.DowngradeWatermark
	}
	return 0
}

func (c *Controller) setLevel(next Level, depth int) {
	prev := c.level
	c.level = next
	c.logger.Warn("degradation level changed",
		"from", prev.String(), "to", next.String(), "queue_depth", depth)

	if c.hooks.ShedEvidence != nil && crossed(prev, next, LevelShedding) {
		c.hooks.ShedEvidence(next >= LevelShedding)
	}
	if c.hooks.DowngradeSoft != nil && crossed(prev, next, LevelDowngraded) {
		c.hooks.DowngradeSoft(next >= LevelDowngraded)
	}
}

func crossed(prev, next, boundary Level) bool {
	return (prev < boundary) != (next < boundary)
}

// Admit decides whether a signal proceeds to evaluation. Hard and
// safety signals always pass, whatever the level. Soft signals are
// counter-sampled at the level's keep rate, which makes the decision a
// pure function of the admitted stream (replayable without a clock).
func (c *Controller) Admit(s *envelope.Signal) bool {
	if s.IsHard() || envelope.IsSafety(s.Kind) {
		return true
	}
	if c.level == LevelNormal {
		return true
	}
	keep := c.cfg.KeepEvery[c.level]
	if keep <= 1 {
		return true
	}
	c.softSeen++
	if c.softSeen%int64(keep) == 0 {
		return true
	}
	c.droppedSoft++
	return false
}

// DroppedSoft reports how many soft signals sampling has discarded.
func (c *Controller) DroppedSoft() int64 {
	return c.droppedSoft
}
