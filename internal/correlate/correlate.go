// Package correlate groups normalized signals into incident candidates.
//
// A candidate is a provisional, pre-authoritative aggregation keyed by
// its lease (home, zone, entry point). The layer may compute
// non-binding scoring hints but never mutates incident state, never
// emits actions, and performs no I/O; those effects belong to the state
// machine and action layers.
package correlate

import (
	"fmt"
	"log/slog"

	"github.com/wardenhq/warden/internal/envelope"
)

// LeaseKey is the (home, zone, entry point) tuple that serializes and
// scopes candidate aggregation.
type LeaseKey struct {
	HomeID     string
	Zone       string
	EntryPoint string
}

func (k LeaseKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.HomeID, k.Zone, k.EntryPoint)
}

// Config holds the correlation windows, in logical milliseconds.
type Config struct {
	// ActiveWindowMS is the maximum silence gap inside one candidate.
	// Signals beyond the gap open a fresh candidate; merging across a
	// larger gap is forbidden.
	ActiveWindowMS int64
	// BoundarySilenceMS is the quiet period after a boundary close that
	// splits the candidate.
	BoundarySilenceMS int64
	// SubjectDecayMS is the quiet period after a tracked subject exits
	// that splits the candidate.
	SubjectDecayMS int64
	// Adjacency lists, per zone, the zones a tracked subject can
	// plausibly move to without leaving the property.
	Adjacency map[string][]string
}

// DefaultConfig mirrors typical residential dwell characteristics.
func DefaultConfig() Config {
	return Config{
		ActiveWindowMS:    300_000,
		BoundarySilenceMS: 60_000,
		SubjectDecayMS:    120_000,
	}
}

// Candidate accumulates signals for one lease window.
type Candidate struct {
	Lease      LeaseKey
	IncidentID string // assigned by the engine when the machine adopts it

	OpenedMS     int64
	LastSignalMS int64
	SoftCount    int64
	HardCount    int64
	SignalIDs    []string

	// Subjects tracks which tracked subjects contributed, for
	// continuity merges across adjacent zones.
	Subjects map[string]bool

	// Split bookkeeping.
	BoundaryClosedMS int64 // last close not followed by a reopen; 0 = open or never
	SubjectExitMS    int64 // last subject exit; 0 = none

	Closed      bool
	CloseReason string
}

// ScoreHint is a non-binding aggregate used only as an input hint for
// downstream evaluation. It never gates a transition.
func (c *Candidate) ScoreHint() int64 {
	return c.SoftCount + 10*c.HardCount
}

// maxSignalIDs bounds the per-candidate id list; counts stay exact.
const maxSignalIDs = 64

// Layer maintains the live candidates. Not safe for concurrent use;
// the engine serializes all calls per its single-writer loop, which
// also serializes all mutations per lease.
type Layer struct {
	cfg        Config
	candidates map[LeaseKey]*Candidate
	logger     *slog.Logger
}

// NewLayer creates an empty correlation layer.
func NewLayer(cfg Config, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ActiveWindowMS == 0 {
		cfg = DefaultConfig()
	}
	return &Layer{
		cfg:        cfg,
		candidates: make(map[LeaseKey]*Candidate),
		logger:     logger,
	}
}

// LeaseFor derives the lease key for a signal.
func LeaseFor(s *envelope.Signal) LeaseKey {
	return LeaseKey{HomeID: s.HomeID, Zone: s.Zone, EntryPoint: s.EntryPoint}
}

// Observe merges a signal into its candidate, creating one when the
// lease window is empty. Returns the candidate and whether it was
// created by this call.
//
// Merge rules, in order:
//  1. Same lease key, inside the active window.
//  2. Continuity: same tracked subject in an adjacent zone of the same
//     home, inside the active window. Entry points never merge without
//     this proven continuity.
//  3. Otherwise a fresh candidate. A candidate past the active window
//     is closed first (stale split).
func (l *Layer) Observe(s *envelope.Signal) (*Candidate, bool) {
	lease := LeaseFor(s)

	if c, ok := l.candidates[lease]; ok && !c.Closed {
		if s.IngestMS-c.LastSignalMS <= l.cfg.ActiveWindowMS {
			l.merge(c, s)
			return c, false
		}
		// Gap exceeds the active window: never merge, split instead.
		l.close(c, "window_elapsed")
	}

	if c := l.continuityMatch(s); c != nil {
		l.merge(c, s)
		return c, false
	}

	c := &Candidate{
		Lease:        lease,
		OpenedMS:     s.IngestMS,
		LastSignalMS: s.IngestMS,
		Subjects:     make(map[string]bool),
	}
	l.candidates[lease] = c
	l.merge(c, s)
	l.logger.Debug("candidate opened", "lease", lease.String(), "signal", s.ID)
	return c, true
}

// continuityMatch finds a live candidate in an adjacent zone of the
// same home that has seen the signal's tracked subject. Returns nil
// when the signal carries no subject or no candidate qualifies.
func (l *Layer) continuityMatch(s *envelope.Signal) *Candidate {
	if s.SubjectID == "" {
		return nil
	}
	for _, adj := range l.cfg.Adjacency[s.Zone] {
		for lease, c := range l.candidates {
			if c.Closed || lease.HomeID != s.HomeID || lease.Zone != adj {
				continue
			}
			if !c.Subjects[s.SubjectID] {
				continue
			}
			if s.IngestMS-c.LastSignalMS > l.cfg.ActiveWindowMS {
				continue
			}
			return c
		}
	}
	return nil
}

func (l *Layer) merge(c *Candidate, s *envelope.Signal) {
	if s.IngestMS > c.LastSignalMS {
		c.LastSignalMS = s.IngestMS
	}
	if s.IsHard() {
		c.HardCount++
	} else {
		c.SoftCount++
	}
	if len(c.SignalIDs) < maxSignalIDs {
		c.SignalIDs = append(c.SignalIDs, s.ID)
	}
	if s.SubjectID != "" {
		c.Subjects[s.SubjectID] = true
	}

	switch s.Kind {
	case envelope.KindBoundaryClose:
		c.BoundaryClosedMS = s.IngestMS
	case envelope.KindBoundaryOpen:
		c.BoundaryClosedMS = 0
	case envelope.KindSubjectExit:
		c.SubjectExitMS = s.IngestMS
		if s.SubjectID != "" {
			delete(c.Subjects, s.SubjectID)
		}
	}
}

// SplitDue closes the candidate for a lease when a split condition has
// matured at logical time nowMS:
//   - the boundary closed and the silence window elapsed, or
//   - a subject exited and the decay window elapsed with no signals.
//
// Returns the closed candidate, or nil when no split applies. Intended
// to be driven by scheduled timer events, not polling.
func (l *Layer) SplitDue(lease LeaseKey, nowMS int64) *Candidate {
	c, ok := l.candidates[lease]
	if !ok || c.Closed {
		return nil
	}

	if c.BoundaryClosedMS > 0 &&
		nowMS-c.BoundaryClosedMS >= l.cfg.BoundarySilenceMS &&
		c.LastSignalMS <= c.BoundaryClosedMS {
		l.close(c, "boundary_silence")
		return c
	}

	if c.SubjectExitMS > 0 && len(c.Subjects) == 0 &&
		nowMS-c.SubjectExitMS >= l.cfg.SubjectDecayMS &&
		c.LastSignalMS <= c.SubjectExitMS {
		l.close(c, "subject_decay")
		return c
	}

	return nil
}

// CloseExplicit closes the candidate for a lease on external request.
// Returns the closed candidate, or nil when none was live.
func (l *Layer) CloseExplicit(lease LeaseKey) *Candidate {
	c, ok := l.candidates[lease]
	if !ok || c.Closed {
		return nil
	}
	l.close(c, "explicit_close")
	return c
}

// Get returns the live candidate for a lease, if any.
func (l *Layer) Get(lease LeaseKey) (*Candidate, bool) {
	c, ok := l.candidates[lease]
	if !ok || c.Closed {
		return nil, false
	}
	return c, true
}

// LiveCount returns the number of open candidates.
func (l *Layer) LiveCount() int {
	n := 0
	for _, c := range l.candidates {
		if !c.Closed {
			n++
		}
	}
	return n
}

func (l *Layer) close(c *Candidate, reason string) {
	c.Closed = true
	c.CloseReason = reason
	delete(l.candidates, c.Lease)
	l.logger.Debug("candidate closed",
		"lease", c.Lease.String(),
		"reason", reason,
		"soft", c.SoftCount,
		"hard", c.HardCount,
	)
}
