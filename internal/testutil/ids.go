package testutil

import (
	"fmt"
	"sync"
)

// SeqIDs hands out sequential command ids ("cmd-000001", ...) in place
// of the engine's random UUIDs, so recorded event logs stay stable
// across test runs.
type SeqIDs struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSeqIDs creates a generator with the given prefix; empty means
// "cmd".
func NewSeqIDs(prefix string) *SeqIDs {
	if prefix == "" {
		prefix = "cmd"
	}
	return &SeqIDs{prefix: prefix}
}

// Next returns the next id in sequence.
func (g *SeqIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
