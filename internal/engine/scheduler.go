package engine

import (
	"container/heap"

	"github.com/wardenhq/warden/internal/incident"
)

// Scheduler orders timer requests by logical due time. Timers fire only
// when logical time reaches them, which makes live and replay execution
// identical: both advance time from the signal stream.
//
// Stale timers are not cancelled here; the machine validates liveness
// against the incident's stored due on delivery. Not safe for
// concurrent use; only the run loop touches it.
type Scheduler struct {
	h     timerHeap
	order int64
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule queues one timer request.
func (s *Scheduler) Schedule(req incident.TimerRequest) {
	s.order++
	heap.Push(&s.h, &timerEntry{req: req, order: s.order})
}

// Due pops every timer due at or before nowMS, in (due, insertion)
// order.
func (s *Scheduler) Due(nowMS int64) []incident.TimerRequest {
	var due []incident.TimerRequest
	for s.h.Len() > 0 && s.h[0].req.DueMS <= nowMS {
		e := heap.Pop(&s.h).(*timerEntry)
		due = append(due, e.req)
	}
	return due
}

// Len reports pending timers.
func (s *Scheduler) Len() int {
	return s.h.Len()
}

// NextDue returns the earliest pending due time, or false when empty.
func (s *Scheduler) NextDue() (int64, bool) {
	if s.h.Len() == 0 {
		return 0, false
	}
	return s.h[0].req.DueMS, true
}

type timerEntry struct {
	req   incident.TimerRequest
	order int64
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].req.DueMS != h[j].req.DueMS {
		return h[i].req.DueMS < h[j].req.DueMS
	}
	return h[i].order < h[j].order
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*timerEntry)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
