// Package scheduler admits crawl tasks under per-domain politeness rules.
//
// Each domain owns a FIFO queue of pending tasks plus a cooldown timestamp.
// At most one task per domain is ever in flight, and a domain is only served
// again once its cooldown has elapsed — regardless of whether the previous
// request succeeded, since the cost to the remote host was incurred either
// way. Distinct domains are independent, so N domains can each have one
// request in flight at once.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rendercrawl/rendercrawl/internal/crawler"
)

type queuedTask struct {
	task crawler.Task
	seq  int64
}

type domainState struct {
	domain         string
	pending        []queuedTask
	nextEligibleAt time.Time
	inFlight       bool
	heapIndex      int // -1 when not queued in the eligibility heap
}

func (st *domainState) headSeq() int64 {
	if len(st.pending) == 0 {
		return 0
	}
	return st.pending[0].seq
}

// Scheduler tracks per-domain queues and yields the next admissible task.
// All mutation happens through the supervisor's control loop; the internal
// mutex exists so status readers (ops endpoint) can snapshot safely.
type Scheduler struct {
	delay time.Duration
	clock crawler.Clock

	mu       sync.Mutex
	domains  map[string]*domainState
	eligible eligibleHeap
	inFlight int
	pending  int
	arrivals int64
}

// New builds a Scheduler with the given domain cooldown.
func New(delay time.Duration, clock crawler.Clock) *Scheduler {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	return &Scheduler{
		delay:   delay,
		clock:   clock,
		domains: make(map[string]*domainState),
	}
}

// Submit enqueues a task on its domain's queue in arrival order, creating
// the domain state on first sight.
func (s *Scheduler) Submit(task crawler.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.domains[task.Domain]
	if !ok {
		st = &domainState{domain: task.Domain, heapIndex: -1}
		s.domains[task.Domain] = st
	}
	s.arrivals++
	st.pending = append(st.pending, queuedTask{task: task, seq: s.arrivals})
	s.pending++
	if !st.inFlight && st.heapIndex < 0 {
		heap.Push(&s.eligible, st)
	}
}

// NextReady returns the head task of the eligible domain that has been
// waiting longest (earliest nextEligibleAt, ties broken by task arrival) and
// marks that domain in flight. It returns false when no domain is currently
// admissible; the caller should wait for NextWake or an in-flight completion.
func (s *Scheduler) NextReady() (crawler.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if len(s.eligible) == 0 {
		return crawler.Task{}, false
	}
	st := s.eligible[0]
	if st.nextEligibleAt.After(now) {
		return crawler.Task{}, false
	}

	heap.Pop(&s.eligible)
	task := st.pending[0].task
	st.pending = st.pending[1:]
	st.inFlight = true
	s.pending--
	s.inFlight++
	task.Attempts++
	return task, true
}

// Complete clears the domain's in-flight mark and starts its cooldown. The
// cooldown applies on every outcome, success or not.
func (s *Scheduler) Complete(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.domains[domain]
	if !ok || !st.inFlight {
		return
	}
	st.inFlight = false
	st.nextEligibleAt = s.clock.Now().Add(s.delay)
	s.inFlight--
	if len(st.pending) > 0 && st.heapIndex < 0 {
		heap.Push(&s.eligible, st)
	}
}

// HasPending reports whether any domain still holds unserved tasks or has a
// task in flight.
func (s *Scheduler) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0 || s.inFlight > 0
}

// InFlight returns the number of domains currently being served.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Pending returns the number of unserved tasks across all domains.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// NextWake returns how long until the earliest queued domain becomes
// eligible, and false when nothing is queued (the caller must then wait on
// an in-flight completion instead).
func (s *Scheduler) NextWake() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.eligible) == 0 {
		return 0, false
	}
	wait := s.eligible[0].nextEligibleAt.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// eligibleHeap orders domains that hold pending tasks and are not in flight
// by nextEligibleAt, then by head-task arrival.
type eligibleHeap []*domainState

func (h eligibleHeap) Len() int { return len(h) }

func (h eligibleHeap) Less(i, j int) bool {
	if h[i].nextEligibleAt.Equal(h[j].nextEligibleAt) {
		return h[i].headSeq() < h[j].headSeq()
	}
	return h[i].nextEligibleAt.Before(h[j].nextEligibleAt)
}

func (h eligibleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *eligibleHeap) Push(x any) {
	st := x.(*domainState)
	st.heapIndex = len(*h)
	*h = append(*h, st)
}

func (h *eligibleHeap) Pop() any {
	old := *h
	n := len(old)
	st := old[n-1]
	old[n-1] = nil
	st.heapIndex = -1
	*h = old[:n-1]
	return st
}
