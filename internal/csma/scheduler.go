package csma

import (
	"container/heap"
	"time"
)

// scheduler is a single-threaded discrete event queue over simulated time.
// Events at the same instant run in scheduling order.
type scheduler struct {
	now  time.Duration
	seq  uint64
	pq   eventHeap
	done uint64
}

type event struct {
	at  time.Duration
	seq uint64
	fn  func()
}

func newScheduler() *scheduler {
	s := &scheduler{}
	heap.Init(&s.pq)
	return s
}

func (s *scheduler) Now() time.Duration { return s.now }

// At schedules fn at absolute time t; times in the past run now.
func (s *scheduler) At(t time.Duration, fn func()) {
	if t < s.now {
		t = s.now
	}
	s.seq++
	heap.Push(&s.pq, &event{at: t, seq: s.seq, fn: fn})
}

func (s *scheduler) After(d time.Duration, fn func()) { s.At(s.now+d, fn) }

// Run executes events up to and including stop, then parks the clock at stop.
func (s *scheduler) Run(stop time.Duration) {
	for s.pq.Len() > 0 {
		ev := s.pq[0]
		if ev.at > stop {
			break
		}
		heap.Pop(&s.pq)
		s.now = ev.at
		ev.fn()
		s.done++
	}
	s.now = stop
}

func (s *scheduler) Pending() int { return s.pq.Len() }

func (s *scheduler) reset() {
	s.pq = nil
	s.now = 0
}

// timer is a restartable one-shot; stale firings are ignored.
type timer struct {
	s     *scheduler
	gen   uint64
	armed bool
}

func (t *timer) Reset(d time.Duration, fn func()) {
	t.gen++
	gen := t.gen
	t.armed = true
	t.s.After(d, func() {
		if t.gen != gen {
			return
		}
		t.armed = false
		fn()
	})
}

func (t *timer) Stop() {
	t.gen++
	t.armed = false
}

func (t *timer) Armed() bool { return t.armed }

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
