package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Clock that only moves when Advance is called. Timers and
// tickers fire synchronously inside Advance, with the same drop-on-full
// channel semantics as the time package.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

// NewManual returns a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type waiter struct {
	clock    *Manual
	c        chan time.Time
	deadline time.Time
	period   time.Duration // zero for timers
	active   bool
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTimer arms a one-shot timer.
func (m *Manual) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &waiter{clock: m, c: make(chan time.Time, 1), deadline: m.now.Add(d), active: true}
	m.waiters = append(m.waiters, w)
	return w
}

// NewTicker arms a periodic ticker.
func (m *Manual) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &waiter{clock: m, c: make(chan time.Time, 1), deadline: m.now.Add(d), period: d, active: true}
	m.waiters = append(m.waiters, w)
	return tickerWaiter{w}
}

// Advance moves the clock forward by d and fires everything that became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)

	due := make([]*waiter, 0, len(m.waiters))
	for _, w := range m.waiters {
		if w.active && !w.deadline.After(m.now) {
			due = append(due, w)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })

	for _, w := range due {
		if w.period == 0 {
			w.active = false
			w.send(w.deadline)
			continue
		}
		for !w.deadline.After(m.now) {
			w.send(w.deadline)
			w.deadline = w.deadline.Add(w.period)
		}
	}
	m.compact()
}

// Active reports how many timers and tickers are currently armed. Tests use
// it to wait until a component has scheduled its next wake-up.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.waiters {
		if w.active {
			n++
		}
	}
	return n
}

func (m *Manual) compact() {
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.active {
			kept = append(kept, w)
		}
	}
	m.waiters = kept
}

func (w *waiter) send(t time.Time) {
	select {
	case w.c <- t:
	default:
	}
}

func (w *waiter) C() <-chan time.Time { return w.c }

func (w *waiter) Stop() bool {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	was := w.active
	w.active = false
	w.clock.compact()
	return was
}

func (w *waiter) Reset(d time.Duration) bool {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	was := w.active
	w.deadline = w.clock.now.Add(d)
	if !was {
		w.active = true
		w.clock.waiters = append(w.clock.waiters, w)
	}
	return was
}

type tickerWaiter struct {
	w *waiter
}

func (t tickerWaiter) C() <-chan time.Time { return t.w.c }
func (t tickerWaiter) Stop()               { t.w.Stop() }
