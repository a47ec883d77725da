package libim

import (
	"sort"
	"sync"
	"time"
)

// manualClock is a scheduler driven by Advance. Callbacks run on the goroutine calling Advance, with no
// clock lock held.
type manualClock struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	clock   *manualClock
	seq     int
	at      time.Duration
	period  time.Duration
	fn      func()
	stopped bool
}

func newManualClock() *manualClock {
	return &manualClock{}
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) taskHandle {
	return c.add(d, 0, fn)
}

func (c *manualClock) Every(d time.Duration, fn func()) taskHandle {
	return c.add(d, d, fn)
}

func (c *manualClock) add(d, period time.Duration, fn func()) *manualTask {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &manualTask{clock: c, seq: c.seq, at: c.now + d, period: period, fn: fn}
	c.tasks = append(c.tasks, t)
	return t
}

func (t *manualTask) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}

// Advance moves time forward by d, firing due tasks in order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		c.prune()
		sort.SliceStable(c.tasks, func(i, j int) bool {
			if c.tasks[i].at == c.tasks[j].at {
				return c.tasks[i].seq < c.tasks[j].seq
			}
			return c.tasks[i].at < c.tasks[j].at
		})

		if len(c.tasks) == 0 || c.tasks[0].at > target {
			c.now = target
			c.mu.Unlock()
			return
		}

		t := c.tasks[0]
		c.now = t.at
		if t.period > 0 {
			t.at += t.period
		} else {
			t.stopped = true
		}
		c.mu.Unlock()

		t.fn()
	}
}

func (c *manualClock) prune() {
	live := c.tasks[:0]
	for _, t := range c.tasks {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.tasks = live
}

// Pending counts live one-shot timers.
func (c *manualClock) Pending() int {
	return c.count(func(t *manualTask) bool { return t.period == 0 })
}

// Periodic counts live interval timers.
func (c *manualClock) Periodic() int {
	return c.count(func(t *manualTask) bool { return t.period > 0 })
}

func (c *manualClock) count(match func(*manualTask) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.tasks {
		if !t.stopped && match(t) {
			n++
		}
	}
	return n
}
