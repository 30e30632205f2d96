package face

import "time"

// TickScheduler requests a redraw once per interval, aligned to wall-clock
// interval boundaries, for as long as shouldRun holds. All methods must be
// called on the executor.
type TickScheduler struct {
	clock     Clock
	exec      Executor
	interval  time.Duration
	shouldRun func() bool
	redraw    func()

	running bool
	timer   Timer
	gen     uint64
}

func NewTickScheduler(clock Clock, exec Executor, interval time.Duration, shouldRun func() bool, redraw func()) *TickScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &TickScheduler{
		clock:     clock,
		exec:      exec,
		interval:  interval,
		shouldRun: shouldRun,
		redraw:    redraw,
	}
}

// Start requests a redraw now and keeps ticking. It is a no-op while running.
func (t *TickScheduler) Start() {
	if t.running {
		return
	}
	t.running = true
	t.tick()
}

// Stop cancels the pending tick. No redraw is requested after Stop returns
// until the next Start.
func (t *TickScheduler) Stop() {
	if !t.running {
		return
	}
	t.running = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *TickScheduler) Running() bool { return t.running }

// NextDelay is the time from now until the next interval boundary.
func NextDelay(now time.Time, interval time.Duration) time.Duration {
	ms := interval.Milliseconds()
	if ms <= 0 {
		return interval
	}
	return time.Duration(ms-now.UnixMilli()%ms) * time.Millisecond
}

func (t *TickScheduler) tick() {
	t.timer = nil
	t.redraw()
	if !t.shouldRun() {
		t.running = false
		return
	}

	gen := t.gen
	delay := NextDelay(t.clock.Now(), t.interval)
	t.timer = t.clock.AfterFunc(delay, func() {
		t.exec.Post(func() {
			if gen != t.gen || !t.running {
				return
			}
			t.tick()
		})
	})
}
