package face

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"calface/internal/model"
)

// fakeClock fires AfterFunc callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		due := make([]*fakeTimer, 0)
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(end) {
				due = append(due, t)
			}
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		if len(due) > 0 {
			next = due[0]
			next.fired = true
			c.now = next.at
		} else {
			c.now = end
		}
		c.mu.Unlock()

		if next == nil {
			return
		}
		next.f()
	}
}

// Pending counts armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// NextDeadline returns the earliest armed deadline.
func (c *fakeClock) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best time.Time
	found := false
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if !found || t.at.Before(best) {
			best = t.at
			found = true
		}
	}
	return best, found
}

// inlineExec runs posted closures immediately on the caller.
type inlineExec struct{}

func (inlineExec) Post(f func()) bool {
	f()
	return true
}

// recordingLauncher hands out handles without running anything.
type recordingLauncher struct {
	handles []*FetchHandle
}

func (l *recordingLauncher) launch() *FetchHandle {
	h := newFetchHandle(context.Background())
	l.handles = append(l.handles, h)
	return h
}

func (l *recordingLauncher) live() int {
	n := 0
	for _, h := range l.handles {
		if h.Live() {
			n++
		}
	}
	return n
}

// sliceRows is an in-memory cursor.
type sliceRows struct {
	rows    []rowResult
	i       int
	closed  bool
	err     error
	onClose func()
}

type rowResult struct {
	row model.RawRow
	err error
}

func (r *sliceRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *sliceRows) Row() (model.RawRow, error) {
	cur := r.rows[r.i-1]
	return cur.row, cur.err
}

func (r *sliceRows) Err() error { return r.err }

func (r *sliceRows) Close() error {
	r.closed = true
	if r.onClose != nil {
		r.onClose()
	}
	return nil
}

// fakeSource returns fixed rows or an error. If gate is set, Query blocks
// until gate is closed or ctx ends.
type fakeSource struct {
	mu      sync.Mutex
	rows    []rowResult
	err     error
	gate    chan struct{}
	started chan struct{}
	queries int
	last    *sliceRows
	from    int64
	to      int64
}

func (s *fakeSource) Query(ctx context.Context, from, to int64) (Rows, error) {
	s.mu.Lock()
	s.queries++
	s.from, s.to = from, to
	gate, started := s.gate, s.started
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	r := &sliceRows{rows: append([]rowResult(nil), s.rows...)}
	s.last = r
	return r, nil
}

type countingLock struct {
	mu                 sync.Mutex
	acquired, released int
	fail               bool
}

func (l *countingLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errors.New("wake lock denied")
	}
	l.acquired++
	return nil
}

func (l *countingLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

func (l *countingLock) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired, l.released
}

// fakeNotifier records subscriptions and lets tests fire them.
type fakeNotifier struct {
	mu   sync.Mutex
	subs map[int]func()
	next int
}

func (n *fakeNotifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func())
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *fakeNotifier) Fire() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (n *fakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// fakeFetch counts controller calls.
type fakeFetch struct {
	triggers int
	stops    int
}

func (f *fakeFetch) TriggerNow() { f.triggers++ }
func (f *fakeFetch) Stop() { f.stops++ }

// recordingHost stores frames drawn by an engine.
type recordingHost struct {
	mu     sync.Mutex
	frames [][]DrawCommand
}

func (h *recordingHost) Draw(cmds []DrawCommand) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, cmds)
}

func (h *recordingHost) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}
