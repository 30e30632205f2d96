package face

import (
	"context"
	"errors"
	"time"

	appLog "calface/internal/log"
)

// Executor runs closures on the owning control flow. *Loop implements it.
type Executor interface {
	Post(f func()) bool
}

// LaunchFunc starts one fetch task on a worker and returns its handle.
type LaunchFunc func() *FetchHandle

// FetchScheduler keeps at most one fetch task outstanding and re-runs the
// fetch on a fixed cadence. All methods must be called on the executor.
type FetchScheduler struct {
	clock    Clock
	exec     Executor
	interval time.Duration
	launch   LaunchFunc

	running bool
	current *FetchHandle
	timer   Timer
	gen     uint64
}

func NewFetchScheduler(clock Clock, exec Executor, interval time.Duration, launch LaunchFunc) *FetchScheduler {
	return &FetchScheduler{
		clock:    clock,
		exec:     exec,
		interval: interval,
		launch:   launch,
	}
}

// Start runs a cycle immediately and arms the cadence. Starting a running
// scheduler does nothing.
func (s *FetchScheduler) Start() {
	if s.running {
		return
	}
	s.running = true
	s.cycle("start")
}

// TriggerNow runs an out-of-band cycle, replacing any outstanding task and
// re-anchoring the cadence.
func (s *FetchScheduler) TriggerNow() {
	if !s.running {
		return
	}
	s.cycle("trigger")
}

// Stop disarms the cadence and cancels the outstanding task.
func (s *FetchScheduler) Stop() {
	if !s.running {
		return
	}
	s.running = false
	s.disarm()
	if s.current != nil {
		s.current.Cancel()
		s.current = nil
	}
}

// Outstanding returns the live handle, or nil.
func (s *FetchScheduler) Outstanding() *FetchHandle {
	if s.current != nil && s.current.Live() {
		return s.current
	}
	return nil
}

func (s *FetchScheduler) Running() bool { return s.running }

func (s *FetchScheduler) cycle(reason string) {
	if s.current != nil {
		s.current.Cancel()
	}
	s.current = s.launch()
	appLog.Debug("fetch cycle", "reason", reason, "handle", s.current.ID)
	s.arm()
}

func (s *FetchScheduler) arm() {
	s.disarm()
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.interval, func() {
		s.exec.Post(func() {
			if gen != s.gen || !s.running {
				return
			}
			s.timer = nil
			s.cycle("cadence")
		})
	})
}

func (s *FetchScheduler) disarm() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// TaskLauncher returns a LaunchFunc that runs task on a new goroutine.
// Failures are diagnostics only; cancellation is silent.
func TaskLauncher(parent context.Context, task *FetchTask) LaunchFunc {
	return func() *FetchHandle {
		h := newFetchHandle(parent)
		go func() {
			defer close(h.done)
			defer h.token.cancel()

			err := task.Run(h.token, h.ID)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				appLog.Debug("fetch cancelled", "handle", h.ID)
			default:
				appLog.Error("fetch failed; keeping previous events", err, "handle", h.ID)
			}
		}()
		return h
	}
}
