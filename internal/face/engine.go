// Package face is the display engine: it decides when to redraw, when to
// re-fetch the day's events, and what a frame looks like.
//
// A single Loop goroutine owns the schedule state, the tick and fetch
// schedulers and the renderer. Fetch tasks run on worker goroutines and only
// touch the EventStore and the loop queue.
package face

import (
	"context"
	"time"

	appLog "calface/internal/log"
	"calface/internal/power"
)

// Host is the painting surface. Draw is called on the loop with a complete
// frame and must not block for long.
type Host interface {
	Draw(cmds []DrawCommand)
}

// Options configures an Engine. Zero durations take the defaults.
type Options struct {
	Clock    Clock
	Source   EventSource
	Notifier Notifier
	Lock     power.Lock
	Host     Host
	Style    Style

	Width  float64
	Height float64

	Timezone string
	// ZoneName is consulted whenever the display becomes visible.
	ZoneName func() string

	TickInterval  time.Duration
	FetchInterval time.Duration
	FetchWindow   time.Duration
}

const (
	DefaultTickInterval  = time.Second
	DefaultFetchInterval = 5 * time.Minute
	DefaultFetchWindow   = 24 * time.Hour
)

// Status is a point-in-time view of the engine for adapters.
type Status struct {
	State          State
	Schedule       ScheduleState
	Ticking        bool
	Registered     bool
	FetchRunning   bool
	OutstandingID  string
	Timezone       string
	SnapshotAt     time.Time
	SnapshotEvents int
	Redraws        uint64
	LastRedrawAt   time.Time
	FrameCommands  int
}

// Engine wires the loop, schedulers, controller, event store and renderer.
type Engine struct {
	opts  Options
	loop  *Loop
	store *EventStore
	zone  *Zone

	fetch *FetchScheduler
	ctrl  *Controller

	cancelWorkers context.CancelFunc

	// loop-owned
	redraws      uint64
	lastRedrawAt time.Time
	lastCmdCount int
}

func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Lock == nil {
		opts.Lock = power.NewLock("", "")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.FetchInterval <= 0 {
		opts.FetchInterval = DefaultFetchInterval
	}
	if opts.FetchWindow <= 0 {
		opts.FetchWindow = DefaultFetchWindow
	}

	e := &Engine{
		opts:  opts,
		store: &EventStore{},
		zone:  NewZone(opts.Timezone),
	}
	e.loop = NewLoop(0, e.draw)

	// Fetch tasks outlive a single loop turn; cancel them with the engine.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	e.cancelWorkers = cancelWorkers

	task := &FetchTask{
		Source:    e.opts.Source,
		Lock:      e.opts.Lock,
		Store:     e.store,
		Clock:     e.opts.Clock,
		Zone:      e.zone,
		Window:    e.opts.FetchWindow,
		Published: e.loop.RequestRedraw,
	}
	e.fetch = NewFetchScheduler(e.opts.Clock, e.loop, e.opts.FetchInterval, TaskLauncher(workerCtx, task))
	e.ctrl = NewController(ControllerConfig{
		Clock:        e.opts.Clock,
		Exec:         e.loop,
		TickInterval: e.opts.TickInterval,
		Fetch:        e.fetch,
		Notifier:     e.opts.Notifier,
		Zone:         e.zone,
		ZoneName:     e.opts.ZoneName,
		Invalidate:   e.loop.RequestRedraw,
	})
	return e
}

// Run drives the engine until ctx is cancelled, then stops both schedulers
// and unregisters notifications. It returns once shutdown is complete.
func (e *Engine) Run(ctx context.Context) error {
	defer e.cancelWorkers()

	e.loop.Post(func() {
		appLog.Info("face engine started",
			"tick_interval", e.opts.TickInterval,
			"fetch_interval", e.opts.FetchInterval,
			"timezone", e.zone.Location().String(),
		)
		e.fetch.Start()
		e.loop.RequestRedraw()
	})

	e.loop.Run(ctx)

	// The loop has exited; this goroutine is still its only owner.
	e.ctrl.Shutdown()
	appLog.Info("face engine stopped", "redraws", e.redraws)
	return nil
}

func (e *Engine) draw() {
	cmds := Render(e.frame())
	e.redraws++
	e.lastRedrawAt = e.opts.Clock.Now()
	e.lastCmdCount = len(cmds)
	if e.opts.Host != nil {
		e.opts.Host.Draw(cmds)
	}
}

func (e *Engine) frame() Frame {
	sched := e.ctrl.Schedule()
	return Frame{
		Now:       e.opts.Clock.Now().In(e.zone.Location()),
		Width:     e.opts.Width,
		Height:    e.opts.Height,
		Snapshot:  e.store.Load(),
		Ambient:   sched.Ambient,
		Round:     e.ctrl.Round(),
		AntiAlias: e.ctrl.AntiAlias(),
		Style:     e.opts.Style,
	}
}

// Lifecycle notifications. Each posts onto the loop and returns immediately.

func (e *Engine) OnVisible(visible bool) {
	e.loop.Post(func() { e.ctrl.OnVisible(visible) })
}

func (e *Engine) OnAmbientModeChanged(ambient bool) {
	e.loop.Post(func() { e.ctrl.OnAmbientModeChanged(ambient) })
}

func (e *Engine) OnLowBitAmbientCapability(lowBit bool) {
	e.loop.Post(func() { e.ctrl.OnLowBitAmbientCapability(lowBit) })
}

func (e *Engine) OnTimezoneChanged(name string) {
	e.loop.Post(func() { e.ctrl.OnTimezoneChanged(name) })
}

func (e *Engine) OnDataSourceChanged() {
	e.loop.Post(func() { e.ctrl.OnDataSourceChanged() })
}

func (e *Engine) OnShapeChanged(round bool) {
	e.loop.Post(func() { e.ctrl.OnShapeChanged(round) })
}

// Snapshot returns the active event snapshot; safe from any goroutine.
func (e *Engine) Snapshot() *Snapshot { return e.store.Load() }

// Location returns the active display timezone; safe from any goroutine.
func (e *Engine) Location() *time.Location { return e.zone.Location() }

// Status reads engine state on the loop. If ctx ends first, the queued read
// still runs later but its result is discarded.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	out := make(chan Status, 1)
	err := e.loop.Do(ctx, func() {
		st := Status{
			State:         e.ctrl.State(),
			Schedule:      e.ctrl.Schedule(),
			Ticking:       e.ctrl.Ticking(),
			Registered:    e.ctrl.Registered(),
			FetchRunning:  e.fetch.Running(),
			Timezone:      e.zone.Location().String(),
			Redraws:       e.redraws,
			LastRedrawAt:  e.lastRedrawAt,
			FrameCommands: e.lastCmdCount,
		}
		if h := e.fetch.Outstanding(); h != nil {
			st.OutstandingID = h.ID
		}
		if snap := e.store.Load(); snap != nil {
			st.SnapshotAt = snap.FetchedAt
			st.SnapshotEvents = len(snap.Events)
		}
		out <- st
	})
	if err != nil {
		return Status{}, err
	}
	return <-out, nil
}
