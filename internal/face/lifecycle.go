package face

import (
	"fmt"
	"time"

	appLog "calface/internal/log"
)

// ScheduleState is the host-driven display state.
type ScheduleState struct {
	Visible       bool
	Ambient       bool
	LowBitAmbient bool
}

// TimerShouldRun reports whether the one-second tick is wanted.
func (s ScheduleState) TimerShouldRun() bool {
	return s.Visible && !s.Ambient
}

// State is the lifecycle state derived from ScheduleState.
type State int

const (
	StateHidden State = iota
	StateVisibleInteractive
	StateVisibleAmbient
)

func (s State) String() string {
	switch s {
	case StateHidden:
		return "hidden"
	case StateVisibleInteractive:
		return "visible-interactive"
	case StateVisibleAmbient:
		return "visible-ambient"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Notifier delivers "data source changed" callbacks, possibly from another
// goroutine.
type Notifier interface {
	Subscribe(fn func()) (unsubscribe func())
}

// FetchControl is the part of the fetch scheduler the controller drives.
type FetchControl interface {
	TriggerNow()
	Stop()
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Clock        Clock
	Exec         Executor
	TickInterval time.Duration
	Fetch        FetchControl
	Notifier     Notifier
	Zone         *Zone
	// ZoneName returns the system timezone to re-resolve on becoming visible.
	// Nil keeps the current zone.
	ZoneName func() string
	// Invalidate requests a (coalesced) redraw.
	Invalidate func()
}

// Controller reacts to visibility and ambient notifications and drives the
// tick and fetch schedulers. All methods must be called on the executor.
type Controller struct {
	cfg  ControllerConfig
	tick *TickScheduler

	sched     ScheduleState
	round     bool
	antiAlias bool

	unsubscribe func()
}

func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{cfg: cfg, antiAlias: true}
	shouldRun := func() bool { return c.sched.TimerShouldRun() }
	c.tick = NewTickScheduler(cfg.Clock, cfg.Exec, cfg.TickInterval, shouldRun, cfg.Invalidate)
	return c
}

func (c *Controller) State() State {
	switch {
	case !c.sched.Visible:
		return StateHidden
	case c.sched.Ambient:
		return StateVisibleAmbient
	default:
		return StateVisibleInteractive
	}
}

func (c *Controller) Schedule() ScheduleState { return c.sched }
func (c *Controller) Round() bool { return c.round }
func (c *Controller) AntiAlias() bool { return c.antiAlias }
func (c *Controller) Ticking() bool { return c.tick.Running() }
func (c *Controller) Registered() bool { return c.unsubscribe != nil }

func (c *Controller) OnVisible(visible bool) {
	was := c.sched.Visible
	c.sched.Visible = visible

	if visible {
		c.register()
		c.refreshZone()
		if !was {
			c.cfg.Fetch.TriggerNow()
		}
	} else {
		c.unregister()
	}

	appLog.Debug("visibility changed", "visible", visible, "state", c.State())
	c.updateTimer()
}

func (c *Controller) OnAmbientModeChanged(ambient bool) {
	if c.sched.Ambient != ambient {
		c.sched.Ambient = ambient
		if c.sched.LowBitAmbient {
			c.antiAlias = !ambient
		}
		appLog.Debug("ambient mode changed", "ambient", ambient, "state", c.State())
	}

	c.cfg.Invalidate()
	c.updateTimer()
}

func (c *Controller) OnLowBitAmbientCapability(lowBit bool) {
	c.sched.LowBitAmbient = lowBit
	c.antiAlias = !(lowBit && c.sched.Ambient)
}

func (c *Controller) OnTimezoneChanged(name string) {
	if err := c.cfg.Zone.Set(name); err != nil {
		appLog.Error("timezone change ignored", err, "name", name)
		return
	}
	c.cfg.Invalidate()
}

// OnShapeChanged records whether the display is round, which selects the
// horizontal text offset.
func (c *Controller) OnShapeChanged(round bool) {
	c.round = round
	c.cfg.Invalidate()
}

// OnDataSourceChanged replaces the outstanding fetch, but only while
// registered; late notifications after unregistering are dropped.
func (c *Controller) OnDataSourceChanged() {
	if c.unsubscribe == nil {
		return
	}
	c.cfg.Fetch.TriggerNow()
}

// Shutdown stops both schedulers and drops the notification registration.
func (c *Controller) Shutdown() {
	c.tick.Stop()
	c.cfg.Fetch.Stop()
	c.unregister()
}

func (c *Controller) updateTimer() {
	if c.sched.TimerShouldRun() {
		c.tick.Start()
	} else {
		c.tick.Stop()
	}
}

func (c *Controller) register() {
	if c.unsubscribe != nil || c.cfg.Notifier == nil {
		return
	}
	c.unsubscribe = c.cfg.Notifier.Subscribe(func() {
		c.cfg.Exec.Post(c.OnDataSourceChanged)
	})
}

func (c *Controller) unregister() {
	if c.unsubscribe == nil {
		return
	}
	c.unsubscribe()
	c.unsubscribe = nil
}

func (c *Controller) refreshZone() {
	if c.cfg.ZoneName == nil {
		return
	}
	name := c.cfg.ZoneName()
	if name == "" {
		return
	}
	if err := c.cfg.Zone.Set(name); err != nil {
		appLog.Error("failed to refresh timezone", err, "name", name)
	}
}
