package face

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelay(t *testing.T) {
	base := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 750*time.Millisecond, NextDelay(base.Add(250*time.Millisecond), time.Second))
	assert.Equal(t, time.Second, NextDelay(base, time.Second))
	assert.Equal(t, time.Millisecond, NextDelay(base.Add(999*time.Millisecond), time.Second))
}

func TestTickScheduler_AlignsToSeconds(t *testing.T) {
	clock := newFakeClock(testNow) // 12:00:00.250
	redraws := 0
	tick := NewTickScheduler(clock, inlineExec{}, time.Second, func() bool { return true }, func() { redraws++ })

	tick.Start()
	assert.Equal(t, 1, redraws)
	deadline, ok := clock.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, testNow.Add(750*time.Millisecond), deadline)

	clock.Advance(750 * time.Millisecond)
	assert.Equal(t, 2, redraws)
	deadline, _ = clock.NextDeadline()
	assert.Zero(t, deadline.Nanosecond(), "ticks land on whole seconds")

	clock.Advance(3 * time.Second)
	assert.Equal(t, 5, redraws)
	assert.Equal(t, 1, clock.Pending())
}

func TestTickScheduler_StartIsIdempotent(t *testing.T) {
	clock := newFakeClock(testNow)
	redraws := 0
	tick := NewTickScheduler(clock, inlineExec{}, time.Second, func() bool { return true }, func() { redraws++ })

	tick.Start()
	tick.Start()
	assert.Equal(t, 1, redraws)
	assert.Equal(t, 1, clock.Pending())
}

func TestTickScheduler_StopSilences(t *testing.T) {
	clock := newFakeClock(testNow)
	redraws := 0
	tick := NewTickScheduler(clock, inlineExec{}, time.Second, func() bool { return true }, func() { redraws++ })

	tick.Start()
	tick.Stop()
	tick.Stop()
	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, redraws)
	assert.False(t, tick.Running())

	tick.Start()
	assert.Equal(t, 2, redraws)
}

func TestTickScheduler_StaleFireIgnored(t *testing.T) {
	clock := newFakeClock(testNow)
	redraws := 0
	var held func()
	// Capture the posted closure instead of running it, as if the loop were busy.
	exec := execFunc(func(f func()) bool { held = f; return true })
	tick := NewTickScheduler(clock, exec, time.Second, func() bool { return true }, func() { redraws++ })

	tick.Start()
	clock.Advance(time.Second)
	require.NotNil(t, held)
	tick.Stop()
	held()
	assert.Equal(t, 1, redraws)
}

func TestTickScheduler_StopsWhenConditionLapses(t *testing.T) {
	clock := newFakeClock(testNow)
	run := true
	redraws := 0
	tick := NewTickScheduler(clock, inlineExec{}, time.Second, func() bool { return run }, func() { redraws++ })

	tick.Start()
	run = false
	clock.Advance(time.Second)
	assert.Equal(t, 2, redraws)
	assert.False(t, tick.Running())
	assert.Zero(t, clock.Pending())
}

func TestFetchScheduler_StartTwiceKeepsOneTask(t *testing.T) {
	clock := newFakeClock(testNow)
	l := &recordingLauncher{}
	s := NewFetchScheduler(clock, inlineExec{}, 5*time.Minute, l.launch)

	s.Start()
	s.Start()
	assert.Len(t, l.handles, 1)
	assert.Equal(t, 1, l.live())
	assert.Equal(t, 1, clock.Pending())
}

func TestFetchScheduler_CadenceCancelsPrevious(t *testing.T) {
	clock := newFakeClock(testNow)
	l := &recordingLauncher{}
	s := NewFetchScheduler(clock, inlineExec{}, 5*time.Minute, l.launch)

	s.Start()
	clock.Advance(5 * time.Minute)
	require.Len(t, l.handles, 2)
	assert.True(t, l.handles[0].Cancelled())
	assert.Equal(t, 1, l.live())
	assert.Same(t, l.handles[1], s.Outstanding())

	clock.Advance(15 * time.Minute)
	assert.Len(t, l.handles, 5)
	assert.Equal(t, 1, l.live())
	assert.Equal(t, 1, clock.Pending())
}

func TestFetchScheduler_TriggerNowDoesNotDuplicateTimer(t *testing.T) {
	clock := newFakeClock(testNow)
	l := &recordingLauncher{}
	s := NewFetchScheduler(clock, inlineExec{}, 5*time.Minute, l.launch)

	s.Start()
	clock.Advance(2 * time.Minute)
	s.TriggerNow()
	s.TriggerNow()

	assert.Len(t, l.handles, 3)
	assert.Equal(t, 1, l.live())
	assert.Equal(t, 1, clock.Pending())

	// The cadence is re-anchored on the last trigger.
	deadline, _ := clock.NextDeadline()
	assert.Equal(t, testNow.Add(7*time.Minute), deadline)

	clock.Advance(5 * time.Minute)
	assert.Len(t, l.handles, 4)
}

func TestFetchScheduler_Stop(t *testing.T) {
	clock := newFakeClock(testNow)
	l := &recordingLauncher{}
	s := NewFetchScheduler(clock, inlineExec{}, 5*time.Minute, l.launch)

	s.Start()
	s.Stop()
	assert.Zero(t, l.live())
	assert.Nil(t, s.Outstanding())
	assert.Zero(t, clock.Pending())

	s.TriggerNow()
	clock.Advance(time.Hour)
	assert.Len(t, l.handles, 1)
}

func TestFetchScheduler_FinishedTaskIsNotOutstanding(t *testing.T) {
	clock := newFakeClock(testNow)
	l := &recordingLauncher{}
	s := NewFetchScheduler(clock, inlineExec{}, 5*time.Minute, l.launch)

	s.Start()
	close(l.handles[0].done)
	assert.Nil(t, s.Outstanding())
}

type execFunc func(f func()) bool

func (e execFunc) Post(f func()) bool { return e(f) }
