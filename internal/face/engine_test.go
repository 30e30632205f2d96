package face

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calface/internal/model"
)

func TestEngine_EndToEnd(t *testing.T) {
	nine := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{rows: []rowResult{
		{row: model.RawRow{BeginMillis: nine.UnixMilli(), EndMillis: nine.Add(time.Hour).UnixMilli(), DisplayColor: "#ff0000"}},
	}}
	host := &recordingHost{}
	notifier := &fakeNotifier{}
	lock := &countingLock{}
	clock := newFakeClock(testNow)

	e := NewEngine(Options{
		Clock:    clock,
		Source:   src,
		Notifier: notifier,
		Lock:     lock,
		Host:     host,
		Style:    testStyle,
		Width:    200,
		Height:   240,
		Timezone: "UTC",
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx) }()

	e.OnVisible(true)

	require.Eventually(t, func() bool {
		st, err := e.Status(ctx)
		return err == nil && st.SnapshotEvents == 1 && st.Registered && st.Ticking
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return host.Count() > 0 }, time.Second, 10*time.Millisecond)

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateVisibleInteractive, st.State)
	assert.True(t, st.FetchRunning)
	assert.Equal(t, "UTC", st.Timezone)

	first := e.Snapshot()
	require.NotNil(t, first)
	notifier.Fire()
	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return snap != nil && snap.HandleID != first.HandleID
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	assert.Zero(t, notifier.Count(), "shutdown unregisters")
	_, err = e.Status(context.Background())
	assert.ErrorIs(t, err, ErrLoopStopped)

	require.Eventually(t, func() bool {
		acquired, released := lock.counts()
		return acquired == released
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_NotificationsBeforeRunAreQueued(t *testing.T) {
	e := NewEngine(Options{
		Clock:    newFakeClock(testNow),
		Source:   &fakeSource{},
		Host:     &recordingHost{},
		Timezone: "UTC",
	})
	e.OnVisible(true)
	e.OnAmbientModeChanged(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	require.Eventually(t, func() bool {
		st, err := e.Status(ctx)
		return err == nil && st.State == StateVisibleAmbient && !st.Ticking
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_StatusAbandonedBeforeRun(t *testing.T) {
	e := NewEngine(Options{
		Clock:    newFakeClock(testNow),
		Source:   &fakeSource{},
		Host:     &recordingHost{},
		Timezone: "UTC",
	})

	gone, cancelGone := context.WithCancel(context.Background())
	cancelGone()
	_, err := e.Status(gone)
	require.ErrorIs(t, err, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	// The abandoned read runs first on the loop without blocking it.
	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateHidden, st.State)
	assert.Equal(t, "UTC", st.Timezone)
}
