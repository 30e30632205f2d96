package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calface/internal/battery"
	"calface/internal/calsync"
	"calface/internal/config"
	"calface/internal/face"
	"calface/internal/model"
)

type fakeEngine struct {
	mu      sync.Mutex
	visible []bool
	ambient []bool
	zones   []string
	snap    *face.Snapshot
	status  face.Status
	stopped bool
}

func (e *fakeEngine) OnVisible(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.visible = append(e.visible, v)
}

func (e *fakeEngine) OnAmbientModeChanged(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ambient = append(e.ambient, v)
}

func (e *fakeEngine) OnTimezoneChanged(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zones = append(e.zones, name)
}

func (e *fakeEngine) Status(context.Context) (face.Status, error) {
	if e.stopped {
		return face.Status{}, face.ErrLoopStopped
	}
	return e.status, nil
}

func (e *fakeEngine) Snapshot() *face.Snapshot { return e.snap }

func (e *fakeEngine) Location() *time.Location { return time.UTC }

type fakeSyncer struct {
	err error
}

func (s fakeSyncer) RunOnce(context.Context) (calsync.Result, error) {
	return calsync.Result{Sources: 2, Failed: 1, Occurrences: 5}, s.err
}

type fakePreview struct{}

func (fakePreview) PNG() ([]byte, error) { return []byte("\x89PNG"), nil }

type fakeBattery struct{}

func (fakeBattery) Last() (battery.Status, error) { return battery.Status{Percent: 42}, nil }

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestLifecycleEndpoints(t *testing.T) {
	eng := &fakeEngine{}
	h := NewServer(Deps{Engine: eng}).Handler()

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/visibility?visible=true").Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/ambient?ambient=1").Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/timezone?name=UTC").Code)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/visibility?visible=maybe").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/timezone?name=Not/AZone").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/visibility?visible=true").Code)

	assert.Equal(t, []bool{true}, eng.visible)
	assert.Equal(t, []bool{true}, eng.ambient)
	assert.Equal(t, []string{"UTC"}, eng.zones)
}

func TestState(t *testing.T) {
	eng := &fakeEngine{status: face.Status{
		State:    face.StateVisibleAmbient,
		Schedule: face.ScheduleState{Visible: true, Ambient: true},
		Timezone: "UTC",
	}}
	h := NewServer(Deps{Engine: eng}).Handler()

	rec := do(t, h, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	var got stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "visible-ambient", got.State)
	assert.True(t, got.Ambient)
	assert.False(t, got.Ticking)

	eng.stopped = true
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/state").Code)
}

func TestEvents(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	eng := &fakeEngine{snap: &face.Snapshot{
		HandleID: "h1",
		Events:   []model.TimelineEvent{{Start: start, End: start.Add(time.Hour), ColorTag: -65536}},
	}}
	h := NewServer(Deps{Engine: eng}).Handler()

	rec := do(t, h, http.MethodGet, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var got eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Events, 1)
	assert.Equal(t, "#ffff0000", got.Events[0].Color)
	assert.Equal(t, "h1", got.Handle)

	eng.snap = nil
	rec = do(t, h, http.MethodGet, "/api/events")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got.Events)
}

func TestRefresh(t *testing.T) {
	h := NewServer(Deps{Engine: &fakeEngine{}, Sync: fakeSyncer{}}).Handler()
	rec := do(t, h, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewServer(Deps{Engine: &fakeEngine{}, Sync: fakeSyncer{err: errors.New("work: 502")}}).Handler()
	rec = do(t, h, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "work: 502")

	h = NewServer(Deps{Engine: &fakeEngine{}}).Handler()
	assert.Equal(t, http.StatusNotImplemented, do(t, h, http.MethodPost, "/api/refresh").Code)
}

func TestPreviewAndBattery(t *testing.T) {
	h := NewServer(Deps{Engine: &fakeEngine{}, Preview: fakePreview{}, Battery: fakeBattery{}}).Handler()

	rec := do(t, h, http.MethodGet, "/preview.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/api/battery")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"percent":42,"voltage_mv":0}`, rec.Body.String())

	h = NewServer(Deps{Engine: &fakeEngine{}}).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/battery").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/preview.png").Code)
}

func TestBasicAuth(t *testing.T) {
	h := NewServer(Deps{
		Engine:    &fakeEngine{},
		BasicAuth: &config.BasicAuthConfig{Username: "admin", Password: "secret"},
	}).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/events").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServe_ShutsDownWithContext(t *testing.T) {
	s := NewServer(Deps{Engine: &fakeEngine{}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
