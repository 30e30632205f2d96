package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"calface/internal/battery"
	"calface/internal/calsync"
	"calface/internal/config"
	"calface/internal/face"
	appLog "calface/internal/log"
	"calface/internal/model"
)

// Engine is the display engine as seen by the HTTP adapter.
type Engine interface {
	OnVisible(visible bool)
	OnAmbientModeChanged(ambient bool)
	OnTimezoneChanged(name string)
	Status(ctx context.Context) (face.Status, error)
	Snapshot() *face.Snapshot
	Location() *time.Location
}

// Syncer runs an out-of-band ICS sync.
type Syncer interface {
	RunOnce(ctx context.Context) (calsync.Result, error)
}

// Preview returns the latest frame as PNG.
type Preview interface {
	PNG() ([]byte, error)
}

// BatteryStatus reports the last battery reading.
type BatteryStatus interface {
	Last() (battery.Status, error)
}

// Deps wires a Server. Sync, Preview and Battery may be nil.
type Deps struct {
	Engine    Engine
	Sync      Syncer
	Preview   Preview
	Battery   BatteryStatus
	BasicAuth *config.BasicAuthConfig
}

// Server exposes host lifecycle events and engine state over HTTP.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// Handler returns the routes, behind basic auth when it is configured.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(s.mux)
	}
	return s.mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	appLog.Info("starting HTTP server", "listen", "http://"+addr, "basic_auth", s.basicAuthEnabled())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	a := s.deps.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

// basicAuthMiddleware guards everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.deps.BasicAuth.Username
	password := s.deps.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calface", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/visibility", s.handleVisibility)
	s.mux.HandleFunc("POST /api/ambient", s.handleAmbient)
	s.mux.HandleFunc("POST /api/timezone", s.handleTimezone)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/battery", s.handleBattery)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type stateResponse struct {
	State          string    `json:"state"`
	Visible        bool      `json:"visible"`
	Ambient        bool      `json:"ambient"`
	LowBitAmbient  bool      `json:"low_bit_ambient"`
	Ticking        bool      `json:"ticking"`
	Registered     bool      `json:"registered"`
	FetchRunning   bool      `json:"fetch_running"`
	OutstandingID  string    `json:"outstanding_fetch,omitempty"`
	Timezone       string    `json:"timezone"`
	SnapshotAt     time.Time `json:"snapshot_at"`
	SnapshotEvents int       `json:"snapshot_events"`
	Redraws        uint64    `json:"redraws"`
	LastRedrawAt   time.Time `json:"last_redraw_at"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		State:          st.State.String(),
		Visible:        st.Schedule.Visible,
		Ambient:        st.Schedule.Ambient,
		LowBitAmbient:  st.Schedule.LowBitAmbient,
		Ticking:        st.Ticking,
		Registered:     st.Registered,
		FetchRunning:   st.FetchRunning,
		OutstandingID:  st.OutstandingID,
		Timezone:       st.Timezone,
		SnapshotAt:     st.SnapshotAt,
		SnapshotEvents: st.SnapshotEvents,
		Redraws:        st.Redraws,
		LastRedrawAt:   st.LastRedrawAt,
	})
}

type eventDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Color string    `json:"color"`
}

type eventsResponse struct {
	FetchedAt time.Time  `json:"fetched_at"`
	Handle    string     `json:"handle"`
	Timezone  string     `json:"timezone"`
	Events    []eventDTO `json:"events"`
}

// handleEvents returns the snapshot the display is currently drawing.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	loc := s.deps.Engine.Location()
	resp := eventsResponse{Timezone: loc.String(), Events: []eventDTO{}}
	if snap := s.deps.Engine.Snapshot(); snap != nil {
		resp.FetchedAt = snap.FetchedAt
		resp.Handle = snap.HandleID
		for _, ev := range snap.Events {
			resp.Events = append(resp.Events, eventDTO{
				Start: ev.Start.In(loc),
				End:   ev.End.In(loc),
				Color: model.FormatColorTag(ev.ColorTag),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.ParseBool(r.URL.Query().Get("visible"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "visible must be true or false")
		return
	}
	s.deps.Engine.OnVisible(v)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAmbient(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.ParseBool(r.URL.Query().Get("ambient"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ambient must be true or false")
		return
	}
	s.deps.Engine.OnAmbientModeChanged(v)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTimezone(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if _, err := time.LoadLocation(name); err != nil || name == "" {
		writeError(w, http.StatusBadRequest, "unknown timezone")
		return
	}
	s.deps.Engine.OnTimezoneChanged(name)
	w.WriteHeader(http.StatusAccepted)
}

type refreshResponse struct {
	calsync.Result
	Error string `json:"error,omitempty"`
}

// handleRefresh runs a sync now. The store notifies the engine, which
// replaces its outstanding fetch.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusNotImplemented, "sync not configured")
		return
	}
	res, err := s.deps.Sync.RunOnce(r.Context())
	if err != nil {
		appLog.Error("api refresh: sync had failures", err)
		writeJSON(w, http.StatusBadGateway, refreshResponse{Result: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Result: res})
}

func (s *Server) handleBattery(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Battery == nil {
		writeError(w, http.StatusNotFound, "battery monitor disabled")
		return
	}
	st, err := s.deps.Battery.Last()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to read battery")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preview == nil {
		http.NotFound(w, r)
		return
	}
	data, err := s.deps.Preview.PNG()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no frame yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
