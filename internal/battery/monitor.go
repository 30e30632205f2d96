package battery

import (
	"context"
	"sync"
	"time"

	appLog "calface/internal/log"
)

// hysteresis is how far above the threshold the level must climb before
// ambient mode is released.
const hysteresis = 5

// Monitor polls a Reader and asks for ambient mode while the battery is low.
type Monitor struct {
	reader    Reader
	threshold float64
	interval  time.Duration
	onAmbient func(bool)

	mu      sync.Mutex
	last    Status
	lastErr error
	ambient bool
}

// NewMonitor reports ambient=true through onAmbient once the level drops
// below thresholdPercent, and ambient=false once it rises 5 points above it.
func NewMonitor(r Reader, thresholdPercent float64, interval time.Duration, onAmbient func(bool)) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{reader: r, threshold: thresholdPercent, interval: interval, onAmbient: onAmbient}
}

// Check reads once and notifies on a transition.
func (m *Monitor) Check(ctx context.Context) {
	st, err := m.reader.Read(ctx)

	m.mu.Lock()
	m.lastErr = err
	if err != nil {
		m.mu.Unlock()
		appLog.Warn("battery read failed", "err", err)
		return
	}
	m.last = st

	level := float64(st.Percent)
	changed := false
	switch {
	case !m.ambient && level < m.threshold:
		m.ambient, changed = true, true
	case m.ambient && level >= m.threshold+hysteresis:
		m.ambient, changed = false, true
	}
	ambient := m.ambient
	m.mu.Unlock()

	if changed {
		appLog.Info("battery ambient mode", "ambient", ambient, "percent", st.Percent)
		if m.onAmbient != nil {
			m.onAmbient(ambient)
		}
	}
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}

// Last returns the most recent reading and read error.
func (m *Monitor) Last() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.lastErr
}

func (m *Monitor) Ambient() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ambient
}
