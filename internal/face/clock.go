package face

import (
	"sync/atomic"
	"time"
)

// Timer is a pending single-fire callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Clock supplies wall-clock time and deferred callbacks. Schedulers take it
// as a dependency so tests can drive time by hand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns the Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ToMillis converts t to milliseconds since the Unix epoch.
func ToMillis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis converts epoch milliseconds to a time in loc. A nil loc means UTC.
func FromMillis(ms int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc)
}

// Zone is the active display timezone. It is read by the renderer and
// replaced on timezone notifications.
type Zone struct {
	loc atomic.Pointer[time.Location]
}

// NewZone resolves name, falling back to time.Local when it is empty or
// unknown.
func NewZone(name string) *Zone {
	z := &Zone{}
	z.loc.Store(time.Local)
	if name != "" {
		_ = z.Set(name)
	}
	return z
}

// Set switches to the named IANA zone. On error the previous zone stays active.
func (z *Zone) Set(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	z.loc.Store(loc)
	return nil
}

func (z *Zone) Location() *time.Location {
	return z.loc.Load()
}
