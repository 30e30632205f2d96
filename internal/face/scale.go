package face

import "time"

// StartOfDay truncates t to 00:00 of its calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayScale maps instants of one calendar day onto a vertical pixel span,
// 00:00 at the top.
type DayScale struct {
	Start  time.Time
	End    time.Time
	Height float64
}

// NewDayScale builds the scale for the day containing ref.
func NewDayScale(ref time.Time, height float64) DayScale {
	start := StartOfDay(ref)
	return DayScale{
		Start:  start,
		End:    start.AddDate(0, 0, 1),
		Height: height,
	}
}

// Y returns the coordinate of t. Instants outside the day clamp to the top
// or bottom edge.
func (s DayScale) Y(t time.Time) float64 {
	if !t.After(s.Start) {
		return 0
	}
	if !t.Before(s.End) {
		return s.Height
	}
	// DST days are longer than 24h; keep their tail on screen.
	y := t.Sub(s.Start).Hours() * (s.Height / 24)
	if y > s.Height {
		return s.Height
	}
	return y
}

// Contains reports whether [start, end] intersects the day.
func (s DayScale) Contains(start, end time.Time) bool {
	return end.After(s.Start) && start.Before(s.End)
}

// TimeToY maps t onto height relative to the start of t's own day.
func TimeToY(t time.Time, height float64) float64 {
	return NewDayScale(t, height).Y(t)
}
