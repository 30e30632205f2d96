package model

import "time"

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary  string
	Location string

	// Color is the raw RFC 7986 COLOR value of the event, if any.
	Color string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// RawRow is one row as returned by a calendar instance query. Values are
// kept as the data source stores them; mapping to TimelineEvent happens in
// the fetch task.
type RawRow struct {
	BeginMillis  int64
	EndMillis    int64
	Title        string
	DisplayColor string
}

// TimelineEvent is one band on the day timeline. It is never mutated after
// construction.
type TimelineEvent struct {
	Start    time.Time
	End      time.Time
	ColorTag int32
}
