package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calface/internal/log"
)

// RFC 7986 event color. Not every library version exports a constant for it.
const propColor = ical.ComponentProperty("COLOR")

// ParsedEvent is one VEVENT, normalized but not yet expanded.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary  string
	Location string
	// Color is the raw COLOR value, empty when absent.
	Color string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID
	IsOverride bool
}

// Parse decodes an ICS payload. VEVENTs that cannot be read are logged and
// skipped.
func Parse(src Source, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", src.ID, err)
	}

	vevents := cal.Events()
	out := make([]ParsedEvent, 0, len(vevents))
	for _, ve := range vevents {
		ev, err := parseVEvent(src, ve)
		if err != nil {
			appLog.Warn("ics: skipping vevent", "id", src.ID, "err", err)
			continue
		}
		out = append(out, ev)
	}

	appLog.Debug("ics: parsed", "id", src.ID, "events", len(out))
	return out, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	ev := ParsedEvent{Source: src}

	ev.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if ev.UID == "" {
		return ev, errors.New("missing UID")
	}
	if n, err := strconv.Atoi(strings.TrimSpace(propValue(ve, ical.ComponentPropertySequence))); err == nil {
		ev.Seq = n
	}
	ev.Summary = propValue(ve, ical.ComponentPropertySummary)
	ev.Location = propValue(ve, ical.ComponentPropertyLocation)
	ev.Color = strings.TrimSpace(propValue(ve, propColor))

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, fmt.Errorf("uid %s: missing DTSTART", ev.UID)
	}
	ev.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, fmt.Errorf("uid %s: DTSTART: %w", ev.UID, err)
	}
	ev.Start = start

	end, err := ve.GetEndAt()
	switch {
	case err == nil && !end.Before(start):
		ev.End = end
	case ev.AllDay:
		ev.End = start.AddDate(0, 0, 1)
	default:
		ev.End = start
	}

	ev.RawRRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p, start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			t, err := parseICSTime(part, loc)
			if err != nil {
				appLog.Debug("ics: bad EXDATE", "uid", ev.UID, "value", part, "err", err)
				continue
			}
			ev.ExDates = append(ev.ExDates, t)
		}
	}

	if rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		t, err := parseICSTime(rid.Value, paramLocation(rid, start.Location()))
		if err != nil {
			return ev, fmt.Errorf("uid %s: RECURRENCE-ID: %w", ev.UID, err)
		}
		ev.Recurrence = &t
		ev.IsOverride = true
	}

	return ev, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// paramLocation resolves the TZID parameter, falling back to def.
func paramLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tz := p.ICalParameters["TZID"]; len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.Local
	}
	return def
}

// parseICSTime reads DATE, floating DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
