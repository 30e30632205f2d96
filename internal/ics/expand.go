package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calface/internal/log"
	"calface/internal/model"
)

const defaultMaxPerEvent = 5000

// ExpandConfig bounds an expansion.
type ExpandConfig struct {
	// Location for the resulting occurrences. Nil means time.Local.
	Location *time.Location

	RangeStart time.Time
	RangeEnd   time.Time

	// MaxPerEvent caps occurrences per recurring event; zero means 5000.
	MaxPerEvent int
}

// ExpandResult lists occurrences ordered by start, plus the UIDs whose
// expansion hit the cap.
type ExpandResult struct {
	Occurrences []model.Occurrence
	Truncated   []string
}

// Expand turns parsed events into concrete occurrences overlapping
// [RangeStart, RangeEnd]. RRULE, EXDATE and RECURRENCE-ID overrides are
// applied; all-day occurrences span one local day.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var res ExpandResult
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return res, errors.New("ics: expand range ends before it starts")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxPerEvent <= 0 {
		cfg.MaxPerEvent = defaultMaxPerEvent
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	uids := make([]string, 0)
	for _, ev := range events {
		if ev.IsOverride {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	out := make([]model.Occurrence, 0)
	for _, uid := range uids {
		capped := false
		for _, ev := range bases[uid] {
			var occ []model.Occurrence
			if ev.RawRRule == "" {
				occ = expandSingle(ev, overrides[uid], cfg)
			} else {
				var hit bool
				occ, hit = expandRecurring(ev, overrides[uid], cfg)
				capped = capped || hit
			}
			out = append(out, occ...)
		}
		if capped {
			res.Truncated = append(res.Truncated, uid)
			appLog.Warn("ics: occurrence cap reached", "uid", uid, "cap", cfg.MaxPerEvent)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	res.Occurrences = out
	return res, nil
}

func expandSingle(ev ParsedEvent, ovs []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	inst := ev
	if o, ok := overrideFor(ovs, ev.Start); ok {
		inst = o
	}
	if !overlaps(inst.Start, inst.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{occurrence(inst, inst.Start, inst.End, cfg.Location)}
}

func expandRecurring(ev ParsedEvent, ovs []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics: bad RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil, false
	}
	r.DTStart(ev.Start)

	set := &rrule.Set{}
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Widen the lower bound so instances that began before the range but
	// still run into it are found.
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())
	starts := set.Between(from, to, true)

	hit := false
	if len(starts) > cfg.MaxPerEvent {
		starts = starts[:cfg.MaxPerEvent]
		hit = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		var e time.Time
		if ev.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			e = s.AddDate(0, 0, 1)
		} else {
			e = s.Add(dur)
		}

		inst := ev
		if o, ok := overrideFor(ovs, s); ok {
			inst, s, e = o, o.Start, o.End
		}
		if !overlaps(s, e, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, occurrence(inst, s, e, cfg.Location))
	}
	return out, hit
}

// overrideFor finds the override whose RECURRENCE-ID is the same instant as start.
func overrideFor(ovs []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range ovs {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

func occurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Occurrence {
	start, end = start.In(loc), end.In(loc)
	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: ev.UID + "@" + start.UTC().Format(time.RFC3339),
		Summary:     ev.Summary,
		Location:    ev.Location,
		Color:       ev.Color,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
