package face

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"calface/internal/model"
)

var (
	// ErrBadRow marks a raw row that could not be mapped to an event.
	ErrBadRow = errors.New("face: malformed row")
	// ErrQuery marks a failed data source query.
	ErrQuery = errors.New("face: query failed")
	// ErrResourceUnavailable marks a fetch that could not take its wake lock.
	ErrResourceUnavailable = errors.New("face: resource unavailable")
)

// Snapshot is one complete set of events produced by a fetch. It is
// published whole and must not be modified afterwards.
type Snapshot struct {
	Events    []model.TimelineEvent
	FetchedAt time.Time
	HandleID  string
}

// EventStore holds the active snapshot. Publish swaps the pointer so readers
// see either the old or the new set, never a mix.
type EventStore struct {
	current atomic.Pointer[Snapshot]
}

// Load returns the active snapshot, or nil before the first publish.
func (s *EventStore) Load() *Snapshot {
	return s.current.Load()
}

func (s *EventStore) Publish(snap *Snapshot) {
	s.current.Store(snap)
}

// EventFromRow maps a raw row. A malformed color or an end before the start
// is reported as ErrBadRow.
func EventFromRow(row model.RawRow, loc *time.Location) (model.TimelineEvent, error) {
	tag, err := model.ParseColorTag(row.DisplayColor)
	if err != nil {
		return model.TimelineEvent{}, fmt.Errorf("%w: %v", ErrBadRow, err)
	}
	if row.EndMillis < row.BeginMillis {
		return model.TimelineEvent{}, fmt.Errorf("%w: end %d before begin %d", ErrBadRow, row.EndMillis, row.BeginMillis)
	}
	return model.TimelineEvent{
		Start:    FromMillis(row.BeginMillis, loc),
		End:      FromMillis(row.EndMillis, loc),
		ColorTag: tag,
	}, nil
}
