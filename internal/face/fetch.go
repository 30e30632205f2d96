package face

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "calface/internal/log"
	"calface/internal/model"
	"calface/internal/power"
)

// Rows is a cursor over a query result. The caller must Close it.
type Rows interface {
	Next() bool
	// Row decodes the current row. An error here concerns only this row.
	Row() (model.RawRow, error)
	Err() error
	Close() error
}

// EventSource is the calendar data source queried by a fetch.
type EventSource interface {
	Query(ctx context.Context, fromMillis, toMillis int64) (Rows, error)
}

// CancelToken is a cooperative cancellation flag shared between the fetch
// scheduler and one running task.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
}

func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Context is cancelled together with the token and aborts blocking queries.
func (t *CancelToken) Context() context.Context { return t.ctx }

// Cancel never blocks; the task notices at its next safe point.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.cancel()
}

func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Commit runs fn unless the token is cancelled. Cancel cannot interleave
// with fn, so a cancelled task can never publish.
func (t *CancelToken) Commit(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	fn()
	return true
}

// FetchHandle identifies one launched fetch task.
type FetchHandle struct {
	ID    string
	token *CancelToken
	done  chan struct{}
}

func newFetchHandle(parent context.Context) *FetchHandle {
	return &FetchHandle{
		ID:    uuid.NewString(),
		token: NewCancelToken(parent),
		done:  make(chan struct{}),
	}
}

func (h *FetchHandle) Cancel() { h.token.Cancel() }
func (h *FetchHandle) Cancelled() bool { return h.token.Cancelled() }
func (h *FetchHandle) Token() *CancelToken { return h.token }

// Done is closed when the task has exited and released its resources.
func (h *FetchHandle) Done() <-chan struct{} { return h.done }

// Live reports whether the task is neither cancelled nor finished.
func (h *FetchHandle) Live() bool {
	if h.Cancelled() {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// FetchTask queries the data source for a window around now and publishes
// the result into an EventStore.
type FetchTask struct {
	Source EventSource
	Lock   power.Lock
	Store  *EventStore
	Clock  Clock
	Zone   *Zone

	// Window is the half-width of the queried range around now.
	Window time.Duration

	// Published is called after a successful publish. It runs on the
	// worker and must only hand a redraw request back to the loop.
	Published func()
}

// Run performs one fetch. It returns context.Canceled when the token was
// cancelled, ErrResourceUnavailable or ErrQuery on failure, nil on publish.
func (t *FetchTask) Run(tok *CancelToken, id string) error {
	scope, err := power.Acquire(t.Lock)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	defer func() {
		if rerr := scope.Release(); rerr != nil {
			appLog.Error("fetch: wake lock release failed", rerr, "handle", id)
		}
	}()

	ctx := tok.Context()
	now := t.Clock.Now()
	from := ToMillis(now.Add(-t.Window))
	to := ToMillis(now.Add(t.Window))

	rows, err := t.Source.Query(ctx, from, to)
	if err != nil {
		if tok.Cancelled() {
			return context.Canceled
		}
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	var loc *time.Location
	if t.Zone != nil {
		loc = t.Zone.Location()
	}

	events := make([]model.TimelineEvent, 0)
	skipped := 0
	for rows.Next() {
		if tok.Cancelled() {
			return context.Canceled
		}
		row, err := rows.Row()
		if err == nil {
			var ev model.TimelineEvent
			ev, err = EventFromRow(row, loc)
			if err == nil {
				events = append(events, ev)
				continue
			}
		}
		skipped++
		appLog.Debug("fetch: skipping row", "handle", id, "err", err)
	}
	if err := rows.Err(); err != nil {
		if tok.Cancelled() || errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}

	snap := &Snapshot{Events: events, FetchedAt: now, HandleID: id}
	if !tok.Commit(func() { t.Store.Publish(snap) }) {
		return context.Canceled
	}

	appLog.Debug("fetch: published", "handle", id, "events", len(events), "skipped", skipped)
	if t.Published != nil {
		t.Published()
	}
	return nil
}
