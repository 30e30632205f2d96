package face

import (
	"context"
	"errors"
)

// ErrLoopStopped is returned by Do once the loop has exited.
var ErrLoopStopped = errors.New("face: loop stopped")

// Loop is the single control flow that owns schedule state, both schedulers
// and the renderer. Everything else talks to it by posting closures or by
// requesting a redraw.
type Loop struct {
	queue  chan func()
	redraw chan struct{}
	done   chan struct{}

	onRedraw func()
}

// NewLoop returns a loop that calls onRedraw for redraw requests.
func NewLoop(size int, onRedraw func()) *Loop {
	if size <= 0 {
		size = 64
	}
	return &Loop{
		queue:    make(chan func(), size),
		redraw:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		onRedraw: onRedraw,
	}
}

// RequestRedraw never blocks. Requests made before the loop gets to the
// redraw collapse into a single call.
func (l *Loop) RequestRedraw() {
	select {
	case l.redraw <- struct{}{}:
	default:
	}
}

// Post queues f to run on the loop. It returns false if the loop has exited.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do runs f on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, f func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		f()
		close(ran)
	}) {
		return ErrLoopStopped
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted closures until ctx is cancelled. Work still queued at
// that point is dropped and later posts are rejected.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case f := <-l.queue:
			f()
		case <-l.redraw:
			if l.onRedraw != nil {
				l.onRedraw()
			}
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }
