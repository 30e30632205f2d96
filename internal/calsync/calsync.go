// Package calsync keeps the instance store in step with the configured ICS
// subscriptions.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calface/internal/ics"
	appLog "calface/internal/log"
	"calface/internal/model"
)

const fallbackColor = "#ff000000"

// Writer is the part of the instance store a sync writes to.
type Writer interface {
	ReplaceSource(ctx context.Context, sourceID string, occs []model.Occurrence) error
	DeleteSourcesExcept(ctx context.Context, keep []string) (int64, error)
}

// Fetcher downloads one subscription.
type Fetcher interface {
	Fetch(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Options configures a Syncer.
type Options struct {
	Fetcher Fetcher
	Store   Writer
	// Location returns the display timezone; nil means time.Local.
	Location func() *time.Location
	Now      func() time.Time

	Backfill time.Duration
	Horizon  time.Duration
}

// Result summarizes one sync run.
type Result struct {
	At          time.Time     `json:"at"`
	Sources     int           `json:"sources"`
	Failed      int           `json:"failed"`
	Occurrences int           `json:"occurrences"`
	Duration    time.Duration `json:"duration"`
}

// Syncer fetches, expands and stores every source. Runs never overlap.
type Syncer struct {
	opts Options

	mu      sync.Mutex
	sources []ics.Source
	last    Result

	runMu sync.Mutex
	cron  *cron.Cron
}

func New(opts Options, sources []ics.Source) *Syncer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = func() *time.Location { return time.Local }
	}
	if opts.Backfill <= 0 {
		opts.Backfill = 24 * time.Hour
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 7 * 24 * time.Hour
	}
	return &Syncer{opts: opts, sources: append([]ics.Source(nil), sources...)}
}

// Reload replaces the subscription list used by later runs.
func (s *Syncer) Reload(sources []ics.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append([]ics.Source(nil), sources...)
}

// Last returns the result of the latest completed run.
func (s *Syncer) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunOnce syncs every source. A failing source keeps its previous rows; its
// error is joined into the returned error and the others still sync.
func (s *Syncer) RunOnce(ctx context.Context) (Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	sources := append([]ics.Source(nil), s.sources...)
	s.mu.Unlock()

	started := s.opts.Now()
	loc := s.opts.Location()
	cfg := ics.ExpandConfig{
		Location:   loc,
		RangeStart: started.Add(-s.opts.Backfill),
		RangeEnd:   started.Add(s.opts.Horizon),
	}

	res := Result{At: started, Sources: len(sources)}
	var errs []error
	keep := make([]string, 0, len(sources))
	for _, src := range sources {
		keep = append(keep, src.ID)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		n, err := s.syncSource(ctx, src, cfg)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("calsync: %s: %w", src.ID, err))
			appLog.Error("calsync: source failed; keeping previous instances", err, "id", src.ID)
			continue
		}
		res.Occurrences += n
	}

	if removed, err := s.opts.Store.DeleteSourcesExcept(ctx, keep); err != nil {
		errs = append(errs, err)
	} else if removed > 0 {
		appLog.Info("calsync: pruned removed sources", "instances", removed)
	}

	res.Duration = time.Since(started)
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	appLog.Info("calsync: run complete",
		"sources", res.Sources,
		"failed", res.Failed,
		"occurrences", res.Occurrences,
		"duration", res.Duration,
	)
	return res, errors.Join(errs...)
}

func (s *Syncer) syncSource(ctx context.Context, src ics.Source, cfg ics.ExpandConfig) (int, error) {
	fetched, err := s.opts.Fetcher.Fetch(ctx, src)
	if err != nil {
		return 0, err
	}
	events, err := ics.Parse(src, fetched.Body)
	if err != nil {
		return 0, err
	}
	expanded, err := ics.Expand(events, cfg)
	if err != nil {
		return 0, err
	}

	base := src.Color
	if _, err := model.ParseColorTag(base); err != nil {
		appLog.Warn("calsync: bad source color, using default", "id", src.ID, "color", base)
		base = fallbackColor
	}
	occs := expanded.Occurrences
	for i := range occs {
		occs[i].Color = DisplayColor(occs[i].Color, base)
	}

	if err := s.opts.Store.ReplaceSource(ctx, src.ID, occs); err != nil {
		return 0, err
	}
	return len(occs), nil
}

// DisplayColor picks the event's own color when it is a valid color tag and
// the source color otherwise.
func DisplayColor(eventColor, sourceColor string) string {
	if eventColor != "" {
		if _, err := model.ParseColorTag(eventColor); err == nil {
			return eventColor
		}
	}
	return sourceColor
}

// Start schedules RunOnce on the cron spec. Runs use ctx.
func (s *Syncer) Start(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			appLog.Warn("calsync: scheduled run had failures", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("calsync: cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = c
	s.mu.Unlock()

	c.Start()
	appLog.Info("calsync: scheduled", "cron", spec)
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Syncer) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
