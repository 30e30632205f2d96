package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"calface/internal/battery"
	"calface/internal/calsync"
	"calface/internal/config"
	"calface/internal/face"
	"calface/internal/ics"
	appLog "calface/internal/log"
	"calface/internal/model"
	"calface/internal/power"
	"calface/internal/store"
	"calface/internal/surface"
	"calface/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dumpDir    string
	debug      bool
}

func main() {
	flags := parseFlags()
	if err := run(flags); err != nil {
		appLog.Error("calface exited with error", err)
		os.Exit(1)
	}
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	applyLogLevel(conf, flags.debug)

	appLog.Info("calface starting",
		"version", version,
		"config_path", flags.configPath,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"fetch_interval", conf.FetchInterval.Std(),
		"sync_cron", conf.Sync.Cron,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	var current atomic.Pointer[config.Config]
	current.Store(conf)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(conf.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	fetcher := ics.NewFetcher(conf.CacheDir, ics.WithRateLimit(conf.Sync.RequestsPerSecond))

	style, err := buildStyle(conf.Display)
	if err != nil {
		return err
	}
	surf := surface.New(conf.Display.Width, conf.Display.Height)

	engine := face.NewEngine(face.Options{
		Source:        db,
		Notifier:      db,
		Lock:          power.NewLock(conf.WakeLock.Name, conf.WakeLock.Path),
		Host:          surf,
		Style:         style,
		Width:         float64(conf.Display.Width),
		Height:        float64(conf.Display.Height),
		Timezone:      conf.Timezone,
		ZoneName:      func() string { return current.Load().Timezone },
		TickInterval:  conf.TickInterval.Std(),
		FetchInterval: conf.FetchInterval.Std(),
		FetchWindow:   conf.FetchWindow.Std(),
	})
	engine.OnShapeChanged(conf.Display.Round)
	engine.OnLowBitAmbientCapability(conf.Display.LowBitAmbient)

	syncer := calsync.New(calsync.Options{
		Fetcher:  fetcher,
		Store:    db,
		Location: engine.Location,
		Backfill: time.Duration(conf.Sync.BackfillDays) * 24 * time.Hour,
		Horizon:  time.Duration(conf.Sync.HorizonDays) * 24 * time.Hour,
	}, sources(conf))

	if flags.once {
		return runOnce(ctx, engine, syncer, surf, flags.dumpDir)
	}

	var wg sync.WaitGroup
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error(name+" stopped", err)
			}
		}()
	}

	goRun("engine", func() error { return engine.Run(ctx) })

	// Populate the store before the first visible fetch when possible.
	if _, err := syncer.RunOnce(ctx); err != nil {
		appLog.Warn("initial sync had failures", "err", err)
	}
	if err := syncer.Start(ctx, conf.Sync.Cron); err != nil {
		stop()
		wg.Wait()
		return fmt.Errorf("start sync schedule: %w", err)
	}
	defer syncer.Stop()

	deps := web.Deps{
		Engine:    engine,
		Sync:      syncer,
		Preview:   surf,
		BasicAuth: conf.BasicAuth,
	}

	if conf.Battery.Enabled {
		reader, err := battery.DefaultReader(ctx, conf.Battery.I2CBus, conf.Battery.I2CAddr)
		if err != nil {
			appLog.Warn("battery controller not available, assuming mains power", "err", err)
		}
		mon := battery.NewMonitor(reader, conf.Battery.AmbientBelowPercent, conf.Battery.PollInterval.Std(), engine.OnAmbientModeChanged)
		deps.Battery = mon
		goRun("battery monitor", func() error { mon.Run(ctx); return nil })
	}

	goRun("config watcher", func() error {
		return config.Watch(ctx, flags.configPath, func(next *config.Config) {
			prev := current.Swap(next)
			applyLogLevel(next, flags.debug)
			syncer.Reload(sources(next))
			if next.Timezone != prev.Timezone {
				engine.OnTimezoneChanged(next.Timezone)
			}
			appLog.Info("config reloaded", "ics_count", len(next.ICS), "timezone", next.Timezone)
		})
	})

	server := web.NewServer(deps)
	goRun("http server", func() error { return server.Serve(ctx, conf.Listen) })

	engine.OnVisible(true)

	<-ctx.Done()
	appLog.Info("shutdown requested")
	wg.Wait()
	appLog.Info("calface exiting")
	return nil
}

// runOnce syncs, renders one frame with fresh data and optionally dumps it.
func runOnce(ctx context.Context, engine *face.Engine, syncer *calsync.Syncer, surf *surface.Surface, dumpDir string) error {
	res, syncErr := syncer.RunOnce(ctx)
	appLog.Info("sync finished", "sources", res.Sources, "failed", res.Failed, "occurrences", res.Occurrences)
	if syncErr != nil {
		appLog.Warn("sync had failures", "err", syncErr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(runCtx)
	}()
	engine.OnVisible(true)

	err := waitForFrame(runCtx, engine, surf, 15*time.Second)
	cancel()
	<-done
	if err != nil {
		return err
	}

	if dumpDir != "" {
		if err := surf.Dump(dumpDir); err != nil {
			return fmt.Errorf("dump frame: %w", err)
		}
	}
	return nil
}

// waitForFrame blocks until a frame drawn from a published snapshot exists.
func waitForFrame(ctx context.Context, engine *face.Engine, surf *surface.Surface, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()

	for {
		if snap := engine.Snapshot(); snap != nil {
			if n, drawn := surf.Frames(); n > 0 && !drawn.Before(snap.FetchedAt) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.New("timed out waiting for a rendered frame")
		case <-t.C:
		}
	}
}

func sources(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		out = append(out, ics.Source{ID: c.ID, URL: c.URL, Color: c.Color})
	}
	return out
}

func buildStyle(d config.DisplayConfig) (face.Style, error) {
	st := face.Style{
		XOffset:        d.XOffset,
		XOffsetRound:   d.XOffsetRound,
		YOffset:        d.YOffset,
		CalWidth:       d.CalWidth,
		NowMarkerInset: d.NowMarkerInset,
	}
	colors := []struct {
		name string
		raw  string
		dst  *int32
	}{
		{"background", d.Colors.Background, &st.Background},
		{"ambient_background", d.Colors.AmbientBackground, &st.AmbientBackground},
		{"text", d.Colors.Text, &st.Text},
		{"ambient_event", d.Colors.AmbientEvent, &st.AmbientEvent},
	}
	for _, c := range colors {
		tag, err := model.ParseColorTag(c.raw)
		if err != nil {
			return face.Style{}, fmt.Errorf("display.colors.%s: %w", c.name, err)
		}
		*c.dst = tag
	}
	return st, nil
}

func applyLogLevel(conf *config.Config, debug bool) {
	if debug {
		appLog.SetLevel(appLog.LevelDebug)
		return
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calface/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Sync, render one frame and exit")
	flag.StringVar(&cfg.dumpDir, "dump", "", "Directory for preview.png, black.bin and red.bin (with -once)")
	flag.BoolVar(&cfg.debug, "debug", false, "Force debug logging")

	flag.Parse()

	return cfg
}
