package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/chase3718/pedalmidi/internal/api"
	"github.com/chase3718/pedalmidi/internal/board"
	"github.com/chase3718/pedalmidi/internal/clock"
	"github.com/chase3718/pedalmidi/internal/device"
	"github.com/chase3718/pedalmidi/internal/filter"
	"github.com/chase3718/pedalmidi/internal/midiport"
	"github.com/chase3718/pedalmidi/internal/settings"
	"github.com/chase3718/pedalmidi/internal/store"
)

const watcherTick = time.Second

// runDaemon wires the board, the MIDI ports, the device loop and the API,
// and runs until ctx is canceled or the board link fails.
func runDaemon(ctx context.Context, s settings.Settings) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := store.FileStore{Path: settings.ExpandPath(s.State.File)}
	cfg := restoreConfig(st)

	brd, err := board.OpenSerial(s.Serial.Device, s.Serial.Baud, logger)
	if err != nil {
		return err
	}
	defer brd.Close()

	var runner *device.Runner
	watcher, err := midiport.Open(midiport.Options{
		Preferred:      s.MIDI.Preferred,
		Excluded:       s.MIDI.Excluded,
		RescanInterval: s.RescanInterval(),
		OnMessage: func(port int, msg midi.Message) {
			runner.Deliver(port, msg)
		},
		OnOutputConnected: func(name string) {
			// A freshly attached synth has not seen the current values yet.
			if err := runner.Do(ctx, func(h device.Handler) { h.Resync() }); err != nil {
				logger.Debug("midi: resync after connect skipped", "device", name, "err", err)
			}
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	var srv *api.Server
	f := s.Filter
	dev, err := device.New(cfg, device.Options{
		Clock:           clock.New(),
		Sensors:         brd,
		Sender:          watcher,
		PedalFilter:     filter.NewWithParams(f.Threshold, f.KFast, f.KSlow, f.Edge),
		PotiFilter:      filter.NewWithParams(f.Threshold, f.KFast, f.KSlow, f.Edge),
		Store:           st,
		Logger:          logger,
		MeasureInterval: uint32(s.Scheduler.MeasureUS),
		EventInterval:   uint32(s.Scheduler.EventUS),
		OnStatus: func(status device.Status) {
			if srv != nil {
				srv.PublishStatus(status)
			}
		},
	})
	if err != nil {
		return err
	}
	runner = device.NewRunner(dev, s.Idle(), logger)
	if s.HTTP.Listen != "" {
		srv = api.NewServer(runner, logger, api.Config{Ports: watcher.Connected})
	}

	boardErr := make(chan error, 1)
	go func() { boardErr <- brd.Run(ctx) }()
	go runner.Run(ctx)

	httpErr := make(chan error, 1)
	if srv != nil {
		go srv.Run(ctx)
		go func() { httpErr <- serveHTTP(ctx, s.HTTP.Listen, srv.Handler()) }()
	}

	logger.Info("running - waiting for MIDI ports")
	watcher.Tick()
	ticker := time.NewTicker(watcherTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-boardErr:
			return err
		case err := <-httpErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			watcher.Tick()
			if frames, rejected := brd.Stats(); rejected > 0 {
				logger.Debug("board: link stats", "frames", frames, "rejected", rejected)
			}
		}
	}
}

// restoreConfig loads the persisted configuration, falling back to the
// defaults when there is none or it cannot be read.
func restoreConfig(st store.FileStore) device.Config {
	cfg := device.DefaultConfig()
	block, err := st.Load()
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Info("config: no saved configuration, using defaults", "path", st.Path)
		return cfg
	case err != nil:
		logger.Warn("config: load failed, using defaults", "err", err)
		return cfg
	}
	if err := cfg.UnmarshalBinary(block); err != nil {
		logger.Warn("config: saved block unusable, using defaults", "err", err)
		return device.DefaultConfig()
	}
	logger.Info("config: restored", "path", st.Path, "channel", cfg.Channel+1)
	return cfg
}

// serveHTTP runs the API server and shuts it down gracefully when ctx is
// canceled.
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
