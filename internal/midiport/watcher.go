// Package midiport keeps the daemon attached to a MIDI input and output
// across hot-plug events.
package midiport

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ErrNotConnected is returned by Send while no output port is open.
var ErrNotConnected = errors.New("midi output not connected")

// DefaultRescanInterval is the minimum time between two port scans.
const DefaultRescanInterval = 1000 * time.Millisecond

// DefaultExcluded lists virtual/system ports that are never auto-connected.
var DefaultExcluded = []string{"Midi Through", "Through Port", "Dummy"}

// Options configures a Watcher.
type Options struct {
	// Preferred ports are matched case-insensitively by substring, in order.
	// Without a match the watcher connects only when exactly one candidate
	// is left after exclusion.
	Preferred []string
	Excluded  []string

	RescanInterval time.Duration

	// OnMessage is called from the driver's listener goroutine for every
	// inbound message. The port index is always 0: the watcher listens to
	// a single input.
	OnMessage func(port int, msg midi.Message)

	// OnOutputConnected is called from its own goroutine after an output
	// port was opened.
	OnOutputConnected func(name string)

	Logger *slog.Logger
}

// Watcher monitors the available MIDI ports and maintains one input and one
// output connection.
type Watcher struct {
	mu   sync.Mutex
	drv  drivers.Driver
	opts Options
	log  *slog.Logger

	in     drivers.In
	inName string
	stopFn func()

	out     drivers.Out
	outName string
	sendFn  func(midi.Message) error

	lastRescanAt time.Time
}

// Open initialises the rtmidi driver and returns a watcher using it. Call
// Close when done.
func Open(opts Options) (*Watcher, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return New(drv, opts), nil
}

// New returns a watcher over drv. No port is opened until the first Tick.
func New(drv drivers.Driver, opts Options) *Watcher {
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = DefaultRescanInterval
	}
	if opts.Excluded == nil {
		opts.Excluded = DefaultExcluded
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{drv: drv, opts: opts, log: logger}
}

// Close shuts down both connections and the driver.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeIn()
	w.closeOut()
	if err := w.drv.Close(); err != nil {
		w.log.Warn("midi: driver close failed", "err", err)
	}
}

// Connected returns the names of the open input and output, empty when
// disconnected.
func (w *Watcher) Connected() (in, out string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inName, w.outName
}

// Send writes msg to the connected output.
func (w *Watcher) Send(msg midi.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendFn == nil {
		return ErrNotConnected
	}
	if err := w.sendFn(msg); err != nil {
		name := w.outName
		w.log.Warn("midi: send failed, dropping output", "device", name, "err", err)
		w.closeOut()
		w.lastRescanAt = time.Time{}
		return fmt.Errorf("send to %q: %w", name, err)
	}
	return nil
}

// Tick should be called on a regular interval from the main loop. It scans
// for ports, connects to preferred ones and detects disappearances.
func (w *Watcher) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if !w.lastRescanAt.IsZero() && now.Sub(w.lastRescanAt) < w.opts.RescanInterval {
		return
	}
	w.lastRescanAt = now

	w.tickIn()
	w.tickOut()
}

func (w *Watcher) tickIn() {
	ins, err := w.drv.Ins()
	if err != nil {
		w.log.Error("midi: list inputs failed", "err", err)
		return
	}
	names := w.candidates("input", portNames(ins))

	if w.in != nil {
		if slices.Contains(names, w.inName) {
			return
		}
		w.log.Warn("midi: input disappeared", "device", w.inName)
		w.closeIn()
		w.lastRescanAt = time.Time{}
		return
	}
	cand, ok := pickPreferred(names, w.opts.Preferred)
	if !ok {
		return
	}
	if err := w.openIn(ins, cand); err != nil {
		w.log.Error("midi: input connect failed", "device", cand, "err", err)
	}
}

func (w *Watcher) tickOut() {
	outs, err := w.drv.Outs()
	if err != nil {
		w.log.Error("midi: list outputs failed", "err", err)
		return
	}
	names := w.candidates("output", portNames(outs))

	if w.out != nil {
		if slices.Contains(names, w.outName) {
			return
		}
		w.log.Warn("midi: output disappeared", "device", w.outName)
		w.closeOut()
		w.lastRescanAt = time.Time{}
		return
	}
	cand, ok := pickPreferred(names, w.opts.Preferred)
	if !ok {
		return
	}
	if err := w.openOut(outs, cand); err != nil {
		w.log.Error("midi: output connect failed", "device", cand, "err", err)
	}
}

func (w *Watcher) candidates(kind string, all []string) []string {
	names := exclude(all, w.opts.Excluded)
	w.log.Debug("midi: ports found", "kind", kind, "count", len(names), "devices", strings.Join(names, ", "))
	return names
}

func (w *Watcher) openIn(ins []drivers.In, name string) error {
	var found drivers.In
	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("input %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}

	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		if w.opts.OnMessage != nil {
			w.opts.OnMessage(0, msg)
		}
	}, midi.HandleError(func(listenErr error) {
		w.log.Warn("midi: listener error", "device", name, "err", listenErr)
		// The listener goroutine must not take the lock itself.
		go func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if w.in != nil && w.inName == name {
				w.closeIn()
				w.lastRescanAt = time.Time{}
			}
		}()
	}))
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("listen %q: %w", name, err)
	}

	w.in = found
	w.inName = name
	w.stopFn = stop
	w.log.Info("midi: input connected", "device", name)
	return nil
}

func (w *Watcher) openOut(outs []drivers.Out, name string) error {
	var found drivers.Out
	for _, out := range outs {
		if out.String() == name {
			found = out
			break
		}
	}
	if found == nil {
		return fmt.Errorf("output %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}
	send, err := midi.SendTo(found)
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("sender %q: %w", name, err)
	}

	w.out = found
	w.outName = name
	w.sendFn = send
	w.log.Info("midi: output connected", "device", name)
	if w.opts.OnOutputConnected != nil {
		go w.opts.OnOutputConnected(name)
	}
	return nil
}

func (w *Watcher) closeIn() {
	if w.stopFn != nil {
		w.stopFn()
		w.stopFn = nil
	}
	if w.in != nil {
		_ = w.in.Close()
		w.in = nil
	}
	w.inName = ""
}

func (w *Watcher) closeOut() {
	if w.out != nil {
		_ = w.out.Close()
		w.out = nil
	}
	w.sendFn = nil
	w.outName = ""
}
