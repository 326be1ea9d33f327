// Package device turns filtered sensor readings into MIDI Control Change
// messages. A Device is single-threaded: every method must be called from
// the goroutine that owns it (see Runner).
package device

import (
	"encoding/json"
	"errors"
	"log/slog"

	"gitlab.com/gomidi/midi/v2"
)

// Inbound control codes the device reacts to.
const (
	AllSoundOff = 120
	AllNotesOff = 123
)

// Filter smooths raw samples into a stable fraction in [0,1].
type Filter interface {
	Reset()
	Update(sample float64)
	Value() float64
}

// Sensors exposes the latest raw readings. Reads must not block.
type Sensors interface {
	// Pedal and Poti return the raw positions normalised to [0,1].
	Pedal() float64
	Poti() float64
	// Switch returns the raw level of the reversal switch pin. The pin is
	// active-low: false means the switch is closed.
	Switch() bool
}

// Sender delivers outgoing MIDI messages.
type Sender interface {
	Send(msg midi.Message) error
}

// Store persists the configuration block after an import.
type Store interface {
	Save(block []byte) error
}

// Options wires a Device to its collaborators. Store, Logger and OnStatus
// are optional; zero intervals select the defaults.
type Options struct {
	Clock       Clock
	Sensors     Sensors
	Sender      Sender
	PedalFilter Filter
	PotiFilter  Filter
	Store       Store
	Logger      *slog.Logger

	MeasureInterval uint32
	EventInterval   uint32

	// OnStatus is called after anything visible in Status changed.
	OnStatus func(Status)
}

// Device holds the configuration and runtime state of the controller.
type Device struct {
	cfg Config

	clock   Clock
	sensors Sensors
	sender  Sender
	store   Store
	logger  *slog.Logger

	pedal input
	poti  input

	reverse      bool
	pendingForce bool

	measure interval
	event   interval

	onStatus func(Status)
}

// New returns a Device using cfg and resets it.
func New(cfg Config, opts Options) (*Device, error) {
	if opts.Clock == nil || opts.Sensors == nil || opts.Sender == nil {
		return nil, errors.New("device: clock, sensors and sender are required")
	}
	if opts.PedalFilter == nil || opts.PotiFilter == nil {
		return nil, errors.New("device: both filters are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	measure := opts.MeasureInterval
	if measure == 0 {
		measure = DefaultMeasureInterval
	}
	event := opts.EventInterval
	if event == 0 {
		event = DefaultEventInterval
	}

	d := &Device{
		cfg:      cfg,
		clock:    opts.Clock,
		sensors:  opts.Sensors,
		sender:   opts.Sender,
		store:    opts.Store,
		logger:   logger,
		pedal:    input{name: PedalName, filter: opts.PedalFilter},
		poti:     input{name: PotiName, filter: opts.PotiFilter},
		measure:  interval{period: measure},
		event:    interval{period: event},
		onStatus: opts.OnStatus,
	}
	d.Reset()
	return d, nil
}

// Config returns the current configuration.
func (d *Device) Config() Config { return d.cfg }

// Reverse reports the current orientation flag.
func (d *Device) Reverse() bool { return d.reverse }

// Poll runs one scheduler pass: sample the sensors when the measurement
// interval elapsed, then read the switch and emit when the event interval
// elapsed.
func (d *Device) Poll() {
	now := d.clock.Micros()
	if d.measure.due(now) {
		d.sample()
	}
	if d.event.due(now) {
		d.readSwitch()
		force := d.pendingForce
		d.pendingForce = false
		d.emit(force)
	}
}

func (d *Device) sample() {
	d.pedal.filter.Update(d.sensors.Pedal())
	// The potentiometer is wired the other way round.
	d.poti.filter.Update(1 - d.sensors.Poti())
}

func (d *Device) readSwitch() {
	reverse := !d.sensors.Switch()
	if reverse == d.reverse {
		return
	}
	d.reverse = reverse
	d.logger.Info("device: reverse switch changed", "reverse", reverse)
	d.publish()
}

func (d *Device) emit(force bool) {
	changed := false
	if v, ok := d.pedal.evaluate(d.cfg.Pedal, d.reverse, force); ok {
		d.send(d.cfg.Pedal.Controller, v)
		changed = true
	}
	if v, ok := d.poti.evaluate(d.cfg.Poti, false, force); ok {
		d.send(d.cfg.Poti.Controller, v)
		changed = true
	}
	if changed {
		d.publish()
	}
}

func (d *Device) send(controller, value uint8) {
	msg := midi.ControlChange(d.cfg.Channel, controller, value)
	if err := d.sender.Send(msg); err != nil {
		d.logger.Debug("device: send failed", "msg", msg.String(), "err", err)
		return
	}
	d.logger.Debug("device: sent", "channel", d.cfg.Channel, "controller", controller, "value", value)
}

func (d *Device) publish() {
	if d.onStatus != nil {
		d.onStatus(d.Status())
	}
}

// Reset reinitialises the runtime state. The next Poll samples immediately
// and the first emission after the event interval is forced.
func (d *Device) Reset() {
	now := d.clock.Micros()
	d.pedal.filter.Reset()
	d.poti.filter.Reset()
	d.reverse = false
	d.pedal.last = 0
	d.poti.last = 0
	d.measure.arm(now)
	d.event.last = now
	d.pendingForce = true
	d.logger.Debug("device: reset", "now_us", now)
	d.publish()
}

// HandleMessage dispatches one inbound MIDI message. Only port 0 is
// listened to; anything unrecognised is dropped.
func (d *Device) HandleMessage(port int, msg midi.Message) {
	if port != 0 {
		return
	}
	var ch, cc, val uint8
	switch {
	case msg.GetControlChange(&ch, &cc, &val):
		d.ControlChange(ch, cc, val)
	case msg.Is(midi.ResetMsg):
		d.logger.Info("device: system reset received")
		d.Reset()
	default:
		d.logger.Debug("device: message ignored", "msg", msg.String())
	}
}

// ControlChange handles an inbound Control Change. All Sound Off and All
// Notes Off re-send both current values; other controllers are ignored.
func (d *Device) ControlChange(channel, controller, value uint8) {
	switch controller {
	case AllSoundOff, AllNotesOff:
		d.logger.Debug("device: resync requested", "channel", channel, "controller", controller)
		d.Resync()
	}
}

// Resync re-sends both current values regardless of change.
func (d *Device) Resync() {
	d.emit(true)
}

// ExportConfig renders the configuration document.
func (d *Device) ExportConfig() ([]byte, error) {
	return ExportDocument(d.cfg)
}

// ImportConfig applies a configuration document and persists the result.
func (d *Device) ImportConfig(doc []byte) error {
	if err := ApplyDocument(&d.cfg, doc); err != nil {
		return err
	}
	d.logger.Info("device: config imported",
		"channel", d.cfg.Channel+1,
		"pedal", d.cfg.Pedal,
		"poti", d.cfg.Poti,
	)
	if d.store != nil {
		block, _ := d.cfg.MarshalBinary()
		if err := d.store.Save(block); err != nil {
			d.logger.Warn("device: persisting config failed", "err", err)
		}
	}
	d.publish()
	return nil
}

// Schema renders the settings schema document.
func (d *Device) Schema() ([]byte, error) {
	return json.Marshal(SchemaFields())
}

// Status returns the current diagnostics snapshot.
func (d *Device) Status() Status {
	return Status{
		Channel: int(d.cfg.Channel) + 1,
		Reverse: d.reverse,
		Controllers: []ControllerStatus{
			{Name: d.pedal.name, Controller: d.cfg.Pedal.Controller, Value: d.pedal.last},
			{Name: d.poti.name, Controller: d.cfg.Poti.Controller, Value: d.poti.last},
		},
	}
}
