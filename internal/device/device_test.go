package device

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"gitlab.com/gomidi/midi/v2"
)

type fakeClock struct{ now uint32 }

func (c *fakeClock) Micros() uint32 { return c.now }

type fakeSensors struct {
	pedal, poti float64
	level       bool
}

func (s *fakeSensors) Pedal() float64 { return s.pedal }
func (s *fakeSensors) Poti() float64  { return s.poti }
func (s *fakeSensors) Switch() bool   { return s.level }

// passFilter hands samples straight through.
type passFilter struct {
	v       float64
	updates int
	resets  int
}

func (f *passFilter) Reset()           { f.v = 0; f.resets++ }
func (f *passFilter) Update(s float64) { f.v = s; f.updates++ }
func (f *passFilter) Value() float64   { return f.v }

type cc struct{ ch, controller, value uint8 }

type recordSender struct {
	sent []cc
	err  error
}

func (s *recordSender) Send(msg midi.Message) error {
	var c cc
	if !msg.GetControlChange(&c.ch, &c.controller, &c.value) {
		return errors.New("not a control change")
	}
	s.sent = append(s.sent, c)
	return s.err
}

func (s *recordSender) take() []cc {
	out := s.sent
	s.sent = nil
	return out
}

type memStore struct {
	saved [][]byte
	err   error
}

func (s *memStore) Save(b []byte) error {
	s.saved = append(s.saved, append([]byte(nil), b...))
	return s.err
}

type rig struct {
	dev     *Device
	clock   *fakeClock
	sensors *fakeSensors
	pedal   *passFilter
	poti    *passFilter
	out     *recordSender
	store   *memStore
	status  []Status
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	r := &rig{
		clock:   &fakeClock{now: 1000},
		sensors: &fakeSensors{level: true, poti: 1},
		pedal:   &passFilter{},
		poti:    &passFilter{},
		out:     &recordSender{},
		store:   &memStore{},
	}
	dev, err := New(cfg, Options{
		Clock:       r.clock,
		Sensors:     r.sensors,
		Sender:      r.out,
		PedalFilter: r.pedal,
		PotiFilter:  r.poti,
		Store:       r.store,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnStatus:    func(s Status) { r.status = append(r.status, s) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.dev = dev
	return r
}

// tick advances the clock by one event interval and polls.
func (r *rig) tick() {
	r.clock.now += DefaultEventInterval
	r.dev.Poll()
}

func onlyController(sent []cc, controller uint8) []cc {
	var out []cc
	for _, c := range sent {
		if c.controller == controller {
			out = append(out, c)
		}
	}
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(DefaultConfig(), Options{}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}

func TestDevice_PedalSequenceScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pedal = ControllerConfig{Controller: 11, From: 0, To: 127}
	r := newRig(t, cfg)

	steps := []struct {
		fraction float64
		want     []cc
	}{
		{0.0, []cc{{0, 11, 0}}},
		{0.5, []cc{{0, 11, 63}}},
		{0.5, nil},
		{1.0, []cc{{0, 11, 127}}},
	}
	for i, step := range steps {
		r.sensors.pedal = step.fraction
		r.tick()
		got := onlyController(r.out.take(), 11)
		if len(got) != len(step.want) {
			t.Fatalf("step %d: got %v, want %v", i, got, step.want)
		}
		for j := range got {
			if got[j] != step.want[j] {
				t.Errorf("step %d: got %v, want %v", i, got[j], step.want[j])
			}
		}
	}
}

func TestDevice_FirstEvaluationAfterResetIsForced(t *testing.T) {
	r := newRig(t, DefaultConfig())

	// Both readings map to 0, equal to the cleared last values.
	r.sensors.pedal = 0
	r.sensors.poti = 1
	r.tick()
	got := r.out.take()
	if len(got) != 2 {
		t.Fatalf("expected forced emission of both inputs, got %v", got)
	}
	if got[0] != (cc{0, 11, 0}) || got[1] != (cc{0, 1, 0}) {
		t.Errorf("unexpected messages %v", got)
	}

	r.tick()
	if got := r.out.take(); len(got) != 0 {
		t.Errorf("expected no emission without change, got %v", got)
	}
}

func TestDevice_ChangeDetectionIsIdempotent(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.tick()
	r.out.take()

	r.sensors.pedal = 0.25
	r.tick()
	if got := r.out.take(); len(got) != 1 {
		t.Fatalf("expected one emission, got %v", got)
	}
	r.tick()
	if got := r.out.take(); len(got) != 0 {
		t.Errorf("second evaluation emitted %v", got)
	}
}

func TestDevice_AllNotesOffResendsCurrentValues(t *testing.T) {
	for _, code := range []uint8{AllNotesOff, AllSoundOff} {
		r := newRig(t, DefaultConfig())
		r.sensors.pedal = 0.5
		r.sensors.poti = 0.5
		r.tick()
		r.out.take()

		r.dev.HandleMessage(0, midi.ControlChange(9, code, 0))
		got := r.out.take()
		if len(got) != 2 {
			t.Fatalf("controller %d: expected both values re-sent, got %v", code, got)
		}
		if got[0].value != 63 || got[1].value != 63 {
			t.Errorf("controller %d: unexpected values %v", code, got)
		}
	}
}

func TestDevice_IgnoresOtherPortsAndMessages(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.tick()
	r.out.take()
	r.sensors.level = false
	r.tick()
	r.out.take()
	if !r.dev.Reverse() {
		t.Fatal("expected reverse after switch closed")
	}

	r.dev.HandleMessage(1, midi.ControlChange(0, AllNotesOff, 0))
	r.dev.HandleMessage(1, midi.Reset())
	r.dev.HandleMessage(0, midi.ControlChange(0, 7, 100))
	r.dev.HandleMessage(0, midi.NoteOn(0, 60, 100))

	if got := r.out.take(); len(got) != 0 {
		t.Errorf("ignored messages caused emission %v", got)
	}
	if !r.dev.Reverse() {
		t.Error("ignored messages reset the device")
	}
}

func TestDevice_SystemResetReinitialisesState(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.sensors.pedal = 1
	r.sensors.poti = 0
	r.sensors.level = false
	r.tick()
	r.out.take()
	if !r.dev.Reverse() {
		t.Fatal("expected reverse")
	}

	resets := r.pedal.resets
	r.dev.HandleMessage(0, midi.Reset())

	if r.pedal.resets != resets+1 || r.poti.resets != resets+1 {
		t.Errorf("filters not reset: pedal=%d poti=%d", r.pedal.resets, r.poti.resets)
	}
	if r.dev.Reverse() {
		t.Error("reverse not cleared")
	}
	st := r.dev.Status()
	if st.Controllers[0].Value != 0 || st.Controllers[1].Value != 0 {
		t.Errorf("last values not cleared: %+v", st)
	}

	// Sampling restarts immediately, emission waits for a full event interval.
	updates := r.pedal.updates
	r.dev.Poll()
	if r.pedal.updates != updates+1 {
		t.Error("expected immediate sample after reset")
	}
	if got := r.out.take(); len(got) != 0 {
		t.Errorf("emitted before event interval: %v", got)
	}
	r.tick()
	if got := r.out.take(); len(got) != 2 {
		t.Errorf("expected forced emission after reset, got %v", got)
	}
}

func TestDevice_ReverseAffectsPedalOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pedal = ControllerConfig{Controller: 11, From: 10, To: 90}
	cfg.Poti = ControllerConfig{Controller: 1, From: 10, To: 90}

	const f = 0.25
	run := func(pedal float64, level bool) (uint8, uint8) {
		r := newRig(t, cfg)
		r.sensors.pedal = pedal
		r.sensors.poti = 1 - f
		r.sensors.level = level
		r.tick()
		st := r.dev.Status()
		return st.Controllers[0].Value, st.Controllers[1].Value
	}

	pedalFwd, potiFwd := run(f, true)
	pedalRev, potiRev := run(1-f, false)
	if pedalFwd != pedalRev {
		t.Errorf("pedal: forward %d != reversed %d", pedalFwd, pedalRev)
	}
	if potiFwd != potiRev {
		t.Errorf("potentiometer changed with reverse: %d vs %d", potiFwd, potiRev)
	}
	if want := MapValue(10, 90, f); potiFwd != want {
		t.Errorf("potentiometer = %d, want %d", potiFwd, want)
	}
}

func TestDevice_SwitchTakesEffectOnNextTick(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.sensors.pedal = 0
	r.tick()
	r.out.take()

	r.sensors.level = false
	r.tick()
	got := onlyController(r.out.take(), 11)
	if len(got) != 1 || got[0].value != 127 {
		t.Errorf("expected reversed pedal at 127, got %v", got)
	}
}

func TestDevice_MeasurementRunsFasterThanEvents(t *testing.T) {
	r := newRig(t, DefaultConfig())
	start := r.pedal.updates
	for i := 0; i < 40; i++ {
		r.clock.now += 1000
		r.dev.Poll()
	}
	// 40 ms of polling at 1 ms: immediate sample plus one per 5 ms.
	if got := r.pedal.updates - start; got != 8 {
		t.Errorf("measurement ticks = %d, want 8", got)
	}
	if got := len(r.out.take()); got != 2 {
		t.Errorf("event emissions = %d, want 2 (forced first tick only)", got)
	}
}

func TestDevice_SchedulerSurvivesClockWrap(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.clock.now = 0xFFFFFFFF - 5000
	r.dev.Reset()
	r.out.take()

	r.dev.Poll()
	updates := r.pedal.updates
	r.clock.now += DefaultEventInterval // wraps past zero
	if r.clock.now > 0xFFFF {
		t.Fatalf("clock did not wrap: %d", r.clock.now)
	}
	r.dev.Poll()
	if r.pedal.updates != updates+1 {
		t.Error("measurement did not fire across the wrap")
	}
	if got := r.out.take(); len(got) != 2 {
		t.Errorf("event did not fire across the wrap: %v", got)
	}
}

func TestDevice_PotentiometerIsInvertedBeforeFiltering(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.sensors.poti = 0.2
	r.dev.Poll()
	if got := r.poti.v; got < 0.79 || got > 0.81 {
		t.Errorf("poti filter input = %v, want 0.8", got)
	}
}

func TestDevice_SendErrorsAreNotFatal(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.out.err = errors.New("port gone")
	r.sensors.pedal = 1
	r.tick()
	if got := r.dev.Status().Controllers[0].Value; got != 127 {
		t.Errorf("last value = %d, want 127", got)
	}
}

func TestDevice_ImportPersistsAndPublishes(t *testing.T) {
	r := newRig(t, DefaultConfig())
	published := len(r.status)

	err := r.dev.ImportConfig([]byte(`{"midi":{"channel":3},"potentiometer":{"controller":74}}`))
	if err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}
	if len(r.store.saved) != 1 {
		t.Fatalf("expected one save, got %d", len(r.store.saved))
	}
	want := []byte{2, 11, 0, 127, 74, 0, 127}
	if string(r.store.saved[0]) != string(want) {
		t.Errorf("saved block %v, want %v", r.store.saved[0], want)
	}
	if len(r.status) != published+1 {
		t.Errorf("expected a status publication after import")
	}
	if r.status[len(r.status)-1].Channel != 3 {
		t.Errorf("published channel %d, want 3", r.status[len(r.status)-1].Channel)
	}

	r.tick()
	for _, c := range r.out.take() {
		if c.ch != 2 {
			t.Errorf("message on channel %d, want 2", c.ch)
		}
	}
}

func TestDevice_ImportRejectsNonObject(t *testing.T) {
	r := newRig(t, DefaultConfig())
	if err := r.dev.ImportConfig([]byte(`[1,2,3]`)); !errors.Is(err, ErrNotObject) {
		t.Errorf("expected ErrNotObject, got %v", err)
	}
	if len(r.store.saved) != 0 {
		t.Error("rejected import was persisted")
	}
}

func TestDevice_StoreFailureKeepsImport(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.store.err = errors.New("disk full")
	if err := r.dev.ImportConfig([]byte(`{"pedal":{"to":64}}`)); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}
	if got := r.dev.Config().Pedal.To; got != 64 {
		t.Errorf("pedal.to = %d, want 64", got)
	}
}

func TestDevice_StatusNamesControllers(t *testing.T) {
	r := newRig(t, DefaultConfig())
	st := r.dev.Status()
	if st.Channel != 1 {
		t.Errorf("channel = %d, want 1", st.Channel)
	}
	if len(st.Controllers) != 2 {
		t.Fatalf("got %d controllers", len(st.Controllers))
	}
	if st.Controllers[0].Name != PedalName || st.Controllers[0].Controller != 11 {
		t.Errorf("pedal status %+v", st.Controllers[0])
	}
	if st.Controllers[1].Name != PotiName || st.Controllers[1].Controller != 1 {
		t.Errorf("poti status %+v", st.Controllers[1])
	}
}

func TestDevice_ResyncResendsCurrentValues(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.sensors.pedal = 1
	r.tick()
	r.out.take()

	r.dev.Resync()
	got := r.out.take()
	if len(got) != 2 {
		t.Fatalf("expected both values re-sent, got %v", got)
	}
	if got[0] != (cc{0, 11, 127}) {
		t.Errorf("pedal resend = %v", got[0])
	}

	r.tick()
	if got := r.out.take(); len(got) != 0 {
		t.Errorf("resync left values dirty: %v", got)
	}
}
