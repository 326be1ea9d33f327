// Package settings loads the daemon's YAML settings file.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the top-level YAML configuration of the daemon. Device
// configuration (channel and controller mapping) is not part of it; that
// lives in the state file and is edited over HTTP.
type Settings struct {
	Serial    SerialSettings    `yaml:"serial"`
	MIDI      MIDISettings      `yaml:"midi"`
	Scheduler SchedulerSettings `yaml:"scheduler"`
	Filter    FilterSettings    `yaml:"filter"`
	State     StateSettings     `yaml:"state"`
	HTTP      HTTPSettings      `yaml:"http"`
	Logging   LoggingSettings   `yaml:"logging"`
}

type SerialSettings struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type MIDISettings struct {
	Preferred []string `yaml:"preferred"`
	Excluded  []string `yaml:"excluded"`
	RescanMS  int      `yaml:"rescan_ms"`
}

// SchedulerSettings are in microseconds.
type SchedulerSettings struct {
	MeasureUS int `yaml:"measure_us"`
	EventUS   int `yaml:"event_us"`
	IdleUS    int `yaml:"idle_us"`
}

type FilterSettings struct {
	Threshold float64 `yaml:"threshold"`
	KFast     float64 `yaml:"k_fast"`
	KSlow     float64 `yaml:"k_slow"`
	Edge      float64 `yaml:"edge"`
}

type StateSettings struct {
	File string `yaml:"file"`
}

type HTTPSettings struct {
	// Listen is the HTTP address; empty disables the API.
	Listen string `yaml:"listen"`
}

type LoggingSettings struct {
	Level string `yaml:"level"`
}

// Default returns fully populated settings.
func Default() Settings {
	return Settings{
		Serial: SerialSettings{
			Device: "/dev/ttyACM0",
			Baud:   115200,
		},
		MIDI: MIDISettings{
			Excluded: []string{"Midi Through", "Through Port", "Dummy"},
			RescanMS: 1000,
		},
		Scheduler: SchedulerSettings{
			MeasureUS: 5000,
			EventUS:   20000,
			IdleUS:    500,
		},
		Filter: FilterSettings{
			Threshold: 0.02,
			KFast:     0.5,
			KSlow:     0.05,
			Edge:      0.01,
		},
		State: StateSettings{
			File: "~/.local/state/pedalmidi/config.bin",
		},
		HTTP: HTTPSettings{
			Listen: "127.0.0.1:8340",
		},
		Logging: LoggingSettings{
			Level: "info",
		},
	}
}

// LoadFile reads a YAML settings file on top of the defaults. Unknown fields
// and trailing documents are rejected.
func LoadFile(path string) (Settings, error) {
	if path == "" {
		return Settings{}, errors.New("settings path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}

	s := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		return Settings{}, fmt.Errorf("decode settings yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Settings{}, errors.New("decode settings yaml: unexpected trailing document")
	}
	return s, nil
}

// FlagOverrides carries values set on the command line. Nil pointers are
// left alone; non-nil ones are applied even when zero.
type FlagOverrides struct {
	SerialDevice *string
	SerialBaud   *int
	HTTPListen   *string
	StateFile    *string
	LogLevel     *string
}

// Apply merges the overrides into s.
func (o FlagOverrides) Apply(s *Settings) {
	if s == nil {
		return
	}
	if o.SerialDevice != nil {
		s.Serial.Device = *o.SerialDevice
	}
	if o.SerialBaud != nil {
		s.Serial.Baud = *o.SerialBaud
	}
	if o.HTTPListen != nil {
		s.HTTP.Listen = *o.HTTPListen
	}
	if o.StateFile != nil {
		s.State.File = *o.StateFile
	}
	if o.LogLevel != nil {
		s.Logging.Level = *o.LogLevel
	}
}

// Validate checks the settings after defaults, file and overrides are
// applied.
func (s *Settings) Validate() error {
	if s.Serial.Device == "" {
		return errors.New("serial.device must not be empty")
	}
	if s.Serial.Baud <= 0 {
		return errors.New("serial.baud must be > 0")
	}
	if s.MIDI.RescanMS <= 0 {
		return errors.New("midi.rescan_ms must be > 0")
	}
	if s.Scheduler.MeasureUS <= 0 || s.Scheduler.EventUS <= 0 {
		return errors.New("scheduler.measure_us and scheduler.event_us must be > 0")
	}
	if int64(s.Scheduler.MeasureUS) > math.MaxUint32 || int64(s.Scheduler.EventUS) > math.MaxUint32 {
		return fmt.Errorf("scheduler.measure_us and scheduler.event_us must be <= %d", uint32(math.MaxUint32))
	}
	if s.Scheduler.MeasureUS >= s.Scheduler.EventUS {
		return errors.New("scheduler.measure_us must be < scheduler.event_us")
	}
	if s.Scheduler.IdleUS < 0 {
		return errors.New("scheduler.idle_us must be >= 0")
	}
	if s.Filter.KFast <= 0 || s.Filter.KFast > 1 || s.Filter.KSlow <= 0 || s.Filter.KSlow > 1 {
		return errors.New("filter.k_fast and filter.k_slow must be in (0, 1]")
	}
	if s.Filter.Threshold < 0 || s.Filter.Edge < 0 || s.Filter.Edge >= 0.5 {
		return errors.New("filter.threshold must be >= 0 and filter.edge in [0, 0.5)")
	}
	if s.State.File == "" {
		return errors.New("state.file must not be empty")
	}
	if _, err := ParseLogLevel(s.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// RescanInterval returns midi.rescan_ms as a duration.
func (s *Settings) RescanInterval() time.Duration {
	return time.Duration(s.MIDI.RescanMS) * time.Millisecond
}

// Idle returns scheduler.idle_us as a duration.
func (s *Settings) Idle() time.Duration {
	return time.Duration(s.Scheduler.IdleUS) * time.Microsecond
}

// ExpandPath expands a leading "~" using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
