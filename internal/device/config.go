package device

import "fmt"

const (
	// MaxChannel is the highest zero-based MIDI channel.
	MaxChannel = 15
	// MaxData is the highest 7-bit MIDI data value.
	MaxData = 127

	// ConfigSize is the size of the persisted configuration block.
	ConfigSize = 7
)

// ControllerConfig maps one analog input onto a MIDI controller.
// From may be greater than To, which inverts the response.
type ControllerConfig struct {
	Controller uint8
	From       uint8
	To         uint8
}

// Config is the persisted device configuration. Channel is zero-based.
type Config struct {
	Channel uint8
	Pedal   ControllerConfig
	Poti    ControllerConfig
}

// DefaultConfig returns the compiled-in configuration: channel 1, pedal on
// CC 11 (expression) and potentiometer on CC 1 (modulation), full range.
func DefaultConfig() Config {
	return Config{
		Channel: 0,
		Pedal:   ControllerConfig{Controller: 11, From: 0, To: MaxData},
		Poti:    ControllerConfig{Controller: 1, From: 0, To: MaxData},
	}
}

// MarshalBinary encodes the configuration as its fixed-size block:
//
//	[channel][pedal ctrl][pedal from][pedal to][poti ctrl][poti from][poti to]
func (c Config) MarshalBinary() ([]byte, error) {
	return []byte{
		c.Channel,
		c.Pedal.Controller, c.Pedal.From, c.Pedal.To,
		c.Poti.Controller, c.Poti.From, c.Poti.To,
	}, nil
}

// UnmarshalBinary restores a block written by MarshalBinary. Out-of-range
// bytes are clamped so a damaged block still yields a usable configuration.
func (c *Config) UnmarshalBinary(b []byte) error {
	if len(b) != ConfigSize {
		return fmt.Errorf("config block: got %d bytes, want %d", len(b), ConfigSize)
	}
	c.Channel = min(b[0], MaxChannel)
	c.Pedal = ControllerConfig{
		Controller: min(b[1], MaxData),
		From:       min(b[2], MaxData),
		To:         min(b[3], MaxData),
	}
	c.Poti = ControllerConfig{
		Controller: min(b[4], MaxData),
		From:       min(b[5], MaxData),
		To:         min(b[6], MaxData),
	}
	return nil
}

// clampData clamps an imported value into 0..127.
func clampData(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > MaxData {
		return MaxData
	}
	return uint8(v)
}

// clampChannel clamps a 1-based channel into 1..16 and returns it zero-based.
func clampChannel(v int) uint8 {
	if v < 1 {
		v = 1
	}
	if v > MaxChannel+1 {
		v = MaxChannel + 1
	}
	return uint8(v - 1)
}
