package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Display names used by the export and status documents.
const (
	PedalName = "Expression pedal"
	PotiName  = "Potentiometer"
)

// ErrNotObject is returned when an imported document is not a JSON object.
var ErrNotObject = errors.New("config document must be a JSON object")

type midiDoc struct {
	Channel int `json:"channel"`
}

type controllerDoc struct {
	Controller  uint8  `json:"controller"`
	From        uint8  `json:"from"`
	To          uint8  `json:"to"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type configDoc struct {
	MIDI  midiDoc       `json:"midi"`
	Pedal controllerDoc `json:"pedal"`
	Poti  controllerDoc `json:"potentiometer"`
}

// ExportDocument renders c as the external configuration document. The
// channel is presented 1-based.
func ExportDocument(c Config) ([]byte, error) {
	doc := configDoc{
		MIDI: midiDoc{Channel: int(c.Channel) + 1},
		Pedal: controllerDoc{
			Controller:  c.Pedal.Controller,
			From:        c.Pedal.From,
			To:          c.Pedal.To,
			Name:        PedalName,
			Description: "Controller sent by the expression pedal. The pedal position is mapped from 'from' (heel) to 'to' (toe); the reverse switch swaps the ends.",
		},
		Poti: controllerDoc{
			Controller:  c.Poti.Controller,
			From:        c.Poti.From,
			To:          c.Poti.To,
			Name:        PotiName,
			Description: "Controller sent by the potentiometer. The knob is mapped from 'from' (fully left) to 'to' (fully right).",
		},
	}
	return json.Marshal(doc)
}

// ApplyDocument imports doc into c. Only fields that are present, non-null
// and numeric are applied; everything else keeps its current value. Values
// are clamped, never rejected. The only error is a document that is not a
// JSON object, in which case c is left untouched.
func ApplyDocument(c *Config, doc []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(doc, &top); err != nil {
		return fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if top == nil {
		return ErrNotObject
	}

	next := *c
	if group, ok := readGroup(top["midi"]); ok {
		if v, ok := readInt(group["channel"]); ok {
			next.Channel = clampChannel(v)
		}
	}
	if group, ok := readGroup(top["pedal"]); ok {
		applyController(&next.Pedal, group)
	}
	if group, ok := readGroup(top["potentiometer"]); ok {
		applyController(&next.Poti, group)
	}
	*c = next
	return nil
}

func applyController(cc *ControllerConfig, group map[string]json.RawMessage) {
	if v, ok := readInt(group["controller"]); ok {
		cc.Controller = clampData(v)
	}
	if v, ok := readInt(group["from"]); ok {
		cc.From = clampData(v)
	}
	if v, ok := readInt(group["to"]); ok {
		cc.To = clampData(v)
	}
}

func readGroup(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if isNull(raw) {
		return nil, false
	}
	var group map[string]json.RawMessage
	if err := json.Unmarshal(raw, &group); err != nil || group == nil {
		return nil, false
	}
	return group, true
}

// readInt accepts any JSON number and truncates it toward zero. Magnitudes
// are bounded first so huge values, even past float64 range, still clamp
// instead of overflowing.
func readInt(raw json.RawMessage) (int, bool) {
	if isNull(raw) {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	// Out-of-range literals parse to +-Inf with ErrRange.
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	const bound = 1 << 16
	f = max(-bound, min(f, bound))
	return int(f), true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// FieldDescriptor describes one editable setting for a UI.
type FieldDescriptor struct {
	Path  string `json:"path"`
	Type  string `json:"type"`
	Label string `json:"label"`
	Min   *int   `json:"min,omitempty"`
	Max   *int   `json:"max,omitempty"`
	Input string `json:"input,omitempty"`
}

func intp(v int) *int { return &v }

// SchemaFields returns the ordered settings schema. Paths match the keys of the
// configuration document.
func SchemaFields() []FieldDescriptor {
	return []FieldDescriptor{
		{Path: "midi/channel", Type: "number", Label: "MIDI channel", Min: intp(1), Max: intp(MaxChannel + 1), Input: "select"},
		{Path: "pedal/controller", Type: "controller", Label: PedalName + " controller"},
		{Path: "pedal/from", Type: "number", Label: PedalName + " from", Min: intp(0), Max: intp(MaxData)},
		{Path: "pedal/to", Type: "number", Label: PedalName + " to", Min: intp(0), Max: intp(MaxData)},
		{Path: "potentiometer/controller", Type: "controller", Label: PotiName + " controller"},
		{Path: "potentiometer/from", Type: "number", Label: PotiName + " from", Min: intp(0), Max: intp(MaxData)},
		{Path: "potentiometer/to", Type: "number", Label: PotiName + " to", Min: intp(0), Max: intp(MaxData)},
	}
}

// ControllerStatus is the live state of one input.
type ControllerStatus struct {
	Name       string `json:"name"`
	Controller uint8  `json:"controller"`
	Value      uint8  `json:"value"`
}

// Status is a read-only diagnostics snapshot. Channel is 1-based.
type Status struct {
	Channel     int                `json:"channel"`
	Reverse     bool               `json:"reverse"`
	Controllers []ControllerStatus `json:"controllers"`
}
