package board

import (
	"errors"
	"fmt"
)

const (
	SOF0      = 0xAA
	SOF1      = 0x55
	CmdSample = 0x20

	// MaxADC is the full-scale reading of the board's 10-bit converter.
	MaxADC = 1023

	payloadSize = 5
	frameSize   = 4 + payloadSize + 1
)

// ErrBadFrame is returned for frames with a wrong header, length, command or
// checksum.
var ErrBadFrame = errors.New("bad frame")

// Sample is one reading of all inputs on the board.
type Sample struct {
	Pedal  uint16 // 0..MaxADC
	Poti   uint16 // 0..MaxADC
	Switch bool   // raw pin level, false = closed
}

// Encode builds the on-wire representation:
//
//	[SOF0][SOF1][LEN][CMD][pedalHi][pedalLo][potiHi][potiLo][switch][CKS]
//
// LEN counts CMD plus payload; CKS is the XOR of LEN, CMD and the payload.
func (s Sample) Encode() []byte {
	var sw byte
	if s.Switch {
		sw = 1
	}
	pedal, poti := min(s.Pedal, MaxADC), min(s.Poti, MaxADC)
	payload := []byte{byte(pedal >> 8), byte(pedal), byte(poti >> 8), byte(poti), sw}

	length := byte(len(payload) + 1)
	cks := length ^ CmdSample
	for _, b := range payload {
		cks ^= b
	}

	out := make([]byte, 0, frameSize)
	out = append(out, SOF0, SOF1, length, CmdSample)
	out = append(out, payload...)
	return append(out, cks)
}

// Decode parses one complete frame.
func Decode(frame []byte) (Sample, error) {
	var d Decoder
	var got []Sample
	d.Feed(frame, func(s Sample) { got = append(got, s) })
	if len(got) != 1 || len(frame) != frameSize {
		return Sample{}, fmt.Errorf("%w: %x", ErrBadFrame, frame)
	}
	return got[0], nil
}

type decodeState int

const (
	stateSOF0 decodeState = iota
	stateSOF1
	stateLen
	stateBody
	stateChecksum
)

// Decoder reassembles frames from a byte stream. It resynchronises on the
// start-of-frame marker after any malformed frame.
type Decoder struct {
	state    decodeState
	body     [payloadSize + 1]byte
	n        int
	cks      byte
	rejected uint64
}

// Feed consumes p and calls emit for every valid frame.
func (d *Decoder) Feed(p []byte, emit func(Sample)) {
	for _, b := range p {
		switch d.state {
		case stateSOF0:
			if b == SOF0 {
				d.state = stateSOF1
			}
		case stateSOF1:
			switch b {
			case SOF1:
				d.state = stateLen
			case SOF0:
				// repeated marker, keep waiting
			default:
				d.state = stateSOF0
			}
		case stateLen:
			if b != payloadSize+1 {
				d.reject(b)
				continue
			}
			d.cks = b
			d.n = 0
			d.state = stateBody
		case stateBody:
			d.body[d.n] = b
			d.cks ^= b
			d.n++
			if d.n == len(d.body) {
				d.state = stateChecksum
			}
		case stateChecksum:
			if b != d.cks || d.body[0] != CmdSample {
				d.reject(b)
				continue
			}
			d.state = stateSOF0
			emit(Sample{
				Pedal:  min(uint16(d.body[1])<<8|uint16(d.body[2]), MaxADC),
				Poti:   min(uint16(d.body[3])<<8|uint16(d.body[4]), MaxADC),
				Switch: d.body[5] != 0,
			})
		}
	}
}

// reject drops the current frame. The offending byte may itself start the
// next frame.
func (d *Decoder) reject(b byte) {
	d.rejected++
	d.state = stateSOF0
	if b == SOF0 {
		d.state = stateSOF1
	}
}

// Rejected returns the number of malformed frames seen so far.
func (d *Decoder) Rejected() uint64 { return d.rejected }
