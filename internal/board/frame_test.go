package board

import (
	"bytes"
	"errors"
	"testing"
)

func TestSample_EncodeLayout(t *testing.T) {
	got := Sample{Pedal: 0x3FF, Poti: 0x102, Switch: true}.Encode()
	want := []byte{0xAA, 0x55, 0x06, 0x20, 0x03, 0xFF, 0x01, 0x02, 0x01, 0}
	want[9] = 0x06 ^ 0x20 ^ 0x03 ^ 0xFF ^ 0x01 ^ 0x02 ^ 0x01
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % x, want % x", got, want)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	samples := []Sample{
		{},
		{Pedal: MaxADC, Poti: MaxADC, Switch: true},
		{Pedal: 512, Poti: 3, Switch: false},
	}
	for _, want := range samples {
		got, err := Decode(want.Encode())
		if err != nil {
			t.Fatalf("Decode(%+v): %v", want, err)
		}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	}
}

func TestDecode_Rejects(t *testing.T) {
	good := Sample{Pedal: 100, Poti: 200}.Encode()

	badCks := append([]byte(nil), good...)
	badCks[len(badCks)-1] ^= 0xFF

	badCmd := append([]byte(nil), good...)
	badCmd[3] = 0x10
	badCmd[len(badCmd)-1] ^= 0x10 ^ 0x20

	badLen := append([]byte(nil), good...)
	badLen[2] = 9

	for name, frame := range map[string][]byte{
		"checksum": badCks,
		"command":  badCmd,
		"length":   badLen,
		"short":    good[:6],
		"header":   append([]byte{0x00}, good[1:]...),
	} {
		if _, err := Decode(frame); !errors.Is(err, ErrBadFrame) {
			t.Errorf("%s: expected ErrBadFrame, got %v", name, err)
		}
	}
}

func TestDecoder_ResynchronisesInStream(t *testing.T) {
	a := Sample{Pedal: 10, Poti: 20, Switch: true}
	b := Sample{Pedal: 1000, Poti: 0}
	corrupt := a.Encode()
	corrupt[len(corrupt)-1] ^= 0x01

	var stream []byte
	stream = append(stream, 0x00, 0x13, SOF0)
	stream = append(stream, a.Encode()...)
	stream = append(stream, corrupt...)
	stream = append(stream, 0x55, 0xAA)
	stream = append(stream, b.Encode()...)

	var d Decoder
	var got []Sample
	// Feed one byte at a time to exercise reassembly across reads.
	for i := range stream {
		d.Feed(stream[i:i+1], func(s Sample) { got = append(got, s) })
	}
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("decoded %+v", got)
	}
	if d.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", d.Rejected())
	}
}

func TestDecoder_ClampsOutOfRangeADC(t *testing.T) {
	frame := []byte{SOF0, SOF1, 6, CmdSample, 0xFF, 0xFF, 0x04, 0x00, 0}
	cks := byte(0)
	for _, b := range frame[2:] {
		cks ^= b
	}
	frame = append(frame, cks)
	s, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.Pedal != MaxADC || s.Poti != MaxADC {
		t.Errorf("got %+v, want both clamped to %d", s, MaxADC)
	}
}
