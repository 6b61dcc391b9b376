// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"bytes"
	"errors"
	"testing"
)

// feed runs data through d and collects frames and errors.
func feed(d *Decoder, data []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

func mustCommand(t *testing.T, tag uint8, fn Function, body []byte) []byte {
	t.Helper()
	frame, err := EncodeCommand(tag, fn, body)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	return frame
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder(DefaultBufferCapacity)
	feed(d, []byte{StartByte, 0x21, byte(CmdRemove)})
	if d.State() != StateWaitSizeHi {
		t.Fatalf("state = %s, want WaitSizeHi", d.State())
	}

	d.Reset()
	if d.State() != StateWaitStart {
		t.Errorf("state after Reset = %s, want WaitStart", d.State())
	}
	if d.Active(false) {
		t.Error("decoder active after Reset")
	}
}

func TestDecoder_FormatHeader(t *testing.T) {
	d := NewDecoder(DefaultBufferCapacity)
	data := []byte{0x02, 0x20, 0x61, 0x00, 0x00, 0x00, 0x30, 0x83}

	frames, errs := feed(d, data)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Function != CmdFormat || f.Tag != 0 || f.Size != 0 || f.Body != nil {
		t.Errorf("frame = %+v", f)
	}
	if d.State() != StateWaitStart {
		t.Errorf("state = %s, want WaitStart", d.State())
	}
}

func TestDecoder_Ping(t *testing.T) {
	d := NewDecoder(DefaultBufferCapacity)
	frames, errs := feed(d, []byte{0x02, 0x25, 0x06, 0x00, 0x03, 0x5A, 0x3D, 0x8A})
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("frames=%d errs=%v", len(frames), errs)
	}
	if frames[0].Tag != 5 || frames[0].AckTimeout() != 4 {
		t.Errorf("tag=%d timeout=%d, want 5 and 4", frames[0].Tag, frames[0].AckTimeout())
	}
}

func TestDecoder_RoundTrip(t *testing.T) {
	tests := []struct {
		fn      Function
		minBody int
		maxBody int
	}{
		{CmdSetTime, 6, 6},
		{CmdList, 1, 1},
		{CmdRemove, 1, DefaultBufferCapacity - 2},
		{CmdRename, 4, DefaultBufferCapacity - 2},
	}

	for _, tt := range tests {
		t.Run(tt.fn.String(), func(t *testing.T) {
			d := NewDecoder(DefaultBufferCapacity)
			for n := tt.minBody; n <= tt.maxBody; n++ {
				body := make([]byte, n)
				for i := range body {
					body[i] = byte(i*7 + n)
				}
				tag := uint8(n % 32)

				frames, errs := feed(d, mustCommand(t, tag, tt.fn, body))
				if len(errs) != 0 {
					t.Fatalf("body %d: errors %v", n, errs)
				}
				if len(frames) != 1 {
					t.Fatalf("body %d: got %d frames", n, len(frames))
				}
				f := frames[0]
				if f.Function != tt.fn || f.Tag != tag || !bytes.Equal(f.Body, body) {
					t.Fatalf("body %d: frame %+v", n, f)
				}
			}
		})
	}
}

func TestDecoder_NoiseWithoutStart(t *testing.T) {
	d := NewDecoder(DefaultBufferCapacity)
	noise := make([]byte, 0, 255)
	for b := 0; b < 256; b++ {
		if b != StartByte {
			noise = append(noise, byte(b))
		}
	}

	frames, errs := feed(d, noise)
	if len(frames) != 0 || len(errs) != 0 {
		t.Errorf("frames=%d errs=%v, want none", len(frames), errs)
	}
	if d.State() != StateWaitStart {
		t.Errorf("state = %s, want WaitStart", d.State())
	}
}

func TestDecoder_FramingDropsAreSilent(t *testing.T) {
	valid := NewFormat(3)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		state  ReceiveState
	}{
		{"tag below offset", func(b []byte) []byte { b[1] = 0x1F; return b }, StateWaitTag},
		{"tag above range", func(b []byte) []byte { b[1] = 0x40; return b }, StateWaitTag},
		{"reply code as command", func(b []byte) []byte { b[2] = byte(RplTimeSet); return b }, StateWaitFunction},
		{"nak as command", func(b []byte) []byte { b[2] = byte(FuncNak); return b }, StateWaitFunction},
		{"header checksum hi", func(b []byte) []byte { b[6] ^= 0x01; return b }, StateWaitHeaderChecksumHi},
		{"header checksum lo", func(b []byte) []byte { b[7] ^= 0x80; return b }, StateWaitHeaderChecksumLo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(DefaultBufferCapacity)
			data := tt.mutate(append([]byte(nil), valid...))

			frames, errs := feed(d, data)
			if len(frames) != 0 {
				t.Fatalf("got %d frames, want 0", len(frames))
			}
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
			}
			var fe *FramingError
			if !errors.As(errs[0], &fe) {
				t.Fatalf("error %v is not a FramingError", errs[0])
			}
			if fe.State != tt.state {
				t.Errorf("dropped in %s, want %s", fe.State, tt.state)
			}
			if errors.Is(errs[0], ErrBodyChecksum) {
				t.Error("framing drop reported as body checksum error")
			}
			if d.State() != StateWaitStart {
				t.Errorf("state = %s, want WaitStart", d.State())
			}
		})
	}
}

func TestDecoder_SizeBounds(t *testing.T) {
	tests := []struct {
		name string
		fn   Function
		size uint32
		ok   bool
	}{
		{"set time exact", CmdSetTime, 8, true},
		{"set time short", CmdSetTime, 7, false},
		{"set time long", CmdSetTime, 9, false},
		{"list exact", CmdList, 3, true},
		{"list long", CmdList, 4, false},
		{"remove min", CmdRemove, 3, true},
		{"remove below", CmdRemove, 2, false},
		{"remove capacity", CmdRemove, DefaultBufferCapacity, true},
		{"remove above capacity", CmdRemove, DefaultBufferCapacity + 1, false},
		{"rename min", CmdRename, 6, true},
		{"rename below", CmdRename, 5, false},
		{"rename above capacity", CmdRename, 0xFFFFFF, false},
		{"format zero", CmdFormat, 0, true},
		{"format nonzero", CmdFormat, 1, false},
		{"file min", CmdFile, 10, true},
		{"file below", CmdFile, 9, false},
		{"file large", CmdFile, 0xFFFFFF, true},
		{"ack filler", FuncAck, 0x00005A, true},
		{"ack bad filler", FuncAck, 0x00005B, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(DefaultBufferCapacity)
			_, errs := feed(d, EncodeHeader(ToDevice, 1, tt.fn, tt.size))

			if tt.ok && len(errs) != 0 {
				t.Errorf("header rejected: %v", errs)
			}
			if !tt.ok {
				if len(errs) != 1 || !IsFramingError(errs[0]) {
					t.Errorf("header accepted, errs=%v", errs)
				}
				if d.State() != StateWaitStart {
					t.Errorf("state = %s, want WaitStart", d.State())
				}
			}
		})
	}
}

func TestDecoder_SmallCapacityRejectsLargeBody(t *testing.T) {
	d := NewDecoder(16)
	frame := mustCommand(t, 0, CmdRemove, appendName(nil, "0123456789abcdef"))

	frames, errs := feed(d, frame)
	if len(frames) != 0 {
		t.Fatal("oversized body accepted")
	}
	if len(errs) == 0 || !IsFramingError(errs[0]) {
		t.Fatalf("errs = %v, want a framing drop", errs)
	}
	if cap(d.buf) != 14 {
		t.Errorf("buffer capacity grew to %d", cap(d.buf))
	}
}

func TestDecoder_BodyChecksumMismatch(t *testing.T) {
	d := NewDecoder(DefaultBufferCapacity)
	frame := mustCommand(t, 9, CmdRemove, appendName(nil, "abcde"))
	frame[len(frame)-1] ^= 0xFF

	frames, errs := feed(d, frame)
	if len(frames) != 0 {
		t.Fatal("corrupted frame accepted")
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrBodyChecksum) {
		t.Fatalf("errs = %v, want ErrBodyChecksum", errs)
	}
	var ce *ChecksumError
	if !errors.As(errs[0], &ce) || ce.Tag != 9 || ce.Function != CmdRemove {
		t.Errorf("checksum error = %+v", ce)
	}
}

// A corrupted checksum high byte aborts at once; the low byte is then noise.
func TestDecoder_BodyChecksumHiMismatchResyncs(t *testing.T) {
	d := NewDecoder(DefaultBufferCapacity)
	bad := mustCommand(t, 1, CmdList, []byte{0x03})
	bad[len(bad)-2] ^= 0x10

	data := append(bad, NewFormat(2)...)
	frames, errs := feed(d, data)
	if len(errs) != 1 || !errors.Is(errs[0], ErrBodyChecksum) {
		t.Fatalf("errs = %v", errs)
	}
	if len(frames) != 1 || frames[0].Function != CmdFormat || frames[0].Tag != 2 {
		t.Fatalf("frames = %+v, want the following FORMAT", frames)
	}
}

func TestDecoder_StartByteInsideBody(t *testing.T) {
	d := NewDecoder(DefaultBufferCapacity)
	body := []byte{4, StartByte, StartByte, 'x', StartByte}

	frames, errs := feed(d, mustCommand(t, 0, CmdRemove, body))
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("frames=%d errs=%v", len(frames), errs)
	}
	if !bytes.Equal(frames[0].Body, body) {
		t.Errorf("body = %X, want %X", frames[0].Body, body)
	}
}

func TestDecoder_Active(t *testing.T) {
	d := NewDecoder(DefaultBufferCapacity)
	frame := mustCommand(t, 0, CmdList, []byte{0x01})

	for i, b := range frame {
		d.DecodeByte(b)
		switch {
		case i == len(frame)-1:
			if d.Active(false) || d.Active(true) {
				t.Errorf("byte %d: still active after completion", i)
			}
		case i < HeaderSize-1:
			if !d.Active(false) || d.Active(true) {
				t.Errorf("byte %d: active(false)=%v active(true)=%v", i, d.Active(false), d.Active(true))
			}
		default:
			if !d.Active(true) {
				t.Errorf("byte %d: not conservatively active inside the body", i)
			}
		}
	}
}

func TestDecoder_BackToBackFrames(t *testing.T) {
	d := NewDecoder(DefaultBufferCapacity)
	var data []byte
	data = append(data, NewPing(0, 100)...)
	data = append(data, NewList(1, ListChecksum)...)
	data = append(data, 'h', 'i', '\n')
	data = append(data, NewSetTime(2, Timestamp{Day: 1, Month: 2, Year: 3, Hour: 4, Minute: 5, Second: 6})...)

	frames, errs := feed(d, data)
	if len(errs) != 0 {
		t.Fatalf("errors: %v", errs)
	}
	want := []Function{FuncAck, CmdList, CmdSetTime}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i, fn := range want {
		if frames[i].Function != fn || frames[i].Tag != uint8(i) {
			t.Errorf("frame %d = %s tag %d", i, frames[i].Function, frames[i].Tag)
		}
	}
}

func TestReceiveState_String(t *testing.T) {
	if StateWaitBodyChecksumLo.String() != "WaitBodyChecksumLo" {
		t.Errorf("got %q", StateWaitBodyChecksumLo.String())
	}
	if ReceiveState(99).String() != "ReceiveState(99)" {
		t.Errorf("got %q", ReceiveState(99).String())
	}
}
