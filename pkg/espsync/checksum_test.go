// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"bytes"
	"testing"
)

func TestChecksum16_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"empty", nil, 0x0000},
		{"abcde", []byte("abcde"), 0xC3EF},
		{"format header", []byte{0x02, 0x20, 0x61, 0x00, 0x00, 0x00}, 0x3083},
		{"time set reply header", []byte{0x02, 0x40, 0x70, 0x00, 0x00, 0x00}, 0x0CB2},
		{"ping header", []byte{0x02, 0x25, 0x06, 0x00, 0x03, 0x5A}, 0x3D8A},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum16(tt.data); got != tt.expected {
				t.Errorf("Checksum16(%X) = 0x%04X, want 0x%04X", tt.data, got, tt.expected)
			}
		})
	}
}

func TestChecksum32_KnownValues(t *testing.T) {
	if got := Checksum32(nil); got != 1 {
		t.Errorf("empty Adler-32 = 0x%08X, want 0x00000001", got)
	}
	if got := Checksum32([]byte("Wikipedia")); got != 0x11E60398 {
		t.Errorf("Adler-32(Wikipedia) = 0x%08X, want 0x11E60398", got)
	}
}

func TestChecksum_ByteAtATimeMatchesBulk(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	for _, kind := range []ChecksumKind{KindFletcher16, KindAdler32} {
		bulk := NewChecksum(kind)
		bulk.Write(data)

		single := NewChecksum(kind)
		for _, b := range data {
			single.Add(b)
		}

		if bulk.Sum() != single.Sum() {
			t.Errorf("kind %d: bulk 0x%X != byte-wise 0x%X", kind, bulk.Sum(), single.Sum())
		}
	}
}

func TestChecksum_Deterministic(t *testing.T) {
	data := []byte{0x02, 0x3F, 0x63, 0x00, 0x00, 0x08}
	first := Checksum16(data)
	for i := 0; i < 10; i++ {
		if got := Checksum16(data); got != first {
			t.Fatalf("run %d: 0x%04X != 0x%04X", i, got, first)
		}
	}
}

// Every single-byte change in a header span must change its checksum.
func TestChecksum16_DetectsSingleByteCorruption(t *testing.T) {
	header := []byte{0x02, 0x27, 0x64, 0x00, 0x00, 0x0C}
	orig := Checksum16(header)

	corrupt := make([]byte, len(header))
	for pos := range header {
		for v := 0; v < 256; v++ {
			if byte(v) == header[pos] {
				continue
			}
			copy(corrupt, header)
			corrupt[pos] = byte(v)
			if Checksum16(corrupt) == orig {
				t.Fatalf("corruption at %d to 0x%02X not detected", pos, v)
			}
		}
	}
}

func TestChecksum_AppendSumBigEndian(t *testing.T) {
	var f Fletcher16
	f.Write([]byte("abcde"))
	if got := f.AppendSum(nil); !bytes.Equal(got, []byte{0xC3, 0xEF}) {
		t.Errorf("Fletcher16 AppendSum = %X, want C3EF", got)
	}
	if f.Size() != 2 {
		t.Errorf("Fletcher16 Size = %d, want 2", f.Size())
	}

	a := NewAdler32()
	a.Write([]byte("Wikipedia"))
	if got := a.AppendSum(nil); !bytes.Equal(got, []byte{0x11, 0xE6, 0x03, 0x98}) {
		t.Errorf("Adler32 AppendSum = %X, want 11E60398", got)
	}
	if a.Size() != 4 {
		t.Errorf("Adler32 Size = %d, want 4", a.Size())
	}
}

// A fresh context per span: reusing bytes from one span must not leak into
// the next.
func TestChecksum_FreshContextPerSpan(t *testing.T) {
	first := NewChecksum(KindAdler32)
	first.Write([]byte("span one"))

	second := NewChecksum(KindAdler32)
	second.Write([]byte("span two"))

	if second.Sum() != Checksum32([]byte("span two")) {
		t.Error("second span checksum depends on the first")
	}
}
