// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"hash"
	"hash/adler32"
)

// ChecksumKind selects the running checksum used for a span.
type ChecksumKind int

const (
	// KindFletcher16 covers headers and small command bodies.
	KindFletcher16 ChecksumKind = iota
	// KindAdler32 covers reply bodies and streamed file bodies.
	KindAdler32
)

// Checksum is a running accumulator over exactly one span.
// A context is created at the start of the span, fed byte by byte, read once
// at the end and then dropped.
type Checksum interface {
	Add(b byte)
	Write(p []byte) (int, error)
	Sum() uint32
	// Size is the number of checksum bytes on the wire.
	Size() int
	// AppendSum appends the big-endian wire encoding of Sum to dst.
	AppendSum(dst []byte) []byte
}

// NewChecksum returns a fresh context of the given kind.
func NewChecksum(kind ChecksumKind) Checksum {
	if kind == KindAdler32 {
		return NewAdler32()
	}
	return &Fletcher16{}
}

// Fletcher16 is the 16-bit dual-lane accumulator with both lanes mod 256.
// The zero value is ready to use.
type Fletcher16 struct {
	sum1 uint8
	sum2 uint8
}

// Add folds one byte into the accumulator
func (f *Fletcher16) Add(b byte) {
	f.sum1 += b
	f.sum2 += f.sum1
}

func (f *Fletcher16) Write(p []byte) (int, error) {
	for _, b := range p {
		f.Add(b)
	}
	return len(p), nil
}

// Sum16 returns (sum2 << 8) | sum1
func (f *Fletcher16) Sum16() uint16 {
	return uint16(f.sum2)<<8 | uint16(f.sum1)
}

func (f *Fletcher16) Sum() uint32 { return uint32(f.Sum16()) }

func (f *Fletcher16) Size() int { return 2 }

func (f *Fletcher16) AppendSum(dst []byte) []byte {
	return append(dst, f.sum2, f.sum1)
}

// Adler32 is the 32-bit dual-lane accumulator (modulus 65521, seeded (1, 0)).
type Adler32 struct {
	h   hash.Hash32
	one [1]byte
}

// NewAdler32 creates a fresh Adler-32 context.
func NewAdler32() *Adler32 {
	return &Adler32{h: adler32.New()}
}

// Add folds one byte into the accumulator
func (a *Adler32) Add(b byte) {
	a.one[0] = b
	a.h.Write(a.one[:])
}

func (a *Adler32) Write(p []byte) (int, error) {
	return a.h.Write(p)
}

// Sum returns (hi << 16) | lo
func (a *Adler32) Sum() uint32 { return a.h.Sum32() }

func (a *Adler32) Size() int { return 4 }

func (a *Adler32) AppendSum(dst []byte) []byte {
	s := a.h.Sum32()
	return append(dst, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

// Checksum16 computes the Fletcher16 checksum of data
func Checksum16(data []byte) uint16 {
	var f Fletcher16
	f.Write(data)
	return f.Sum16()
}

// Checksum32 computes the Adler-32 checksum of data
func Checksum32(data []byte) uint32 {
	return adler32.Checksum(data)
}
