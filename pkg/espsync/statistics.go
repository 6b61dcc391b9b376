// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Statistics tracks link traffic and command outcomes for one engine.
// It is not safe for use while the engine is running in another goroutine.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalBytes       uint64
	PassthroughBytes uint64
	Frames           uint64
	FramingDrops     uint64
	ChecksumErrors   uint64
	Commands         map[Function]uint64
	Naks             map[NakCode]uint64
	Uploads          uint64
	UploadBytes      uint64

	// Rates (calculated)
	ByteRate  float64 // bytes/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		Commands:       make(map[Function]uint64),
		Naks:           make(map[NakCode]uint64),
	}
}

func (s *Statistics) touch() {
	s.LastUpdateTime = time.Now()
}

// RecordBytes counts n bytes received from the link
func (s *Statistics) RecordBytes(n int) {
	s.TotalBytes += uint64(n)
}

// RecordPassthrough counts n non-protocol bytes forwarded to the console
func (s *Statistics) RecordPassthrough(n int) {
	s.PassthroughBytes += uint64(n)
}

// RecordFrame counts a dispatched frame
func (s *Statistics) RecordFrame(fn Function) {
	s.Frames++
	s.Commands[fn]++
	s.touch()
}

// RecordFramingDrop counts a header discarded as noise
func (s *Statistics) RecordFramingDrop() {
	s.FramingDrops++
	s.touch()
}

// RecordChecksumError counts a small body that failed its checksum
func (s *Statistics) RecordChecksumError() {
	s.ChecksumErrors++
	s.touch()
}

// RecordNak counts a NAK sent to the peer
func (s *Statistics) RecordNak(code NakCode) {
	s.Naks[code]++
	s.touch()
}

// RecordUpload counts a completed file upload of n payload bytes
func (s *Statistics) RecordUpload(n int) {
	s.Uploads++
	s.UploadBytes += uint64(n)
	s.touch()
}

// NakCount returns the total number of NAKs sent
func (s *Statistics) NakCount() uint64 {
	var total uint64
	for _, n := range s.Naks {
		total += n
	}
	return total
}

// CalculateRates calculates byte and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ByteRate = float64(s.TotalBytes) / elapsed
		errorCount := s.FramingDrops + s.NakCount()
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()
	elapsed := time.Since(s.StartTime)

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	fmt.Fprintf(&b, "Bytes Received:  %8d\n", s.TotalBytes)
	if s.PassthroughBytes > 0 {
		fmt.Fprintf(&b, "  Passthrough:    %7d\n", s.PassthroughBytes)
	}
	fmt.Fprintf(&b, "Frames:          %8d\n", s.Frames)

	fns := make([]Function, 0, len(s.Commands))
	for fn := range s.Commands {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i] < fns[j] })
	for _, fn := range fns {
		fmt.Fprintf(&b, "  %-14s %7d\n", fn.String()+":", s.Commands[fn])
	}

	if s.FramingDrops > 0 {
		fmt.Fprintf(&b, "Framing Drops:   %8d\n", s.FramingDrops)
	}
	if s.ChecksumErrors > 0 {
		fmt.Fprintf(&b, "Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if total := s.NakCount(); total > 0 {
		fmt.Fprintf(&b, "NAKs Sent:       %8d\n", total)
		codes := make([]NakCode, 0, len(s.Naks))
		for code := range s.Naks {
			codes = append(codes, code)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
		for _, code := range codes {
			fmt.Fprintf(&b, "  %-14s %7d\n", code.String()+":", s.Naks[code])
		}
	}
	if s.Uploads > 0 {
		fmt.Fprintf(&b, "Uploads:         %8d (%d bytes)\n", s.Uploads, s.UploadBytes)
	}

	fmt.Fprintf(&b, "Byte Rate:       %8.1f bytes/sec\n", s.ByteRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
