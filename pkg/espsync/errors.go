// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"errors"
	"fmt"
)

// ErrBodyChecksum is returned by the decoder when a small body fails its
// checksum. It is the only decoder error the peer is told about.
var ErrBodyChecksum = errors.New("body checksum mismatch")

// errStreamTimeout marks a streamed read that came back short.
var errStreamTimeout = errors.New("stream read timed out")

// FramingError reports a header rejected as line noise. Framing errors are
// never answered.
type FramingError struct {
	State  ReceiveState
	Reason string
}

// Error implements the error interface
func (e *FramingError) Error() string {
	return fmt.Sprintf("framing dropped in %s: %s", e.State, e.Reason)
}

// IsFramingError returns true if err is a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// NakError is a command failure that is reported to the peer as a NAK.
type NakError struct {
	// Op is the command that failed
	Op Function

	// Code is the NAK reason sent to the peer
	Code NakCode

	// Err is the underlying cause, if any
	Err error
}

func (e *NakError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s (0x%02X): %v", e.Op, e.Code, byte(e.Code), e.Err)
	}
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Op, e.Code, byte(e.Code))
}

func (e *NakError) Unwrap() error { return e.Err }

func nak(op Function, code NakCode, err error) *NakError {
	return &NakError{Op: op, Code: code, Err: err}
}

// NakCodeOf extracts the NAK code carried by err.
func NakCodeOf(err error) (NakCode, bool) {
	var ne *NakError
	if errors.As(err, &ne) {
		return ne.Code, true
	}
	return 0, false
}

// IsTimeout checks if err reports a NAK timeout
func IsTimeout(err error) bool {
	code, ok := NakCodeOf(err)
	return ok && code == NakTimeout
}

// ChecksumError reports a small body whose trailing checksum did not match.
// It matches ErrBodyChecksum with errors.Is and keeps the tag needed to NAK.
type ChecksumError struct {
	Tag      uint8
	Function Function
	Expected uint16
	Received uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s body checksum mismatch: expected 0x%04X, got 0x%04X", e.Function, e.Expected, e.Received)
}

func (e *ChecksumError) Is(target error) bool {
	return target == ErrBodyChecksum
}
