// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  Command
		code  NakCode
	}{
		{
			name:  "ping",
			frame: Frame{Function: FuncAck, Size: AckSizeField(250)},
			want:  PingCommand{Timeout: 250},
		},
		{
			name:  "format",
			frame: Frame{Function: CmdFormat},
			want:  FormatCommand{},
		},
		{
			name:  "set time",
			frame: Frame{Function: CmdSetTime, Body: []byte{31, 12, 6, 23, 59, 58}},
			want:  SetTimeCommand{Time: Timestamp{31, 12, 6, 23, 59, 58}},
		},
		{
			name:  "list",
			frame: Frame{Function: CmdList, Body: []byte{0x03}},
			want:  ListCommand{Options: ListTimestamp | ListChecksum},
		},
		{
			name:  "remove",
			frame: Frame{Function: CmdRemove, Body: []byte{5, 'a', 'b', 'c', 'd', 'e'}},
			want:  RemoveCommand{Name: "abcde"},
		},
		{
			name:  "rename",
			frame: Frame{Function: CmdRename, Body: []byte{1, 'a', 2, 'b', 'c'}},
			want:  RenameCommand{From: "a", To: "bc"},
		},
		{
			name:  "remove length past body",
			frame: Frame{Function: CmdRemove, Body: []byte{9, 'a'}},
			code:  NakName,
		},
		{
			name:  "remove trailing bytes",
			frame: Frame{Function: CmdRemove, Body: []byte{1, 'a', 'b'}},
			code:  NakName,
		},
		{
			name:  "remove zero length",
			frame: Frame{Function: CmdRemove, Body: []byte{0}},
			code:  NakName,
		},
		{
			name:  "rename missing second name",
			frame: Frame{Function: CmdRename, Body: []byte{3, 'a', 'b', 'c'}},
			code:  NakName,
		},
		{
			name:  "set time short body",
			frame: Frame{Function: CmdSetTime, Body: []byte{1, 1}},
			code:  NakFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(&tt.frame)
			if tt.want != nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tt.want {
					t.Errorf("ParseCommand = %#v, want %#v", got, tt.want)
				}
				if got.Function() != tt.frame.Function {
					t.Errorf("Function() = %s", got.Function())
				}
				return
			}
			code, ok := NakCodeOf(err)
			if !ok || code != tt.code {
				t.Errorf("error = %v, want NAK %s", err, tt.code)
			}
		})
	}
}

func TestTimestamp_Valid(t *testing.T) {
	tests := []struct {
		ts    Timestamp
		valid bool
	}{
		{Timestamp{1, 1, 0, 0, 0, 0}, true},
		{Timestamp{31, 12, 255, 23, 59, 59}, true},
		{Timestamp{0, 1, 0, 0, 0, 0}, false},
		{Timestamp{32, 1, 0, 0, 0, 0}, false},
		{Timestamp{1, 0, 0, 0, 0, 0}, false},
		{Timestamp{1, 13, 0, 0, 0, 0}, false},
		{Timestamp{1, 1, 0, 24, 0, 0}, false},
		{Timestamp{1, 1, 0, 0, 60, 0}, false},
		{Timestamp{1, 1, 0, 0, 0, 60}, false},
		{Timestamp{}, false},
	}

	for _, tt := range tests {
		if got := tt.ts.Valid(); got != tt.valid {
			t.Errorf("%+v.Valid() = %v, want %v", tt.ts, got, tt.valid)
		}
	}
}

func TestTimestamp_Conversion(t *testing.T) {
	when := time.Date(2025, time.March, 14, 15, 9, 26, 0, time.UTC)
	ts := TimestampOf(when, EpochYear)
	if ts != (Timestamp{14, 3, 6, 15, 9, 26}) {
		t.Fatalf("TimestampOf = %+v", ts)
	}
	if !ts.Time(EpochYear).Equal(when) {
		t.Errorf("Time() = %s, want %s", ts.Time(EpochYear), when)
	}

	if !TimestampOf(time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), EpochYear).IsZero() {
		t.Error("time before the epoch should encode as zero")
	}
	if !TimestampOf(time.Time{}, EpochYear).IsZero() {
		t.Error("zero time should encode as zero")
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"/config.json", true},
		{"", false},
		{TempFileName, false},
		{"bad\x00name", false},
		{"/this-name-is-definitely-longer-than-32", false},
	}

	for _, tt := range tests {
		err := ValidateName(tt.name, 32)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateName(%q) = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestFunction_Ranges(t *testing.T) {
	for fn := 0; fn < 256; fn++ {
		f := Function(fn)
		if f.IsCommand() && f.IsReply() {
			t.Fatalf("%s is both command and reply", f)
		}
	}
	if !CmdFile.IsCommand() || CmdFile.IsReply() {
		t.Error("FILE misclassified")
	}
	if !RplReceived.IsReply() || RplReceived.IsCommand() {
		t.Error("RECEIVED misclassified")
	}
}

func TestNakError(t *testing.T) {
	err := nak(CmdRemove, NakNotFound, nil)
	if err.Error() != "REMOVE failed: FNOTF (0x25)" {
		t.Errorf("Error() = %q", err.Error())
	}
	if IsTimeout(err) {
		t.Error("FNOTF reported as timeout")
	}
	if !IsTimeout(nak(CmdFile, NakTimeout, nil)) {
		t.Error("TIMEOUT not reported as timeout")
	}
}
