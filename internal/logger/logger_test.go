// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{DebugLevel, true, true},
		{InfoLevel, false, true},
		{WarnLevel, false, false},
		{"verbose", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(&buf, tt.level)
			l.Debug("debug line")
			l.Info("info line")

			out := buf.String()
			if strings.Contains(out, "debug line") != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", !tt.wantDebug, tt.wantDebug)
			}
			if strings.Contains(out, "info line") != tt.wantInfo {
				t.Errorf("info logged = %v, want %v", !tt.wantInfo, tt.wantInfo)
			}
		})
	}
}

func TestSetLevelAndNamed(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, ErrorLevel)
	l.Info("hidden")
	l.SetLevel(DebugLevel)
	l.Named("radio").Debugf("AT -> %s", "OK")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info logged at error level")
	}
	if !strings.Contains(out, "radio") || !strings.Contains(out, "AT -> OK") || !strings.Contains(out, "DEBUG") {
		t.Errorf("output = %q", out)
	}
}

func TestGetIsSingleton(t *testing.T) {
	if Get(InfoLevel) != Get(DebugLevel) {
		t.Error("Get() returned different loggers")
	}
	if !ValidLevel(WarnLevel) || ValidLevel("loud") {
		t.Error("ValidLevel() mismatch")
	}
}
