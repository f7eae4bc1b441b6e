// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseReading(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"68", 68, false},
		{" 70.5\n", 70.5, false},
		{"71.2F", 71.2, false},
		{"69.0°F", 69, false},
		{"-3.5", -3.5, false},
		{"", 0, true},
		{"warm", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseReading(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseReading(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseReading(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFileSensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp")
	s := openSensor(path)

	if _, err := s.Read(context.Background()); err == nil {
		t.Fatal("Read() of a missing file succeeded")
	}

	for _, v := range []string{"66.5\n", "72"} {
		if err := os.WriteFile(path, []byte(v), 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := s.Read(context.Background())
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		want, _ := parseReading(v)
		if got != want {
			t.Errorf("Read() = %v, want %v", got, want)
		}
	}
}

func waitReading(t *testing.T, s *streamSensor, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, err := s.Read(context.Background()); err == nil && got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, err := s.Read(context.Background())
	t.Fatalf("Read() = %v, %v; want %v", got, err, want)
}

func TestStreamSensor(t *testing.T) {
	r, w := io.Pipe()
	s := newStreamSensor(r)

	if _, err := s.Read(context.Background()); !errors.Is(err, ErrNoReading) {
		t.Fatalf("Read() before input = %v, want ErrNoReading", err)
	}

	io.WriteString(w, "67.5\n")
	waitReading(t, s, 67.5)

	// Garbage keeps the previous value
	io.WriteString(w, "garbage\n71\n")
	waitReading(t, s, 71)
	w.Close()
}

func TestStreamSensorKeepsLastValueAtEOF(t *testing.T) {
	s := newStreamSensor(strings.NewReader("64\n65.5\n"))
	waitReading(t, s, 65.5)
}
