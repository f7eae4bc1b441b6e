// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ErrNoReading is returned before a sensor produced its first value.
var ErrNoReading = errors.New("no temperature reading yet")

// Sensor reports the room temperature in degrees F.
type Sensor interface {
	Read(ctx context.Context) (float64, error)
}

// parseReading accepts a bare number, optionally followed by F.
func parseReading(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "F"), "°")
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid temperature %q: %w", s, err)
	}
	return f, nil
}

// fileSensor re-reads a file holding the latest temperature, such as one
// written by a thermometer daemon.
type fileSensor struct {
	path string
}

func (s fileSensor) Read(context.Context) (float64, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("read sensor %s: %w", s.path, err)
	}
	return parseReading(string(raw))
}

// streamSensor keeps the last value of a line-oriented stream. Invalid lines
// are skipped.
type streamSensor struct {
	mu     sync.Mutex
	latest float64
	have   bool
	err    error
}

func newStreamSensor(r io.Reader) *streamSensor {
	s := &streamSensor{}
	go s.scan(r)
	return s
}

func (s *streamSensor) scan(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		f, err := parseReading(sc.Text())
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.latest, s.have = f, true
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := sc.Err(); err != nil {
		s.err = err
	}
}

func (s *streamSensor) Read(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.have {
		return s.latest, nil
	}
	if s.err != nil {
		return 0, s.err
	}
	return 0, ErrNoReading
}

// openSensor reads stdin for "-" or an empty path, otherwise the named
// file.
func openSensor(path string) Sensor {
	if path == "" || path == "-" {
		return newStreamSensor(os.Stdin)
	}
	return fileSensor{path: path}
}
