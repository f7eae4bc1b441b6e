// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package relay

import (
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// GPIOActuator drives a relay through a GPIO character device line.
type GPIOActuator struct {
	mu        sync.Mutex
	chip      *gpiod.Chip
	line      *gpiod.Line
	activeLow bool
}

// NewGPIOActuator requests offset on chip (for example "gpiochip0") as an
// output held at the de-energized level.
func NewGPIOActuator(chipName string, offset int, activeLow bool) (*GPIOActuator, error) {
	chip, err := gpiod.NewChip(chipName, gpiod.WithConsumer("stovelink"))
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", chipName, err)
	}

	a := &GPIOActuator{chip: chip, activeLow: activeLow}
	line, err := chip.RequestLine(offset, gpiod.AsOutput(a.level(false)))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pin %d: %w", offset, err)
	}
	a.line = line
	return a, nil
}

func (a *GPIOActuator) level(on bool) int {
	if on != a.activeLow {
		return 1
	}
	return 0
}

// Set drives the line.
func (a *GPIOActuator) Set(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.line == nil {
		return fmt.Errorf("gpio line closed")
	}
	if err := a.line.SetValue(a.level(on)); err != nil {
		return fmt.Errorf("set gpio: %w", err)
	}
	return nil
}

// Close releases the line and the chip.
func (a *GPIOActuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.line != nil {
		if err := a.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
		a.line = nil
	}
	if a.chip != nil {
		if err := a.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		a.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
