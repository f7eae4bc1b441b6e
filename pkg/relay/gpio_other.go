// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package relay

import "errors"

// GPIOActuator is only available on Linux.
type GPIOActuator struct{}

// NewGPIOActuator always fails off Linux.
func NewGPIOActuator(chipName string, offset int, activeLow bool) (*GPIOActuator, error) {
	return nil, errors.New("gpio relay requires linux")
}

func (a *GPIOActuator) Set(on bool) error { return errors.New("gpio relay requires linux") }
func (a *GPIOActuator) Close() error      { return nil }
