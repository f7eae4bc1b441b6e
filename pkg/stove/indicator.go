// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stove

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Indication is what the relay unit shows on its status indicator.
type Indication int

const (
	Initializing Indication = iota
	Waiting
	Receiving
	ShowingOn
	ShowingOff
	Timeout
	Fault
)

var indicationNames = [...]string{
	Initializing: "INITIALIZING",
	Waiting:      "WAITING",
	Receiving:    "RECEIVING",
	ShowingOn:    "STOVE_ON",
	ShowingOff:   "STOVE_OFF",
	Timeout:      "TIMEOUT",
	Fault:        "ERROR",
}

func (i Indication) String() string {
	if i >= 0 && int(i) < len(indicationNames) {
		return indicationNames[i]
	}
	return fmt.Sprintf("Indication(%d)", int(i))
}

// Indicator tracks the status indication and logs every change. A display
// driver can subscribe with OnChange.
type Indicator struct {
	mu       sync.Mutex
	current  Indication
	log      *zap.SugaredLogger
	onChange func(from, to Indication)
}

// NewIndicator starts in Initializing.
func NewIndicator(l *zap.SugaredLogger) *Indicator {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &Indicator{log: l}
}

// OnChange registers fn for transitions.
func (ind *Indicator) OnChange(fn func(from, to Indication)) {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	ind.onChange = fn
}

// Set changes the indication.
func (ind *Indicator) Set(to Indication) {
	ind.mu.Lock()
	from := ind.current
	if from == to {
		ind.mu.Unlock()
		return
	}
	ind.current = to
	fn := ind.onChange
	ind.mu.Unlock()

	ind.log.Infof("status: %v -> %v", from, to)
	if fn != nil {
		fn(from, to)
	}
}

// Current returns the indication.
func (ind *Indicator) Current() Indication {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	return ind.current
}

// ForStove returns ShowingOn or ShowingOff.
func ForStove(on bool) Indication {
	if on {
		return ShowingOn
	}
	return ShowingOff
}
