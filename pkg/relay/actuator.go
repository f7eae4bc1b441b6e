// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relay

import (
	"sync"

	"go.uber.org/zap"
)

// LogActuator is a stand-in for bench setups without relay hardware. It only
// records and logs the requested level.
type LogActuator struct {
	mu  sync.Mutex
	on  bool
	log *zap.SugaredLogger
}

// NewLogActuator returns an actuator that logs to l.
func NewLogActuator(l *zap.SugaredLogger) *LogActuator {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &LogActuator{log: l}
}

func (a *LogActuator) Set(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.on = on
	a.log.Infof("relay output -> %v", on)
	return nil
}

// On reports the last requested level.
func (a *LogActuator) On() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

func (a *LogActuator) Close() error { return nil }
