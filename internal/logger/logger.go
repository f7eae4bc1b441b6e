// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logger builds the process-wide zap logger.
package logger

import (
	"sync"
)

// Log levels accepted in the configuration.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

var (
	globalLogger *Logger
	once         sync.Once
)

// Get returns the process logger. The first call fixes the level; later
// calls return the same instance.
func Get(level string) *Logger {
	once.Do(func() {
		globalLogger = newZapLogger(level)
	})
	return globalLogger
}

// ValidLevel reports whether level is one of the accepted names.
func ValidLevel(level string) bool {
	switch level {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		return true
	}
	return false
}
