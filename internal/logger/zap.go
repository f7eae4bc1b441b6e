// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap's SugaredLogger.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// defaultZapLevel applies to unknown level names.
const defaultZapLevel = zapcore.InfoLevel

func toZapLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return defaultZapLevel
	}
}

func newConsoleCore(w io.Writer, level zap.AtomicLevel) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewConsoleEncoder(cfg)
	return zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level)
}

// Logs go to stderr so command output on stdout stays clean.
func newZapLogger(levelStr string) *Logger {
	return New(os.Stderr, levelStr)
}

// New builds a logger writing to w. Get should be preferred outside tests.
func New(w io.Writer, levelStr string) *Logger {
	level := zap.NewAtomicLevelAt(toZapLevel(levelStr))
	return &Logger{
		SugaredLogger: zap.New(newConsoleCore(w, level)).Sugar(),
		level:         level,
	}
}

// SetLevel changes the level at runtime, for example after the
// configuration file has been read.
func (l *Logger) SetLevel(levelStr string) {
	l.level.SetLevel(toZapLevel(levelStr))
}

// Named returns a child logger for a component.
func (l *Logger) Named(component string) *zap.SugaredLogger {
	return l.SugaredLogger.Named(component)
}
