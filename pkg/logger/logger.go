// Copyright 2026 The Pulsegrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger wraps zap.SugaredLogger behind the field-pair calling
// convention used throughout the teacher repo's pkg/sfu and
// pkg/service packages (logger.Infow("message", "key", value, ...)).
// Library packages take a *Logger at construction; cmd/ builds one with
// New and passes it down. No process-wide global logger is installed.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sugar API every pkg/ package is constructed with.
type Logger struct {
	s *zap.SugaredLogger
}

// New builds a Logger at the given level ("debug", "info", "warn",
// "error"); an unrecognized level falls back to "info".
func New(level string) *Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap.NewProductionConfig().Build only fails on a malformed
		// config, which cfg can never produce here; fall back rather
		// than make logger construction fallible for callers.
		z = zap.NewNop()
	}
	return &Logger{s: z.Sugar()}
}

// Nop returns a Logger that discards everything, for tests that don't
// care about log output.
func Nop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

func (l *Logger) Debugw(msg string, keysAndValues ...any) { l.s.Debugw(msg, keysAndValues...) }
func (l *Logger) Infow(msg string, keysAndValues ...any)  { l.s.Infow(msg, keysAndValues...) }
func (l *Logger) Warnw(msg string, keysAndValues ...any)  { l.s.Warnw(msg, keysAndValues...) }
func (l *Logger) Errorw(msg string, keysAndValues ...any) { l.s.Errorw(msg, keysAndValues...) }

// Sync flushes buffered log entries; call on clean shutdown.
func (l *Logger) Sync() error { return l.s.Sync() }

// With returns a Logger with the given field pairs attached to every
// subsequent entry, e.g. per-device id/mac context.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{s: l.s.With(keysAndValues...)}
}
