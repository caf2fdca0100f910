// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pionlog routes pion library logging into log/slog.
//
// pion's ICE, DTLS, and SRTP packages take a logging.LoggerFactory and
// create one leveled logger per scope ("ice", "dtls", "srtp", ...).
// [Factory] implements that interface on top of a *slog.Logger so
// library output lands in the same structured stream as ours, tagged
// with a "scope" attribute. pion's Trace level maps to [LevelTrace],
// below slog.LevelDebug, so it stays silent unless a handler opts in.
package pionlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace is the slog level used for pion Trace output.
const LevelTrace = slog.LevelDebug - 4

// Factory implements logging.LoggerFactory.
type Factory struct {
	Logger *slog.Logger
}

var _ logging.LoggerFactory = Factory{}

// NewLogger returns a logger for one pion scope.
func (f Factory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{logger: f.Logger.With("scope", scope)}
}

type scopedLogger struct {
	logger *slog.Logger
}

func (l *scopedLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *scopedLogger) logf(level slog.Level, format string, args ...any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Trace(msg string)                  { l.log(LevelTrace, msg) }
func (l *scopedLogger) Tracef(format string, args ...any) { l.logf(LevelTrace, format, args...) }
func (l *scopedLogger) Debug(msg string)                  { l.log(slog.LevelDebug, msg) }
func (l *scopedLogger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l *scopedLogger) Info(msg string)                   { l.log(slog.LevelInfo, msg) }
func (l *scopedLogger) Infof(format string, args ...any)  { l.logf(slog.LevelInfo, format, args...) }
func (l *scopedLogger) Warn(msg string)                   { l.log(slog.LevelWarn, msg) }
func (l *scopedLogger) Warnf(format string, args ...any)  { l.logf(slog.LevelWarn, format, args...) }
func (l *scopedLogger) Error(msg string)                  { l.log(slog.LevelError, msg) }
func (l *scopedLogger) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }
