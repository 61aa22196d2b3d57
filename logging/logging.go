// Package logging provides the leveled Logger interface used across every
// cloudhub component, backed by default on prometheus/common/log (which
// in turn formats through sirupsen/logrus). Protocol violations, lock
// timeouts and send failures (§7 of the specification) are reported
// through this interface rather than raised across the event-loop
// boundary.
package logging

import (
	plog "github.com/prometheus/common/log"
)

// Logger is the leveled logging surface every component depends on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// With returns a derived Logger that always includes the given
	// field, e.g. the box identity or peer name, in its output.
	With(key string, value interface{}) Logger
}

type promLogger struct {
	ctx plog.Logger
}

// NewDefault returns the default Logger, which writes structured,
// leveled output via prometheus/common/log.
func NewDefault() Logger {
	return &promLogger{ctx: plog.Base()}
}

func (l *promLogger) Debugf(format string, args ...interface{}) {
	l.ctx.Debugf(format, args...)
}

func (l *promLogger) Infof(format string, args ...interface{}) {
	l.ctx.Infof(format, args...)
}

func (l *promLogger) Warnf(format string, args ...interface{}) {
	l.ctx.Warnf(format, args...)
}

func (l *promLogger) Errorf(format string, args ...interface{}) {
	l.ctx.Errorf(format, args...)
}

func (l *promLogger) With(key string, value interface{}) Logger {
	return &promLogger{ctx: l.ctx.With(key, value)}
}

// Nop is a Logger that discards everything, used in tests that don't
// care about log output.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (n nopLogger) With(string, interface{}) Logger { return n }
