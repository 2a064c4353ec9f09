/*
 * Copyright (c) 2026, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

// Logger is the logging interface used by the socket, resolver and client
// code. tcpclient.ContextLogger implements it on top of logrus; tests use
// internal/testutils.TestLogger.
type Logger interface {
	WithTrace() LogTrace
	WithTraceFields(fields LogFields) LogTrace
	LogMetric(metric string, fields LogFields)
}

// LogTrace is interface-compatible with *logrus.Entry.
type LogTrace interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warning(args ...interface{})
	Error(args ...interface{})
}

// LogFields is type-compatible with logrus.Fields.
type LogFields map[string]interface{}

// Add copies log fields from b to a, skipping fields which already exist,
// regardless of value, in a.
func (a LogFields) Add(b LogFields) {
	for name, value := range b {
		_, ok := a[name]
		if !ok {
			a[name] = value
		}
	}
}

// NoopLogger returns a Logger that discards everything. It stands in when
// callers pass a nil Logger.
func NoopLogger() Logger {
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) WithTrace() LogTrace { return noopLogTrace{} }
func (noopLogger) WithTraceFields(_ LogFields) LogTrace { return noopLogTrace{} }
func (noopLogger) LogMetric(_ string, _ LogFields) {}

type noopLogTrace struct{}

func (noopLogTrace) Debug(_ ...interface{}) {}
func (noopLogTrace) Info(_ ...interface{}) {}
func (noopLogTrace) Warning(_ ...interface{}) {}
func (noopLogTrace) Error(_ ...interface{}) {}
