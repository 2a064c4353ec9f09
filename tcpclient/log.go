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

package tcpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/stacktrace"
	"github.com/sirupsen/logrus"
)

// ContextLogger is a logrus logger that implements common.Logger. Each
// trace log carries a "trace" field with the calling function name and
// line number.
type ContextLogger struct {
	*logrus.Logger
	logFile *os.File
}

// NewContextLogger creates a ContextLogger for the level and output file
// in config. With no LogFilename, output goes to stderr.
func NewContextLogger(config *Config) (*ContextLogger, error) {

	levelName := DEFAULT_LOG_LEVEL
	if config != nil && config.LogLevel != "" {
		levelName = config.LogLevel
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var logWriter io.Writer = os.Stderr
	var logFile *os.File
	if config != nil && config.LogFilename != "" {
		logFile, err = os.OpenFile(
			config.LogFilename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, errors.Trace(err)
		}
		logWriter = logFile
	}

	return NewContextLoggerWithWriter(logWriter, level, logFile), nil
}

// NewContextLoggerWithWriter creates a ContextLogger writing JSON lines to
// writer. closer, when not nil, is closed by Close.
func NewContextLoggerWithWriter(
	writer io.Writer, level logrus.Level, closer *os.File) *ContextLogger {

	return &ContextLogger{
		Logger: &logrus.Logger{
			Out:       writer,
			Formatter: &CustomJSONFormatter{},
			Hooks:     make(logrus.LevelHooks),
			Level:     level,
		},
		logFile: closer,
	}
}

// WithTrace adds a "trace" field naming the caller.
func (logger *ContextLogger) WithTrace() common.LogTrace {
	return logger.WithFields(
		logrus.Fields{
			"trace": stacktrace.GetParentFunctionName(),
		})
}

// WithTraceFields adds a "trace" field naming the caller to fields. An
// existing "trace" field is renamed to "fields.trace".
func (logger *ContextLogger) WithTraceFields(fields common.LogFields) common.LogTrace {
	logFields := make(logrus.Fields, len(fields)+1)
	for name, value := range fields {
		logFields[name] = value
	}
	if value, ok := logFields["trace"]; ok {
		logFields["fields.trace"] = value
	}
	logFields["trace"] = stacktrace.GetParentFunctionName()
	return logger.WithFields(logFields)
}

// LogMetric emits fields as one log line with "event_name" set to metric.
func (logger *ContextLogger) LogMetric(metric string, fields common.LogFields) {
	logFields := make(logrus.Fields, len(fields)+1)
	for name, value := range fields {
		logFields[name] = value
	}
	if value, ok := logFields["event_name"]; ok {
		logFields["fields.event_name"] = value
	}
	logFields["event_name"] = metric
	logger.WithFields(logFields).Info(metric)
}

// Close closes the log file, if any.
func (logger *ContextLogger) Close() error {
	if logger.logFile == nil {
		return nil
	}
	err := logger.logFile.Close()
	logger.logFile = nil
	return errors.Trace(err)
}

// CustomJSONFormatter is a logrus.Formatter producing one JSON object per
// line. It differs from logrus.JSONFormatter as follows:
// - "time" is named "timestamp" and uses RFC 3339 format;
// - error values are logged as their message text;
// - field names that clash with "timestamp", "msg" or "level" are
//   prefixed with "fields.".
type CustomJSONFormatter struct {
}

// Format implements logrus.Formatter.
func (f *CustomJSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data)+3)
	for k, v := range entry.Data {
		switch v := v.(type) {
		case error:
			// Otherwise errors are ignored by `encoding/json`
			data[k] = v.Error()
		default:
			data[k] = v
		}
	}

	for _, name := range []string{"timestamp", "msg", "level"} {
		if v, ok := data[name]; ok {
			data["fields."+name] = v
		}
	}

	data["timestamp"] = entry.Time.Format(time.RFC3339)
	data["msg"] = entry.Message
	data["level"] = entry.Level.String()

	serialized, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields to JSON: %v", err)
	}

	return append(serialized, '\n'), nil
}
