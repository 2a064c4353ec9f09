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

package testutils

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/stacktrace"
)

// TestLogger is a common.Logger that prints to stdout and records metrics
// for inspection by tests.
type TestLogger struct {
	mutex        sync.Mutex
	component    string
	verbose      bool
	metrics      []TestMetric
	warningCount int
}

// TestMetric is one metric recorded by TestLogger.LogMetric.
type TestMetric struct {
	Name   string
	Fields common.LogFields
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func NewTestLoggerWithComponent(component string) *TestLogger {
	return &TestLogger{
		component: component,
	}
}

// SetVerbose enables printing of Debug logs.
func (logger *TestLogger) SetVerbose(verbose bool) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.verbose = verbose
}

func (logger *TestLogger) WithTrace() common.LogTrace {
	return &testLoggerTrace{
		logger: logger,
		trace:  stacktrace.GetParentFunctionName(),
	}
}

func (logger *TestLogger) WithTraceFields(fields common.LogFields) common.LogTrace {
	return &testLoggerTrace{
		logger: logger,
		trace:  stacktrace.GetParentFunctionName(),
		fields: fields,
	}
}

func (logger *TestLogger) LogMetric(metric string, fields common.LogFields) {

	copied := make(common.LogFields, len(fields))
	for name, value := range fields {
		copied[name] = value
	}

	logger.mutex.Lock()
	logger.metrics = append(logger.metrics, TestMetric{Name: metric, Fields: copied})
	logger.mutex.Unlock()

	fmt.Printf(
		"[%s]%s METRIC: %s: %s\n",
		time.Now().UTC().Format(time.RFC3339),
		logger.componentTag(),
		metric,
		marshalFields(copied))
}

// Metrics returns the metrics with the given name, in logged order.
func (logger *TestLogger) Metrics(name string) []TestMetric {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	var metrics []TestMetric
	for _, metric := range logger.metrics {
		if metric.Name == name {
			metrics = append(metrics, metric)
		}
	}
	return metrics
}

// LastMetric returns the most recent metric with the given name, or nil.
func (logger *TestLogger) LastMetric(name string) common.LogFields {
	metrics := logger.Metrics(name)
	if len(metrics) == 0 {
		return nil
	}
	return metrics[len(metrics)-1].Fields
}

// WarningCount returns the number of Warning logs.
func (logger *TestLogger) WarningCount() int {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	return logger.warningCount
}

func (logger *TestLogger) componentTag() string {
	if len(logger.component) > 0 {
		return fmt.Sprintf("[%s]", logger.component)
	}
	return ""
}

func (logger *TestLogger) isVerbose() bool {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	return logger.verbose
}

func marshalFields(fields common.LogFields) string {
	marshaled := common.LogFields{}
	for k, v := range fields {
		switch v := v.(type) {
		case error:
			// Workaround for Go issue 5161: error types marshal to "{}"
			marshaled[k] = v.Error()
		default:
			marshaled[k] = v
		}
	}
	jsonFields, _ := json.Marshal(marshaled)
	return string(jsonFields)
}

type testLoggerTrace struct {
	logger *TestLogger
	trace  string
	fields common.LogFields
}

func (logger *testLoggerTrace) log(priority, message string) {
	now := time.Now().UTC().Format(time.RFC3339)
	if len(logger.fields) == 0 {
		fmt.Printf(
			"[%s]%s %s: %s: %s\n",
			now, logger.logger.componentTag(), priority, logger.trace, message)
	} else {
		fmt.Printf(
			"[%s]%s %s: %s: %s %s\n",
			now, logger.logger.componentTag(), priority, logger.trace, message,
			marshalFields(logger.fields))
	}
}

func (logger *testLoggerTrace) Debug(args ...interface{}) {
	if !logger.logger.isVerbose() {
		return
	}
	logger.log("DEBUG", fmt.Sprint(args...))
}

func (logger *testLoggerTrace) Info(args ...interface{}) {
	logger.log("INFO", fmt.Sprint(args...))
}

func (logger *testLoggerTrace) Warning(args ...interface{}) {
	logger.logger.mutex.Lock()
	logger.logger.warningCount++
	logger.logger.mutex.Unlock()
	logger.log("WARNING", fmt.Sprint(args...))
}

func (logger *testLoggerTrace) Error(args ...interface{}) {
	logger.log("ERROR", fmt.Sprint(args...))
}
