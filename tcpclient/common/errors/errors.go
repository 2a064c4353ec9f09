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

/*

Package errors wraps errors with the caller's function name and line
number. Wrapping uses %w, so errors.Is and errors.As continue to reach the
original error, including typed socket errors and unix.Errno values.

*/
package errors

import (
	"fmt"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/stacktrace"
)

// TraceNew returns a new error with the given message, prefixed with the
// caller's stack frame.
func TraceNew(message string) error {
	return fmt.Errorf("%s: %w", stacktrace.GetCallerName(1), simpleError(message))
}

// Tracef returns a new formatted error, prefixed with the caller's stack
// frame. %w verbs in format are honored.
func Tracef(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", stacktrace.GetCallerName(1), fmt.Errorf(format, args...))
}

// Trace wraps err with the caller's stack frame. Trace returns nil when err
// is nil.
func Trace(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", stacktrace.GetCallerName(1), err)
}

// TraceMsg wraps err with the caller's stack frame and message. TraceMsg
// returns nil when err is nil.
func TraceMsg(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s: %w", stacktrace.GetCallerName(1), message, err)
}

type simpleError string

func (e simpleError) Error() string {
	return string(e)
}
