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

package errors

import (
	std_errors "errors"
	"strings"
	"syscall"
	"testing"
)

func TestTrace(t *testing.T) {

	if Trace(nil) != nil || TraceMsg(nil, "message") != nil {
		t.Fatalf("unexpected non-nil error")
	}

	err := Trace(TraceMsg(syscall.ECONNREFUSED, "connect"))
	if !std_errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("unexpected unwrapped error: %v", err)
	}

	message := err.Error()
	if !strings.HasPrefix(message, "errors.TestTrace#") ||
		!strings.Contains(message, ": connect: ") {
		t.Fatalf("unexpected error message: %s", message)
	}

	err = Tracef("wrapped: %w", syscall.EPIPE)
	if !std_errors.Is(err, syscall.EPIPE) {
		t.Fatalf("unexpected unwrapped error: %v", err)
	}

	err = TraceNew("failed")
	if !strings.HasSuffix(err.Error(), ": failed") {
		t.Fatalf("unexpected error message: %s", err.Error())
	}
}
