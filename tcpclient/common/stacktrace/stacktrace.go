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

Package stacktrace extracts short caller names for use in error and log
context strings.

*/
package stacktrace

import (
	"fmt"
	"runtime"
	"strings"
)

// GetFunctionName returns the function name for pc with the import path
// trimmed, e.g. "tcpclient.(*TCPClient).Connect".
func GetFunctionName(pc uintptr) string {
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "unknown"
	}
	name := f.Name()
	if index := strings.LastIndex(name, "/"); index != -1 {
		name = name[index+1:]
	}
	return name
}

// GetCallerName returns "function#line" for the caller skip frames above
// GetCallerName's caller.
func GetCallerName(skip int) string {
	pc, _, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s#%d", GetFunctionName(pc), line)
}

// GetParentFunctionName returns "function#line" for the caller of the
// function that calls GetParentFunctionName.
func GetParentFunctionName() string {
	return GetCallerName(2)
}
