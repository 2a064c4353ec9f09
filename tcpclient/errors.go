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
	std_errors "errors"
	"fmt"
	"net"
	"syscall"
)

// ErrNotConnected is returned by TCPClient.Send and TCPClient.Receive when
// Connect has not succeeded.
var ErrNotConnected = std_errors.New("client is not connected")

// ResolutionError reports a failed host or service lookup. Cause is the
// resolver's diagnostic text.
type ResolutionError struct {
	Host  string
	Port  string
	Cause string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %s", net.JoinHostPort(e.Host, e.Port), e.Cause)
}

// SocketCreationError reports that the OS refused to allocate a socket.
type SocketCreationError struct {
	Code syscall.Errno
}

func (e *SocketCreationError) Error() string {
	return fmt.Sprintf("socket creation failed: %s (errno %d)", e.Code.Error(), int(e.Code))
}

func (e *SocketCreationError) Unwrap() error {
	return e.Code
}

// IOError reports a failed connect, poll, send or receive. Code is the OS
// error number; it is 0 when no connect attempt could be made.
//
// Would-block conditions are never reported as an IOError.
type IOError struct {
	Op      string
	Code    syscall.Errno
	Message string
}

func newIOError(op string, code syscall.Errno) *IOError {
	return &IOError{Op: op, Code: code, Message: code.Error()}
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s (errno %d)", e.Op, e.Message, int(e.Code))
}

// Unwrap exposes Code, so that errors.Is(err, unix.ECONNREFUSED) matches.
// An IOError with code 0 unwraps to nil.
func (e *IOError) Unwrap() error {
	if e.Code == 0 {
		return nil
	}
	return e.Code
}

// IsResolutionError reports whether err, or an error it wraps, is a
// *ResolutionError.
func IsResolutionError(err error) bool {
	var target *ResolutionError
	return std_errors.As(err, &target)
}

// IsIOError reports whether err, or an error it wraps, is an *IOError.
func IsIOError(err error) bool {
	var target *IOError
	return std_errors.As(err, &target)
}

// asErrno extracts an OS error number from err; ok is false when err does
// not carry one.
func asErrno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if std_errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
