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
	"syscall"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
)

// TransferStatus qualifies the byte count returned by Send and Receive.
type TransferStatus int

const (
	// TransferProgressed: the OS accepted or delivered n bytes.
	TransferProgressed TransferStatus = iota

	// TransferWouldBlock: a non-blocking socket could make no progress now.
	// No bytes were transferred and this is not an error.
	TransferWouldBlock

	// TransferPeerClosed: the peer performed an orderly shutdown; returned
	// only by Receive.
	TransferPeerClosed

	// TransferFailed accompanies a non-nil error.
	TransferFailed
)

func (status TransferStatus) String() string {
	switch status {
	case TransferProgressed:
		return "progressed"
	case TransferWouldBlock:
		return "would-block"
	case TransferPeerClosed:
		return "peer-closed"
	case TransferFailed:
		return "failed"
	}
	return "unknown"
}

// StreamSocket owns one OS stream socket descriptor.
//
// The zero value is an invalid socket: every operation on it fails, and
// Close is a no-op. A StreamSocket must not be shared between goroutines.
type StreamSocket struct {
	fd     int
	open   bool
	family int

	// blocking is the mode most recently set without error. GetBlocking
	// reads the OS flag and only falls back to this value when the flag
	// can't be read.
	blocking bool
}

// FD returns the socket descriptor, or -1 when the socket is invalid or
// closed.
func (s *StreamSocket) FD() int {
	if s == nil || !s.open {
		return -1
	}
	return s.fd
}

// Family returns the address family the socket was created with.
func (s *StreamSocket) Family() int {
	return s.family
}

// IsOpen reports whether the socket holds a live descriptor.
func (s *StreamSocket) IsOpen() bool {
	return s != nil && s.open
}

// SetNoDelay sets or clears TCP_NODELAY. It returns false on failure.
func (s *StreamSocket) SetNoDelay(flag bool) bool {
	value := 0
	if flag {
		value = 1
	}
	return s.SetOptionInt(syscall.IPPROTO_TCP, syscall.TCP_NODELAY, value)
}

// GetNoDelay reports whether TCP_NODELAY is set. It returns false when the
// option can't be read.
func (s *StreamSocket) GetNoDelay() bool {
	value, ok := s.GetOptionInt(syscall.IPPROTO_TCP, syscall.TCP_NODELAY)
	return ok && value != 0
}

// Close releases the descriptor. Only the first call on a live socket
// closes it; further calls, and calls on an invalid socket, do nothing.
func (s *StreamSocket) Close() error {
	if s == nil || !s.open {
		return nil
	}
	fd := s.fd
	s.open = false
	s.fd = -1
	err := closeSocket(fd)
	if err != nil {
		errno, _ := asErrno(err)
		return errors.Trace(newIOError("close", errno))
	}
	return nil
}

func (s *StreamSocket) notOpenError(op string) error {
	return errors.Trace(newIOError(op, syscall.EBADF))
}
