//go:build !linux

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
	"time"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
)

// NewStreamSocket always fails on this platform.
func NewStreamSocket(family int, blocking bool) (*StreamSocket, error) {
	return nil, errors.TraceMsg(
		&SocketCreationError{Code: syscall.EINVAL}, "unsupported platform")
}

func (s *StreamSocket) SetOptionRaw(level, name int, value []byte) bool {
	return false
}

func (s *StreamSocket) GetOptionRaw(level, name int, value []byte) (int, bool) {
	return 0, false
}

func (s *StreamSocket) SetOptionInt(level, name, value int) bool {
	return false
}

func (s *StreamSocket) GetOptionInt(level, name int) (int, bool) {
	return 0, false
}

func (s *StreamSocket) SetBlocking(flag bool) bool {
	return false
}

func (s *StreamSocket) GetBlocking() bool {
	return s != nil && s.blocking
}

func (s *StreamSocket) Send(p []byte) (int, TransferStatus, error) {
	return 0, TransferFailed, s.notOpenError("send")
}

func (s *StreamSocket) Receive(p []byte) (int, TransferStatus, error) {
	return 0, TransferFailed, s.notOpenError("receive")
}

func (s *StreamSocket) connect(candidate Candidate) (ConnectOutcome, syscall.Errno) {
	return ConnectFailed, syscall.EINVAL
}

func (s *StreamSocket) pollWritable(timeout time.Duration) (bool, error) {
	return false, s.notOpenError("poll")
}

func (s *StreamSocket) pendingError() syscall.Errno {
	return syscall.EINVAL
}

func closeSocket(fd int) error {
	return nil
}
