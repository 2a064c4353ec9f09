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
	"net"
	"strconv"
	"syscall"
	"time"
	"unsafe"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
	"golang.org/x/sys/unix"
)

// NewStreamSocket creates a TCP socket for the address family, AF_INET or
// AF_INET6. When blocking is false, the socket is created non-blocking by
// the same socket(2) call, so it is never briefly in blocking mode.
//
// When the OS refuses, the error is a *SocketCreationError.
func NewStreamSocket(family int, blocking bool) (*StreamSocket, error) {

	socketType := unix.SOCK_STREAM | unix.SOCK_CLOEXEC
	if !blocking {
		socketType |= unix.SOCK_NONBLOCK
	}

	fd, err := unix.Socket(family, socketType, 0)
	if err != nil {
		errno, _ := asErrno(err)
		return nil, errors.Trace(&SocketCreationError{Code: errno})
	}

	return &StreamSocket{
		fd:       fd,
		open:     true,
		family:   family,
		blocking: blocking,
	}, nil
}

// SetOptionRaw passes value to setsockopt(2) unchanged. No validation is
// performed; the caller pairs level, name and value.
func (s *StreamSocket) SetOptionRaw(level, name int, value []byte) bool {
	if !s.IsOpen() {
		return false
	}
	return unix.SetsockoptString(s.fd, level, name, string(value)) == nil
}

// GetOptionRaw reads an option into value with getsockopt(2) and returns
// the number of bytes the OS wrote.
func (s *StreamSocket) GetOptionRaw(level, name int, value []byte) (int, bool) {
	if !s.IsOpen() || len(value) == 0 {
		return 0, false
	}
	length := uint32(len(value))
	_, _, errno := unix.Syscall6(
		unix.SYS_GETSOCKOPT,
		uintptr(s.fd),
		uintptr(level),
		uintptr(name),
		uintptr(unsafe.Pointer(&value[0])),
		uintptr(unsafe.Pointer(&length)),
		0)
	if errno != 0 {
		return 0, false
	}
	return int(length), true
}

// SetOptionInt sets an integer-valued socket option.
func (s *StreamSocket) SetOptionInt(level, name, value int) bool {
	if !s.IsOpen() {
		return false
	}
	return unix.SetsockoptInt(s.fd, level, name, value) == nil
}

// GetOptionInt reads an integer-valued socket option.
func (s *StreamSocket) GetOptionInt(level, name int) (int, bool) {
	if !s.IsOpen() {
		return 0, false
	}
	value, err := unix.GetsockoptInt(s.fd, level, name)
	if err != nil {
		return 0, false
	}
	return value, true
}

// SetBlocking sets or clears O_NONBLOCK. It returns false when either
// fcntl(2) call fails, in which case the mode is unknown and should be
// re-read with GetBlocking.
func (s *StreamSocket) SetBlocking(flag bool) bool {
	if !s.IsOpen() {
		return false
	}
	flags, err := unix.FcntlInt(uintptr(s.fd), unix.F_GETFL, 0)
	if err != nil {
		return false
	}
	if flag {
		flags &^= unix.O_NONBLOCK
	} else {
		flags |= unix.O_NONBLOCK
	}
	_, err = unix.FcntlInt(uintptr(s.fd), unix.F_SETFL, flags)
	if err != nil {
		return false
	}
	s.blocking = flag
	return true
}

// GetBlocking reports whether the socket is in blocking mode, as recorded
// by the OS.
func (s *StreamSocket) GetBlocking() bool {
	if !s.IsOpen() {
		return s != nil && s.blocking
	}
	flags, err := unix.FcntlInt(uintptr(s.fd), unix.F_GETFL, 0)
	if err != nil {
		return s.blocking
	}
	return flags&unix.O_NONBLOCK == 0
}

// Send makes one send(2) call. On a non-blocking socket that can't accept
// data now, Send returns 0 and TransferWouldBlock with no error. Other
// failures return an *IOError.
//
// Send doesn't loop: n may be less than len(p).
func (s *StreamSocket) Send(p []byte) (int, TransferStatus, error) {
	if !s.IsOpen() {
		return 0, TransferFailed, s.notOpenError("send")
	}
	for {
		// MSG_NOSIGNAL: a closed peer yields EPIPE instead of SIGPIPE.
		n, err := unix.SendmsgN(s.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		if err == nil {
			return n, TransferProgressed, nil
		}
		if err == unix.EINTR {
			continue
		}
		if isWouldBlock(err) {
			return 0, TransferWouldBlock, nil
		}
		errno, _ := asErrno(err)
		return 0, TransferFailed, errors.Trace(newIOError("send", errno))
	}
}

// Receive makes one read(2) call into p. It returns TransferWouldBlock
// when a non-blocking socket has no data, and TransferPeerClosed when the
// peer has shut down its side of the connection. Other failures return an
// *IOError.
func (s *StreamSocket) Receive(p []byte) (int, TransferStatus, error) {
	if !s.IsOpen() {
		return 0, TransferFailed, s.notOpenError("receive")
	}
	for {
		n, err := unix.Read(s.fd, p)
		if err == nil {
			if n == 0 && len(p) > 0 {
				return 0, TransferPeerClosed, nil
			}
			return n, TransferProgressed, nil
		}
		if err == unix.EINTR {
			continue
		}
		if isWouldBlock(err) {
			return 0, TransferWouldBlock, nil
		}
		errno, _ := asErrno(err)
		return 0, TransferFailed, errors.Trace(newIOError("receive", errno))
	}
}

// connect makes one connect(2) call to candidate.
//
// EINPROGRESS and EINTR both report ConnectInProgress: in either case the
// OS continues the attempt and completion is observed by polling for
// writability. EISCONN reports ConnectConnected; it arises when an attempt
// abandoned earlier has since completed.
func (s *StreamSocket) connect(candidate Candidate) (ConnectOutcome, syscall.Errno) {
	if !s.IsOpen() {
		return ConnectFailed, unix.EBADF
	}
	sockaddr, err := candidateSockaddr(candidate)
	if err != nil {
		errno, ok := asErrno(err)
		if !ok {
			errno = unix.EINVAL
		}
		return ConnectFailed, errno
	}
	err = unix.Connect(s.fd, sockaddr)
	switch err {
	case nil, unix.EISCONN:
		return ConnectConnected, 0
	case unix.EINPROGRESS, unix.EINTR:
		return ConnectInProgress, 0
	}
	errno, ok := asErrno(err)
	if !ok {
		errno = unix.EINVAL
	}
	return ConnectFailed, errno
}

// pollWritable waits for the socket to become writable. A negative timeout
// waits indefinitely. ready is false when the timeout elapsed. A non-nil
// error means poll(2) itself failed.
//
// poll(2) isn't restarted after a signal, so EINTR re-polls with the
// remaining time.
func (s *StreamSocket) pollWritable(timeout time.Duration) (bool, error) {
	if !s.IsOpen() {
		return false, s.notOpenError("poll")
	}
	deadline := time.Now().Add(timeout)
	for {
		timeoutMilliseconds := -1
		if timeout >= 0 {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			timeoutMilliseconds = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, timeoutMilliseconds)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			errno, _ := asErrno(err)
			return false, errors.Trace(newIOError("poll", errno))
		}
		return n > 0, nil
	}
}

// pendingError reads and clears SO_ERROR, the result of a completed
// non-blocking connect. 0 means the connection was established. When the
// option can't be read, the getsockopt(2) error is returned in its place.
func (s *StreamSocket) pendingError() syscall.Errno {
	if !s.IsOpen() {
		return unix.EBADF
	}
	code, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		errno, ok := asErrno(err)
		if !ok {
			errno = unix.EINVAL
		}
		return errno
	}
	return syscall.Errno(code)
}

func closeSocket(fd int) error {
	return unix.Close(fd)
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func candidateSockaddr(candidate Candidate) (unix.Sockaddr, error) {
	switch candidate.Family {
	case unix.AF_INET:
		IPv4 := candidate.IP.To4()
		if IPv4 == nil {
			return nil, unix.EINVAL
		}
		sockaddr := &unix.SockaddrInet4{Port: candidate.Port}
		copy(sockaddr.Addr[:], IPv4)
		return sockaddr, nil
	case unix.AF_INET6:
		IPv6 := candidate.IP.To16()
		if IPv6 == nil {
			return nil, unix.EINVAL
		}
		sockaddr := &unix.SockaddrInet6{Port: candidate.Port}
		copy(sockaddr.Addr[:], IPv6)
		if candidate.Zone != "" {
			sockaddr.ZoneId = zoneIndex(candidate.Zone)
		}
		return sockaddr, nil
	}
	return nil, unix.EAFNOSUPPORT
}

func zoneIndex(zone string) uint32 {
	if iface, err := net.InterfaceByName(zone); err == nil {
		return uint32(iface.Index)
	}
	index, err := strconv.ParseUint(zone, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(index)
}
