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
	"context"
	"syscall"
	"time"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
)

// ConnectOutcome is the result of a single connect(2) call.
type ConnectOutcome int

const (
	ConnectFailed ConnectOutcome = iota
	ConnectInProgress
	ConnectConnected
)

func (outcome ConnectOutcome) String() string {
	switch outcome {
	case ConnectFailed:
		return "failed"
	case ConnectInProgress:
		return "in-progress"
	case ConnectConnected:
		return "connected"
	}
	return "unknown"
}

// TCPClient connects its StreamSocket to a host and port and then passes
// Send and Receive through to the socket.
//
// A TCPClient owns its socket for its whole lifetime and is driven by a
// single goroutine. Separate TCPClients are independent.
type TCPClient struct {
	config      *Config
	logger      common.Logger
	socket      *StreamSocket
	pollTimeout time.Duration
	connected   bool
}

// NewTCPClient creates a TCPClient that takes ownership of socket. config
// and logger may be nil.
func NewTCPClient(
	config *Config,
	logger common.Logger,
	socket *StreamSocket) (*TCPClient, error) {

	if !socket.IsOpen() {
		return nil, errors.TraceNew("an open stream socket is required")
	}

	if logger == nil {
		logger = common.NoopLogger()
	}

	return &TCPClient{
		config:      config,
		logger:      logger,
		socket:      socket,
		pollTimeout: config.connectPollTimeout(),
	}, nil
}

// Socket returns the socket owned by the client.
func (client *TCPClient) Socket() *StreamSocket {
	return client.socket
}

// IsConnected reports whether the most recent Connect succeeded.
func (client *TCPClient) IsConnected() bool {
	return client.connected
}

// Connect resolves host and port and connects the socket to the first
// candidate address that accepts. port is numeric or a TCP service name.
//
// A blocking socket makes a blocking connect(2) to each candidate in turn.
// A non-blocking socket waits up to the configured poll timeout for each
// candidate whose connect is in progress; a timed out attempt is abandoned
// and the next candidate is tried.
//
// Errors:
// - *ResolutionError: the lookup failed; no connection was attempted.
// - *IOError: every candidate failed; Code is that of the last failure.
//   An *IOError is also returned immediately, without trying further
//   candidates, when poll(2) itself fails.
//
// After an error, the client is unconnected and Send and Receive return
// ErrNotConnected.
func (client *TCPClient) Connect(host, port string) error {

	client.connected = false
	startTime := time.Now()

	addressResolver, err := makeAddressResolver(client.config, client.logger)
	if err != nil {
		return errors.Trace(err)
	}
	defer addressResolver.Release()

	blocking := client.socket.GetBlocking()

	metric := common.LogFields{
		"host":     host,
		"port":     port,
		"blocking": blocking,
	}
	defer func() {
		metric["connected"] = client.connected
		metric["elapsed_ms"] = time.Since(startTime).Milliseconds()
		client.logger.LogMetric(TCP_CONNECT_METRIC, metric)
	}()

	candidates, err := addressResolver.Resolve(context.Background(), host, port)
	if err != nil {
		metric["error"] = err
		return errors.Trace(err)
	}
	metric["candidates"] = len(candidates)

	// A blocking connect(2) only reports "in progress" when interrupted by
	// a signal; the OS finishes the attempt and the wait is unbounded, as
	// the blocking connect itself would have been.
	waitTimeout := client.pollTimeout
	if blocking {
		waitTimeout = -1
	}

	attempts, err := client.connectCandidates(candidates, waitTimeout)
	metric["attempts"] = attempts
	if err != nil {
		metric["error"] = err
		return errors.Trace(err)
	}

	client.connected = true
	return nil
}

// connectCandidates tries candidates in order and returns the number of
// connect attempts made.
func (client *TCPClient) connectCandidates(
	candidates []Candidate, waitTimeout time.Duration) (int, error) {

	attempts := 0
	var lastCode syscall.Errno

	for _, candidate := range candidates {

		if !client.isUsable(candidate) {
			client.logger.WithTraceFields(common.LogFields{
				"candidate": candidate.String(),
			}).Debug("skipping candidate of unusable family or type")
			continue
		}

		attempts++

		connected, code, err := client.attemptCandidate(candidate, waitTimeout)
		if err != nil {
			return attempts, errors.Trace(err)
		}
		if connected {
			client.logger.WithTraceFields(common.LogFields{
				"candidate": candidate.String(),
				"attempts":  attempts,
			}).Info("connected")
			return attempts, nil
		}

		lastCode = code
		client.logger.WithTraceFields(common.LogFields{
			"candidate": candidate.String(),
			"errno":     int(code),
			"error":     code.Error(),
		}).Warning("candidate failed")
	}

	if attempts == 0 {
		return 0, errors.Trace(
			&IOError{Op: "connect", Message: "no usable candidate address"})
	}

	return attempts, errors.Trace(newIOError("connect", lastCode))
}

// attemptCandidate drives one candidate to a terminal state. It returns
// connected, or the candidate's failure code, or a fatal error that stops
// the whole Connect.
func (client *TCPClient) attemptCandidate(
	candidate Candidate, waitTimeout time.Duration) (bool, syscall.Errno, error) {

	outcome, code := client.socket.connect(candidate)

	client.logger.WithTraceFields(common.LogFields{
		"candidate": candidate.String(),
		"outcome":   outcome.String(),
	}).Debug("connect attempt")

	switch outcome {

	case ConnectConnected:
		return true, 0, nil

	case ConnectInProgress:

		// Completion is signaled by writability; the result is then read
		// from SO_ERROR.
		ready, err := client.socket.pollWritable(waitTimeout)
		if err != nil {
			return false, 0, errors.Trace(err)
		}
		if !ready {
			// The OS may still complete this attempt in the background; it
			// is no longer tracked.
			return false, syscall.ETIMEDOUT, nil
		}
		code = client.socket.pendingError()
		if code == 0 {
			return true, 0, nil
		}
		return false, code, nil
	}

	return false, code, nil
}

func (client *TCPClient) isUsable(candidate Candidate) bool {
	if candidate.Family != client.socket.Family() {
		return false
	}
	return candidate.SockType == 0 || candidate.SockType == syscall.SOCK_STREAM
}

// Send passes p to the socket's Send. See StreamSocket.Send.
func (client *TCPClient) Send(p []byte) (int, TransferStatus, error) {
	if !client.connected {
		return 0, TransferFailed, errors.Trace(ErrNotConnected)
	}
	n, status, err := client.socket.Send(p)
	return n, status, errors.Trace(err)
}

// Receive passes p to the socket's Receive. See StreamSocket.Receive.
func (client *TCPClient) Receive(p []byte) (int, TransferStatus, error) {
	if !client.connected {
		return 0, TransferFailed, errors.Trace(ErrNotConnected)
	}
	n, status, err := client.socket.Receive(p)
	return n, status, errors.Trace(err)
}

// Close closes the client's socket. The client can't be used afterwards.
func (client *TCPClient) Close() error {
	client.connected = false
	return errors.Trace(client.socket.Close())
}
