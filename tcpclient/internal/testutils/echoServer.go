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
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
)

// EchoServer is a loopback TCP server that writes back everything it
// reads on each accepted connection.
type EchoServer struct {
	listener  net.Listener
	waitGroup sync.WaitGroup
	mutex     sync.Mutex
	conns     map[net.Conn]bool
	accepted  int
	stopped   bool
}

// StartEchoServer listens on address, e.g. "127.0.0.1:0", and starts
// accepting connections.
func StartEchoServer(address string) (*EchoServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Trace(err)
	}
	server := &EchoServer{
		listener: listener,
		conns:    make(map[net.Conn]bool),
	}
	server.waitGroup.Add(1)
	go server.acceptConnections()
	return server, nil
}

// Host returns the listening IP address.
func (server *EchoServer) Host() string {
	return server.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port number as a string.
func (server *EchoServer) Port() string {
	return strconv.Itoa(server.listener.Addr().(*net.TCPAddr).Port)
}

// AcceptedCount returns the number of connections accepted so far.
func (server *EchoServer) AcceptedCount() int {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	return server.accepted
}

// Stop closes the listener and all connections and waits for the server
// goroutines to exit.
func (server *EchoServer) Stop() {
	server.listener.Close()
	server.mutex.Lock()
	server.stopped = true
	for conn := range server.conns {
		conn.Close()
	}
	server.mutex.Unlock()
	server.waitGroup.Wait()
}

func (server *EchoServer) acceptConnections() {
	defer server.waitGroup.Done()
	for {
		conn, err := server.listener.Accept()
		if err != nil {
			return
		}
		server.mutex.Lock()
		if server.stopped {
			server.mutex.Unlock()
			conn.Close()
			return
		}
		server.conns[conn] = true
		server.accepted++
		server.mutex.Unlock()

		server.waitGroup.Add(1)
		go func() {
			defer server.waitGroup.Done()
			io.Copy(conn, conn)
			conn.Close()
			server.mutex.Lock()
			delete(server.conns, conn)
			server.mutex.Unlock()
		}()
	}
}

// UnusedPort returns a loopback TCP port on host that had a listener which
// has since been closed, so that connections to it are refused.
func UnusedPort(host string) (string, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", errors.Trace(err)
	}
	port := strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)
	err = listener.Close()
	if err != nil {
		return "", errors.Trace(err)
	}
	return port, nil
}
