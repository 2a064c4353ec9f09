//go:build linux

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
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/internal/testutils"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMessage = "hello\n"

func TestBlockingConnect(t *testing.T) {
	server, err := testutils.StartEchoServer("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	logger := testutils.NewTestLogger()

	client := makeTestClient(t, nil, logger)
	defer client.Close()

	require.NoError(t, client.Connect("localhost", server.Port()))
	assert.True(t, client.IsConnected())

	n, status, err := client.Send([]byte(testMessage))
	require.NoError(t, err)
	assert.Equal(t, TransferProgressed, status)
	assert.Equal(t, len(testMessage), n)

	assert.Equal(t, testMessage, receiveAll(t, client, len(testMessage)))

	metric := logger.LastMetric(TCP_CONNECT_METRIC)
	require.NotNil(t, metric)
	assert.Equal(t, true, metric["connected"])
	assert.Equal(t, true, metric["blocking"])
	assert.Equal(t, 1, metric["attempts"])
	assert.NotContains(t, metric, "error")
}

func TestBlockingConnectRefused(t *testing.T) {
	port, err := testutils.UnusedPort("127.0.0.1")
	require.NoError(t, err)

	logger := testutils.NewTestLogger()

	client := makeTestClient(t, nil, logger)
	defer client.Close()

	err = client.Connect("127.0.0.1", port)
	require.Error(t, err)
	assert.True(t, IsIOError(err), "unexpected error: %v", err)
	assert.True(t, std_errors.Is(err, syscall.ECONNREFUSED), "unexpected error: %v", err)
	assert.False(t, client.IsConnected())

	_, status, err := client.Send([]byte(testMessage))
	assert.Equal(t, TransferFailed, status)
	assert.True(t, std_errors.Is(err, ErrNotConnected))

	_, _, err = client.Receive(make([]byte, 64))
	assert.True(t, std_errors.Is(err, ErrNotConnected))

	assert.Equal(t, 1, logger.WarningCount())

	metric := logger.LastMetric(TCP_CONNECT_METRIC)
	require.NotNil(t, metric)
	assert.Equal(t, false, metric["connected"])
	assert.Contains(t, metric, "error")
}

func TestNonBlockingConnect(t *testing.T) {
	server, err := testutils.StartEchoServer("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	config := &Config{NonBlocking: true, NoDelay: true}
	require.NoError(t, config.Commit())

	client := makeTestClient(t, config, testutils.NewTestLogger())
	defer client.Close()

	assert.False(t, client.Socket().GetBlocking())
	assert.True(t, client.Socket().GetNoDelay())

	require.NoError(t, client.Connect(server.Host(), server.Port()))
	assert.True(t, client.IsConnected())

	// Nothing has been echoed yet.
	n, status, err := client.Receive(make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, TransferWouldBlock, status)
	assert.Equal(t, 0, n)

	_, status, err = client.Send([]byte(testMessage))
	require.NoError(t, err)
	assert.Equal(t, TransferProgressed, status)

	assert.Equal(t, testMessage, receiveAll(t, client, len(testMessage)))
}

func TestNonBlockingConnectRefused(t *testing.T) {
	port, err := testutils.UnusedPort("127.0.0.1")
	require.NoError(t, err)

	config := &Config{NonBlocking: true}
	require.NoError(t, config.Commit())

	client := makeTestClient(t, config, nil)
	defer client.Close()

	startTime := time.Now()
	err = client.Connect("127.0.0.1", port)
	require.Error(t, err)
	assert.Less(t, time.Since(startTime), config.connectPollTimeout())
	assert.True(t, std_errors.Is(err, syscall.ECONNREFUSED), "unexpected error: %v", err)
	assert.False(t, client.IsConnected())
}

func TestConnectPeerClosed(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	client := makeTestClient(t, nil, nil)
	defer client.Close()

	_, port, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, client.Connect("127.0.0.1", port))

	<-accepted

	n, status, err := client.Receive(make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, TransferPeerClosed, status)
	assert.Equal(t, 0, n)
}

func TestConnectNoUsableCandidate(t *testing.T) {
	config := &Config{AddressFamily: ADDRESS_FAMILY_IPV6}
	require.NoError(t, config.Commit())

	socket, err := MakeStreamSocket(config)
	if err != nil {
		t.Skipf("IPv6 unavailable: %v", err)
	}

	logger := testutils.NewTestLogger()

	client, err := NewTCPClient(config, logger, socket)
	require.NoError(t, err)
	defer client.Close()

	err = client.Connect("127.0.0.1", "80")
	require.Error(t, err)

	var ioErr *IOError
	require.True(t, std_errors.As(err, &ioErr), "unexpected error: %v", err)
	assert.Equal(t, syscall.Errno(0), ioErr.Code)
	assert.Equal(t, "no usable candidate address", ioErr.Message)

	metric := logger.LastMetric(TCP_CONNECT_METRIC)
	require.NotNil(t, metric)
	assert.Equal(t, 0, metric["attempts"])
}

func TestConnectResolutionError(t *testing.T) {
	client := makeTestClient(t, nil, nil)
	defer client.Close()

	err := client.Connect("foo", "bar")
	require.Error(t, err)
	assert.True(t, IsResolutionError(err), "unexpected error: %v", err)
	assert.False(t, IsIOError(err))
	assert.False(t, client.IsConnected())
}

func TestConnectWithDNSServer(t *testing.T) {
	server, err := testutils.StartEchoServer("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	dnsServer, dnsServerAddress := startTestDNSServer(t, "echo.test.", server.Host())
	defer dnsServer.Shutdown()

	requestTimeout := 1000
	config := &Config{
		DNSServer:                     dnsServerAddress,
		DNSRequestTimeoutMilliseconds: &requestTimeout,
	}
	require.NoError(t, config.Commit())

	client := makeTestClient(t, config, testutils.NewTestLogger())
	defer client.Close()

	require.NoError(t, client.Connect("echo.test", server.Port()))

	_, _, err = client.Send([]byte(testMessage))
	require.NoError(t, err)
	assert.Equal(t, testMessage, receiveAll(t, client, len(testMessage)))

	require.NoError(t, client.Close())

	client = makeTestClient(t, config, nil)
	defer client.Close()

	err = client.Connect("missing.test", server.Port())
	assert.True(t, IsResolutionError(err), "unexpected error: %v", err)
}

func TestNewTCPClient(t *testing.T) {
	_, err := NewTCPClient(nil, nil, nil)
	assert.Error(t, err)

	socket, err := NewStreamSocket(syscall.AF_INET, true)
	require.NoError(t, err)
	require.NoError(t, socket.Close())

	_, err = NewTCPClient(nil, nil, socket)
	assert.Error(t, err)

	client := makeTestClient(t, nil, nil)
	assert.True(t, client.Socket().IsOpen())
	assert.False(t, client.IsConnected())

	require.NoError(t, client.Close())
	assert.False(t, client.Socket().IsOpen())
	assert.NoError(t, client.Close())
}

func TestConnectOutcomeString(t *testing.T) {
	assert.Equal(t, "failed", ConnectFailed.String())
	assert.Equal(t, "in-progress", ConnectInProgress.String())
	assert.Equal(t, "connected", ConnectConnected.String())
}

func makeTestClient(t *testing.T, config *Config, logger *testutils.TestLogger) *TCPClient {
	socket, err := MakeStreamSocket(config)
	require.NoError(t, err)

	// A nil *TestLogger must not become a non-nil common.Logger.
	var client *TCPClient
	if logger == nil {
		client, err = NewTCPClient(config, nil, socket)
	} else {
		client, err = NewTCPClient(config, logger, socket)
	}
	require.NoError(t, err)
	return client
}

// receiveAll reads until length bytes have arrived, polling when the socket
// is non-blocking.
func receiveAll(t *testing.T, client *TCPClient, length int) string {
	received := make([]byte, 0, length)
	buffer := make([]byte, 64)
	deadline := time.Now().Add(5 * time.Second)
	for len(received) < length {
		require.True(t, time.Now().Before(deadline), "receive timed out")
		n, status, err := client.Receive(buffer)
		require.NoError(t, err)
		switch status {
		case TransferProgressed:
			received = append(received, buffer[:n]...)
		case TransferWouldBlock:
			time.Sleep(10 * time.Millisecond)
		default:
			require.FailNow(t, "unexpected status", status.String())
		}
	}
	return string(received)
}

// startTestDNSServer serves A records mapping name to IP; other names are
// NXDOMAIN.
func startTestDNSServer(t *testing.T, name, IP string) (*dns.Server, string) {
	udpConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &dns.Server{
		PacketConn: udpConn,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			if len(r.Question) != 1 || r.Question[0].Name != name {
				m.SetRcode(r, dns.RcodeNameError)
				w.WriteMsg(m)
				return
			}
			m.SetReply(r)
			if r.Question[0].Qtype == dns.TypeA {
				m.Answer = append(m.Answer, &dns.A{
					Hdr: dns.RR_Header{
						Name:   name,
						Rrtype: dns.TypeA,
						Class:  dns.ClassINET,
						Ttl:    60},
					A: net.ParseIP(IP),
				})
			}
			w.WriteMsg(m)
		}),
	}

	go server.ActivateAndServe()

	return server, udpConn.LocalAddr().String()
}
