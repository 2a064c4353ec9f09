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
	"encoding/json"
	"syscall"
	"time"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/resolver"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_LOG_LEVEL                     = "info"
	ADDRESS_FAMILY_IPV4                   = "ipv4"
	ADDRESS_FAMILY_IPV6                   = "ipv6"
	CONNECT_POLL_TIMEOUT_MILLISECONDS     = 5000
	DNS_REQUEST_TIMEOUT_MILLISECONDS      = 5000
	TCP_CONNECT_METRIC                    = "tcp_connect"
	MAX_CONNECT_POLL_TIMEOUT_MILLISECONDS = 10 * 60 * 1000
	MAX_DNS_REQUEST_TIMEOUT_MILLISECONDS  = 60 * 1000
)

// Config holds the client settings. A zero Config is usable and selects
// the defaults: blocking IPv4 socket, system resolver, 5 second connect
// poll timeout.
//
// To distinguish omitted timeout params from explicit values, timeouts are
// int pointers; nil selects the default.
type Config struct {

	// LogLevel is a logrus level name: "debug", "info", "warning", "error".
	LogLevel string

	// LogFilename, when set, receives log output instead of stderr.
	LogFilename string

	// NonBlocking selects a non-blocking socket and so the polling connect
	// path.
	NonBlocking bool

	// NoDelay sets TCP_NODELAY on the socket.
	NoDelay bool

	// AddressFamily is "ipv4" (the default) or "ipv6". Candidates of the
	// other family are skipped when connecting.
	AddressFamily string

	// ConnectPollTimeoutMilliseconds bounds the wait for each in-progress
	// non-blocking connect attempt.
	ConnectPollTimeoutMilliseconds *int

	// DNSServer, when set, is the "ip" or "ip:port" of a DNS server that
	// host lookups are sent to instead of the system resolver.
	DNSServer string

	// DNSRequestTimeoutMilliseconds bounds each query sent to DNSServer.
	DNSRequestTimeoutMilliseconds *int
}

// LoadConfig parses and validates a JSON config and returns a Config with
// defaults filled in.
func LoadConfig(configJson []byte) (*Config, error) {
	var config Config
	err := json.Unmarshal(configJson, &config)
	if err != nil {
		return nil, errors.Trace(err)
	}

	err = config.Commit()
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &config, nil
}

// Commit validates the config and fills in defaults for omitted fields.
func (config *Config) Commit() error {

	if config.LogLevel == "" {
		config.LogLevel = DEFAULT_LOG_LEVEL
	}
	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return errors.Trace(err)
	}

	if config.AddressFamily == "" {
		config.AddressFamily = ADDRESS_FAMILY_IPV4
	}
	if _, err := config.family(); err != nil {
		return errors.Trace(err)
	}

	if config.ConnectPollTimeoutMilliseconds == nil {
		timeout := CONNECT_POLL_TIMEOUT_MILLISECONDS
		config.ConnectPollTimeoutMilliseconds = &timeout
	}
	timeout := *config.ConnectPollTimeoutMilliseconds
	if timeout <= 0 || timeout > MAX_CONNECT_POLL_TIMEOUT_MILLISECONDS {
		return errors.Tracef("invalid ConnectPollTimeoutMilliseconds: %d", timeout)
	}

	if config.DNSRequestTimeoutMilliseconds == nil {
		timeout := DNS_REQUEST_TIMEOUT_MILLISECONDS
		config.DNSRequestTimeoutMilliseconds = &timeout
	}
	timeout = *config.DNSRequestTimeoutMilliseconds
	if timeout <= 0 || timeout > MAX_DNS_REQUEST_TIMEOUT_MILLISECONDS {
		return errors.Tracef("invalid DNSRequestTimeoutMilliseconds: %d", timeout)
	}

	if config.DNSServer != "" {
		if _, err := resolver.NormalizeServerAddress(config.DNSServer); err != nil {
			return errors.TraceMsg(err, "invalid DNSServer")
		}
	}

	return nil
}

func (config *Config) family() (int, error) {
	if config == nil {
		return syscall.AF_INET, nil
	}
	switch config.AddressFamily {
	case "", ADDRESS_FAMILY_IPV4:
		return syscall.AF_INET, nil
	case ADDRESS_FAMILY_IPV6:
		return syscall.AF_INET6, nil
	}
	return 0, errors.Tracef("invalid AddressFamily: %s", config.AddressFamily)
}

func (config *Config) connectPollTimeout() time.Duration {
	if config == nil || config.ConnectPollTimeoutMilliseconds == nil {
		return CONNECT_POLL_TIMEOUT_MILLISECONDS * time.Millisecond
	}
	return time.Duration(*config.ConnectPollTimeoutMilliseconds) * time.Millisecond
}

func (config *Config) dnsRequestTimeout() time.Duration {
	if config == nil || config.DNSRequestTimeoutMilliseconds == nil {
		return DNS_REQUEST_TIMEOUT_MILLISECONDS * time.Millisecond
	}
	return time.Duration(*config.DNSRequestTimeoutMilliseconds) * time.Millisecond
}

// MakeStreamSocket creates the socket described by config: its address
// family and blocking mode, with TCP_NODELAY applied when configured.
func MakeStreamSocket(config *Config) (*StreamSocket, error) {

	family, err := config.family()
	if err != nil {
		return nil, errors.Trace(err)
	}

	blocking := config == nil || !config.NonBlocking

	socket, err := NewStreamSocket(family, blocking)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if config != nil && config.NoDelay && !socket.SetNoDelay(true) {
		socket.Close()
		return nil, errors.TraceNew("failed to set TCP_NODELAY")
	}

	return socket, nil
}
