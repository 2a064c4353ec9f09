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

// Package resolver implements host lookups against a single, explicitly
// configured DNS server. It is used in place of the system resolver when a
// client is configured with a DNS server address.
//
// There is no caching: every ResolveIP call sends fresh queries.
package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

const (
	DEFAULT_DNS_PORT        = "53"
	DEFAULT_REQUEST_TIMEOUT = 5 * time.Second

	udpPacketBufferSize = 1232
)

type resolverQuestionType int

const (
	resolverQuestionTypeA    resolverQuestionType = 0
	resolverQuestionTypeAAAA resolverQuestionType = 1
)

func (t resolverQuestionType) String() string {
	if t == resolverQuestionTypeAAAA {
		return "AAAA"
	}
	return "A"
}

// Resolver sends A and AAAA queries, one after the other, to a single DNS
// server over UDP.
type Resolver struct {
	serverAddress  string
	requestTimeout time.Duration
	logger         common.Logger
}

// NewResolver creates a Resolver for serverAddress, which is an IP address
// with an optional port. When the port is omitted, port 53 is used.
// requestTimeout bounds each query; a non-positive value selects
// DEFAULT_REQUEST_TIMEOUT.
func NewResolver(
	serverAddress string,
	requestTimeout time.Duration,
	logger common.Logger) (*Resolver, error) {

	address, err := NormalizeServerAddress(serverAddress)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if requestTimeout <= 0 {
		requestTimeout = DEFAULT_REQUEST_TIMEOUT
	}

	if logger == nil {
		logger = common.NoopLogger()
	}

	return &Resolver{
		serverAddress:  address,
		requestTimeout: requestTimeout,
		logger:         logger,
	}, nil
}

// NormalizeServerAddress validates a DNS server address of the form "ip" or
// "ip:port" and returns it in "ip:port" form.
func NormalizeServerAddress(serverAddress string) (string, error) {

	if IP := net.ParseIP(serverAddress); IP != nil {
		return net.JoinHostPort(IP.String(), DEFAULT_DNS_PORT), nil
	}

	host, port, err := net.SplitHostPort(serverAddress)
	if err != nil {
		return "", errors.Trace(err)
	}
	if net.ParseIP(host) == nil {
		return "", errors.Tracef("invalid DNS server IP address: %s", host)
	}
	if port == "" {
		return "", errors.TraceNew("missing DNS server port")
	}
	if _, err := net.LookupPort("udp", port); err != nil {
		return "", errors.Trace(err)
	}
	return net.JoinHostPort(host, port), nil
}

// ServerAddress returns the "ip:port" of the DNS server.
func (r *Resolver) ServerAddress() string {
	return r.serverAddress
}

// ResolveIP returns the IPv4 answers followed by the IPv6 answers for
// hostname. An IP address literal is returned as-is without any query.
//
// ResolveIP fails when neither query yields an address.
func (r *Resolver) ResolveIP(ctx context.Context, hostname string) ([]net.IP, error) {

	if IP := net.ParseIP(hostname); IP != nil {
		return []net.IP{IP}, nil
	}

	// Convert to punycode.
	asciiHostname, err := idna.ToASCII(hostname)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var IPs []net.IP
	var lastErr error

	for _, questionType := range []resolverQuestionType{
		resolverQuestionTypeA, resolverQuestionTypeAAAA} {

		answers, err := r.query(ctx, questionType, asciiHostname)
		if err != nil {
			lastErr = err
			r.logger.WithTraceFields(common.LogFields{
				"hostname": hostname,
				"question": questionType.String(),
				"server":   r.serverAddress,
				"error":    err,
			}).Warning("DNS query failed")
			continue
		}
		IPs = append(IPs, answers...)
	}

	if len(IPs) == 0 {
		if lastErr != nil {
			return nil, errors.Trace(lastErr)
		}
		return nil, errors.Tracef("no IP addresses for %s", hostname)
	}

	return IPs, nil
}

func (r *Resolver) query(
	ctx context.Context,
	questionType resolverQuestionType,
	hostname string) ([]net.IP, error) {

	queryCtx, cancelFunc := context.WithTimeout(ctx, r.requestTimeout)
	defer cancelFunc()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(queryCtx, "udp", r.serverAddress)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// The read deadline interrupts a blocking ReadMsg once queryCtx expires.
	deadline, _ := queryCtx.Deadline()
	err = conn.SetDeadline(deadline)
	if err != nil {
		conn.Close()
		return nil, errors.Trace(err)
	}

	IPs, err := performDNSQuery(
		queryCtx,
		func(err error) {
			r.logger.WithTraceFields(
				common.LogFields{"error": err}).Warning("ignored DNS response")
		},
		conn,
		questionType,
		hostname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return IPs, nil
}

// performDNSQuery sends one request on conn and reads responses until a
// usable one arrives or ctx is done. conn is closed on return.
func performDNSQuery(
	ctx context.Context,
	logWarning func(error),
	conn net.Conn,
	questionType resolverQuestionType,
	hostname string) ([]net.IP, error) {

	// UDPSize sets the receive buffer to > 512, even when we don't include
	// EDNS(0), which will mitigate issues with RFC 1035 non-compliant
	// servers. See Go issue 51127.
	dnsConn := &dns.Conn{
		Conn:    conn,
		UDPSize: udpPacketBufferSize,
	}
	defer dnsConn.Close()

	// SetQuestion initializes request.MsgHdr.Id to a random value
	request := &dns.Msg{MsgHdr: dns.MsgHdr{RecursionDesired: true}}
	switch questionType {
	case resolverQuestionTypeA:
		request.SetQuestion(dns.Fqdn(hostname), dns.TypeA)
	case resolverQuestionTypeAAAA:
		request.SetQuestion(dns.Fqdn(hostname), dns.TypeAAAA)
	default:
		return nil, errors.TraceNew("unknown DNS request question type")
	}

	err := dnsConn.WriteMsg(request)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var lastErr error
	for {

		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, errors.Trace(ctx.Err())
		}

		response, err := dnsConn.ReadMsg()
		if err == nil && response.MsgHdr.Id != request.MsgHdr.Id {
			err = dns.ErrId
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, errors.Trace(err)
			}
			// Try reading again, in case the first response packet failed to
			// unmarshal or had an invalid ID. The Go resolver also does this;
			// see Go issue 13281.
			lastErr = errors.Tracef("invalid response: %v", err)
			logWarning(lastErr)
			continue
		}

		if len(response.Question) != 1 ||
			response.Question[0].Name != dns.Fqdn(hostname) {
			lastErr = errors.TraceNew("unexpected QName")
			logWarning(lastErr)
			continue
		}

		// NXDOMAIN is a definitive answer. For AAAA, some servers respond
		// with NXDOMAIN when only an A record exists (RFC 6147 section
		// 5.1.2), so that case is coalesced into an empty answer.
		if response.MsgHdr.Rcode == dns.RcodeNameError {
			if questionType == resolverQuestionTypeAAAA {
				return nil, nil
			}
			return nil, errors.Tracef("no such host: %s", hostname)
		}

		// Other unexpected RCodes lead to a read retry.
		if response.MsgHdr.Rcode != dns.RcodeSuccess {
			errMsg, ok := dns.RcodeToString[response.MsgHdr.Rcode]
			if !ok {
				errMsg = fmt.Sprintf("Rcode: %d", response.MsgHdr.Rcode)
			}
			lastErr = errors.Tracef("unexpected RCode: %v", errMsg)
			logWarning(lastErr)
			continue
		}

		var IPs []net.IP
		for _, answer := range response.Answer {
			switch questionType {
			case resolverQuestionTypeA:
				if a, ok := answer.(*dns.A); ok && a.A != nil {
					IPs = append(IPs, a.A)
				}
			case resolverQuestionTypeAAAA:
				if aaaa, ok := answer.(*dns.AAAA); ok && aaaa.AAAA != nil {
					IPs = append(IPs, aaaa.AAAA)
				}
			}
		}

		return IPs, nil
	}
}
