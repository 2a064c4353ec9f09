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

package resolver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/internal/testutils"
	"github.com/miekg/dns"
)

const (
	exampleDomain     = "example.com"
	exampleIPv4       = "93.184.216.34"
	exampleIPv6       = "2606:2800:220:1:248:1893:25c8:1946"
	exampleTTLSeconds = 60
)

func TestNormalizeServerAddress(t *testing.T) {
	err := runTestNormalizeServerAddress()
	if err != nil {
		t.Fatal(errors.Trace(err).Error())
	}
}

func TestResolver(t *testing.T) {
	err := runTestResolver()
	if err != nil {
		t.Fatal(errors.Trace(err).Error())
	}
}

func runTestNormalizeServerAddress() error {

	for _, testCase := range []struct {
		address  string
		expected string
	}{
		{"8.8.8.8", "8.8.8.8:53"},
		{"8.8.8.8:5353", "8.8.8.8:5353"},
		{"2001:4860:4860::8888", "[2001:4860:4860::8888]:53"},
		{"[2001:4860:4860::8888]:53", "[2001:4860:4860::8888]:53"},
		{"127.0.0.1:domain", "127.0.0.1:domain"},
	} {
		normalized, err := NormalizeServerAddress(testCase.address)
		if err != nil {
			return errors.Tracef("%s: %v", testCase.address, err)
		}
		if normalized != testCase.expected {
			return errors.Tracef(
				"unexpected normalized address: %s, %s", normalized, testCase.expected)
		}
	}

	for _, address := range []string{"", "dns.google", "dns.google:53", "8.8.8.8:"} {
		_, err := NormalizeServerAddress(address)
		if err == nil {
			return errors.Tracef("unexpected success: %s", address)
		}
	}

	return nil
}

func runTestResolver() error {

	// Responding server: A answers precede AAAA answers.

	server, err := newTestDNSServer(true, false)
	if err != nil {
		return errors.Trace(err)
	}
	defer server.stop()

	logger := testutils.NewTestLoggerWithComponent("resolver")

	resolver, err := NewResolver(server.getAddr(), time.Second, logger)
	if err != nil {
		return errors.Trace(err)
	}

	if resolver.ServerAddress() != server.getAddr() {
		return errors.Tracef("unexpected server address: %s", resolver.ServerAddress())
	}

	IPs, err := resolver.ResolveIP(context.Background(), exampleDomain)
	if err != nil {
		return errors.Trace(err)
	}
	if len(IPs) != 2 ||
		!IPs[0].Equal(net.ParseIP(exampleIPv4)) ||
		!IPs[1].Equal(net.ParseIP(exampleIPv6)) {
		return errors.Tracef("unexpected IPs: %v", IPs)
	}
	if server.getRequestCount() != 2 {
		return errors.Tracef("unexpected request count: %d", server.getRequestCount())
	}

	// IP address literals are returned without sending a request.

	IPs, err = resolver.ResolveIP(context.Background(), exampleIPv6)
	if err != nil {
		return errors.Trace(err)
	}
	if len(IPs) != 1 || !IPs[0].Equal(net.ParseIP(exampleIPv6)) {
		return errors.Tracef("unexpected IPs: %v", IPs)
	}
	if server.getRequestCount() != 2 {
		return errors.Tracef("unexpected request count: %d", server.getRequestCount())
	}

	// Names that don't match the served domain are NXDOMAIN.

	_, err = resolver.ResolveIP(context.Background(), "not."+exampleDomain)
	if err == nil {
		return errors.TraceNew("unexpected success")
	}
	if server.getRequestCount() != 4 {
		return errors.Tracef("unexpected request count: %d", server.getRequestCount())
	}

	// Non-responding server: each query times out.

	silentServer, err := newTestDNSServer(false, false)
	if err != nil {
		return errors.Trace(err)
	}
	defer silentServer.stop()

	silentLogger := testutils.NewTestLoggerWithComponent("silent-resolver")

	requestTimeout := 100 * time.Millisecond
	resolver, err = NewResolver(silentServer.getAddr(), requestTimeout, silentLogger)
	if err != nil {
		return errors.Trace(err)
	}

	startTime := time.Now()
	_, err = resolver.ResolveIP(context.Background(), exampleDomain)
	if err == nil {
		return errors.TraceNew("unexpected success")
	}
	elapsed := time.Since(startTime)
	if elapsed < 2*requestTimeout || elapsed > 20*requestTimeout {
		return errors.Tracef("unexpected elapsed time: %v", elapsed)
	}
	if silentServer.getRequestCount() != 2 {
		return errors.Tracef("unexpected request count: %d", silentServer.getRequestCount())
	}
	if silentLogger.WarningCount() != 2 {
		return errors.Tracef("unexpected warning count: %d", silentLogger.WarningCount())
	}

	// A server answering with a bad transaction ID is ignored until the
	// request times out.

	badIDServer, err := newTestDNSServer(true, true)
	if err != nil {
		return errors.Trace(err)
	}
	defer badIDServer.stop()

	resolver, err = NewResolver(badIDServer.getAddr(), requestTimeout, nil)
	if err != nil {
		return errors.Trace(err)
	}

	_, err = resolver.ResolveIP(context.Background(), exampleDomain)
	if err == nil {
		return errors.TraceNew("unexpected success")
	}

	return nil
}

type testDNSServer struct {
	respond      bool
	badID        bool
	addr         string
	requestCount int32
	server       *dns.Server
}

func newTestDNSServer(respond, badID bool) (*testDNSServer, error) {

	udpAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Trace(err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Trace(err)
	}

	s := &testDNSServer{
		respond: respond,
		badID:   badID,
		addr:    udpConn.LocalAddr().String(),
	}

	server := &dns.Server{
		PacketConn: udpConn,
		Handler:    s,
	}

	s.server = server

	go server.ActivateAndServe()

	return s, nil
}

func (s *testDNSServer) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	atomic.AddInt32(&s.requestCount, 1)

	if !s.respond || len(r.Question) != 1 {
		return
	}

	m := new(dns.Msg)

	if r.Question[0].Name != dns.Fqdn(exampleDomain) {
		m.SetRcode(r, dns.RcodeNameError)
		w.WriteMsg(m)
		return
	}

	m.SetReply(r)
	m.Answer = make([]dns.RR, 1)
	if r.Question[0].Qtype == dns.TypeA {
		m.Answer[0] = &dns.A{
			Hdr: dns.RR_Header{
				Name:   r.Question[0].Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    exampleTTLSeconds},
			A: net.ParseIP(exampleIPv4),
		}
	} else {
		m.Answer[0] = &dns.AAAA{
			Hdr: dns.RR_Header{
				Name:   r.Question[0].Name,
				Rrtype: dns.TypeAAAA,
				Class:  dns.ClassINET,
				Ttl:    exampleTTLSeconds},
			AAAA: net.ParseIP(exampleIPv6),
		}
	}

	if s.badID {
		m.MsgHdr.Id = r.MsgHdr.Id + 1
	}

	w.WriteMsg(m)
}

func (s *testDNSServer) getAddr() string {
	return s.addr
}

func (s *testDNSServer) getRequestCount() int {
	return int(atomic.LoadInt32(&s.requestCount))
}

func (s *testDNSServer) stop() {
	s.server.PacketConn.Close()
	s.server.Shutdown()
}
