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
	"net"
	"strconv"
	"syscall"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/resolver"
)

const (
	SIZEOF_SOCKADDR_INET4 = 16
	SIZEOF_SOCKADDR_INET6 = 28
)

// Candidate is one resolved address a connection may be attempted to.
// Candidates are produced by AddressResolver.Resolve and must not be
// modified.
type Candidate struct {
	Family   int
	SockType int
	IP       net.IP
	Port     int
	Zone     string
}

// Len is the byte length of the OS socket address for the candidate.
func (c Candidate) Len() int {
	if c.Family == syscall.AF_INET6 {
		return SIZEOF_SOCKADDR_INET6
	}
	return SIZEOF_SOCKADDR_INET4
}

func (c Candidate) String() string {
	host := c.IP.String()
	if c.Zone != "" {
		host += "%" + c.Zone
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

func (c Candidate) clone() Candidate {
	c.IP = append(net.IP(nil), c.IP...)
	return c
}

// lookupHostFunc returns the addresses for host, in preference order.
type lookupHostFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// AddressResolver turns a (host, port) pair into an ordered list of
// candidate addresses. Both IPv4 and IPv6 answers are returned; candidates
// the socket cannot use are skipped later, by TCPClient.Connect.
//
// An AddressResolver owns its most recent result. Each Resolve releases the
// previous result, and Release drops the current one. An AddressResolver is
// not safe for concurrent use.
type AddressResolver struct {
	lookupHost lookupHostFunc
	candidates []Candidate
}

// NewAddressResolver creates an AddressResolver that uses the system
// resolver.
func NewAddressResolver() *AddressResolver {
	return &AddressResolver{
		lookupHost: net.DefaultResolver.LookupIPAddr,
	}
}

// NewDNSServerAddressResolver creates an AddressResolver that sends host
// lookups to the DNS server of dnsResolver.
func NewDNSServerAddressResolver(dnsResolver *resolver.Resolver) *AddressResolver {
	return &AddressResolver{
		lookupHost: func(ctx context.Context, host string) ([]net.IPAddr, error) {
			IPs, err := dnsResolver.ResolveIP(ctx, host)
			if err != nil {
				return nil, errors.Trace(err)
			}
			addrs := make([]net.IPAddr, len(IPs))
			for i, IP := range IPs {
				addrs[i] = net.IPAddr{IP: IP}
			}
			return addrs, nil
		},
	}
}

// makeAddressResolver selects the resolver named by config: an explicit DNS
// server when config.DNSServer is set, or the system resolver.
func makeAddressResolver(config *Config, logger common.Logger) (*AddressResolver, error) {
	if config == nil || config.DNSServer == "" {
		return NewAddressResolver(), nil
	}
	dnsResolver, err := resolver.NewResolver(
		config.DNSServer, config.dnsRequestTimeout(), logger)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewDNSServerAddressResolver(dnsResolver), nil
}

// Resolve looks up host and port and returns the candidate addresses in
// lookup order. port is numeric or a TCP service name.
//
// Resolve blocks for the duration of the lookup. A failed lookup, or one
// yielding no IPv4 or IPv6 address, returns a *ResolutionError.
func (r *AddressResolver) Resolve(ctx context.Context, host, port string) ([]Candidate, error) {

	r.Release()

	if port == "" {
		return nil, errors.Trace(
			&ResolutionError{Host: host, Port: port, Cause: "missing port"})
	}

	portNumber, err := net.DefaultResolver.LookupPort(ctx, "tcp", port)
	if err != nil {
		return nil, errors.Trace(
			&ResolutionError{Host: host, Port: port, Cause: err.Error()})
	}

	addrs, err := r.lookupHost(ctx, host)
	if err != nil {
		return nil, errors.Trace(
			&ResolutionError{Host: host, Port: port, Cause: err.Error()})
	}

	candidates := make([]Candidate, 0, len(addrs))
	for _, addr := range addrs {
		candidate := Candidate{
			SockType: syscall.SOCK_STREAM,
			Port:     portNumber,
		}
		if IPv4 := addr.IP.To4(); IPv4 != nil {
			candidate.Family = syscall.AF_INET
			candidate.IP = IPv4
		} else if IPv6 := addr.IP.To16(); IPv6 != nil {
			candidate.Family = syscall.AF_INET6
			candidate.IP = IPv6
			candidate.Zone = addr.Zone
		} else {
			continue
		}
		candidates = append(candidates, candidate)
	}

	if len(candidates) == 0 {
		return nil, errors.Trace(
			&ResolutionError{
				Host:  host,
				Port:  port,
				Cause: "no addresses of a supported family"})
	}

	r.candidates = candidates

	return r.Candidates(), nil
}

// Candidates returns a copy of the most recent result, or nil when there is
// none.
func (r *AddressResolver) Candidates() []Candidate {
	if r.candidates == nil {
		return nil
	}
	candidates := make([]Candidate, len(r.candidates))
	for i, candidate := range r.candidates {
		candidates[i] = candidate.clone()
	}
	return candidates
}

// Release drops the most recent result. It is safe to call more than once.
func (r *AddressResolver) Release() {
	r.candidates = nil
}
