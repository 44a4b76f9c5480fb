/*
 * Copyright (C) 2020-2026, pmkol
 *
 * This file is part of ldns-x.
 *
 * ldns-x is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * ldns-x is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package upstream provides the transports used to exchange messages
// with a nameserver.
package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/upstream/doq"
	"github.com/pmkol/ldns-x/pkg/upstream/tcp"
	"github.com/pmkol/ldns-x/pkg/upstream/udp"
)

// Upstream sends one query and returns the matching reply. Replies whose
// ID or question do not match the query are discarded by the
// implementations, which keep waiting until ctx is done.
type Upstream interface {
	Exchange(ctx context.Context, q *dnsmsg.Msg) (*dnsmsg.Msg, error)
	Address() string
	Close() error
}

type Protocol string

const (
	ProtocolUDP  Protocol = "udp"
	ProtocolTCP  Protocol = "tcp"
	ProtocolQUIC Protocol = "quic"
)

var defaultPorts = map[Protocol]uint16{
	ProtocolUDP:  53,
	ProtocolTCP:  53,
	ProtocolQUIC: 853,
}

// Addr is a parsed nameserver address.
type Addr struct {
	Protocol Protocol
	Host     string
	Port     uint16
}

// HostPort returns the dialable "host:port" form.
func (a Addr) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

func (a Addr) String() string {
	return string(a.Protocol) + "://" + a.HostPort()
}

// ParseAddr parses "1.1.1.1", "[2606:4700::1111]:53", "udp://host",
// "tcp://host:53" and "quic://host:853". A bare address is udp.
func ParseAddr(s string) (Addr, error) {
	if s == "" {
		return Addr{}, fmt.Errorf("empty nameserver address")
	}
	proto := ProtocolUDP
	hostPort := s
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Addr{}, fmt.Errorf("invalid nameserver address %q: %w", s, err)
		}
		proto = Protocol(strings.ToLower(u.Scheme))
		if _, ok := defaultPorts[proto]; !ok {
			return Addr{}, fmt.Errorf("unsupported protocol %q in %q", u.Scheme, s)
		}
		if u.Path != "" && u.Path != "/" {
			return Addr{}, fmt.Errorf("unexpected path in nameserver address %q", s)
		}
		hostPort = u.Host
	}

	host, port := hostPort, defaultPorts[proto]
	if h, p, err := net.SplitHostPort(hostPort); err == nil {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return Addr{}, fmt.Errorf("invalid port in nameserver address %q", s)
		}
		host, port = h, uint16(n)
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if host == "" {
		return Addr{}, fmt.Errorf("missing host in nameserver address %q", s)
	}
	return Addr{Protocol: proto, Host: host, Port: port}, nil
}

type Opts struct {
	// Dialer is used by the udp and tcp transports. Nil means a zero
	// net.Dialer.
	Dialer *net.Dialer

	// UDPBufSize is the read buffer size of the udp transport.
	UDPBufSize int

	// TLSConfig is used by the quic transport. ServerName defaults to
	// the host of the address.
	TLSConfig *tls.Config

	Logger *zap.Logger
}

// New creates the transport for a.
func New(a Addr, opts Opts) (Upstream, error) {
	switch a.Protocol {
	case ProtocolUDP:
		return udp.NewUpstream(a.HostPort(), udp.Opts{
			Dialer:  opts.Dialer,
			BufSize: opts.UDPBufSize,
			Logger:  opts.Logger,
		}), nil
	case ProtocolTCP:
		return tcp.NewUpstream(a.HostPort(), tcp.Opts{
			Dialer: opts.Dialer,
			Logger: opts.Logger,
		}), nil
	case ProtocolQUIC:
		tlsConfig := opts.TLSConfig
		if tlsConfig == nil {
			tlsConfig = new(tls.Config)
		} else {
			tlsConfig = tlsConfig.Clone()
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = a.Host
		}
		return doq.NewUpstream(a.HostPort(), doq.Opts{
			TLSConfig: tlsConfig,
			Logger:    opts.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", a.Protocol)
	}
}
