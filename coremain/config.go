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

package coremain

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go4.org/netipx"

	"github.com/pmkol/ldns-x/mlog"
	"github.com/pmkol/ldns-x/pkg/resolver"
	"github.com/pmkol/ldns-x/pkg/utils"
)

type Config struct {
	Log      mlog.LogConfig  `yaml:"log"`
	Include  []string        `yaml:"include"`
	Resolver resolver.Config `yaml:"resolver"`
	Upstream UpstreamConfig  `yaml:"upstream"`
	Cache    CacheConfig     `yaml:"cache"`
	Zone     ZoneConfig      `yaml:"zone"`
	Servers  []ServerConfig  `yaml:"servers"`
	API      APIConfig       `yaml:"api"`
}

// UpstreamConfig tunes the nameserver transports.
type UpstreamConfig struct {
	// InsecureSkipVerify disables certificate checks of quic nameservers.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	UDPBufSize int `yaml:"udp_buf_size"`
}

type CacheConfig struct {
	// Size is the number of RR sets kept in memory. Default is 4096.
	// A negative Size disables caching.
	Size int `yaml:"size"`

	// CleanerInterval is the seconds between sweeps of expired sets.
	// Default is 60.
	CleanerInterval int `yaml:"cleaner_interval"`

	// Redis is a redis url. If set, redis is used as the second cache
	// tier behind memory.
	Redis        string `yaml:"redis"`
	RedisTimeout int    `yaml:"redis_timeout"` // ms, default 50
}

type ZoneConfig struct {
	File   string `yaml:"file"`
	Origin string `yaml:"origin"`
}

type ServerConfig struct {
	Listeners []ListenerConfig `yaml:"listeners"`

	// IdleTimeout is the seconds a tcp or quic connection may idle.
	IdleTimeout int `yaml:"idle_timeout"`

	// QueryTimeout is the ms spent on one query. Default is 5000.
	QueryTimeout int `yaml:"query_timeout"`

	// MaxTTL caps the TTLs of replies. Zero means no cap.
	MaxTTL uint32 `yaml:"max_ttl"`

	// AllowList holds addresses and prefixes of the clients allowed to
	// query. Empty allows everyone.
	AllowList []string `yaml:"allow_list"`
}

type ListenerConfig struct {
	// Protocol is one of udp, tcp, quic.
	Protocol string `yaml:"protocol"`
	Addr     string `yaml:"addr"`

	// Cert and Key are required by quic listeners.
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`

	// SNI restricts the server name quic clients may ask for.
	SNI string `yaml:"sni"`

	// ProxyProtocol accepts PROXY protocol headers on tcp listeners.
	ProxyProtocol bool `yaml:"proxy_protocol"`
}

type APIConfig struct {
	HTTP string `yaml:"http"`
}

const (
	defaultCacheSize            = 4096
	defaultCacheCleanerInterval = 60
	defaultRedisTimeout         = 50
)

func (c *CacheConfig) init() {
	utils.SetDefaultNum(&c.Size, defaultCacheSize)
	utils.SetDefaultNum(&c.CleanerInterval, defaultCacheCleanerInterval)
	utils.SetDefaultNum(&c.RedisTimeout, defaultRedisTimeout)
}

func (c *CacheConfig) cleanerInterval() time.Duration {
	return time.Duration(c.CleanerInterval) * time.Second
}

func (c *ListenerConfig) validate() error {
	switch c.Protocol {
	case "", "udp", "tcp":
	case "quic":
		if (len(c.Cert) == 0) != (len(c.Key) == 0) {
			return errors.New("quic listener requires both cert and key")
		}
	default:
		return fmt.Errorf("unsupported protocol %s", c.Protocol)
	}
	if len(c.Addr) == 0 {
		return errors.New("missing listener address")
	}
	if c.ProxyProtocol && c.Protocol != "tcp" {
		return fmt.Errorf("proxy protocol is not supported by %s listeners", c.protocol())
	}
	return nil
}

func (c *ListenerConfig) protocol() string {
	if len(c.Protocol) == 0 {
		return "udp"
	}
	return c.Protocol
}

// parseAllowList returns nil for an empty list.
func parseAllowList(s []string) (*netipx.IPSet, error) {
	if len(s) == 0 {
		return nil, nil
	}
	var b netipx.IPSetBuilder
	for _, e := range s {
		if pfx, err := netip.ParsePrefix(e); err == nil {
			b.AddPrefix(pfx.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allow list entry %s", e)
		}
		b.Add(addr.Unmap())
	}
	return b.IPSet()
}
