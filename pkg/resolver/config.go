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

package resolver

import (
	"errors"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/utils"
)

const (
	defaultTimeoutMS    = 2000
	defaultRetries      = 3
	defaultBackoffMS    = 100
	defaultMaxBackoffMS = 1000
)

// Config is the resolver section of the config file.
type Config struct {
	// TimeoutMS is the deadline of a single attempt. Default is 2000.
	TimeoutMS int `yaml:"timeout_ms"`

	// Retries is the number of attempts made to each nameserver before
	// moving to the next one. Default is 3.
	Retries int `yaml:"retries"`

	// Nameservers are tried in order. See upstream.ParseAddr for the
	// accepted forms.
	Nameservers []string `yaml:"nameservers"`

	// UseTCPFirst sends queries to plain nameservers over TCP and never
	// uses UDP.
	UseTCPFirst bool `yaml:"use_tcp_first"`

	// BackoffMS is the pause before the second attempt to a nameserver.
	// It doubles on each further attempt up to MaxBackoffMS.
	BackoffMS    int `yaml:"backoff_ms"`
	MaxBackoffMS int `yaml:"max_backoff_ms"`

	// UDPSize is the EDNS0 payload size advertised in queries. Default
	// is 1232. A negative value sends queries without EDNS0.
	UDPSize int `yaml:"udp_size"`
}

func (c *Config) Init() error {
	if len(c.Nameservers) == 0 {
		return errors.New("no nameserver configured")
	}
	utils.SetDefaultNum(&c.TimeoutMS, defaultTimeoutMS)
	utils.SetDefaultNum(&c.Retries, defaultRetries)
	utils.SetDefaultNum(&c.BackoffMS, defaultBackoffMS)
	utils.SetDefaultNum(&c.MaxBackoffMS, defaultMaxBackoffMS)
	if c.MaxBackoffMS < c.BackoffMS {
		c.MaxBackoffMS = c.BackoffMS
	}
	if c.UDPSize == 0 {
		c.UDPSize = dnsmsg.DefaultUDPSize
	}
	if c.UDPSize > dnsmsg.MaxMsgSize {
		c.UDPSize = dnsmsg.MaxMsgSize
	}
	return nil
}
