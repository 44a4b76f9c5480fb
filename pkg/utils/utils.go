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

package utils

import (
	"net"
	"net/netip"
	"time"

	"golang.org/x/exp/constraints"
)

// SetDefaultNum sets *p to d if *p is zero or negative.
func SetDefaultNum[T constraints.Integer | constraints.Float](p *T, d T) {
	if *p <= 0 {
		*p = d
	}
}

// MsToDuration converts a millisecond config value to a time.Duration.
func MsToDuration[T constraints.Integer](ms T) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// GetIPFromAddr returns the IP of a net.Addr as a netip.Addr, with
// IPv4-mapped addresses unmapped.
func GetIPFromAddr(a net.Addr) (netip.Addr, bool) {
	var ip net.IP
	switch v := a.(type) {
	case *net.UDPAddr:
		ip = v.IP
	case *net.TCPAddr:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		ap, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return netip.Addr{}, false
		}
		return ap.Addr().Unmap(), true
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
