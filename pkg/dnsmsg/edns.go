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

package dnsmsg

const (
	// DefaultUDPSize is advertised by SetEDNS0 when no size is given.
	DefaultUDPSize = 1232

	ednsDoBit = 1 << 15
)

// IsEDNS0 returns the OPT record of the additional section, or nil.
func (m *Msg) IsEDNS0() *RR {
	for i := len(m.Extra) - 1; i >= 0; i-- {
		if m.Extra[i].Type == TypeOPT {
			return &m.Extra[i]
		}
	}
	return nil
}

// SetEDNS0 adds or replaces the OPT record. The class of an OPT record
// carries the UDP payload size and its TTL carries the extended rcode,
// version and DO flag.
func (m *Msg) SetEDNS0(udpSize uint16, do bool) *Msg {
	if udpSize < MinMsgSize {
		udpSize = DefaultUDPSize
	}
	var ttl uint32
	if do {
		ttl |= ednsDoBit
	}
	opt := RR{Name: ".", Type: TypeOPT, Class: Class(udpSize), TTL: ttl, Data: &OPT{}}
	if rr := m.IsEDNS0(); rr != nil {
		*rr = opt
		return m
	}
	m.Extra = append(m.Extra, opt)
	return m
}

// UDPSize returns the largest reply m's sender accepts over UDP.
func (m *Msg) UDPSize() int {
	if opt := m.IsEDNS0(); opt != nil && int(opt.Class) > MinMsgSize {
		return int(opt.Class)
	}
	return MinMsgSize
}

// DNSSECOK reports whether the DO flag is set.
func (m *Msg) DNSSECOK() bool {
	opt := m.IsEDNS0()
	return opt != nil && opt.TTL&ednsDoBit != 0
}
