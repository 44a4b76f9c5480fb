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

package server

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

func newCmc(c *net.UDPConn) (cmcUDPConn, error) {
	if c.LocalAddr().(*net.UDPAddr).IP.To4() != nil {
		p := ipv4.NewPacketConn(c)
		if err := p.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
			return nil, fmt.Errorf("failed to set ipv4 cmsg flags, %w", err)
		}
		return &ipv4cmc{c: p}, nil
	}
	p := ipv6.NewPacketConn(c)
	if err := p.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true); err != nil {
		return nil, fmt.Errorf("failed to set ipv6 cmsg flags, %w", err)
	}
	return &ipv6cmc{c: p}, nil
}

type ipv4cmc struct {
	c *ipv4.PacketConn
}

func (i *ipv4cmc) readFrom(b []byte) (n int, dst net.IP, ifIndex int, src net.Addr, err error) {
	n, cm, src, err := i.c.ReadFrom(b)
	if cm != nil {
		dst, ifIndex = cm.Dst, cm.IfIndex
	}
	return
}

func (i *ipv4cmc) writeTo(b []byte, src net.IP, _ int, dst net.Addr) (n int, err error) {
	cm := &ipv4.ControlMessage{Src: src}
	return i.c.WriteTo(b, cm, dst)
}

type ipv6cmc struct {
	c *ipv6.PacketConn
}

func (i *ipv6cmc) readFrom(b []byte) (n int, dst net.IP, ifIndex int, src net.Addr, err error) {
	n, cm, src, err := i.c.ReadFrom(b)
	if cm != nil {
		dst, ifIndex = cm.Dst, cm.IfIndex
	}
	return
}

func (i *ipv6cmc) writeTo(b []byte, src net.IP, ifIndex int, dst net.Addr) (n int, err error) {
	cm := &ipv6.ControlMessage{Src: src, IfIndex: ifIndex}
	return i.c.WriteTo(b, cm, dst)
}
