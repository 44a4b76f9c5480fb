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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetDefaultNum(t *testing.T) {
	i := 0
	SetDefaultNum(&i, 3)
	require.Equal(t, 3, i)

	d := -time.Second
	SetDefaultNum(&d, time.Minute)
	require.Equal(t, time.Minute, d)

	u := uint32(7)
	SetDefaultNum(&u, 1)
	require.Equal(t, uint32(7), u)

	require.Equal(t, 1500*time.Millisecond, MsToDuration(1500))
}

func TestGetIPFromAddr(t *testing.T) {
	addr, ok := GetIPFromAddr(&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 53})
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddr("192.0.2.1"), addr)

	addr, ok = GetIPFromAddr(&net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 53})
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddr("2001:db8::1"), addr)
}
