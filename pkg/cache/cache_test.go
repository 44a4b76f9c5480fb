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

package cache

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

func rr(name string, t dnsmsg.Type, ttl uint32) dnsmsg.RR {
	r := dnsmsg.RR{Name: name, Type: t, Class: dnsmsg.ClassINET, TTL: ttl}
	switch t {
	case dnsmsg.TypeA:
		r.Data = &dnsmsg.A{Addr: netip.MustParseAddr("192.0.2.1")}
	case dnsmsg.TypeCNAME:
		r.Data = &dnsmsg.CNAME{Target: "target.example."}
	}
	return r
}

func TestSets(t *testing.T) {
	sets := Sets([]dnsmsg.RR{
		rr("www.example.", dnsmsg.TypeCNAME, 300),
		rr("target.example.", dnsmsg.TypeA, 60),
		rr("Target.Example.", dnsmsg.TypeA, 30),
		rr("zero.example.", dnsmsg.TypeA, 0),
		{Name: ".", Type: dnsmsg.TypeOPT, Class: 1232, TTL: 10},
	})
	require.Len(t, sets, 2)
	require.Equal(t, Key{Name: "www.example.", Type: dnsmsg.TypeCNAME, Class: dnsmsg.ClassINET}, sets[0].Key)
	require.Equal(t, uint32(300), sets[0].TTL)
	require.Equal(t, "target.example./1/1", sets[1].Key.String())
	require.Len(t, sets[1].RRs, 2)
	require.Equal(t, uint32(30), sets[1].TTL)

	now := time.Unix(100, 0)
	require.Equal(t, time.Unix(130, 0), sets[1].Expire(now))
}

func TestDecrement(t *testing.T) {
	in := []dnsmsg.RR{rr("a.", dnsmsg.TypeA, 100), rr("a.", dnsmsg.TypeA, 5)}
	out := Decrement(in, 10500*time.Millisecond)
	require.Equal(t, uint32(90), out[0].TTL)
	require.Equal(t, uint32(1), out[1].TTL)
	require.Equal(t, uint32(100), in[0].TTL)
}

type mapBackend struct {
	m      map[Key][]dnsmsg.RR
	closed bool
}

func (b *mapBackend) Lookup(k Key) ([]dnsmsg.RR, bool) {
	rrs, ok := b.m[k]
	return rrs, ok
}

func (b *mapBackend) Insert(rrs []dnsmsg.RR) {
	for _, s := range Sets(rrs) {
		b.m[s.Key] = s.RRs
	}
}

func (b *mapBackend) Len() int     { return len(b.m) }
func (b *mapBackend) Close() error { b.closed = true; return nil }

func TestTiered(t *testing.T) {
	l1 := &mapBackend{m: map[Key][]dnsmsg.RR{}}
	l2 := &mapBackend{m: map[Key][]dnsmsg.RR{}}
	c := &Tiered{L1: l1, L2: l2}

	k := NewKey("A.example", dnsmsg.TypeA, dnsmsg.ClassINET)
	require.Equal(t, "a.example.", k.Name)

	l2.Insert([]dnsmsg.RR{rr("a.example.", dnsmsg.TypeA, 60)})
	_, ok := l1.Lookup(k)
	require.False(t, ok)

	rrs, ok := c.Lookup(k)
	require.True(t, ok)
	require.Len(t, rrs, 1)
	_, ok = l1.Lookup(k)
	require.True(t, ok, "L2 hit is promoted")

	c.Insert([]dnsmsg.RR{rr("b.example.", dnsmsg.TypeA, 60)})
	require.Equal(t, 2, l1.Len())
	require.Equal(t, 2, l2.Len())
	require.Equal(t, 2, c.Len())

	require.NoError(t, c.Close())
	require.True(t, l1.closed)
	require.True(t, l2.closed)
}
