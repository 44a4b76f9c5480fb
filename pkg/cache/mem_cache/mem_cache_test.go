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

package mem_cache

import (
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pmkol/ldns-x/pkg/cache"
	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func a(name string, ttl uint32, ip string) dnsmsg.RR {
	return dnsmsg.RR{
		Name: name, Type: dnsmsg.TypeA, Class: dnsmsg.ClassINET, TTL: ttl,
		Data: &dnsmsg.A{Addr: netip.MustParseAddr(ip)},
	}
}

func aKey(name string) cache.Key {
	return cache.NewKey(name, dnsmsg.TypeA, dnsmsg.ClassINET)
}

func Test_memCache_ttl0(t *testing.T) {
	c := NewMemCache(1024, -1)
	defer c.Close()

	c.Insert([]dnsmsg.RR{a("zero.example.", 0, "192.0.2.1")})
	_, ok := c.Lookup(aKey("zero.example."))
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func Test_memCache_expire(t *testing.T) {
	clock := newFakeClock()
	c := NewMemCache(1024, -1, WithClock(clock.Now))
	defer c.Close()

	c.Insert([]dnsmsg.RR{
		a("www.example.", 300, "192.0.2.1"),
		a("www.example.", 60, "192.0.2.2"),
	})

	rrs, ok := c.Lookup(aKey("WWW.Example."))
	require.True(t, ok)
	require.Len(t, rrs, 2)
	require.Equal(t, uint32(300), rrs[0].TTL)

	clock.Advance(59 * time.Second)
	rrs, ok = c.Lookup(aKey("www.example."))
	require.True(t, ok)
	require.Equal(t, uint32(241), rrs[0].TTL)
	require.Equal(t, uint32(1), rrs[1].TTL)

	// The set expires with its smallest TTL.
	clock.Advance(time.Second)
	_, ok = c.Lookup(aKey("www.example."))
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func Test_memCache_replace(t *testing.T) {
	c := NewMemCache(1024, -1)
	defer c.Close()

	c.Insert([]dnsmsg.RR{a("r.example.", 60, "192.0.2.1"), a("r.example.", 60, "192.0.2.2")})
	c.Insert([]dnsmsg.RR{a("R.example.", 60, "192.0.2.3")})
	require.Equal(t, 1, c.Len())

	rrs, ok := c.Lookup(aKey("r.example."))
	require.True(t, ok)
	require.Len(t, rrs, 1)
	require.Equal(t, "192.0.2.3", rrs[0].Data.String())
}

func Test_memCache_copy(t *testing.T) {
	c := NewMemCache(1024, -1)
	defer c.Close()

	in := []dnsmsg.RR{a("c.example.", 60, "192.0.2.1")}
	c.Insert(in)
	in[0].Data.(*dnsmsg.A).Addr = netip.MustParseAddr("192.0.2.9")

	rrs, _ := c.Lookup(aKey("c.example."))
	rrs[0].Data.(*dnsmsg.A).Addr = netip.MustParseAddr("192.0.2.8")

	rrs, _ = c.Lookup(aKey("c.example."))
	require.Equal(t, "192.0.2.1", rrs[0].Data.String())
}

func Test_memCache_size(t *testing.T) {
	c := NewMemCache(1024, -1)
	defer c.Close()
	for i := 0; i < 1024*4; i++ {
		c.Insert([]dnsmsg.RR{a(strconv.Itoa(i)+".example.", 60, "192.0.2.1")})
	}
	require.LessOrEqual(t, c.Len(), 1024)
}

func Test_memCache_cleaner(t *testing.T) {
	clock := newFakeClock()
	c := NewMemCache(1024, time.Millisecond*10, WithClock(clock.Now))
	defer c.Close()
	for i := 0; i < 64; i++ {
		c.Insert([]dnsmsg.RR{a(strconv.Itoa(i)+".example.", 1, "192.0.2.1")})
	}
	require.Equal(t, 64, c.Len())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond*10)
}

func Test_memCache_sweep(t *testing.T) {
	clock := newFakeClock()
	c := NewMemCache(1024, -1, WithClock(clock.Now))
	defer c.Close()
	c.Insert([]dnsmsg.RR{a("short.example.", 5, "192.0.2.1"), a("long.example.", 50, "192.0.2.1")})

	clock.Advance(10 * time.Second)
	require.Equal(t, 1, c.Sweep())
	_, ok := c.Lookup(aKey("long.example."))
	require.True(t, ok)
}

func Test_memCache_closed(t *testing.T) {
	c := NewMemCache(1024, -1)
	c.Insert([]dnsmsg.RR{a("x.example.", 60, "192.0.2.1")})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, ok := c.Lookup(aKey("x.example."))
	require.False(t, ok)
}

func Test_memCache_race(t *testing.T) {
	c := NewMemCache(1024, time.Millisecond)
	defer c.Close()

	wg := sync.WaitGroup{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 256; i++ {
				name := strconv.Itoa(i) + ".example."
				c.Insert([]dnsmsg.RR{a(name, uint32(i%3), "192.0.2.1")})
				c.Lookup(aKey(name))
			}
		}()
	}
	wg.Wait()
}
