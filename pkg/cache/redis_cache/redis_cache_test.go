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

package redis_cache

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/ldns-x/pkg/cache"
	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

// fakeRedis speaks just enough RESP for GET, SET, PING and DBSIZE.
type fakeRedis struct {
	l  net.Listener
	mu sync.Mutex
	kv map[string][]byte
}

func newFakeRedis(t *testing.T) *fakeRedis {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeRedis{l: l, kv: make(map[string][]byte)}
	go f.serve()
	t.Cleanup(func() { l.Close() })
	return f
}

func (f *fakeRedis) serve() {
	for {
		c, err := f.l.Accept()
		if err != nil {
			return
		}
		go f.handle(c)
	}
}

func readArgs(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hdr, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		l, err := strconv.Atoi(strings.TrimSpace(hdr[1:]))
		if err != nil {
			return nil, err
		}
		b := make([]byte, l+2)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		args = append(args, string(b[:l]))
	}
	return args, nil
}

func (f *fakeRedis) handle(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		args, err := readArgs(r)
		if err != nil {
			return
		}
		var reply string
		f.mu.Lock()
		switch strings.ToLower(args[0]) {
		case "ping":
			reply = "+PONG\r\n"
		case "get":
			if v, ok := f.kv[args[1]]; ok {
				reply = "$" + strconv.Itoa(len(v)) + "\r\n" + string(v) + "\r\n"
			} else {
				reply = "$-1\r\n"
			}
		case "set":
			f.kv[args[1]] = []byte(args[2])
			reply = "+OK\r\n"
		case "dbsize":
			reply = ":" + strconv.Itoa(len(f.kv)) + "\r\n"
		default:
			reply = "-ERR unknown command\r\n"
		}
		f.mu.Unlock()
		if _, err := io.WriteString(c, reply); err != nil {
			return
		}
	}
}

func (f *fakeRedis) set(k string, v []byte) {
	f.mu.Lock()
	f.kv[k] = v
	f.mu.Unlock()
}

func testRRs() []dnsmsg.RR {
	return []dnsmsg.RR{
		{Name: "www.example.", Type: dnsmsg.TypeCNAME, Class: dnsmsg.ClassINET, TTL: 300, Data: &dnsmsg.CNAME{Target: "web.example."}},
		{Name: "web.example.", Type: dnsmsg.TypeA, Class: dnsmsg.ClassINET, TTL: 60, Data: &dnsmsg.A{Addr: netip.MustParseAddr("192.0.2.1")}},
		{Name: "web.example.", Type: dnsmsg.TypeA, Class: dnsmsg.ClassINET, TTL: 0, Data: &dnsmsg.A{Addr: netip.MustParseAddr("192.0.2.2")}},
	}
}

func Test_RedisCache(t *testing.T) {
	f := newFakeRedis(t)
	client := redis.NewClient(&redis.Options{Addr: f.l.Addr().String()})
	now := time.Unix(1700000000, 0)
	r, err := NewRedisCache(RedisCacheOpts{
		Client:        client,
		ClientCloser:  client,
		ClientTimeout: time.Second,
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	defer r.Close()

	r.Insert(testRRs())
	require.Equal(t, 2, r.Len())

	now = now.Add(10 * time.Second)
	rrs, ok := r.Lookup(cache.NewKey("WEB.example.", dnsmsg.TypeA, dnsmsg.ClassINET))
	require.True(t, ok)
	require.Len(t, rrs, 1)
	require.Equal(t, uint32(50), rrs[0].TTL)
	require.Equal(t, "192.0.2.1", rrs[0].Data.String())

	_, ok = r.Lookup(cache.NewKey("missing.example.", dnsmsg.TypeA, dnsmsg.ClassINET))
	require.False(t, ok)

	// Stale values that redis has not expired yet are still misses.
	now = now.Add(time.Minute)
	_, ok = r.Lookup(cache.NewKey("web.example.", dnsmsg.TypeA, dnsmsg.ClassINET))
	require.False(t, ok)

	// Corrupt values are misses and do not disable the client.
	f.set(keyPrefix+"bad.example./1/1", []byte("garbage"))
	_, ok = r.Lookup(cache.NewKey("bad.example.", dnsmsg.TypeA, dnsmsg.ClassINET))
	require.False(t, ok)
	require.False(t, r.disabled())
}

func Test_RedisCache_disable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	r, err := NewRedisCache(RedisCacheOpts{Client: client, ClientCloser: client})
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.Lookup(cache.NewKey("x.", dnsmsg.TypeA, dnsmsg.ClassINET))
	require.False(t, ok)
	require.True(t, r.disabled())
	r.Insert(testRRs())
}

func Test_redisValue(t *testing.T) {
	stored := time.Unix(1700000000, 123)
	expire := stored.Add(time.Minute)
	buf, err := packRedisValue(stored, expire, testRRs()[:2])
	require.NoError(t, err)
	defer buf.Release()

	s, e, rrs, err := unpackRedisValue(buf.Bytes())
	require.NoError(t, err)
	require.True(t, s.Equal(stored))
	require.True(t, e.Equal(expire))
	require.Equal(t, testRRs()[:2], rrs)

	_, _, _, err = unpackRedisValue(buf.Bytes()[:10])
	require.Error(t, err)
	_, err = NewRedisCache(RedisCacheOpts{})
	require.Error(t, err)
}
