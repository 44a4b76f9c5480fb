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

package dns_handler

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go4.org/netipx"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	C "github.com/pmkol/ldns-x/pkg/query_context"
	"github.com/pmkol/ldns-x/pkg/resolver"
)

type dummyResolver struct {
	res  *resolver.Result
	err  error
	seen []string
}

func (d *dummyResolver) Lookup(_ context.Context, name string, t dnsmsg.Type) (*resolver.Result, error) {
	d.seen = append(d.seen, name+" "+t.String())
	return d.res, d.err
}

func aResult(source resolver.Source) *resolver.Result {
	return &resolver.Result{
		Rcode:  dnsmsg.RcodeSuccess,
		Source: source,
		Answer: []dnsmsg.RR{{
			Name: "example.com.", Type: dnsmsg.TypeA, Class: dnsmsg.ClassINET, TTL: 60,
			Data: &dnsmsg.A{Addr: netip.MustParseAddr("192.0.2.1")},
		}},
	}
}

func meta(addr string) *C.RequestMeta {
	return C.NewRequestMeta(netip.MustParseAddr(addr))
}

func TestEntryHandler_ServeDNS(t *testing.T) {
	d := &dummyResolver{res: aResult(resolver.SourceNetwork)}
	h, err := NewEntryHandler(EntryHandlerOpts{Resolver: d})
	require.NoError(t, err)

	q := new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA)
	q.SetEDNS0(4096, true)
	r, err := h.ServeDNS(context.Background(), q, meta("192.0.2.53"))
	require.NoError(t, err)
	require.Equal(t, q.ID, r.ID)
	require.True(t, r.Response)
	require.True(t, r.RecursionAvailable)
	require.False(t, r.Authoritative)
	require.Equal(t, dnsmsg.RcodeSuccess, r.Rcode)
	require.Len(t, r.Answer, 1)
	require.NotNil(t, r.IsEDNS0())
	require.True(t, r.DNSSECOK())
	require.Equal(t, []string{"example.com. A"}, d.seen)

	q = new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA)
	r, err = h.ServeDNS(context.Background(), q, meta("192.0.2.53"))
	require.NoError(t, err)
	require.Nil(t, r.IsEDNS0(), "no OPT in reply to a query without one")
}

func TestEntryHandler_Zone(t *testing.T) {
	h, err := NewEntryHandler(EntryHandlerOpts{Resolver: &dummyResolver{res: aResult(resolver.SourceZone)}})
	require.NoError(t, err)
	r, err := h.ServeDNS(context.Background(), new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA), nil)
	require.NoError(t, err)
	require.True(t, r.Authoritative)
}

func TestEntryHandler_Errors(t *testing.T) {
	d := &dummyResolver{err: errors.New("resolution failed")}
	h, err := NewEntryHandler(EntryHandlerOpts{Resolver: d})
	require.NoError(t, err)

	r, err := h.ServeDNS(context.Background(), new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA), meta("192.0.2.53"))
	require.NoError(t, err)
	require.Equal(t, dnsmsg.RcodeServerFailure, r.Rcode)
	require.Len(t, r.Ns, 1)
	require.Equal(t, dnsmsg.TypeSOA, r.Ns[0].Type)

	d.res, d.err = &resolver.Result{Rcode: dnsmsg.RcodeNameError}, nil
	r, err = h.ServeDNS(context.Background(), new(dnsmsg.Msg).SetQuestion("nx.example.", dnsmsg.TypeA), nil)
	require.NoError(t, err)
	require.Equal(t, dnsmsg.RcodeNameError, r.Rcode)
}

func TestEntryHandler_Malformed(t *testing.T) {
	d := &dummyResolver{res: aResult(resolver.SourceNetwork)}
	h, err := NewEntryHandler(EntryHandlerOpts{Resolver: d})
	require.NoError(t, err)

	tests := []struct {
		name  string
		q     *dnsmsg.Msg
		rcode dnsmsg.Rcode
	}{
		{"no question", &dnsmsg.Msg{Header: dnsmsg.Header{ID: 1}}, dnsmsg.RcodeFormatError},
		{"notify", func() *dnsmsg.Msg {
			q := new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeSOA)
			q.Opcode = dnsmsg.OpcodeNotify
			return q
		}(), dnsmsg.RcodeNotImplemented},
		{"chaos class", func() *dnsmsg.Msg {
			q := new(dnsmsg.Msg).SetQuestion("version.bind.", dnsmsg.TypeTXT)
			q.Question[0].Class = dnsmsg.ClassCHAOS
			return q
		}(), dnsmsg.RcodeNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := h.ServeDNS(context.Background(), tt.q, nil)
			require.NoError(t, err)
			require.Equal(t, tt.rcode, r.Rcode)
		})
	}
	require.Empty(t, d.seen)
}

func TestEntryHandler_AllowList(t *testing.T) {
	var b netipx.IPSetBuilder
	b.AddPrefix(netip.MustParsePrefix("192.0.2.0/24"))
	b.AddPrefix(netip.MustParsePrefix("2001:db8::/32"))
	set, err := b.IPSet()
	require.NoError(t, err)

	h, err := NewEntryHandler(EntryHandlerOpts{
		Resolver:  &dummyResolver{res: aResult(resolver.SourceNetwork)},
		AllowList: set,
	})
	require.NoError(t, err)

	for addr, want := range map[string]dnsmsg.Rcode{
		"192.0.2.10":       dnsmsg.RcodeSuccess,
		"::ffff:192.0.2.1": dnsmsg.RcodeSuccess,
		"2001:db8::1":      dnsmsg.RcodeSuccess,
		"198.51.100.1":     dnsmsg.RcodeRefused,
	} {
		r, err := h.ServeDNS(context.Background(), new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA), meta(addr))
		require.NoError(t, err)
		require.Equal(t, want, r.Rcode, addr)
	}
}

func TestNewEntryHandler(t *testing.T) {
	_, err := NewEntryHandler(EntryHandlerOpts{})
	require.Error(t, err)
}

func TestEntryHandler_MaxTTL(t *testing.T) {
	d := &dummyResolver{res: aResult(resolver.SourceZone)}
	h, err := NewEntryHandler(EntryHandlerOpts{Resolver: d, MaxTTL: 10})
	require.NoError(t, err)

	r, err := h.ServeDNS(context.Background(), new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA), meta("192.0.2.53"))
	require.NoError(t, err)
	require.Equal(t, uint32(10), r.Answer[0].TTL)
	require.True(t, r.Authoritative)
}
