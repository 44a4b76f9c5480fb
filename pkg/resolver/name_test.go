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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmkol/ldns-x/pkg/cache"
	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

func cacheKey(name string, t dnsmsg.Type) cache.Key {
	return cache.NewKey(name, t, dnsmsg.ClassINET)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "example.com", want: "example.com."},
		{in: "Example.COM.", want: "Example.COM."},
		{in: ".", want: "."},
		{in: "_dmarc.example.com", want: "_dmarc.example.com."},
		{in: "bücher.example", want: "xn--bcher-kva.example."},
		{in: "bücher.example.", want: "xn--bcher-kva.example."},
		{in: "", wantErr: true},
		{in: strings.Repeat("a", 64) + ".example", wantErr: true},
		{in: "a..example", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeName(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func rr(name string, t dnsmsg.Type, data dnsmsg.RData) dnsmsg.RR {
	return dnsmsg.RR{Name: name, Type: t, Class: dnsmsg.ClassINET, TTL: 60, Data: data}
}

func TestExtractAnswer(t *testing.T) {
	answer := []dnsmsg.RR{
		rr("b.example.", dnsmsg.TypeCNAME, &dnsmsg.CNAME{Target: "c.example."}),
		rr("A.example.", dnsmsg.TypeCNAME, &dnsmsg.CNAME{Target: "b.example."}),
		rr("x.example.", dnsmsg.TypeA, &dnsmsg.A{}),
		rr("c.example.", dnsmsg.TypeA, &dnsmsg.A{}),
	}
	got := extractAnswer("a.example.", dnsmsg.TypeA, answer)
	require.Len(t, got, 3)
	require.Equal(t, "A.example.", got[0].Name)
	require.Equal(t, "b.example.", got[1].Name)
	require.Equal(t, "c.example.", got[2].Name)

	_, ok := danglingCNAME(got, dnsmsg.TypeA)
	require.False(t, ok)
	target, ok := danglingCNAME(got[:2], dnsmsg.TypeA)
	require.True(t, ok)
	require.Equal(t, "c.example.", target)

	// Loops stop after the hop limit.
	loop := []dnsmsg.RR{
		rr("a.example.", dnsmsg.TypeCNAME, &dnsmsg.CNAME{Target: "b.example."}),
		rr("b.example.", dnsmsg.TypeCNAME, &dnsmsg.CNAME{Target: "a.example."}),
	}
	require.Len(t, extractAnswer("a.example.", dnsmsg.TypeA, loop), maxCNAMEHops+1)

	got = extractAnswer("a.example.", dnsmsg.TypeCNAME, answer)
	require.Len(t, got, 1)
}
