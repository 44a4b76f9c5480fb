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

package zone

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

const testZone = `
$ORIGIN example.com.
$TTL 1h
@	IN	SOA	ns1 hostmaster (
		2024010101 ; serial
		2h 1h 2w 5m )
	IN	NS	ns1
ns1	300	IN	A	192.0.2.53
www	IN	CNAME	web
web	60	IN	A	192.0.2.1
	60	IN	A	192.0.2.2
txt	TXT	"semi;colon (not a paren)" "two"
loop1	CNAME	loop2
loop2	CNAME	loop1
$ORIGIN sub
host	AAAA	2001:db8::1
`

func loadTestZone(t *testing.T) *Zone {
	z, err := Load(strings.NewReader(testZone), "")
	require.NoError(t, err)
	return z
}

func TestLoad(t *testing.T) {
	z := loadTestZone(t)
	require.Equal(t, 10, z.Len())

	soa, ok := z.Lookup("example.com.", dnsmsg.TypeSOA, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Equal(t, "ns1.example.com. hostmaster.example.com. 2024010101 7200 3600 1209600 300", soa[0].Data.String())
	require.Equal(t, uint32(3600), soa[0].TTL)

	ns, ok := z.Lookup("EXAMPLE.COM", dnsmsg.TypeNS, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Equal(t, "example.com.", ns[0].Name)

	web, ok := z.Lookup("web.example.com.", dnsmsg.TypeA, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Len(t, web, 2)
	require.Equal(t, "192.0.2.2", web[1].Data.String())

	txt, ok := z.Lookup("txt.example.com.", dnsmsg.TypeTXT, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Equal(t, &dnsmsg.TXT{Txt: []string{"semi;colon (not a paren)", "two"}}, txt[0].Data)

	host, ok := z.Lookup("host.sub.example.com.", dnsmsg.TypeAAAA, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Equal(t, "2001:db8::1", host[0].Data.String())

	_, ok = z.Lookup("web.example.com.", dnsmsg.TypeA, dnsmsg.ClassCHAOS)
	require.False(t, ok)
	_, ok = z.Lookup("nope.example.com.", dnsmsg.TypeA, dnsmsg.ClassINET)
	require.False(t, ok)
}

func TestLookupCNAME(t *testing.T) {
	z := loadTestZone(t)

	rrs, ok := z.Lookup("www.example.com.", dnsmsg.TypeA, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Len(t, rrs, 3)
	require.Equal(t, dnsmsg.TypeCNAME, rrs[0].Type)
	require.Equal(t, dnsmsg.TypeA, rrs[1].Type)

	// A CNAME whose target has no data still answers with the chain.
	rrs, ok = z.Lookup("www.example.com.", dnsmsg.TypeMX, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Len(t, rrs, 1)

	rrs, ok = z.Lookup("www.example.com.", dnsmsg.TypeCNAME, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Len(t, rrs, 1)

	// Loops end after the chain limit.
	rrs, ok = z.Lookup("loop1.example.com.", dnsmsg.TypeA, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Len(t, rrs, maxCNAMEChain+1)

	var nilZone *Zone
	_, ok = nilZone.Lookup("x.", dnsmsg.TypeA, dnsmsg.ClassINET)
	require.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	for _, s := range []string{
		"  IN A 192.0.2.1",
		"www A 192.0.2.1 )",
		"@ SOA ns hm ( 1 2 3 4 5",
		"$TTL forever",
		"$ORIGIN",
		"$INCLUDE other.zone",
		"www A not-an-ip",
		`www TXT "open`,
	} {
		_, err := Load(strings.NewReader(s), "example.com.")
		require.Error(t, err, s)
	}
}

func writeFile(t *testing.T, path, content string) {
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.zone")
	writeFile(t, path, "www 60 IN A 192.0.2.1\n")

	w, err := NewWatcher(WatcherOpts{Path: path, Origin: "example.com.", ReloadDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	rrs, ok := w.Lookup("www.example.com.", dnsmsg.TypeA, dnsmsg.ClassINET)
	require.True(t, ok)
	require.Equal(t, "192.0.2.1", rrs[0].Data.String())

	writeFile(t, path, "www 60 IN A 192.0.2.2\n")
	require.Eventually(t, func() bool {
		rrs, ok := w.Lookup("www.example.com.", dnsmsg.TypeA, dnsmsg.ClassINET)
		return ok && rrs[0].Data.String() == "192.0.2.2"
	}, 5*time.Second, 10*time.Millisecond)

	// A broken file keeps the previous zone.
	reloads := w.Reloads()
	writeFile(t, path, "www 60 IN A bogus\n")
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, reloads, w.Reloads())
	_, ok = w.Lookup("www.example.com.", dnsmsg.TypeA, dnsmsg.ClassINET)
	require.True(t, ok)
}

func TestNewWatcherMissingFile(t *testing.T) {
	_, err := NewWatcher(WatcherOpts{Path: filepath.Join(t.TempDir(), "missing.zone")})
	require.Error(t, err)
}
