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

package doq

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/dnsutils"
	"github.com/pmkol/ldns-x/pkg/utils"
)

// startServer answers every stream with an A record and records the IDs
// it saw on the wire.
func startServer(t *testing.T, ids chan<- uint16) (string, *x509.CertPool) {
	t.Helper()
	cert, err := utils.GenerateCertificate("doq.test")
	require.NoError(t, err)
	l, err := quic.ListenAddr("127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{NextProto},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			c, err := l.Accept(context.Background())
			if err != nil {
				return
			}
			go func() {
				for {
					s, err := c.AcceptStream(context.Background())
					if err != nil {
						return
					}
					go func() {
						defer s.Close()
						buf, _, err := dnsutils.ReadRawMsgFromTCP(s)
						if err != nil {
							return
						}
						q := new(dns.Msg)
						err = q.Unpack(buf.Bytes())
						buf.Release()
						if err != nil {
							return
						}
						ids <- q.Id
						r := new(dns.Msg)
						r.SetReply(q)
						r.Answer = append(r.Answer, &dns.A{
							Hdr: dns.RR_Header{Name: q.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
							A:   net.ParseIP("192.0.2.1"),
						})
						wire, _ := r.Pack()
						dnsutils.WriteRawMsgToTCP(s, wire)
					}()
				}
			}()
		}
	}()

	roots := x509.NewCertPool()
	roots.AddCert(cert.Leaf)
	return l.Addr().String(), roots
}

func TestUpstream_Exchange(t *testing.T) {
	ids := make(chan uint16, 8)
	addr, roots := startServer(t, ids)
	u := NewUpstream(addr, Opts{TLSConfig: &tls.Config{ServerName: "doq.test", RootCAs: roots}})
	defer u.Close()

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		q := new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA)
		r, err := u.Exchange(ctx, q)
		cancel()
		require.NoError(t, err)
		require.Equal(t, q.ID, r.ID)
		require.Equal(t, "192.0.2.1", r.Answer[0].Data.(*dnsmsg.A).Addr.String())
		require.Equal(t, uint16(0), <-ids)
	}
}

func TestUpstream_Closed(t *testing.T) {
	u := NewUpstream("127.0.0.1:1", Opts{})
	require.NoError(t, u.Close())
	_, err := u.Exchange(context.Background(), new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA))
	require.ErrorIs(t, err, errClosed)
}
