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
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	C "github.com/pmkol/ldns-x/pkg/query_context"
	"github.com/pmkol/ldns-x/pkg/upstream/doq"
	"github.com/pmkol/ldns-x/pkg/utils"
)

type handlerFunc func(ctx context.Context, q *dnsmsg.Msg, meta *C.RequestMeta) (*dnsmsg.Msg, error)

func (f handlerFunc) ServeDNS(ctx context.Context, q *dnsmsg.Msg, meta *C.RequestMeta) (*dnsmsg.Msg, error) {
	return f(ctx, q, meta)
}

// testHandler answers A queries with 192.0.2.1. Names under "big." get
// 64 records. The protocol of the last query is sent to protos.
func testHandler(protos chan<- string) handlerFunc {
	return func(_ context.Context, q *dnsmsg.Msg, meta *C.RequestMeta) (*dnsmsg.Msg, error) {
		if protos != nil {
			select {
			case protos <- meta.GetProtocol():
			default:
			}
		}
		if strings.HasPrefix(q.Question[0].Name, "fail.") {
			return nil, errors.New("no reply")
		}
		n := 1
		if strings.HasPrefix(q.Question[0].Name, "big.") {
			n = 64
		}
		r := new(dnsmsg.Msg).SetReply(q)
		for i := 0; i < n; i++ {
			r.Answer = append(r.Answer, dnsmsg.RR{
				Name: q.Question[0].Name, Type: dnsmsg.TypeA, Class: dnsmsg.ClassINET, TTL: 60,
				Data: &dnsmsg.A{Addr: netip.AddrFrom4([4]byte{192, 0, 2, byte(i + 1)})},
			})
		}
		return r, nil
	}
}

func TestServer_UDP(t *testing.T) {
	protos := make(chan string, 1)
	s := NewServer(ServerOpts{DNSHandler: testHandler(protos)})
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.ServeUDP(c) }()

	cl := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	r, _, err := cl.Exchange(q, c.LocalAddr().String())
	require.NoError(t, err)
	require.Equal(t, q.Id, r.Id)
	require.Len(t, r.Answer, 1)
	require.Equal(t, C.ProtocolUDP, <-protos)

	s.Close()
	require.ErrorIs(t, <-served, ErrServerClosed)
}

func TestServer_UDPTruncate(t *testing.T) {
	s := NewServer(ServerOpts{DNSHandler: testHandler(nil)})
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.ServeUDP(c)
	defer s.Close()

	conn, err := net.Dial("udp", c.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	exchange := func(q *dnsmsg.Msg) (*dnsmsg.Msg, int) {
		b, err := q.Encode()
		require.NoError(t, err)
		_, err = conn.Write(b)
		require.NoError(t, err)
		buf := make([]byte, 65535)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		r, err := dnsmsg.Decode(buf[:n])
		require.NoError(t, err)
		return r, n
	}

	// Without EDNS0 the reply must fit 512 bytes.
	r, n := exchange(new(dnsmsg.Msg).SetQuestion("big.example.com.", dnsmsg.TypeA))
	require.LessOrEqual(t, n, dnsmsg.MinMsgSize)
	require.True(t, r.Truncated)
	require.Less(t, len(r.Answer), 64)

	q := new(dnsmsg.Msg).SetQuestion("big.example.com.", dnsmsg.TypeA)
	q.SetEDNS0(4096, false)
	r, _ = exchange(q)
	require.False(t, r.Truncated)
	require.Len(t, r.Answer, 64)
}

func TestServer_TCP(t *testing.T) {
	protos := make(chan string, 1)
	s := NewServer(ServerOpts{DNSHandler: testHandler(protos)})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.ServeTCP(l) }()

	conn, err := dns.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	// Pipelined queries on one connection, including one without a reply.
	want := make(map[uint16]bool)
	for i := 0; i < 4; i++ {
		q := new(dns.Msg)
		q.SetQuestion(fmt.Sprintf("q%d.example.com.", i), dns.TypeA)
		want[q.Id] = true
		require.NoError(t, conn.WriteMsg(q))
	}
	fail := new(dns.Msg)
	fail.SetQuestion("fail.example.com.", dns.TypeA)
	require.NoError(t, conn.WriteMsg(fail))
	big := new(dns.Msg)
	big.SetQuestion("big.example.com.", dns.TypeA)
	want[big.Id] = true
	require.NoError(t, conn.WriteMsg(big))

	for len(want) > 0 {
		r, err := conn.ReadMsg()
		require.NoError(t, err)
		require.True(t, want[r.Id])
		delete(want, r.Id)
		if r.Id == big.Id {
			require.Len(t, r.Answer, 64)
			require.False(t, r.Truncated)
		}
	}
	require.Equal(t, C.ProtocolTCP, <-protos)

	s.Close()
	require.ErrorIs(t, <-served, ErrServerClosed)
}

func TestServer_MissingHandler(t *testing.T) {
	s := NewServer(ServerOpts{})
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	require.ErrorIs(t, s.ServeUDP(c), errMissingDNSHandler)
}

func TestServer_ServeAfterClose(t *testing.T) {
	s := NewServer(ServerOpts{DNSHandler: testHandler(nil)})
	s.Close()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.ErrorIs(t, s.ServeTCP(l), ErrServerClosed)
}

// writeCertFiles writes a fresh self-signed pair for name into dir.
func writeCertFiles(t *testing.T, dir, name string) (certFile, keyFile string, leaf *x509.Certificate) {
	t.Helper()
	cert, err := utils.GenerateCertificate(name)
	require.NoError(t, err)
	keyDer, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDer}), 0o600))
	return certFile, keyFile, cert.Leaf
}

func TestServer_QUIC(t *testing.T) {
	certFile, keyFile, leaf := writeCertFiles(t, t.TempDir(), "doq.test")
	protos := make(chan string, 1)
	s := NewServer(ServerOpts{DNSHandler: testHandler(protos), Cert: certFile, Key: keyFile})

	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	l, err := s.CreateQUICListener(c, "")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.ServeQUIC(l) }()

	roots := x509.NewCertPool()
	roots.AddCert(leaf)
	u := doq.NewUpstream(c.LocalAddr().String(), doq.Opts{TLSConfig: &tls.Config{ServerName: "doq.test", RootCAs: roots}})
	defer u.Close()

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		q := new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA)
		r, err := u.Exchange(ctx, q)
		cancel()
		require.NoError(t, err)
		require.Equal(t, q.ID, r.ID)
		require.Len(t, r.Answer, 1)
	}
	require.Equal(t, C.ProtocolQUIC, <-protos)

	s.Close()
	require.ErrorIs(t, <-served, ErrServerClosed)
}

func TestServer_QUICSelfSigned(t *testing.T) {
	s := NewServer(ServerOpts{DNSHandler: testHandler(nil)})
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	l, err := s.CreateQUICListener(c, "doq.test")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.ServeQUIC(l) }()

	var names []string
	u := doq.NewUpstream(c.LocalAddr().String(), doq.Opts{TLSConfig: &tls.Config{
		ServerName:         "doq.test",
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			names = cs.PeerCertificates[0].DNSNames
			return nil
		},
	}})
	defer u.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = u.Exchange(ctx, new(dnsmsg.Msg).SetQuestion("example.com.", dnsmsg.TypeA))
	require.NoError(t, err)
	require.Equal(t, []string{"doq.test"}, names)

	s.Close()
	require.ErrorIs(t, <-served, ErrServerClosed)
}

func TestServer_QUICHalfCert(t *testing.T) {
	s := NewServer(ServerOpts{DNSHandler: testHandler(nil), Cert: "cert.pem"})
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer c.Close()
	_, err = s.CreateQUICListener(c, "")
	require.ErrorContains(t, err, "both cert and key")
}

func TestCertWatcher_Reload(t *testing.T) {
	old := certReloadDelay
	certReloadDelay = 10 * time.Millisecond
	defer func() { certReloadDelay = old }()

	dir := t.TempDir()
	certFile, keyFile, _ := writeCertFiles(t, dir, "a.test")
	cw, err := newCertWatcher(certFile, keyFile, nopLogger)
	require.NoError(t, err)
	defer cw.Close()

	first := cw.get()
	require.NotNil(t, first)

	writeCertFiles(t, dir, "b.test")
	require.Eventually(t, func() bool {
		c := cw.get()
		return cw.reloads.Load() > 0 && c != first && c.Leaf != nil && c.Leaf.Subject.CommonName == "b.test"
	}, 3*time.Second, 10*time.Millisecond)

	// A broken pair keeps the last good one.
	loaded := cw.get()
	require.NoError(t, os.WriteFile(certFile, []byte("garbage"), 0o600))
	time.Sleep(100 * time.Millisecond)
	require.Same(t, loaded, cw.get())
}
