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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/dnsutils"
	C "github.com/pmkol/ldns-x/pkg/query_context"
	"github.com/pmkol/ldns-x/pkg/utils"
)

const (
	defaultTCPIdleTimeout = time.Second * 10
	tcpFirstReadTimeout   = time.Millisecond * 500
)

type tcpConn struct {
	net.Conn
	wm   sync.Mutex
	meta *C.RequestMeta
}

func (c *tcpConn) writeMsg(m *dnsmsg.Msg) error {
	b, buf, err := dnsutils.PackBuffer(m)
	if err != nil {
		return err
	}
	defer buf.Release()
	c.wm.Lock()
	defer c.wm.Unlock()
	_, err = dnsutils.WriteRawMsgToTCP(c, b)
	return err
}

// ServeTCP serves queries on l. Queries of one connection are handled
// concurrently and replies may be sent out of order (RFC 7766 6.2.1.1).
func (s *Server) ServeTCP(l net.Listener) error {
	defer l.Close()

	handler := s.opts.DNSHandler
	if handler == nil {
		return errMissingDNSHandler
	}

	if ok := s.trackCloser(l, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(l, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		c, err := l.Accept()
		if err != nil {
			if s.Closed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("unexpected listener err: %w", err)
		}
		go s.handleConnectionTcp(ctx, &tcpConn{Conn: c})
	}
}

func (s *Server) handleConnectionTcp(ctx context.Context, c *tcpConn) {
	defer c.Close()

	if !s.trackCloser(c, true) {
		return
	}
	defer s.trackCloser(c, false)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	clientAddr, _ := utils.GetIPFromAddr(c.RemoteAddr())
	c.meta = C.NewRequestMeta(clientAddr)
	c.meta.SetProtocol(C.ProtocolTCP)

	idleTimeout := s.opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultTCPIdleTimeout
	}

	// Pending replies are flushed before the connection is closed.
	var inflight sync.WaitGroup
	defer inflight.Wait()

	c.SetReadDeadline(time.Now().Add(min(idleTimeout, tcpFirstReadTimeout)))
	for {
		req, _, err := dnsutils.ReadMsgFromTCP(c)
		if err != nil {
			var ce *dnsmsg.CodecError
			if errors.As(err, &ce) {
				s.opts.Logger.Debug("invalid msg", zap.Stringer("from", c.RemoteAddr()), zap.Error(err))
			}
			return
		}

		s.wg.Add(1)
		inflight.Add(1)
		go func() {
			defer s.wg.Done()
			defer inflight.Done()
			s.handleQueryTcp(connCtx, c, req, idleTimeout)
		}()
		c.SetReadDeadline(time.Now().Add(idleTimeout))
	}
}

func (s *Server) handleQueryTcp(ctx context.Context, c *tcpConn, req *dnsmsg.Msg, timeout time.Duration) {
	qCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := s.opts.DNSHandler.ServeDNS(qCtx, req, c.meta)
	if err != nil {
		s.opts.Logger.Debug("handler err", zap.Error(err))
		return
	}
	r.ID = req.ID
	if err := c.writeMsg(r); err != nil {
		s.opts.Logger.Debug("failed to write response", zap.Stringer("client", c.RemoteAddr()), zap.Error(err))
	}
}
