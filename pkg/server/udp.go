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
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/dnsutils"
	"github.com/pmkol/ldns-x/pkg/pool"
	C "github.com/pmkol/ldns-x/pkg/query_context"
	"github.com/pmkol/ldns-x/pkg/utils"
)

// cmcUDPConn can read and write cmsg.
type cmcUDPConn interface {
	readFrom(b []byte) (n int, dst net.IP, ifIndex int, src net.Addr, err error)
	writeTo(b []byte, src net.IP, ifIndex int, dst net.Addr) (n int, err error)
}

func (s *Server) ServeUDP(c net.PacketConn) error {
	defer c.Close()

	handler := s.opts.DNSHandler
	if handler == nil {
		return errMissingDNSHandler
	}

	if ok := s.trackCloser(c, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(c, false)

	listenerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readBuf := pool.GetBuf(dnsmsg.MaxMsgSize)
	defer readBuf.Release()
	rb := readBuf.Bytes()

	// A socket bound to an unspecified address must reply from the
	// address the query was sent to.
	var cmc cmcUDPConn
	uc, ok := c.(*net.UDPConn)
	if ok && uc.LocalAddr().(*net.UDPAddr).IP.IsUnspecified() {
		var err error
		cmc, err = newCmc(uc)
		if err != nil {
			s.opts.Logger.Warn("failed to control socket cmsg, replies may come from another address", zap.Error(err))
			cmc = newDummyCmc(c)
		}
	} else {
		cmc = newDummyCmc(c)
	}

	for {
		n, localAddr, ifIndex, remoteAddr, err := cmc.readFrom(rb)
		if err != nil {
			if s.Closed() {
				return ErrServerClosed
			}
			return fmt.Errorf("unexpected read err: %w", err)
		}
		clientAddr, _ := utils.GetIPFromAddr(remoteAddr)

		q, err := dnsmsg.Decode(rb[:n])
		if err != nil {
			s.opts.Logger.Warn("invalid msg", zap.Error(err), zap.Binary("msg", rb[:n]), zap.Stringer("from", remoteAddr))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			meta := C.NewRequestMeta(clientAddr)
			meta.SetProtocol(C.ProtocolUDP)

			r, err := handler.ServeDNS(listenerCtx, q, meta)
			if err != nil {
				s.opts.Logger.Warn("handler err", zap.Error(err))
				return
			}
			r.ID = q.ID
			r.Truncate(q.UDPSize())

			b, buf, err := dnsutils.PackBuffer(r)
			if err != nil {
				s.opts.Logger.Error("failed to pack handler's response", zap.Error(err), zap.Stringer("msg", r))
				return
			}
			defer buf.Release()
			if _, err := cmc.writeTo(b, localAddr, ifIndex, remoteAddr); err != nil {
				s.opts.Logger.Warn("failed to write response", zap.Stringer("client", remoteAddr), zap.Error(err))
			}
		}()
	}
}

func newDummyCmc(c net.PacketConn) cmcUDPConn {
	return dummyCmcWrapper{c: c}
}

type dummyCmcWrapper struct {
	c net.PacketConn
}

func (w dummyCmcWrapper) readFrom(b []byte) (n int, dst net.IP, ifIndex int, src net.Addr, err error) {
	n, src, err = w.c.ReadFrom(b)
	return
}

func (w dummyCmcWrapper) writeTo(b []byte, _ net.IP, _ int, dst net.Addr) (n int, err error) {
	return w.c.WriteTo(b, dst)
}
