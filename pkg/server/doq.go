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
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/dnsutils"
	C "github.com/pmkol/ldns-x/pkg/query_context"
	"github.com/pmkol/ldns-x/pkg/utils"
)

const (
	doqNextProto           = "doq"
	defaultQUICIdleTimeout = 30 * time.Second

	// RFC 9250 4.3.
	doqNoError       quic.ApplicationErrorCode = 0
	doqInternalError quic.ApplicationErrorCode = 1
	doqProtocolError quic.ApplicationErrorCode = 2
)

type quicCloser struct {
	closed atomic.Bool
	conn   *quic.Conn
}

func (c *quicCloser) Close() error {
	return c.close(doqInternalError)
}

func (c *quicCloser) close(code quic.ApplicationErrorCode) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.CloseWithError(code, "")
}

// ServeQUIC serves DoQ on l. Every stream carries one query.
func (s *Server) ServeQUIC(l *quic.EarlyListener) error {
	defer l.Close()

	handler := s.opts.DNSHandler
	if handler == nil {
		return errMissingDNSHandler
	}

	if ok := s.trackCloser(l, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(l, false)

	firstReadTimeout := tcpFirstReadTimeout
	idleTimeout := s.opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultQUICIdleTimeout
	}
	if idleTimeout < firstReadTimeout {
		firstReadTimeout = idleTimeout
	}

	listenerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		c, err := l.Accept(listenerCtx)
		if err != nil {
			if s.Closed() {
				return ErrServerClosed
			}
			return fmt.Errorf("unexpected listener err: %w", err)
		}

		connCtx, cancelConn := context.WithCancel(listenerCtx)
		closer := &quicCloser{conn: c}
		go func() {
			defer closer.close(doqNoError)
			defer cancelConn()
			if !s.trackCloser(closer, true) {
				closer.close(doqInternalError)
				return
			}
			defer s.trackCloser(closer, false)

			clientAddr, _ := utils.GetIPFromAddr(c.RemoteAddr())
			meta := C.NewRequestMeta(clientAddr)
			meta.SetProtocol(C.ProtocolQUIC)
			meta.SetServerName(c.ConnectionState().TLS.ServerName)

			// The connection is dropped after idleTimeout without a new stream.
			timeout := time.AfterFunc(firstReadTimeout, cancelConn)
			defer timeout.Stop()
			for {
				stream, err := c.AcceptStream(connCtx)
				if err != nil {
					return
				}
				timeout.Reset(idleTimeout)

				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					defer stream.Close()

					req, _, err := dnsutils.ReadMsgFromTCP(stream)
					if err != nil {
						stream.CancelRead(doqProtocolErrorStream)
						stream.CancelWrite(doqProtocolErrorStream)
						return
					}
					stream.CancelRead(0)

					if req.ID != 0 {
						stream.CancelWrite(doqProtocolErrorStream)
						closer.close(doqProtocolError)
						return
					}

					r, err := handler.ServeDNS(connCtx, req, meta)
					if err != nil {
						stream.CancelWrite(doqProtocolErrorStream)
						s.opts.Logger.Debug("handler err", zap.Error(err))
						return
					}
					r.ID = 0

					if _, err := dnsutils.WriteMsgToTCP(stream, r); err != nil {
						stream.CancelWrite(doqProtocolErrorStream)
						if errors.Is(err, context.Canceled) {
							return
						}
						s.opts.Logger.Debug("failed to write response", zap.Stringer("client", c.RemoteAddr()), zap.Error(err))
					}
				}()
			}
		}()
	}
}

const doqProtocolErrorStream quic.StreamErrorCode = 2
