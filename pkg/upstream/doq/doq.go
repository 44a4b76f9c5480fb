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

// Package doq implements DNS over dedicated QUIC connections (RFC 9250).
package doq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/dnsutils"
)

const (
	// NextProto is the ALPN token of DoQ.
	NextProto = "doq"

	defaultIdleTimeout = 30 * time.Second

	// DoQ error codes, RFC 9250 4.3.
	codeNoError       quic.ApplicationErrorCode = 0
	codeInternalError quic.ApplicationErrorCode = 1
)

var (
	nopLogger = zap.NewNop()

	errClosed   = errors.New("doq upstream closed")
	errMismatch = errors.New("reply does not match the query")
)

type Opts struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
	Logger     *zap.Logger
}

func (opts *Opts) Init() {
	if opts.TLSConfig == nil {
		opts.TLSConfig = new(tls.Config)
	} else {
		opts.TLSConfig = opts.TLSConfig.Clone()
	}
	if len(opts.TLSConfig.NextProtos) == 0 {
		opts.TLSConfig.NextProtos = []string{NextProto}
	}
	if opts.QUICConfig == nil {
		opts.QUICConfig = &quic.Config{
			MaxIdleTimeout:  defaultIdleTimeout,
			KeepAlivePeriod: defaultIdleTimeout / 2,
		}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
}

// Upstream keeps one QUIC connection to the server and opens one stream
// per query. The connection is dialed lazily and redialed once it dies.
type Upstream struct {
	addr string
	opts Opts

	m      sync.Mutex
	conn   *quic.Conn
	closed bool
}

func NewUpstream(addr string, opts Opts) *Upstream {
	opts.Init()
	return &Upstream{addr: addr, opts: opts}
}

func (u *Upstream) Address() string {
	return u.addr
}

func (u *Upstream) Close() error {
	u.m.Lock()
	defer u.m.Unlock()
	u.closed = true
	if u.conn != nil {
		err := u.conn.CloseWithError(codeNoError, "")
		u.conn = nil
		return err
	}
	return nil
}

func (u *Upstream) getConn(ctx context.Context) (*quic.Conn, error) {
	u.m.Lock()
	defer u.m.Unlock()
	if u.closed {
		return nil, errClosed
	}
	if u.conn != nil {
		select {
		case <-u.conn.Context().Done():
			u.conn = nil
		default:
			return u.conn, nil
		}
	}
	c, err := quic.DialAddr(ctx, u.addr, u.opts.TLSConfig, u.opts.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.addr, err)
	}
	u.conn = c
	return c, nil
}

func (u *Upstream) dropConn(c *quic.Conn) {
	u.m.Lock()
	if u.conn == c {
		u.conn = nil
	}
	u.m.Unlock()
	c.CloseWithError(codeInternalError, "")
}

func (u *Upstream) Exchange(ctx context.Context, q *dnsmsg.Msg) (*dnsmsg.Msg, error) {
	c, err := u.getConn(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := c.OpenStreamSync(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		u.opts.Logger.Debug("dropping broken quic connection", zap.String("addr", u.addr), zap.Error(err))
		u.dropConn(c)
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(0)
		stream.CancelWrite(0)
	})
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		stream.SetDeadline(dl)
	}

	// The message ID must be 0 on a DoQ stream.
	wq := *q
	wq.ID = 0
	if _, err := dnsutils.WriteMsgToTCP(stream, &wq); err != nil {
		stream.CancelRead(0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to write query: %w", err)
	}
	// Signals the end of the query.
	stream.Close()

	r, _, err := dnsutils.ReadMsgFromTCP(stream)
	if err != nil {
		stream.CancelRead(0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var ce *dnsmsg.CodecError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	if !r.Response {
		return nil, &dnsmsg.CodecError{Kind: dnsmsg.ErrInvalidHeader, Offset: 2, Err: fmt.Errorf("qr bit not set")}
	}
	if !dnsutils.QuestionMatch(q, r) {
		return nil, errMismatch
	}
	r.ID = q.ID
	return r, nil
}
