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

package tcp

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/dnsutils"
)

var nopLogger = zap.NewNop()

type Opts struct {
	Dialer *net.Dialer
	Logger *zap.Logger
}

func (opts *Opts) Init() {
	if opts.Dialer == nil {
		opts.Dialer = new(net.Dialer)
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
}

// Upstream exchanges queries over TCP with the 2 byte length framing of
// RFC 1035 4.2.2. Every exchange dials its own connection.
type Upstream struct {
	addr string
	opts Opts
}

func NewUpstream(addr string, opts Opts) *Upstream {
	opts.Init()
	return &Upstream{addr: addr, opts: opts}
}

func (u *Upstream) Address() string {
	return u.addr
}

func (u *Upstream) Close() error {
	return nil
}

func (u *Upstream) Exchange(ctx context.Context, q *dnsmsg.Msg) (*dnsmsg.Msg, error) {
	c, err := u.opts.Dialer.DialContext(ctx, "tcp", u.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.addr, err)
	}
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer func() {
		stop()
		c.Close()
	}()
	if dl, ok := ctx.Deadline(); ok {
		c.SetDeadline(dl)
	}

	if _, err := dnsutils.WriteMsgToTCP(c, q); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to write query: %w", err)
	}

	for {
		buf, _, err := dnsutils.ReadRawMsgFromTCP(c)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}
		r, err := unpackReply(q, buf.Bytes())
		buf.Release()
		if err != nil {
			return nil, err
		}
		if r == nil {
			u.opts.Logger.Debug("mismatched reply discarded", zap.String("addr", u.addr), zap.Uint16("id", q.ID))
			continue
		}
		return r, nil
	}
}

// unpackReply returns nil, nil if b carries another ID or a question
// that cannot be decoded or does not match.
func unpackReply(q *dnsmsg.Msg, b []byte) (*dnsmsg.Msg, error) {
	h, _, err := dnsmsg.DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if h.ID != q.ID {
		return nil, nil
	}
	if !h.Response {
		return nil, &dnsmsg.CodecError{Kind: dnsmsg.ErrInvalidHeader, Offset: 2, Err: fmt.Errorf("qr bit not set")}
	}
	r, err := dnsmsg.DecodeQuestion(b)
	if err != nil || !dnsutils.QuestionMatch(q, r) {
		return nil, nil
	}
	return dnsmsg.Decode(b)
}
