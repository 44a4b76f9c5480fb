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

package udp

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/dnsutils"
	"github.com/pmkol/ldns-x/pkg/pool"
	"github.com/pmkol/ldns-x/pkg/utils"
)

// DefaultBufSize is the read buffer size used when Opts.BufSize is zero.
const DefaultBufSize = 4096

var nopLogger = zap.NewNop()

type Opts struct {
	Dialer  *net.Dialer
	BufSize int // default 4096
	Logger  *zap.Logger
}

func (opts *Opts) Init() {
	if opts.Dialer == nil {
		opts.Dialer = new(net.Dialer)
	}
	utils.SetDefaultNum(&opts.BufSize, DefaultBufSize)
	if opts.BufSize > dnsmsg.MaxMsgSize {
		opts.BufSize = dnsmsg.MaxMsgSize
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
}

// Upstream exchanges queries over UDP. Every exchange uses its own
// connected socket, which is closed when Exchange returns or ctx is done.
//
// A truncated reply is returned with Truncated set and only the header
// and question decoded. Retrying it over TCP is up to the caller.
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
	c, err := u.opts.Dialer.DialContext(ctx, "udp", u.addr)
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

	if _, err := dnsutils.WriteMsgToUDP(c, q); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to write query: %w", err)
	}

	buf := pool.GetBuf(u.opts.BufSize)
	defer buf.Release()
	b := buf.Bytes()
	for {
		n, err := c.Read(b)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}
		r, err := unpackReply(q, b[:n])
		if err != nil {
			return nil, err
		}
		if r == nil {
			u.opts.Logger.Debug("mismatched reply discarded",
				zap.String("addr", u.addr), zap.Uint16("id", q.ID), zap.Int("len", n))
			continue
		}
		return r, nil
	}
}

// unpackReply returns nil, nil if b is not shown to be a reply to q: a
// header or question that cannot be decoded counts as a mismatch. Only
// a matching reply with broken record sections is an error.
func unpackReply(q *dnsmsg.Msg, b []byte) (*dnsmsg.Msg, error) {
	h, _, err := dnsmsg.DecodeHeader(b)
	if err != nil || h.ID != q.ID || !h.Response {
		return nil, nil
	}
	r, err := dnsmsg.DecodeQuestion(b)
	if err != nil || !dnsutils.QuestionMatch(q, r) {
		return nil, nil
	}
	if h.Truncated {
		return r, nil
	}
	return dnsmsg.Decode(b)
}
