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

package query_context

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

const (
	ProtocolUDP  = "udp"
	ProtocolTCP  = "tcp"
	ProtocolQUIC = "quic"
)

// RequestMeta represents some metadata about the request.
type RequestMeta struct {
	clientAddr netip.Addr
	serverName string
	protocol   string
}

func NewRequestMeta(addr netip.Addr) *RequestMeta {
	meta := new(RequestMeta)
	meta.SetClientAddr(addr)
	return meta
}

func (m *RequestMeta) SetClientAddr(addr netip.Addr) {
	m.clientAddr = addr.Unmap()
}

func (m *RequestMeta) SetProtocol(protocol string) {
	m.protocol = protocol
}

func (m *RequestMeta) SetServerName(serverName string) {
	m.serverName = serverName
}

func (m *RequestMeta) GetClientAddr() netip.Addr {
	return m.clientAddr
}

func (m *RequestMeta) GetProtocol() string {
	return m.protocol
}

// GetServerName returns the TLS server name of a quic request.
func (m *RequestMeta) GetServerName() string {
	return m.serverName
}

// Context carries one query through the entry handler.
type Context struct {
	startTime time.Time
	q         *dnsmsg.Msg
	id        uint32
	reqMeta   *RequestMeta

	r *dnsmsg.Msg
}

var (
	contextUid      atomic.Uint32
	zeroRequestMeta = &RequestMeta{}
)

// NewContext creates a new query Context. q must not be nil.
func NewContext(q *dnsmsg.Msg, meta *RequestMeta) *Context {
	if q == nil {
		panic("query_context: query msg is nil")
	}
	if meta == nil {
		meta = zeroRequestMeta
	}
	return &Context{
		q:         q,
		reqMeta:   meta,
		id:        contextUid.Add(1),
		startTime: time.Now(),
	}
}

// String returns a short summary of its query.
func (ctx *Context) String() string {
	if len(ctx.q.Question) == 0 {
		return fmt.Sprintf("<no question> %d %d", ctx.q.ID, ctx.id)
	}
	q := ctx.q.Question[0]
	return fmt.Sprintf("%s %s %s %d %d", q.Name, q.Class, q.Type, ctx.q.ID, ctx.id)
}

func (ctx *Context) Q() *dnsmsg.Msg {
	return ctx.q
}

func (ctx *Context) ReqMeta() *RequestMeta {
	return ctx.reqMeta
}

// R returns the response, nil if not set yet.
func (ctx *Context) R() *dnsmsg.Msg {
	return ctx.r
}

func (ctx *Context) SetResponse(r *dnsmsg.Msg) {
	ctx.r = r
}

func (ctx *Context) Id() uint32 {
	return ctx.id
}

func (ctx *Context) StartTime() time.Time {
	return ctx.startTime
}

// InfoField returns a zap.Field describing the query.
func (ctx *Context) InfoField() zap.Field {
	return zap.Stringer("query", ctx)
}
