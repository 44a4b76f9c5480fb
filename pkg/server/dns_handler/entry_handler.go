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

package dns_handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"go4.org/netipx"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/dnsutils"
	C "github.com/pmkol/ldns-x/pkg/query_context"
	"github.com/pmkol/ldns-x/pkg/resolver"
)

const defaultQueryTimeout = 5 * time.Second

var nopLogger = zap.NewNop()

// Handler handles dns query.
type Handler interface {
	// ServeDNS returns the reply to q. A returned error means no reply
	// must be sent.
	ServeDNS(ctx context.Context, q *dnsmsg.Msg, meta *C.RequestMeta) (*dnsmsg.Msg, error)
}

// Resolver is implemented by *resolver.Resolver.
type Resolver interface {
	Lookup(ctx context.Context, name string, t dnsmsg.Type) (*resolver.Result, error)
}

type EntryHandlerOpts struct {
	// Logger is used for logging. A nil value will disable logging.
	Logger *zap.Logger

	// Resolver answers the questions. Required.
	Resolver Resolver

	// QueryTimeout limits the time spent on one query. Default is 5s.
	QueryTimeout time.Duration

	// AllowList holds the client addresses that may query. A nil
	// AllowList allows everyone, others get REFUSED.
	AllowList *netipx.IPSet

	// MaxTTL caps the TTLs of replies. Zero means no cap.
	MaxTTL uint32
}

func (opts *EntryHandlerOpts) Init() error {
	if opts.Resolver == nil {
		return errors.New("nil resolver")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	return nil
}

// EntryHandler answers stub queries through the resolver.
type EntryHandler struct {
	opts EntryHandlerOpts
}

func NewEntryHandler(opts EntryHandlerOpts) (*EntryHandler, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &EntryHandler{opts: opts}, nil
}

// ServeDNS implements Handler.
// Resolver errors are logged and answered with SERVFAIL, so ServeDNS
// always returns a reply.
func (h *EntryHandler) ServeDNS(ctx context.Context, q *dnsmsg.Msg, meta *C.RequestMeta) (*dnsmsg.Msg, error) {
	qCtx := C.NewContext(q, meta)

	r := h.serve(ctx, qCtx)
	r.RecursionAvailable = true
	if opt := q.IsEDNS0(); opt != nil && r.IsEDNS0() == nil {
		r.SetEDNS0(dnsmsg.DefaultUDPSize, q.DNSSECOK())
	}
	qCtx.SetResponse(r)

	h.opts.Logger.Debug("query served",
		qCtx.InfoField(),
		zap.Stringer("client", qCtx.ReqMeta().GetClientAddr()),
		zap.Stringer("rcode", r.Rcode),
		zap.Duration("elapsed", time.Since(qCtx.StartTime())))
	return r, nil
}

func (h *EntryHandler) serve(ctx context.Context, qCtx *C.Context) *dnsmsg.Msg {
	q := qCtx.Q()
	if set := h.opts.AllowList; set != nil && !set.Contains(qCtx.ReqMeta().GetClientAddr()) {
		return new(dnsmsg.Msg).SetRcode(q, dnsmsg.RcodeRefused)
	}
	if q.Opcode != dnsmsg.OpcodeQuery {
		return new(dnsmsg.Msg).SetRcode(q, dnsmsg.RcodeNotImplemented)
	}
	if len(q.Question) != 1 {
		return new(dnsmsg.Msg).SetRcode(q, dnsmsg.RcodeFormatError)
	}
	question := q.Question[0]
	if question.Class != dnsmsg.ClassINET {
		return new(dnsmsg.Msg).SetRcode(q, dnsmsg.RcodeNotImplemented)
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.QueryTimeout)
	defer cancel()
	res, err := h.opts.Resolver.Lookup(ctx, question.Name, question.Type)
	if err != nil {
		h.opts.Logger.Warn("query failed", qCtx.InfoField(), zap.Error(err))
		return dnsutils.GenEmptyReply(q, dnsmsg.RcodeServerFailure)
	}

	r := new(dnsmsg.Msg).SetRcode(q, res.Rcode)
	r.Authoritative = res.Source == resolver.SourceZone
	r.Answer = res.Answer
	r.Ns = res.Ns
	if h.opts.MaxTTL > 0 {
		dnsutils.ApplyMaximumTTL(r, h.opts.MaxTTL)
	}
	return r
}
