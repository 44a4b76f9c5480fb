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

// Package resolver resolves names against a list of nameservers, with
// local zone data and a TTL cache in front of the network.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pmkol/ldns-x/pkg/cache"
	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/pool"
	"github.com/pmkol/ldns-x/pkg/upstream"
	"github.com/pmkol/ldns-x/pkg/upstream/udp"
	"github.com/pmkol/ldns-x/pkg/utils"
)

var nopLogger = zap.NewNop()

// Zone is local data answered before the cache and the network.
// *zone.Zone and *zone.Watcher implement it.
type Zone interface {
	Lookup(name string, t dnsmsg.Type, class dnsmsg.Class) ([]dnsmsg.RR, bool)
}

type Opts struct {
	// Logger is the *zap.Logger for this Resolver.
	// A nil Logger will disable logging.
	Logger *zap.Logger

	// Cache stores answers from the network. Nil disables caching.
	Cache cache.Backend

	// Zone is optional.
	Zone Zone

	// MetricsReg registers the resolver metrics. Nil disables the
	// registration, the metrics are still collected.
	MetricsReg prometheus.Registerer

	// Upstream is passed to every nameserver transport.
	Upstream upstream.Opts
}

func (opts *Opts) Init() {
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.Upstream.Logger == nil {
		opts.Upstream.Logger = opts.Logger
	}
}

// Source tells where a Result came from.
type Source uint8

const (
	SourceNetwork Source = iota
	SourceCache
	SourceZone
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceZone:
		return "zone"
	default:
		return "network"
	}
}

// Result is the answer to a lookup. NXDOMAIN and SERVFAIL are results,
// not errors.
type Result struct {
	Rcode dnsmsg.Rcode

	// Answer holds the CNAME chain from the question name, if any,
	// followed by the records of the asked type.
	Answer []dnsmsg.RR
	Ns     []dnsmsg.RR
	Source Source

	// Attempts is the trace of nameserver exchanges. It is empty for
	// zone and cache answers.
	Attempts []Attempt
}

func (r *Result) copy() *Result {
	c := *r
	c.Answer = dnsmsg.CopyRRs(r.Answer)
	c.Ns = dnsmsg.CopyRRs(r.Ns)
	c.Attempts = append([]Attempt(nil), r.Attempts...)
	return &c
}

type nameserver struct {
	addr     upstream.Addr
	primary  upstream.Upstream
	protocol upstream.Protocol

	// tcp repeats truncated udp exchanges. Nil if primary is not udp.
	tcp upstream.Upstream
}

type Resolver struct {
	cfg  Config
	opts Opts

	timeout    time.Duration
	backoff    time.Duration
	maxBackoff time.Duration

	// lookupBudget bounds a shared network lookup: every attempt
	// against every nameserver timing out, with the backoff between.
	lookupBudget time.Duration

	nameservers []*nameserver
	sf          singleflight.Group
	metrics     *metrics
}

func New(cfg Config, opts Opts) (*Resolver, error) {
	if err := cfg.Init(); err != nil {
		return nil, err
	}
	opts.Init()
	// Replies up to the advertised EDNS0 size must fit the read buffer.
	utils.SetDefaultNum(&opts.Upstream.UDPBufSize, udp.DefaultBufSize)
	if opts.Upstream.UDPBufSize < cfg.UDPSize {
		opts.Upstream.UDPBufSize = cfg.UDPSize
	}

	m, err := newMetrics(opts.MetricsReg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	r := &Resolver{
		cfg:        cfg,
		opts:       opts,
		timeout:    utils.MsToDuration(cfg.TimeoutMS),
		backoff:    utils.MsToDuration(cfg.BackoffMS),
		maxBackoff: utils.MsToDuration(cfg.MaxBackoffMS),
		metrics:    m,
	}

	for _, s := range cfg.Nameservers {
		ns, err := r.newNameserver(s)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("invalid nameserver %q: %w", s, err)
		}
		r.nameservers = append(r.nameservers, ns)
	}
	r.lookupBudget = r.exchangeBudget()
	return r, nil
}

// exchangeBudget is the longest exchange can run. An attempt may be
// repeated over TCP.
func (r *Resolver) exchangeBudget() time.Duration {
	perNS := 2 * r.timeout * time.Duration(r.cfg.Retries)
	for i := 0; i < r.cfg.Retries-1; i++ {
		perNS += r.backoffDuration(i)
	}
	return perNS * time.Duration(len(r.nameservers))
}

func (r *Resolver) newNameserver(s string) (*nameserver, error) {
	a, err := upstream.ParseAddr(s)
	if err != nil {
		return nil, err
	}
	if a.Protocol == upstream.ProtocolUDP && r.cfg.UseTCPFirst {
		a.Protocol = upstream.ProtocolTCP
	}
	u, err := upstream.New(a, r.opts.Upstream)
	if err != nil {
		return nil, err
	}
	ns := &nameserver{addr: a, primary: u, protocol: a.Protocol}
	if a.Protocol == upstream.ProtocolUDP {
		ta := a
		ta.Protocol = upstream.ProtocolTCP
		if ns.tcp, err = upstream.New(ta, r.opts.Upstream); err != nil {
			u.Close()
			return nil, err
		}
	}
	return ns, nil
}

// Close closes the nameserver transports. The cache and the zone are
// owned by the caller.
func (r *Resolver) Close() error {
	var errs []error
	for _, ns := range r.nameservers {
		errs = append(errs, ns.primary.Close())
		if ns.tcp != nil {
			errs = append(errs, ns.tcp.Close())
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the records answering name and t in class IN. An
// NXDOMAIN or SERVFAIL answer is returned as a *RcodeError matching
// ErrNXDomain or ErrServFail.
func (r *Resolver) Resolve(ctx context.Context, name string, t dnsmsg.Type) ([]dnsmsg.RR, error) {
	res, err := r.Lookup(ctx, name, t)
	if err != nil {
		return nil, err
	}
	if res.Rcode != dnsmsg.RcodeSuccess {
		return nil, &RcodeError{Name: name, Type: t, Rcode: res.Rcode}
	}
	return res.Answer, nil
}

// Lookup is Resolve with the full result. It tries the zone, then the
// cache, then the nameservers. Concurrent lookups of the same name and
// type share one network resolution.
func (r *Resolver) Lookup(ctx context.Context, name string, t dnsmsg.Type) (*Result, error) {
	start := time.Now()
	res, err := r.lookup(ctx, name, t)
	r.metrics.lookup(res, err, time.Since(start))
	return res, err
}

func (r *Resolver) lookup(ctx context.Context, name string, t dnsmsg.Type) (*Result, error) {
	qname, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	var chain []dnsmsg.RR
	for hop := 0; ; hop++ {
		res, err := r.lookupOne(ctx, qname, t)
		if err != nil {
			return nil, err
		}
		if len(chain) > 0 {
			res.Answer = append(chain, res.Answer...)
		}
		if res.Rcode != dnsmsg.RcodeSuccess || res.Source == SourceNetwork || hop >= maxCNAMEHops {
			return res, nil
		}
		// Zone and cache data may hold only the start of a chain.
		target, ok := danglingCNAME(res.Answer, t)
		if !ok {
			return res, nil
		}
		chain = res.Answer
		qname = dnsmsg.Fqdn(target)
	}
}

func (r *Resolver) lookupOne(ctx context.Context, qname string, t dnsmsg.Type) (*Result, error) {
	if r.opts.Zone != nil {
		if rrs, ok := r.opts.Zone.Lookup(qname, t, dnsmsg.ClassINET); ok {
			return &Result{Rcode: dnsmsg.RcodeSuccess, Answer: rrs, Source: SourceZone}, nil
		}
	}
	if rrs, ok := r.lookupCache(qname, t); ok {
		return &Result{Rcode: dnsmsg.RcodeSuccess, Answer: rrs, Source: SourceCache}, nil
	}

	key := cache.NewKey(qname, t, dnsmsg.ClassINET).String()
	ch := r.sf.DoChan(key, func() (any, error) {
		r.metrics.inflightTotal.Inc()
		defer r.metrics.inflightTotal.Dec()
		// Shared by every waiter, so it must outlive any one of them.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupBudget)
		defer cancel()
		return r.lookupNetwork(sctx, qname, t)
	})
	select {
	case sr := <-ch:
		if sr.Err != nil {
			return nil, sr.Err
		}
		res := sr.Val.(*Result)
		if sr.Shared {
			res = res.copy()
		}
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookupCache follows CNAME sets in the cache. A chain whose end is not
// cached is returned as is.
func (r *Resolver) lookupCache(name string, t dnsmsg.Type) ([]dnsmsg.RR, bool) {
	c := r.opts.Cache
	if c == nil {
		return nil, false
	}
	var out []dnsmsg.RR
	for hop := 0; hop <= maxCNAMEHops; hop++ {
		if rrs, ok := c.Lookup(cache.NewKey(name, t, dnsmsg.ClassINET)); ok {
			return append(out, rrs...), true
		}
		if t == dnsmsg.TypeCNAME {
			break
		}
		rrs, ok := c.Lookup(cache.NewKey(name, dnsmsg.TypeCNAME, dnsmsg.ClassINET))
		if !ok || len(rrs) == 0 {
			break
		}
		cn, ok := rrs[0].Data.(*dnsmsg.CNAME)
		if !ok {
			break
		}
		out = append(out, rrs[0])
		name = cn.Target
	}
	return out, len(out) > 0
}

func (r *Resolver) lookupNetwork(ctx context.Context, qname string, t dnsmsg.Type) (*Result, error) {
	q := new(dnsmsg.Msg).SetQuestion(qname, t)
	if r.cfg.UDPSize > 0 {
		q.SetEDNS0(uint16(r.cfg.UDPSize), false)
	}
	resp, attempts, err := r.exchange(ctx, q)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Rcode:    resp.Rcode,
		Answer:   extractAnswer(qname, t, resp.Answer),
		Ns:       resp.Ns,
		Source:   SourceNetwork,
		Attempts: attempts,
	}
	if resp.Rcode == dnsmsg.RcodeSuccess && !resp.Truncated && r.opts.Cache != nil {
		r.opts.Cache.Insert(res.Answer)
	}
	return res, nil
}

// Exchange forwards q to the nameservers and returns the reply. q must
// hold exactly one question. The query is sent with a new random ID, the
// reply carries the ID of q. Zone data and the cache are not consulted,
// successful answers are stored in the cache.
func (r *Resolver) Exchange(ctx context.Context, q *dnsmsg.Msg) (*dnsmsg.Msg, error) {
	if len(q.Question) != 1 {
		return nil, fmt.Errorf("query must hold one question, got %d", len(q.Question))
	}
	fq := *q
	fq.ID = dnsmsg.ID()
	resp, _, err := r.exchange(ctx, &fq)
	if err != nil {
		return nil, err
	}
	resp.ID = q.ID
	if resp.Rcode == dnsmsg.RcodeSuccess && !resp.Truncated && r.opts.Cache != nil {
		qs := q.Question[0]
		r.opts.Cache.Insert(extractAnswer(qs.Name, qs.Type, resp.Answer))
	}
	return resp, nil
}

// exchange runs the attempt loop. Each nameserver gets up to Retries
// attempts with exponential backoff between them. A SERVFAIL or REFUSED
// reply moves on to the next nameserver; if every nameserver answers so,
// the last such reply is returned. A malformed reply ends the loop.
func (r *Resolver) exchange(ctx context.Context, q *dnsmsg.Msg) (*dnsmsg.Msg, []Attempt, error) {
	var (
		attempts  []Attempt
		lastErr   error
		lastReply *dnsmsg.Msg
	)
	for _, ns := range r.nameservers {
		for i := 0; i < r.cfg.Retries; i++ {
			if i > 0 {
				if err := r.sleep(ctx, r.backoffDuration(i-1)); err != nil {
					return nil, attempts, err
				}
			}
			resp, err := r.attempt(ctx, ns, q, &attempts)
			if err == nil {
				if resp.Rcode == dnsmsg.RcodeServerFailure || resp.Rcode == dnsmsg.RcodeRefused {
					lastReply = resp
					lastErr = fmt.Errorf("%s answered %s", ns.addr, resp.Rcode)
					break
				}
				return resp, attempts, nil
			}
			if isCodecError(err) {
				return nil, attempts, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, attempts, ctxErr
			}
			lastErr = err
		}
	}
	if lastReply != nil {
		return lastReply, attempts, nil
	}

	rf := &ResolutionFailed{Attempts: attempts, Err: lastErr}
	if len(q.Question) > 0 {
		rf.Name, rf.Type = q.Question[0].Name, q.Question[0].Type
	}
	return nil, attempts, rf
}

// attempt sends q to ns, repeating it over TCP if the reply is truncated.
func (r *Resolver) attempt(ctx context.Context, ns *nameserver, q *dnsmsg.Msg, trace *[]Attempt) (*dnsmsg.Msg, error) {
	resp, err := r.try(ctx, ns.primary, ns.protocol, q, StateAnswered, trace)
	if err != nil || !resp.Truncated || ns.tcp == nil {
		return resp, err
	}
	return r.try(ctx, ns.tcp, upstream.ProtocolTCP, q, StateRetriedOverTCP, trace)
}

func (r *Resolver) try(ctx context.Context, u upstream.Upstream, p upstream.Protocol, q *dnsmsg.Msg, okState State, trace *[]Attempt) (*dnsmsg.Msg, error) {
	a := Attempt{Nameserver: u.Address(), Protocol: p, State: StatePending}

	actx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	resp, err := u.Exchange(actx, q)
	a.RTT = time.Since(start)

	switch {
	case err == nil && resp.Truncated:
		a.State = StateTruncated
	case err == nil:
		a.State = okState
	case isCodecError(err) || ctx.Err() != nil:
		a.State = StateFailed
	case isTimeout(err):
		a.State = StateTimedOut
		err = &NetworkError{Nameserver: u.Address(), Protocol: p, Err: err}
	default:
		a.State = StateFailed
		err = &NetworkError{Nameserver: u.Address(), Protocol: p, Err: err}
	}
	a.Err = err
	*trace = append(*trace, a)
	r.metrics.attempt(p, a.State)

	if err != nil {
		r.opts.Logger.Debug("attempt failed",
			zap.String("nameserver", a.Nameserver),
			zap.String("protocol", string(p)),
			zap.Stringer("state", a.State),
			zap.Duration("rtt", a.RTT),
			zap.Error(err))
	}
	return resp, err
}

func (r *Resolver) backoffDuration(n int) time.Duration {
	if n >= 30 {
		return r.maxBackoff
	}
	d := r.backoff << n
	if d > r.maxBackoff || d <= 0 {
		return r.maxBackoff
	}
	return d
}

func (r *Resolver) sleep(ctx context.Context, d time.Duration) error {
	timer := pool.GetTimer(d)
	defer pool.ReleaseTimer(timer)
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
