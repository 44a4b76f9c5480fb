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

package resolver

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/upstream"
)

type metrics struct {
	queryTotal    *prometheus.CounterVec
	attemptTotal  *prometheus.CounterVec
	resolveTime   prometheus.Histogram
	inflightTotal prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		queryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolver_query_total",
			Help: "The total number of lookups by result",
		}, []string{"result"}),
		attemptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolver_attempt_total",
			Help: "The total number of nameserver attempts by protocol and final state",
		}, []string{"protocol", "state"}),
		resolveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resolver_response_latency_millisecond",
			Help:    "The lookup latency in millisecond",
			Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
		}),
		inflightTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resolver_inflight_network_lookups",
			Help: "The number of lookups currently waiting for a nameserver",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range [...]prometheus.Collector{m.queryTotal, m.attemptTotal, m.resolveTime, m.inflightTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) attempt(p upstream.Protocol, s State) {
	m.attemptTotal.WithLabelValues(string(p), s.String()).Inc()
}

func (m *metrics) lookup(res *Result, err error, d time.Duration) {
	m.resolveTime.Observe(float64(d.Milliseconds()))
	m.queryTotal.WithLabelValues(resultLabel(res, err)).Inc()
}

func resultLabel(res *Result, err error) string {
	if err != nil {
		var rf *ResolutionFailed
		if errors.As(err, &rf) {
			return "failed"
		}
		return "error"
	}
	switch res.Source {
	case SourceZone:
		return "zone"
	case SourceCache:
		return "cache"
	}
	switch res.Rcode {
	case dnsmsg.RcodeSuccess:
		return "noerror"
	case dnsmsg.RcodeNameError:
		return "nxdomain"
	case dnsmsg.RcodeServerFailure:
		return "servfail"
	}
	return "other_rcode"
}
