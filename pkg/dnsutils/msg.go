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

package dnsutils

import (
	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

// ApplyMaximumTTL caps every TTL of m at ttl.
func ApplyMaximumTTL(m *dnsmsg.Msg, ttl uint32) {
	for _, section := range [...][]dnsmsg.RR{m.Answer, m.Ns, m.Extra} {
		for i := range section {
			if section[i].Type != dnsmsg.TypeOPT && section[i].TTL > ttl {
				section[i].TTL = ttl
			}
		}
	}
}

// GenEmptyReply creates a reply to q with rcode and a fake SOA in the
// authority section, so clients cache the failure for a short while.
func GenEmptyReply(q *dnsmsg.Msg, rcode dnsmsg.Rcode) *dnsmsg.Msg {
	r := new(dnsmsg.Msg).SetRcode(q, rcode)
	r.RecursionAvailable = true

	name := "."
	if len(q.Question) > 0 {
		name = q.Question[0].Name
	}
	r.Ns = []dnsmsg.RR{FakeSOA(name)}
	return r
}

// FakeSOA returns a static SOA record owned by name.
func FakeSOA(name string) dnsmsg.RR {
	return dnsmsg.RR{
		Name:  name,
		Type:  dnsmsg.TypeSOA,
		Class: dnsmsg.ClassINET,
		TTL:   30,
		Data: &dnsmsg.SOA{
			Ns:      "fake-ns.ldns.invalid.",
			Mbox:    "fake-mbox.ldns.invalid.",
			Serial:  2021110400,
			Refresh: 1800,
			Retry:   900,
			Expire:  604800,
			Minttl:  30,
		},
	}
}

// QuestionMatch reports whether r answers the question section of q.
// Names are compared ignoring ASCII case, since some servers echo the
// question with altered case.
func QuestionMatch(q, r *dnsmsg.Msg) bool {
	if len(q.Question) != len(r.Question) {
		return false
	}
	for i := range q.Question {
		if !q.Question[i].Equal(r.Question[i]) {
			return false
		}
	}
	return true
}
