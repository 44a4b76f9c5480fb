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
	"fmt"
	"strings"

	"golang.org/x/net/idna"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

const maxCNAMEHops = 8

// Underscore labels (_dmarc, _sip._tcp) are common in DNS but not valid
// host names, so STD3 rules are off.
var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.Transitional(false),
)

// NormalizeName converts name to its fully qualified ASCII form. Names
// with non ASCII characters are converted to punycode.
func NormalizeName(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty name")
	}
	if !isASCII(name) {
		s, err := idnaProfile.ToASCII(strings.TrimSuffix(name, "."))
		if err != nil {
			return "", fmt.Errorf("invalid name %q: %w", name, err)
		}
		name = s
	}
	name = dnsmsg.Fqdn(name)
	if err := dnsmsg.ValidateName(name); err != nil {
		return "", fmt.Errorf("invalid name %q: %w", name, err)
	}
	return name, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// extractAnswer returns the records of answer that lie on the CNAME chain
// starting at qname, in chain order.
func extractAnswer(qname string, t dnsmsg.Type, answer []dnsmsg.RR) []dnsmsg.RR {
	var out []dnsmsg.RR
	name := qname
	for hop := 0; hop <= maxCNAMEHops; hop++ {
		next := ""
		for i := range answer {
			rr := &answer[i]
			if !dnsmsg.EqualName(rr.Name, name) {
				continue
			}
			switch {
			case rr.Type == t || t == dnsmsg.TypeANY:
				out = append(out, *rr)
			case rr.Type == dnsmsg.TypeCNAME && next == "":
				if c, ok := rr.Data.(*dnsmsg.CNAME); ok {
					out = append(out, *rr)
					next = c.Target
				}
			}
		}
		if next == "" {
			break
		}
		name = next
	}
	return out
}

// danglingCNAME returns the target of the last CNAME of a chain that has
// no record of type t.
func danglingCNAME(chain []dnsmsg.RR, t dnsmsg.Type) (string, bool) {
	if len(chain) == 0 || t == dnsmsg.TypeCNAME || t == dnsmsg.TypeANY {
		return "", false
	}
	for i := range chain {
		if chain[i].Type == t {
			return "", false
		}
	}
	last := chain[len(chain)-1]
	c, ok := last.Data.(*dnsmsg.CNAME)
	if !ok {
		return "", false
	}
	return c.Target, true
}
