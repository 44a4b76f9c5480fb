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

// Package zone holds static records that are answered locally instead
// of being resolved over the network.
package zone

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

const (
	defaultTTL    = 3600
	maxCNAMEChain = 8
)

type key struct {
	name  string
	class dnsmsg.Class
}

// Zone is an immutable set of records. It is safe for concurrent use.
type Zone struct {
	records map[key]map[dnsmsg.Type][]dnsmsg.RR
	n       int
}

func New() *Zone {
	return &Zone{records: make(map[key]map[dnsmsg.Type][]dnsmsg.RR)}
}

// Add stores a copy of rr. Only used while building a zone.
func (z *Zone) Add(rr dnsmsg.RR) {
	k := key{name: dnsmsg.CanonicalName(rr.Name), class: rr.Class}
	byType := z.records[k]
	if byType == nil {
		byType = make(map[dnsmsg.Type][]dnsmsg.RR)
		z.records[k] = byType
	}
	byType[rr.Type] = append(byType[rr.Type], rr.Copy())
	z.n++
}

// Len returns the number of records.
func (z *Zone) Len() int {
	return z.n
}

// Lookup returns the records for name, t and class. If name owns a CNAME
// and t is not CNAME, the CNAME chain is followed inside the zone and
// every record on it is returned.
func (z *Zone) Lookup(name string, t dnsmsg.Type, class dnsmsg.Class) ([]dnsmsg.RR, bool) {
	if z == nil {
		return nil, false
	}
	var out []dnsmsg.RR
	name = dnsmsg.CanonicalName(name)
	for i := 0; i <= maxCNAMEChain; i++ {
		byType := z.records[key{name: name, class: class}]
		if byType == nil {
			break
		}
		if rrs := byType[t]; len(rrs) > 0 {
			return append(out, dnsmsg.CopyRRs(rrs)...), true
		}
		cname := byType[dnsmsg.TypeCNAME]
		if t == dnsmsg.TypeCNAME || len(cname) == 0 {
			break
		}
		c, ok := cname[0].Data.(*dnsmsg.CNAME)
		if !ok {
			break
		}
		out = append(out, cname[0].Copy())
		name = dnsmsg.CanonicalName(c.Target)
	}
	return out, len(out) > 0
}

// Load parses a master file. It understands $ORIGIN, $TTL, "@", relative
// names, blank owners, comments, quoted strings and records that span
// lines inside parentheses. $INCLUDE is not supported.
func Load(r io.Reader, origin string) (*Zone, error) {
	if origin == "" {
		origin = "."
	}
	origin = dnsmsg.Fqdn(origin)
	ttl := uint32(defaultTTL)
	owner := ""
	z := New()

	sc := bufio.NewScanner(r)
	lineNo := 0
	var pending strings.Builder
	depth := 0
	startLine := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if pending.Len() == 0 {
			startLine = lineNo
		} else {
			pending.WriteByte('\n')
		}
		pending.WriteString(line)
		depth += parenDelta(line)
		if depth > 0 {
			continue
		}
		if depth < 0 {
			return nil, fmt.Errorf("line %d: unbalanced parentheses", lineNo)
		}
		entry := pending.String()
		pending.Reset()

		toks, err := dnsmsg.Tokenize(entry)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", startLine, err)
		}
		if len(toks) == 0 {
			continue
		}

		switch strings.ToUpper(toks[0].Text) {
		case "$ORIGIN":
			if len(toks) != 2 {
				return nil, fmt.Errorf("line %d: bad $ORIGIN", startLine)
			}
			o := toks[1].Text
			switch {
			case dnsmsg.IsFqdn(o):
			case origin == ".":
				o += "."
			default:
				o += "." + origin
			}
			if err := dnsmsg.ValidateName(o); err != nil {
				return nil, fmt.Errorf("line %d: bad $ORIGIN: %w", startLine, err)
			}
			origin = o
			continue
		case "$TTL":
			if len(toks) != 2 {
				return nil, fmt.Errorf("line %d: bad $TTL", startLine)
			}
			if ttl, err = dnsmsg.ParseTTL(toks[1].Text); err != nil {
				return nil, fmt.Errorf("line %d: bad $TTL: %w", startLine, err)
			}
			continue
		case "$INCLUDE", "$GENERATE":
			return nil, fmt.Errorf("line %d: %s is not supported", startLine, toks[0].Text)
		}

		// A record starting with blank space reuses the previous owner.
		if entry[0] == ' ' || entry[0] == '\t' {
			if owner == "" {
				return nil, fmt.Errorf("line %d: no previous owner", startLine)
			}
			entry = owner + entry
		}
		rr, err := dnsmsg.ParseRR(entry, origin, ttl)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", startLine, err)
		}
		owner = rr.Name
		z.Add(rr)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if depth != 0 {
		return nil, fmt.Errorf("line %d: unterminated parentheses", startLine)
	}
	return z, nil
}

// LoadFile loads a master file from disk.
func LoadFile(path, origin string) (*Zone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	z, err := Load(f, origin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return z, nil
}

// parenDelta counts parentheses outside quotes and comments.
func parenDelta(line string) int {
	d := 0
	quoted := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\':
			i++
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == ';':
			return d
		case c == '(':
			d++
		case c == ')':
			d--
		}
	}
	return d
}
