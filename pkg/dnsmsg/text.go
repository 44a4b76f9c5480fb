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

package dnsmsg

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Token is one field of a presentation line.
type Token struct {
	Text   string
	Quoted bool
}

var errUnbalancedQuote = errors.New("unbalanced quote")

// Tokenize splits presentation text into fields. Quoted strings form one
// token with their escapes kept, parentheses are dropped and a semicolon
// starts a comment that runs to the end of the line.
func Tokenize(s string) ([]Token, error) {
	var toks []Token
	var cur strings.Builder
	inTok := false
	flush := func() {
		if inTok {
			toks = append(toks, Token{Text: cur.String()})
			cur.Reset()
			inTok = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			if i+1 >= len(s) {
				return nil, errBadEscape
			}
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			inTok = true
			i++
		case c == '"':
			flush()
			j := i + 1
			for ; j < len(s) && s[j] != '"'; j++ {
				if s[j] == '\\' {
					j++
				}
			}
			if j >= len(s) {
				return nil, errUnbalancedQuote
			}
			toks = append(toks, Token{Text: s[i+1 : j], Quoted: true})
			i = j
		case c == ';':
			flush()
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '(' || c == ')' || c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur.WriteByte(c)
			inTok = true
		}
	}
	flush()
	return toks, nil
}

// ParseRR parses one record in master file format:
//
//	owner [ttl] [class] type rdata...
//
// ttl and class may appear in either order. "@" stands for origin and
// relative names are completed with origin. A missing ttl uses defaultTTL.
// Types without a typed text form accept the RFC 3597 "\# len hex" form.
func ParseRR(line, origin string, defaultTTL uint32) (RR, error) {
	toks, err := Tokenize(line)
	if err != nil {
		return RR{}, err
	}
	if len(toks) < 2 {
		return RR{}, fmt.Errorf("dnsmsg: short record %q", line)
	}
	if origin == "" {
		origin = "."
	}
	origin = Fqdn(origin)

	rr := RR{Class: ClassINET, TTL: defaultTTL}
	if rr.Name, err = absName(toks[0].Text, origin); err != nil {
		return RR{}, err
	}
	toks = toks[1:]

	var haveTTL, haveClass, haveType bool
	for len(toks) > 0 && !haveType {
		f := toks[0].Text
		toks = toks[1:]
		if !haveTTL {
			if ttl, err := ParseTTL(f); err == nil {
				rr.TTL, haveTTL = ttl, true
				continue
			}
		}
		if !haveClass {
			if c, ok := ClassFromString(f); ok {
				rr.Class, haveClass = c, true
				continue
			}
		}
		t, ok := TypeFromString(f)
		if !ok {
			return RR{}, fmt.Errorf("dnsmsg: unknown type %q", f)
		}
		rr.Type, haveType = t, true
	}
	if !haveType {
		return RR{}, fmt.Errorf("dnsmsg: missing type in %q", line)
	}
	if len(toks) == 0 {
		return rr, nil
	}

	if toks[0].Text == `\#` && !toks[0].Quoted {
		d, err := parseGeneric(toks[1:])
		if err != nil {
			return RR{}, fmt.Errorf("dnsmsg: %s: %w", rr.Type, err)
		}
		// Re-decode typed payloads so the result matches what Decode yields.
		if len(d.Data) == 0 && rr.Type != TypeOPT {
			return rr, nil
		}
		if Registered(rr.Type) {
			typed := NewRData(rr.Type)
			p := &Parser{msg: d.Data}
			if err := typed.Unpack(p, len(d.Data)); err != nil || p.off != len(d.Data) {
				return RR{}, fmt.Errorf("dnsmsg: %s: generic data does not decode", rr.Type)
			}
			rr.Data = typed
			return rr, nil
		}
		rr.Data = d
		return rr, nil
	}

	d, err := parseRData(rr.Type, toks, origin)
	if err != nil {
		return RR{}, fmt.Errorf("dnsmsg: %s: %w", rr.Type, err)
	}
	rr.Data = d
	return rr, nil
}

// ParseTTL parses a TTL in seconds, also accepting BIND unit suffixes
// such as "1h30m".
func ParseTTL(s string) (uint32, error) {
	if s == "" {
		return 0, errors.New("empty ttl")
	}
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v), nil
	}
	var total, cur uint64
	digits := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isDigit(c) {
			cur = cur*10 + uint64(c-'0')
			digits = true
			continue
		}
		if !digits {
			return 0, fmt.Errorf("invalid ttl %q", s)
		}
		var mul uint64
		switch c | 0x20 {
		case 's':
			mul = 1
		case 'm':
			mul = 60
		case 'h':
			mul = 3600
		case 'd':
			mul = 86400
		case 'w':
			mul = 604800
		default:
			return 0, fmt.Errorf("invalid ttl %q", s)
		}
		total += cur * mul
		cur, digits = 0, false
	}
	if digits {
		return 0, fmt.Errorf("invalid ttl %q", s)
	}
	if total > 1<<32-1 {
		return 0, fmt.Errorf("ttl %q out of range", s)
	}
	return uint32(total), nil
}

func absName(s, origin string) (string, error) {
	switch {
	case s == "@":
		s = origin
	case IsFqdn(s):
	case origin == ".":
		s += "."
	default:
		s += "." + origin
	}
	if err := ValidateName(s); err != nil {
		return "", &CodecError{Kind: ErrInvalidName, Offset: -1, Err: fmt.Errorf("%q: %w", s, err)}
	}
	return s, nil
}

// charString decodes the escapes of a presentation character-string.
func charString(s string) (string, error) {
	v, err := unescapeString(s)
	if err != nil {
		return "", err
	}
	if len(v) > 255 {
		return "", errors.New("character-string exceeds 255 octets")
	}
	return v, nil
}

func unescapeString(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b = append(b, s[i])
			continue
		}
		c, n, ok := unescape(s[i:])
		if !ok {
			return "", errBadEscape
		}
		b = append(b, c)
		i += n - 1
	}
	return string(b), nil
}

func parseGeneric(toks []Token) (*RawRData, error) {
	if len(toks) == 0 {
		return nil, errors.New(`\# without length`)
	}
	n, err := strconv.ParseUint(toks[0].Text, 10, 16)
	if err != nil {
		return nil, fmt.Errorf(`invalid \# length %q`, toks[0].Text)
	}
	var sb strings.Builder
	for _, t := range toks[1:] {
		sb.WriteString(t.Text)
	}
	data, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, err
	}
	if len(data) != int(n) {
		return nil, fmt.Errorf(`\# length %d, got %d octets`, n, len(data))
	}
	return &RawRData{Data: data}, nil
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

func wantFields(toks []Token, n int) error {
	if len(toks) != n {
		return fmt.Errorf("want %d fields, got %d", n, len(toks))
	}
	return nil
}

func parseRData(t Type, toks []Token, origin string) (RData, error) {
	switch t {
	case TypeA, TypeAAAA:
		if err := wantFields(toks, 1); err != nil {
			return nil, err
		}
		addr, err := netip.ParseAddr(toks[0].Text)
		if err != nil {
			return nil, err
		}
		if t == TypeA {
			if !addr.Is4() {
				return nil, fmt.Errorf("%v is not an IPv4 address", addr)
			}
			return &A{Addr: addr}, nil
		}
		if !addr.Is6() {
			return nil, fmt.Errorf("%v is not an IPv6 address", addr)
		}
		return &AAAA{Addr: addr}, nil

	case TypeNS, TypeCNAME, TypePTR, TypeDNAME:
		if err := wantFields(toks, 1); err != nil {
			return nil, err
		}
		n, err := absName(toks[0].Text, origin)
		if err != nil {
			return nil, err
		}
		switch t {
		case TypeNS:
			return &NS{Host: n}, nil
		case TypeCNAME:
			return &CNAME{Target: n}, nil
		case TypePTR:
			return &PTR{Ptr: n}, nil
		default:
			return &DNAME{Target: n}, nil
		}

	case TypeMX:
		if err := wantFields(toks, 2); err != nil {
			return nil, err
		}
		pref, err := parseUint(toks[0].Text, 16)
		if err != nil {
			return nil, err
		}
		host, err := absName(toks[1].Text, origin)
		if err != nil {
			return nil, err
		}
		return &MX{Preference: uint16(pref), Host: host}, nil

	case TypeSOA:
		if err := wantFields(toks, 7); err != nil {
			return nil, err
		}
		soa := &SOA{}
		var err error
		if soa.Ns, err = absName(toks[0].Text, origin); err != nil {
			return nil, err
		}
		if soa.Mbox, err = absName(toks[1].Text, origin); err != nil {
			return nil, err
		}
		for i, f := range [...]*uint32{&soa.Serial, &soa.Refresh, &soa.Retry, &soa.Expire, &soa.Minttl} {
			v, err := ParseTTL(toks[2+i].Text)
			if err != nil {
				return nil, err
			}
			*f = v
		}
		return soa, nil

	case TypeTXT:
		if len(toks) == 0 {
			return nil, errors.New("no character-strings")
		}
		txt := &TXT{Txt: make([]string, 0, len(toks))}
		for _, tok := range toks {
			s, err := charString(tok.Text)
			if err != nil {
				return nil, err
			}
			txt.Txt = append(txt.Txt, s)
		}
		return txt, nil

	case TypeHINFO:
		if err := wantFields(toks, 2); err != nil {
			return nil, err
		}
		cpu, err := charString(toks[0].Text)
		if err != nil {
			return nil, err
		}
		os, err := charString(toks[1].Text)
		if err != nil {
			return nil, err
		}
		return &HINFO{Cpu: cpu, Os: os}, nil

	case TypeSRV:
		if err := wantFields(toks, 4); err != nil {
			return nil, err
		}
		srv := &SRV{}
		for i, f := range [...]*uint16{&srv.Priority, &srv.Weight, &srv.Port} {
			v, err := parseUint(toks[i].Text, 16)
			if err != nil {
				return nil, err
			}
			*f = uint16(v)
		}
		target, err := absName(toks[3].Text, origin)
		if err != nil {
			return nil, err
		}
		srv.Target = target
		return srv, nil

	case TypeCAA:
		if err := wantFields(toks, 3); err != nil {
			return nil, err
		}
		flag, err := parseUint(toks[0].Text, 8)
		if err != nil {
			return nil, err
		}
		if toks[1].Text == "" {
			return nil, errors.New("empty tag")
		}
		// CAA values are not limited to 255 octets.
		value, err := unescapeString(toks[2].Text)
		if err != nil {
			return nil, err
		}
		return &CAA{Flag: uint8(flag), Tag: toks[1].Text, Value: value}, nil
	}
	return nil, fmt.Errorf(`no text form, use \# generic data`)
}
