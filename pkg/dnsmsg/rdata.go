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
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

func init() {
	Register(TypeA, func() RData { return new(A) })
	Register(TypeNS, func() RData { return new(NS) })
	Register(TypeCNAME, func() RData { return new(CNAME) })
	Register(TypeSOA, func() RData { return new(SOA) })
	Register(TypePTR, func() RData { return new(PTR) })
	Register(TypeHINFO, func() RData { return new(HINFO) })
	Register(TypeMX, func() RData { return new(MX) })
	Register(TypeTXT, func() RData { return new(TXT) })
	Register(TypeAAAA, func() RData { return new(AAAA) })
	Register(TypeSRV, func() RData { return new(SRV) })
	Register(TypeDNAME, func() RData { return new(DNAME) })
	Register(TypeOPT, func() RData { return new(OPT) })
	Register(TypeCAA, func() RData { return new(CAA) })
}

// A is an IPv4 host address.
type A struct {
	Addr netip.Addr
}

func (r *A) Pack(b *Builder) error {
	if !r.Addr.Is4() {
		return errRData(b.Len(), "A: %v is not an IPv4 address", r.Addr)
	}
	a := r.Addr.As4()
	b.Bytes(a[:])
	return nil
}

func (r *A) Unpack(p *Parser, length int) error {
	if length != 4 {
		return fmt.Errorf("A: rdata length %d", length)
	}
	v, err := p.Bytes(4)
	if err != nil {
		return err
	}
	r.Addr = netip.AddrFrom4([4]byte(v))
	return nil
}

func (r *A) Copy() RData    { c := *r; return &c }
func (r *A) String() string { return r.Addr.String() }

// AAAA is an IPv6 host address.
type AAAA struct {
	Addr netip.Addr
}

func (r *AAAA) Pack(b *Builder) error {
	if !r.Addr.Is6() {
		return errRData(b.Len(), "AAAA: %v is not an IPv6 address", r.Addr)
	}
	a := r.Addr.As16()
	b.Bytes(a[:])
	return nil
}

func (r *AAAA) Unpack(p *Parser, length int) error {
	if length != 16 {
		return fmt.Errorf("AAAA: rdata length %d", length)
	}
	v, err := p.Bytes(16)
	if err != nil {
		return err
	}
	r.Addr = netip.AddrFrom16([16]byte(v))
	return nil
}

func (r *AAAA) Copy() RData    { c := *r; return &c }
func (r *AAAA) String() string { return r.Addr.String() }

// NS is an authoritative name server.
type NS struct {
	Host string
}

func (r *NS) Pack(b *Builder) error { return b.Name(r.Host, true) }

func (r *NS) Unpack(p *Parser, _ int) (err error) {
	r.Host, err = p.Name()
	return err
}

func (r *NS) Copy() RData    { c := *r; return &c }
func (r *NS) String() string { return r.Host }

// CNAME is the canonical name of an alias.
type CNAME struct {
	Target string
}

func (r *CNAME) Pack(b *Builder) error { return b.Name(r.Target, true) }

func (r *CNAME) Unpack(p *Parser, _ int) (err error) {
	r.Target, err = p.Name()
	return err
}

func (r *CNAME) Copy() RData    { c := *r; return &c }
func (r *CNAME) String() string { return r.Target }

// PTR is a domain name pointer.
type PTR struct {
	Ptr string
}

func (r *PTR) Pack(b *Builder) error { return b.Name(r.Ptr, true) }

func (r *PTR) Unpack(p *Parser, _ int) (err error) {
	r.Ptr, err = p.Name()
	return err
}

func (r *PTR) Copy() RData    { c := *r; return &c }
func (r *PTR) String() string { return r.Ptr }

// DNAME redirects a whole subtree (RFC 6672). Its target is never
// compressed.
type DNAME struct {
	Target string
}

func (r *DNAME) Pack(b *Builder) error { return b.Name(r.Target, false) }

func (r *DNAME) Unpack(p *Parser, _ int) (err error) {
	r.Target, err = p.Name()
	return err
}

func (r *DNAME) Copy() RData    { c := *r; return &c }
func (r *DNAME) String() string { return r.Target }

// MX is a mail exchange.
type MX struct {
	Preference uint16
	Host       string
}

func (r *MX) Pack(b *Builder) error {
	b.Uint16(r.Preference)
	return b.Name(r.Host, true)
}

func (r *MX) Unpack(p *Parser, _ int) (err error) {
	if r.Preference, err = p.Uint16(); err != nil {
		return err
	}
	r.Host, err = p.Name()
	return err
}

func (r *MX) Copy() RData { c := *r; return &c }

func (r *MX) String() string {
	return strconv.Itoa(int(r.Preference)) + " " + r.Host
}

// SOA marks the start of a zone of authority.
type SOA struct {
	Ns      string
	Mbox    string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minttl  uint32
}

func (r *SOA) Pack(b *Builder) error {
	if err := b.Name(r.Ns, true); err != nil {
		return err
	}
	if err := b.Name(r.Mbox, true); err != nil {
		return err
	}
	b.Uint32(r.Serial)
	b.Uint32(r.Refresh)
	b.Uint32(r.Retry)
	b.Uint32(r.Expire)
	b.Uint32(r.Minttl)
	return nil
}

func (r *SOA) Unpack(p *Parser, _ int) (err error) {
	if r.Ns, err = p.Name(); err != nil {
		return err
	}
	if r.Mbox, err = p.Name(); err != nil {
		return err
	}
	for _, f := range [...]*uint32{&r.Serial, &r.Refresh, &r.Retry, &r.Expire, &r.Minttl} {
		if *f, err = p.Uint32(); err != nil {
			return err
		}
	}
	return nil
}

func (r *SOA) Copy() RData { c := *r; return &c }

func (r *SOA) String() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d", r.Ns, r.Mbox, r.Serial, r.Refresh, r.Retry, r.Expire, r.Minttl)
}

// TXT holds one or more character-strings.
type TXT struct {
	Txt []string
}

func (r *TXT) Pack(b *Builder) error {
	for _, s := range r.Txt {
		if err := b.CharString(s); err != nil {
			return err
		}
	}
	return nil
}

func (r *TXT) Unpack(p *Parser, length int) error {
	end := p.Offset() + length
	for p.Offset() < end {
		s, err := p.CharString()
		if err != nil {
			return err
		}
		r.Txt = append(r.Txt, s)
	}
	return nil
}

func (r *TXT) Copy() RData {
	return &TXT{Txt: append([]string(nil), r.Txt...)}
}

func (r *TXT) String() string {
	parts := make([]string, len(r.Txt))
	for i, s := range r.Txt {
		parts[i] = quoteCharString(s)
	}
	return strings.Join(parts, " ")
}

// HINFO describes host hardware and operating system.
type HINFO struct {
	Cpu string
	Os  string
}

func (r *HINFO) Pack(b *Builder) error {
	if err := b.CharString(r.Cpu); err != nil {
		return err
	}
	return b.CharString(r.Os)
}

func (r *HINFO) Unpack(p *Parser, _ int) (err error) {
	if r.Cpu, err = p.CharString(); err != nil {
		return err
	}
	r.Os, err = p.CharString()
	return err
}

func (r *HINFO) Copy() RData { c := *r; return &c }

func (r *HINFO) String() string {
	return quoteCharString(r.Cpu) + " " + quoteCharString(r.Os)
}

// SRV locates a service (RFC 2782). Its target is never compressed.
type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (r *SRV) Pack(b *Builder) error {
	b.Uint16(r.Priority)
	b.Uint16(r.Weight)
	b.Uint16(r.Port)
	return b.Name(r.Target, false)
}

func (r *SRV) Unpack(p *Parser, _ int) (err error) {
	for _, f := range [...]*uint16{&r.Priority, &r.Weight, &r.Port} {
		if *f, err = p.Uint16(); err != nil {
			return err
		}
	}
	r.Target, err = p.Name()
	return err
}

func (r *SRV) Copy() RData { c := *r; return &c }

func (r *SRV) String() string {
	return fmt.Sprintf("%d %d %d %s", r.Priority, r.Weight, r.Port, r.Target)
}

// CAA is a certification authority authorization (RFC 8659).
type CAA struct {
	Flag  uint8
	Tag   string
	Value string
}

func (r *CAA) Pack(b *Builder) error {
	if len(r.Tag) == 0 {
		return errRData(b.Len(), "CAA: empty tag")
	}
	b.Uint8(r.Flag)
	if err := b.CharString(r.Tag); err != nil {
		return err
	}
	b.Bytes([]byte(r.Value))
	return nil
}

func (r *CAA) Unpack(p *Parser, length int) (err error) {
	end := p.Offset() + length
	if r.Flag, err = p.Uint8(); err != nil {
		return err
	}
	if r.Tag, err = p.CharString(); err != nil {
		return err
	}
	if len(r.Tag) == 0 {
		return fmt.Errorf("CAA: empty tag")
	}
	n := end - p.Offset()
	if n < 0 {
		return fmt.Errorf("CAA: tag overruns rdata")
	}
	v, err := p.Bytes(n)
	if err != nil {
		return err
	}
	r.Value = string(v)
	return nil
}

func (r *CAA) Copy() RData { c := *r; return &c }

func (r *CAA) String() string {
	return strconv.Itoa(int(r.Flag)) + " " + r.Tag + " " + quoteCharString(r.Value)
}

// EDNS0Option is one option of an OPT record (RFC 6891).
type EDNS0Option struct {
	Code uint16
	Data []byte
}

// OPT is the payload of the EDNS0 pseudo record.
type OPT struct {
	Options []EDNS0Option
}

func (r *OPT) Pack(b *Builder) error {
	for _, o := range r.Options {
		if len(o.Data) > 0xFFFF {
			return errRData(b.Len(), "OPT: option %d too long", o.Code)
		}
		b.Uint16(o.Code)
		b.Uint16(uint16(len(o.Data)))
		b.Bytes(o.Data)
	}
	return nil
}

func (r *OPT) Unpack(p *Parser, length int) error {
	end := p.Offset() + length
	for p.Offset() < end {
		code, err := p.Uint16()
		if err != nil {
			return err
		}
		l, err := p.Uint16()
		if err != nil {
			return err
		}
		if p.Offset()+int(l) > end {
			return fmt.Errorf("OPT: option %d overruns rdata", code)
		}
		data, err := p.Bytes(int(l))
		if err != nil {
			return err
		}
		r.Options = append(r.Options, EDNS0Option{Code: code, Data: data})
	}
	return nil
}

func (r *OPT) Copy() RData {
	c := &OPT{}
	for _, o := range r.Options {
		c.Options = append(c.Options, EDNS0Option{Code: o.Code, Data: append([]byte(nil), o.Data...)})
	}
	return c
}

func (r *OPT) String() string {
	parts := make([]string, 0, len(r.Options))
	for _, o := range r.Options {
		parts = append(parts, fmt.Sprintf("%d:%s", o.Code, hex.EncodeToString(o.Data)))
	}
	return strings.Join(parts, " ")
}

// RawRData is the opaque payload of a type without a registered codec.
type RawRData struct {
	Data []byte
}

func (r *RawRData) Pack(b *Builder) error {
	b.Bytes(r.Data)
	return nil
}

func (r *RawRData) Unpack(p *Parser, length int) (err error) {
	r.Data, err = p.Bytes(length)
	return err
}

func (r *RawRData) Copy() RData {
	return &RawRData{Data: append([]byte(nil), r.Data...)}
}

// String uses the RFC 3597 generic encoding.
func (r *RawRData) String() string {
	s := `\# ` + strconv.Itoa(len(r.Data))
	if len(r.Data) > 0 {
		s += " " + hex.EncodeToString(r.Data)
	}
	return s
}

func quoteCharString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c < 0x20 || c > 0x7E:
			sb.WriteByte('\\')
			sb.WriteByte('0' + c/100)
			sb.WriteByte('0' + c/10%10)
			sb.WriteByte('0' + c%10)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
