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
	"crypto/rand"
	"encoding/binary"
	"math"
	"strconv"
	"sync"
)

// RData is the type specific payload of a resource record.
//
// Implementations must be pointer types. Unpack receives a parser
// positioned at the start of the payload and the payload length, and must
// consume exactly that many bytes.
type RData interface {
	Pack(b *Builder) error
	Unpack(p *Parser, length int) error
	Copy() RData
	String() string
}

// RR is a resource record. A nil Data encodes as an empty payload.
type RR struct {
	Name  string
	Type  Type
	Class Class
	TTL   uint32
	Data  RData
}

// Key returns a question matching the owner, type and class of rr.
func (rr *RR) Key() Question {
	return Question{Name: rr.Name, Type: rr.Type, Class: rr.Class}
}

func (rr *RR) Copy() RR {
	c := *rr
	if rr.Data != nil {
		c.Data = rr.Data.Copy()
	}
	return c
}

func (rr *RR) String() string {
	s := rr.Name + "\t" + strconv.FormatUint(uint64(rr.TTL), 10) + "\t" + rr.Class.String() + "\t" + rr.Type.String()
	if rr.Data != nil {
		s += "\t" + rr.Data.String()
	}
	return s
}

// CopyRRs returns a deep copy of rrs. A nil slice stays nil.
func CopyRRs(rrs []RR) []RR {
	if rrs == nil {
		return nil
	}
	c := make([]RR, len(rrs))
	for i := range rrs {
		c[i] = rrs[i].Copy()
	}
	return c
}

func (rr *RR) pack(b *Builder) error {
	if err := b.Name(rr.Name, true); err != nil {
		return err
	}
	b.Uint16(uint16(rr.Type))
	b.Uint16(uint16(rr.Class))
	b.Uint32(rr.TTL)
	lenOff := len(b.buf)
	b.Uint16(0)
	if rr.Data == nil {
		return nil
	}
	if err := rr.Data.Pack(b); err != nil {
		return err
	}
	rdlen := len(b.buf) - lenOff - 2
	if rdlen > math.MaxUint16 {
		return errRData(lenOff-b.start, "rdata exceeds %d octets", math.MaxUint16)
	}
	binary.BigEndian.PutUint16(b.buf[lenOff:], uint16(rdlen))
	return nil
}

func (p *Parser) rr() (RR, error) {
	var rr RR
	var err error
	if rr.Name, err = p.Name(); err != nil {
		return rr, err
	}
	if err := p.need(10); err != nil {
		return rr, err
	}
	rr.Type = Type(binary.BigEndian.Uint16(p.msg[p.off:]))
	rr.Class = Class(binary.BigEndian.Uint16(p.msg[p.off+2:]))
	rr.TTL = binary.BigEndian.Uint32(p.msg[p.off+4:])
	rdlen := int(binary.BigEndian.Uint16(p.msg[p.off+8:]))
	p.off += 10
	if err := p.need(rdlen); err != nil {
		return rr, err
	}

	start := p.off
	end := start + rdlen
	d := NewRData(rr.Type)
	if err := d.Unpack(p, rdlen); err != nil {
		if ce, ok := err.(*CodecError); ok && ce.Kind != ErrTruncatedMessage {
			return rr, err
		}
		return rr, errRData(start, "%s: %v", rr.Type, err)
	}
	if p.off != end {
		return rr, errRData(start, "%s: rdata length %d, consumed %d", rr.Type, rdlen, p.off-start)
	}
	rr.Data = d
	return rr, nil
}

var (
	registryMu sync.RWMutex
	registry   = map[Type]func() RData{}
)

// Register installs the payload codec for t. Types without a registered
// codec decode to *RawRData.
func Register(t Type, newFunc func() RData) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = newFunc
}

// NewRData returns an empty payload for t.
func NewRData(t Type) RData {
	registryMu.RLock()
	f, ok := registry[t]
	registryMu.RUnlock()
	if !ok {
		return new(RawRData)
	}
	return f()
}

// Registered reports whether t has a typed payload codec.
func Registered(t Type) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[t]
	return ok
}

// ID returns a random message id.
func ID() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("dnsmsg: crypto/rand failed: " + err.Error())
	}
	return binary.BigEndian.Uint16(b[:])
}
