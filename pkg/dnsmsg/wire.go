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
	"encoding/binary"
	"strings"
)

// Builder appends wire data for one message. RData implementations
// use it to encode their payload.
type Builder struct {
	buf   []byte
	start int // offset of the message header in buf

	// comp maps the wire form of a name suffix to its message offset.
	// nil disables compression.
	comp map[string]int
}

func newBuilder(b []byte, compress bool) *Builder {
	bd := &Builder{buf: b, start: len(b)}
	if compress {
		bd.comp = make(map[string]int)
	}
	return bd
}

// Len returns the number of bytes written for the current message.
func (b *Builder) Len() int { return len(b.buf) - b.start }

func (b *Builder) Uint8(v uint8) { b.buf = append(b.buf, v) }

func (b *Builder) Uint16(v uint16) { b.buf = binary.BigEndian.AppendUint16(b.buf, v) }

func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

func (b *Builder) Bytes(v []byte) { b.buf = append(b.buf, v...) }

// CharString writes a length-prefixed character-string.
func (b *Builder) CharString(s string) error {
	if len(s) > 255 {
		return errRData(b.Len(), "character-string exceeds 255 octets")
	}
	b.buf = append(b.buf, byte(len(s)))
	b.buf = append(b.buf, s...)
	return nil
}

// Name writes a domain name. When compressible is true and the builder
// compresses, the longest suffix already present in the message is
// replaced by a pointer.
func (b *Builder) Name(name string, compressible bool) error {
	wire, err := nameWire(name)
	if err != nil {
		return &CodecError{Kind: ErrInvalidName, Offset: b.Len(), Err: err}
	}
	if b.comp == nil {
		b.buf = append(b.buf, wire...)
		return nil
	}
	for off := 0; wire[off] != 0; off += int(wire[off]) + 1 {
		suffix := string(wire[off:])
		if ptr, ok := b.comp[suffix]; ok && compressible {
			b.buf = append(b.buf, wire[:off]...)
			b.Uint16(0xC000 | uint16(ptr))
			return nil
		}
		if pos := b.Len() + off; pos <= maxCompressionOffset {
			if _, ok := b.comp[suffix]; !ok {
				b.comp[suffix] = pos
			}
		}
	}
	b.buf = append(b.buf, wire...)
	return nil
}

// Parser reads wire data from one message. RData implementations use it
// to decode their payload. Names may point anywhere before the current
// label, so the parser always keeps the whole message.
type Parser struct {
	msg []byte
	off int
}

// NewParser returns a parser positioned at the start of msg.
func NewParser(msg []byte) *Parser {
	return &Parser{msg: msg}
}

// Offset returns the current read offset.
func (p *Parser) Offset() int { return p.off }

func (p *Parser) need(n int) error {
	if p.off+n > len(p.msg) {
		return errTruncated(p.off)
	}
	return nil
}

func (p *Parser) Uint8() (uint8, error) {
	if err := p.need(1); err != nil {
		return 0, err
	}
	v := p.msg[p.off]
	p.off++
	return v, nil
}

func (p *Parser) Uint16() (uint16, error) {
	if err := p.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(p.msg[p.off:])
	p.off += 2
	return v, nil
}

func (p *Parser) Uint32() (uint32, error) {
	if err := p.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(p.msg[p.off:])
	p.off += 4
	return v, nil
}

// Bytes returns a copy of the next n bytes.
func (p *Parser) Bytes(n int) ([]byte, error) {
	if err := p.need(n); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, p.msg[p.off:])
	p.off += n
	return v, nil
}

// CharString reads a length-prefixed character-string.
func (p *Parser) CharString() (string, error) {
	l, err := p.Uint8()
	if err != nil {
		return "", err
	}
	if err := p.need(int(l)); err != nil {
		return "", err
	}
	s := string(p.msg[p.off : p.off+int(l)])
	p.off += int(l)
	return s, nil
}

// Name reads a possibly compressed domain name.
//
// Compression pointers are followed by iterating over offsets into the
// original buffer. Every pointer must target an offset before the start
// of the label run that contains it, and at most MaxPointerHops pointers
// are followed, so cycles always terminate with ErrInvalidName.
func (p *Parser) Name() (string, error) {
	var sb strings.Builder
	off := p.off
	runStart := p.off
	end := -1
	hops := 0
	wireLen := 1 // root label

	for {
		if off >= len(p.msg) {
			return "", errTruncated(off)
		}
		c := p.msg[off]
		switch c & 0xC0 {
		case 0x00:
			if c == 0 {
				off++
				if end < 0 {
					end = off
				}
				p.off = end
				if sb.Len() == 0 {
					return ".", nil
				}
				return sb.String(), nil
			}
			l := int(c)
			if off+1+l > len(p.msg) {
				return "", errTruncated(off)
			}
			wireLen += l + 1
			if wireLen > MaxNameLen {
				return "", errName(off, "name exceeds %d octets", MaxNameLen)
			}
			appendEscapedLabel(&sb, p.msg[off+1:off+1+l])
			sb.WriteByte('.')
			off += 1 + l
		case 0xC0:
			if off+1 >= len(p.msg) {
				return "", errTruncated(off)
			}
			ptr := int(c&0x3F)<<8 | int(p.msg[off+1])
			if end < 0 {
				end = off + 2
			}
			hops++
			if hops > MaxPointerHops {
				return "", errName(off, "more than %d compression pointers", MaxPointerHops)
			}
			if ptr >= runStart {
				return "", errName(off, "compression pointer to %d does not point backwards", ptr)
			}
			runStart = ptr
			off = ptr
		default:
			return "", errName(off, "reserved label type 0x%02x", c&0xC0)
		}
	}
}
