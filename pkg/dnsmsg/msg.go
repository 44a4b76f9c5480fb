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
	"fmt"
	"math"
)

const (
	HeaderLen = 12

	// MinMsgSize is the largest UDP payload every resolver must accept.
	MinMsgSize = 512
	// MaxMsgSize is the largest message that fits TCP framing.
	MaxMsgSize = math.MaxUint16
)

const (
	flagQR = 1 << 15
	flagAA = 1 << 10
	flagTC = 1 << 9
	flagRD = 1 << 8
	flagRA = 1 << 7
	flagZ  = 1 << 6
	flagAD = 1 << 5
	flagCD = 1 << 4
)

// Header is the fixed part of a DNS message without the section counts,
// which are derived from the section lengths when encoding.
type Header struct {
	ID                 uint16
	Response           bool
	Opcode             Opcode
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool
	Zero               bool
	AuthenticatedData  bool
	CheckingDisabled   bool
	Rcode              Rcode
}

func (h *Header) flags() uint16 {
	f := uint16(h.Opcode&0xF)<<11 | uint16(h.Rcode&0xF)
	for _, b := range [...]struct {
		set bool
		bit uint16
	}{
		{h.Response, flagQR},
		{h.Authoritative, flagAA},
		{h.Truncated, flagTC},
		{h.RecursionDesired, flagRD},
		{h.RecursionAvailable, flagRA},
		{h.Zero, flagZ},
		{h.AuthenticatedData, flagAD},
		{h.CheckingDisabled, flagCD},
	} {
		if b.set {
			f |= b.bit
		}
	}
	return f
}

func (h *Header) setFlags(f uint16) {
	h.Response = f&flagQR != 0
	h.Opcode = Opcode(f>>11) & 0xF
	h.Authoritative = f&flagAA != 0
	h.Truncated = f&flagTC != 0
	h.RecursionDesired = f&flagRD != 0
	h.RecursionAvailable = f&flagRA != 0
	h.Zero = f&flagZ != 0
	h.AuthenticatedData = f&flagAD != 0
	h.CheckingDisabled = f&flagCD != 0
	h.Rcode = Rcode(f & 0xF)
}

// Counts holds the four section counts of a wire header.
type Counts struct {
	QD, AN, NS, AR uint16
}

// Question is an entry of the question section.
type Question struct {
	Name  string
	Type  Type
	Class Class
}

func (q Question) String() string {
	return fmt.Sprintf(";%s\t%s\t%s", q.Name, q.Class, q.Type)
}

// Equal reports whether two questions ask the same thing. Names are
// compared ignoring ASCII case.
func (q Question) Equal(o Question) bool {
	return q.Type == o.Type && q.Class == o.Class && EqualName(q.Name, o.Name)
}

// Msg is a DNS message.
type Msg struct {
	Header
	Question []Question
	Answer   []RR
	Ns       []RR
	Extra    []RR
}

// Encode returns the wire form of m with name compression.
func (m *Msg) Encode() ([]byte, error) {
	return m.AppendEncode(make([]byte, 0, 512), true)
}

// AppendEncode appends the wire form of m to b.
func (m *Msg) AppendEncode(b []byte, compress bool) ([]byte, error) {
	for _, n := range [...]int{len(m.Question), len(m.Answer), len(m.Ns), len(m.Extra)} {
		if n > math.MaxUint16 {
			return nil, &CodecError{Kind: ErrTooManyRecords, Offset: -1}
		}
	}
	bd := newBuilder(b, compress)
	bd.Uint16(m.ID)
	bd.Uint16(m.flags())
	bd.Uint16(uint16(len(m.Question)))
	bd.Uint16(uint16(len(m.Answer)))
	bd.Uint16(uint16(len(m.Ns)))
	bd.Uint16(uint16(len(m.Extra)))

	for _, q := range m.Question {
		if err := bd.Name(q.Name, true); err != nil {
			return nil, err
		}
		bd.Uint16(uint16(q.Type))
		bd.Uint16(uint16(q.Class))
	}
	for _, section := range [...][]RR{m.Answer, m.Ns, m.Extra} {
		for i := range section {
			if err := section[i].pack(bd); err != nil {
				return nil, err
			}
		}
	}
	return bd.buf, nil
}

// Len returns the encoded size of m with compression.
func (m *Msg) Len() int {
	b, err := m.Encode()
	if err != nil {
		return 0
	}
	return len(b)
}

// DecodeHeader reads the header of a wire message.
func DecodeHeader(b []byte) (Header, Counts, error) {
	var h Header
	if len(b) < HeaderLen {
		return h, Counts{}, errTruncated(len(b))
	}
	h.ID = binary.BigEndian.Uint16(b)
	h.setFlags(binary.BigEndian.Uint16(b[2:]))
	c := Counts{
		QD: binary.BigEndian.Uint16(b[4:]),
		AN: binary.BigEndian.Uint16(b[6:]),
		NS: binary.BigEndian.Uint16(b[8:]),
		AR: binary.BigEndian.Uint16(b[10:]),
	}
	return h, c, nil
}

// DecodeQuestion decodes the header and question section only. It is used
// for truncated replies whose record sections may be incomplete.
func DecodeQuestion(b []byte) (*Msg, error) {
	h, c, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	m := &Msg{Header: h}
	p := &Parser{msg: b, off: HeaderLen}
	if m.Question, err = p.questions(int(c.QD)); err != nil {
		return nil, err
	}
	return m, nil
}

// Decode parses a wire message. The resulting section lengths always
// equal the header counts: a count that the remaining bytes cannot
// satisfy fails with ErrTruncatedMessage. Trailing bytes are ignored.
func Decode(b []byte) (*Msg, error) {
	h, c, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	m := &Msg{Header: h}
	p := &Parser{msg: b, off: HeaderLen}
	if m.Question, err = p.questions(int(c.QD)); err != nil {
		return nil, err
	}
	if m.Answer, err = p.records(int(c.AN)); err != nil {
		return nil, err
	}
	if m.Ns, err = p.records(int(c.NS)); err != nil {
		return nil, err
	}
	if m.Extra, err = p.records(int(c.AR)); err != nil {
		return nil, err
	}
	return m, nil
}

// minQuestionLen and minRRLen are the smallest possible wire sizes, used
// to reject absurd counts before allocating.
const (
	minQuestionLen = 1 + 4
	minRRLen       = 1 + 10
)

func (p *Parser) questions(n int) ([]Question, error) {
	if n == 0 {
		return nil, nil
	}
	if p.off+n*minQuestionLen > len(p.msg) {
		return nil, errTruncated(p.off)
	}
	qs := make([]Question, 0, n)
	for i := 0; i < n; i++ {
		name, err := p.Name()
		if err != nil {
			return nil, err
		}
		t, err := p.Uint16()
		if err != nil {
			return nil, err
		}
		c, err := p.Uint16()
		if err != nil {
			return nil, err
		}
		qs = append(qs, Question{Name: name, Type: Type(t), Class: Class(c)})
	}
	return qs, nil
}

func (p *Parser) records(n int) ([]RR, error) {
	if n == 0 {
		return nil, nil
	}
	if p.off+n*minRRLen > len(p.msg) {
		return nil, errTruncated(p.off)
	}
	rrs := make([]RR, 0, n)
	for i := 0; i < n; i++ {
		rr, err := p.rr()
		if err != nil {
			return nil, err
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

// SetQuestion resets m to a recursive query for name and t in class IN.
func (m *Msg) SetQuestion(name string, t Type) *Msg {
	m.ID = ID()
	m.RecursionDesired = true
	m.Question = []Question{{Name: Fqdn(name), Type: t, Class: ClassINET}}
	return m
}

// SetReply makes m a reply to q, copying the ID, opcode, RD, CD and the
// question section.
func (m *Msg) SetReply(q *Msg) *Msg {
	m.ID = q.ID
	m.Response = true
	m.Opcode = q.Opcode
	m.RecursionDesired = q.RecursionDesired
	m.CheckingDisabled = q.CheckingDisabled
	m.Rcode = RcodeSuccess
	if len(q.Question) > 0 {
		m.Question = []Question{q.Question[0]}
	}
	return m
}

// SetRcode makes m a reply to q with the given rcode.
func (m *Msg) SetRcode(q *Msg, rc Rcode) *Msg {
	m.SetReply(q)
	m.Rcode = rc
	return m
}

// Copy returns a deep copy of m.
func (m *Msg) Copy() *Msg {
	c := &Msg{Header: m.Header}
	if m.Question != nil {
		c.Question = append([]Question(nil), m.Question...)
	}
	c.Answer = CopyRRs(m.Answer)
	c.Ns = CopyRRs(m.Ns)
	c.Extra = CopyRRs(m.Extra)
	return c
}

// Truncate shrinks m to fit size bytes. Records are dropped from the end
// of the additional, authority and answer sections in that order, the
// OPT record is kept, and TC is set if an answer or authority record had
// to be dropped.
func (m *Msg) Truncate(size int) {
	if size < MinMsgSize {
		size = MinMsgSize
	}
	if m.Len() <= size {
		return
	}
	opt := m.IsEDNS0()
	var extra []RR
	if opt != nil {
		extra = []RR{*opt}
	}
	m.Extra = extra
	for m.Len() > size && len(m.Ns) > 0 {
		m.Ns = m.Ns[:len(m.Ns)-1]
		m.Truncated = true
	}
	for m.Len() > size && len(m.Answer) > 0 {
		m.Answer = m.Answer[:len(m.Answer)-1]
		m.Truncated = true
	}
	if len(m.Ns) == 0 {
		m.Ns = nil
	}
	if len(m.Answer) == 0 {
		m.Answer = nil
	}
}

// String returns a dig-like dump of m.
func (m *Msg) String() string {
	s := fmt.Sprintf(";; opcode: %s, status: %s, id: %d\n", m.Opcode, m.Rcode, m.ID)
	s += ";; flags:"
	for _, f := range [...]struct {
		set  bool
		name string
	}{
		{m.Response, "qr"}, {m.Authoritative, "aa"}, {m.Truncated, "tc"},
		{m.RecursionDesired, "rd"}, {m.RecursionAvailable, "ra"},
		{m.Zero, "z"}, {m.AuthenticatedData, "ad"}, {m.CheckingDisabled, "cd"},
	} {
		if f.set {
			s += " " + f.name
		}
	}
	s += fmt.Sprintf("; QUERY: %d, ANSWER: %d, AUTHORITY: %d, ADDITIONAL: %d\n",
		len(m.Question), len(m.Answer), len(m.Ns), len(m.Extra))
	if len(m.Question) > 0 {
		s += "\n;; QUESTION SECTION:\n"
		for _, q := range m.Question {
			s += q.String() + "\n"
		}
	}
	for _, sec := range [...]struct {
		name string
		rrs  []RR
	}{{"ANSWER", m.Answer}, {"AUTHORITY", m.Ns}, {"ADDITIONAL", m.Extra}} {
		if len(sec.rrs) == 0 {
			continue
		}
		s += "\n;; " + sec.name + " SECTION:\n"
		for _, rr := range sec.rrs {
			s += rr.String() + "\n"
		}
	}
	return s
}
