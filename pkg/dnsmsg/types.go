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
	"strconv"
	"strings"
)

// Type is a resource record type code.
type Type uint16

const (
	TypeNone   Type = 0
	TypeA      Type = 1
	TypeNS     Type = 2
	TypeCNAME  Type = 5
	TypeSOA    Type = 6
	TypePTR    Type = 12
	TypeHINFO  Type = 13
	TypeMX     Type = 15
	TypeTXT    Type = 16
	TypeAAAA   Type = 28
	TypeSRV    Type = 33
	TypeNAPTR  Type = 35
	TypeDNAME  Type = 39
	TypeOPT    Type = 41
	TypeDS     Type = 43
	TypeRRSIG  Type = 46
	TypeNSEC   Type = 47
	TypeDNSKEY Type = 48
	TypeSVCB   Type = 64
	TypeHTTPS  Type = 65
	TypeAXFR   Type = 252
	TypeANY    Type = 255
	TypeCAA    Type = 257
)

// Class is a resource record class.
type Class uint16

const (
	ClassINET   Class = 1
	ClassCHAOS  Class = 3
	ClassHESIOD Class = 4
	ClassNONE   Class = 254
	ClassANY    Class = 255
)

// Opcode is the 4-bit header opcode.
type Opcode uint8

const (
	OpcodeQuery  Opcode = 0
	OpcodeIQuery Opcode = 1
	OpcodeStatus Opcode = 2
	OpcodeNotify Opcode = 4
	OpcodeUpdate Opcode = 5
)

// Rcode is the 4-bit header response code. Extended rcodes carried by
// an OPT record are not merged into it.
type Rcode uint8

const (
	RcodeSuccess        Rcode = 0
	RcodeFormatError    Rcode = 1
	RcodeServerFailure  Rcode = 2
	RcodeNameError      Rcode = 3 // NXDOMAIN
	RcodeNotImplemented Rcode = 4
	RcodeRefused        Rcode = 5
	RcodeYXDomain       Rcode = 6
	RcodeYXRrset        Rcode = 7
	RcodeNXRrset        Rcode = 8
	RcodeNotAuth        Rcode = 9
	RcodeNotZone        Rcode = 10
)

var typeToString = map[Type]string{
	TypeNone:   "None",
	TypeA:      "A",
	TypeNS:     "NS",
	TypeCNAME:  "CNAME",
	TypeSOA:    "SOA",
	TypePTR:    "PTR",
	TypeHINFO:  "HINFO",
	TypeMX:     "MX",
	TypeTXT:    "TXT",
	TypeAAAA:   "AAAA",
	TypeSRV:    "SRV",
	TypeNAPTR:  "NAPTR",
	TypeDNAME:  "DNAME",
	TypeOPT:    "OPT",
	TypeDS:     "DS",
	TypeRRSIG:  "RRSIG",
	TypeNSEC:   "NSEC",
	TypeDNSKEY: "DNSKEY",
	TypeSVCB:   "SVCB",
	TypeHTTPS:  "HTTPS",
	TypeAXFR:   "AXFR",
	TypeANY:    "ANY",
	TypeCAA:    "CAA",
}

var classToString = map[Class]string{
	ClassINET:   "IN",
	ClassCHAOS:  "CH",
	ClassHESIOD: "HS",
	ClassNONE:   "NONE",
	ClassANY:    "ANY",
}

var opcodeToString = map[Opcode]string{
	OpcodeQuery:  "QUERY",
	OpcodeIQuery: "IQUERY",
	OpcodeStatus: "STATUS",
	OpcodeNotify: "NOTIFY",
	OpcodeUpdate: "UPDATE",
}

var rcodeToString = map[Rcode]string{
	RcodeSuccess:        "NOERROR",
	RcodeFormatError:    "FORMERR",
	RcodeServerFailure:  "SERVFAIL",
	RcodeNameError:      "NXDOMAIN",
	RcodeNotImplemented: "NOTIMP",
	RcodeRefused:        "REFUSED",
	RcodeYXDomain:       "YXDOMAIN",
	RcodeYXRrset:        "YXRRSET",
	RcodeNXRrset:        "NXRRSET",
	RcodeNotAuth:        "NOTAUTH",
	RcodeNotZone:        "NOTZONE",
}

// String returns the mnemonic of t, or the RFC 3597 "TYPEnnn" form.
func (t Type) String() string {
	if s, ok := typeToString[t]; ok {
		return s
	}
	return "TYPE" + strconv.Itoa(int(t))
}

// String returns the mnemonic of c, or the RFC 3597 "CLASSnnn" form.
func (c Class) String() string {
	if s, ok := classToString[c]; ok {
		return s
	}
	return "CLASS" + strconv.Itoa(int(c))
}

func (o Opcode) String() string {
	if s, ok := opcodeToString[o]; ok {
		return s
	}
	return strconv.Itoa(int(o))
}

func (r Rcode) String() string {
	if s, ok := rcodeToString[r]; ok {
		return s
	}
	return "RCODE" + strconv.Itoa(int(r))
}

// TypeFromString parses a type mnemonic or the "TYPEnnn" form.
// It is case-insensitive.
func TypeFromString(s string) (Type, bool) {
	u := strings.ToUpper(s)
	for t, name := range typeToString {
		if name == u || strings.ToUpper(name) == u {
			return t, true
		}
	}
	if strings.HasPrefix(u, "TYPE") {
		n, err := strconv.ParseUint(u[4:], 10, 16)
		if err == nil {
			return Type(n), true
		}
	}
	return 0, false
}

// ClassFromString parses a class mnemonic or the "CLASSnnn" form.
func ClassFromString(s string) (Class, bool) {
	u := strings.ToUpper(s)
	for c, name := range classToString {
		if name == u {
			return c, true
		}
	}
	if strings.HasPrefix(u, "CLASS") {
		n, err := strconv.ParseUint(u[5:], 10, 16)
		if err == nil {
			return Class(n), true
		}
	}
	return 0, false
}
