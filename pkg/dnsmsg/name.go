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
	"errors"
	"strings"
)

const (
	MaxLabelLen = 63
	MaxNameLen  = 255 // wire octets, including the root label

	// MaxPointerHops bounds the number of compression pointers followed
	// while decoding a single name.
	MaxPointerHops = 16

	maxCompressionOffset = 0x3FFF
)

var (
	errNotFqdn    = errors.New("name is not fully qualified")
	errEmptyLabel = errors.New("empty label")
	errLabelLen   = errors.New("label exceeds 63 octets")
	errNameLen    = errors.New("name exceeds 255 octets")
	errBadEscape  = errors.New("bad escape sequence")
)

// IsFqdn reports whether s ends with an unescaped dot.
func IsFqdn(s string) bool {
	if len(s) == 0 || s[len(s)-1] != '.' {
		return false
	}
	// Count the backslashes preceding the final dot.
	n := 0
	for i := len(s) - 2; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n%2 == 0
}

// Fqdn returns s with a trailing dot appended if it is missing.
func Fqdn(s string) string {
	if IsFqdn(s) {
		return s
	}
	return s + "."
}

// CanonicalName returns the lower-cased fully qualified form of s.
// Only ASCII letters are folded, as RFC 4343 requires.
func CanonicalName(s string) string {
	return asciiLower(Fqdn(s))
}

// EqualName compares two presentation names ignoring ASCII case.
func EqualName(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		x, y := a[i], b[i]
		if 'A' <= x && x <= 'Z' {
			x += 0x20
		}
		if 'A' <= y && y <= 'Z' {
			y += 0x20
		}
		if x != y {
			return false
		}
	}
	return true
}

func asciiLower(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if 'A' <= b[j] && b[j] <= 'Z' {
					b[j] += 0x20
				}
			}
			return string(b)
		}
	}
	return s
}

// nameWire converts a fully qualified presentation name to its
// uncompressed wire form.
func nameWire(name string) ([]byte, error) {
	if name == "." {
		return []byte{0}, nil
	}
	if !IsFqdn(name) {
		return nil, errNotFqdn
	}
	wire := make([]byte, 0, len(name)+1)
	lenPos := 0
	wire = append(wire, 0)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch c {
		case '\\':
			b, n, ok := unescape(name[i:])
			if !ok {
				return nil, errBadEscape
			}
			wire = append(wire, b)
			i += n - 1
		case '.':
			l := len(wire) - lenPos - 1
			if l == 0 {
				return nil, errEmptyLabel
			}
			if l > MaxLabelLen {
				return nil, errLabelLen
			}
			wire[lenPos] = byte(l)
			lenPos = len(wire)
			wire = append(wire, 0)
		default:
			wire = append(wire, c)
		}
		if len(wire) > MaxNameLen {
			return nil, errNameLen
		}
	}
	return wire, nil
}

// unescape decodes one escape sequence at the start of s ("\X" or "\DDD").
// It returns the octet and the number of input bytes consumed.
func unescape(s string) (byte, int, bool) {
	if len(s) < 2 || s[0] != '\\' {
		return 0, 0, false
	}
	if isDigit(s[1]) {
		if len(s) < 4 || !isDigit(s[2]) || !isDigit(s[3]) {
			return 0, 0, false
		}
		v := int(s[1]-'0')*100 + int(s[2]-'0')*10 + int(s[3]-'0')
		if v > 255 {
			return 0, 0, false
		}
		return byte(v), 4, true
	}
	return s[1], 2, true
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

// appendEscapedLabel appends the presentation form of a wire label.
func appendEscapedLabel(sb *strings.Builder, label []byte) {
	for _, c := range label {
		switch {
		case c == '.' || c == '\\' || c == '"' || c == '(' || c == ')' ||
			c == ';' || c == ' ' || c == '@' || c == '$':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c < 0x21 || c > 0x7E:
			sb.WriteByte('\\')
			sb.WriteByte('0' + c/100)
			sb.WriteByte('0' + c/10%10)
			sb.WriteByte('0' + c%10)
		default:
			sb.WriteByte(c)
		}
	}
}

// ValidateName checks that s is a well-formed fully qualified name.
func ValidateName(s string) error {
	_, err := nameWire(s)
	return err
}

// CountLabels returns the number of labels in s, not counting the root.
func CountLabels(s string) int {
	w, err := nameWire(Fqdn(s))
	if err != nil {
		return 0
	}
	n := 0
	for off := 0; w[off] != 0; off += int(w[off]) + 1 {
		n++
	}
	return n
}

// IsSubDomain reports whether child is equal to or below parent.
func IsSubDomain(parent, child string) bool {
	parent, child = CanonicalName(parent), CanonicalName(child)
	if parent == "." {
		return true
	}
	if !strings.HasSuffix(child, parent) {
		return false
	}
	if len(child) == len(parent) {
		return true
	}
	// The byte before the suffix must be an unescaped label separator.
	i := len(child) - len(parent) - 1
	if child[i] != '.' {
		return false
	}
	n := 0
	for j := i - 1; j >= 0 && child[j] == '\\'; j-- {
		n++
	}
	return n%2 == 0
}
