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
	"fmt"
)

var (
	ErrTruncatedMessage = errors.New("truncated message")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidRData     = errors.New("invalid rdata")
	ErrTooManyRecords   = errors.New("too many records")
	ErrInvalidHeader    = errors.New("invalid header")
)

// CodecError is returned by every encode and decode path of this package.
// Kind is one of the Err* sentinels above, so callers can use errors.Is.
type CodecError struct {
	Kind   error
	Offset int   // byte offset in the message where the error was found, -1 if unknown
	Err    error // optional detail
}

func (e *CodecError) Error() string {
	s := "dnsmsg: " + e.Kind.Error()
	if e.Offset >= 0 {
		s += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CodecError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func errTruncated(off int) error {
	return &CodecError{Kind: ErrTruncatedMessage, Offset: off}
}

func errName(off int, format string, args ...any) error {
	return &CodecError{Kind: ErrInvalidName, Offset: off, Err: fmt.Errorf(format, args...)}
}

func errRData(off int, format string, args ...any) error {
	return &CodecError{Kind: ErrInvalidRData, Offset: off, Err: fmt.Errorf(format, args...)}
}
