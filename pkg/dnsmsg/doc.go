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

// Package dnsmsg implements the DNS message wire format (RFC 1035) and a
// typed resource record model.
//
// Names are fully qualified presentation strings such as "example.com.".
// Arbitrary label octets use the \. and \DDD escapes. Every encode and
// decode error is a *CodecError whose Kind is one of ErrTruncatedMessage,
// ErrInvalidName, ErrInvalidRData, ErrTooManyRecords or ErrInvalidHeader.
//
// Record payloads are looked up by type code in a registry. Types without
// a registered codec are kept as *RawRData, so unknown records survive a
// decode and encode cycle unchanged.
package dnsmsg
