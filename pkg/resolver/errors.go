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

package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/upstream"
)

var (
	ErrNXDomain = errors.New("nxdomain")
	ErrServFail = errors.New("servfail")
)

// NetworkError is a failed attempt. It is transient, the attempt is
// retried.
type NetworkError struct {
	Nameserver string
	Protocol   upstream.Protocol
	Err        error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s://%s: %v", e.Protocol, e.Nameserver, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the attempt ran out of time.
func (e *NetworkError) Timeout() bool {
	return isTimeout(e.Err)
}

// ResolutionFailed is returned once every attempt to every nameserver
// failed. Err is the error of the last attempt.
type ResolutionFailed struct {
	Name     string
	Type     dnsmsg.Type
	Attempts []Attempt
	Err      error
}

func (e *ResolutionFailed) Error() string {
	return fmt.Sprintf("failed to resolve %s %s after %d attempts: %v", e.Name, e.Type, len(e.Attempts), e.Err)
}

func (e *ResolutionFailed) Unwrap() error {
	return e.Err
}

// RcodeError is returned by Resolve when the answer carries an error
// rcode. It matches ErrNXDomain and ErrServFail with errors.Is.
type RcodeError struct {
	Name  string
	Type  dnsmsg.Type
	Rcode dnsmsg.Rcode
}

func (e *RcodeError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Name, e.Type, e.Rcode)
}

func (e *RcodeError) Is(target error) bool {
	switch target {
	case ErrNXDomain:
		return e.Rcode == dnsmsg.RcodeNameError
	case ErrServFail:
		return e.Rcode == dnsmsg.RcodeServerFailure
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isCodecError(err error) bool {
	var ce *dnsmsg.CodecError
	return errors.As(err, &ce)
}
