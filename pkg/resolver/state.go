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
	"time"

	"github.com/pmkol/ldns-x/pkg/upstream"
)

// State is the outcome of one attempt to a nameserver. An attempt starts
// Pending and ends in exactly one of the other states.
type State uint8

const (
	StatePending State = iota
	StateAnswered
	StateTimedOut
	StateTruncated      // UDP reply with TC set, followed by a TCP attempt
	StateRetriedOverTCP // the TCP attempt after a truncated reply was answered
	StateFailed
)

var stateNames = [...]string{
	StatePending:        "pending",
	StateAnswered:       "answered",
	StateTimedOut:       "timed_out",
	StateTruncated:      "truncated",
	StateRetriedOverTCP: "retried_over_tcp",
	StateFailed:         "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Attempt records one exchange with a nameserver.
type Attempt struct {
	Nameserver string
	Protocol   upstream.Protocol
	State      State
	RTT        time.Duration
	Err        error
}
