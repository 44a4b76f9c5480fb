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

package pool

import (
	"sync"
	"time"
)

var timerPool = sync.Pool{}

func stopAndDrain(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// GetTimer returns a started timer that fires after d.
func GetTimer(d time.Duration) *time.Timer {
	if t, ok := timerPool.Get().(*time.Timer); ok {
		stopAndDrain(t)
		t.Reset(d)
		return t
	}
	return time.NewTimer(d)
}

// ReleaseTimer stops t and returns it to the pool. t must not be used
// after.
func ReleaseTimer(t *time.Timer) {
	if t == nil {
		return
	}
	stopAndDrain(t)
	timerPool.Put(t)
}

// ResetAndDrainTimer restarts t with d.
func ResetAndDrainTimer(t *time.Timer, d time.Duration) {
	if t == nil {
		return
	}
	stopAndDrain(t)
	t.Reset(d)
}
