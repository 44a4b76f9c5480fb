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

package cache

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

// Key identifies one RR set. Name is always lower case and fully
// qualified, so lookups ignore ASCII case.
type Key struct {
	Name  string
	Type  dnsmsg.Type
	Class dnsmsg.Class
}

func NewKey(name string, t dnsmsg.Type, c dnsmsg.Class) Key {
	return Key{Name: dnsmsg.CanonicalName(name), Type: t, Class: c}
}

// KeyOf returns the key of the RR set rr belongs to.
func KeyOf(rr *dnsmsg.RR) Key {
	return NewKey(rr.Name, rr.Type, rr.Class)
}

func (k Key) String() string {
	return k.Name + "/" + strconv.Itoa(int(k.Type)) + "/" + strconv.Itoa(int(k.Class))
}

// Backend is a TTL cache of RR sets.
type Backend interface {
	// Lookup returns a copy of the set stored under key with TTLs reduced
	// by the time spent in the cache.
	Lookup(key Key) ([]dnsmsg.RR, bool)

	// Insert groups rrs into sets and stores each one, replacing any set
	// already stored under the same key. Records with TTL 0 are not
	// stored. A set expires after the smallest TTL among its records.
	Insert(rrs []dnsmsg.RR)

	Len() int

	io.Closer
}

// Set is a group of records sharing one key.
type Set struct {
	Key Key
	RRs []dnsmsg.RR
	TTL uint32 // smallest TTL in RRs
}

// Sets groups rrs by key in order of first appearance, dropping records
// with TTL 0 and OPT pseudo records.
func Sets(rrs []dnsmsg.RR) []Set {
	var sets []Set
	idx := make(map[Key]int)
	for i := range rrs {
		rr := &rrs[i]
		if rr.TTL == 0 || rr.Type == dnsmsg.TypeOPT {
			continue
		}
		k := KeyOf(rr)
		j, ok := idx[k]
		if !ok {
			j = len(sets)
			idx[k] = j
			sets = append(sets, Set{Key: k, TTL: rr.TTL})
		}
		s := &sets[j]
		s.RRs = append(s.RRs, rr.Copy())
		if rr.TTL < s.TTL {
			s.TTL = rr.TTL
		}
	}
	return sets
}

// Expire returns the expiry of a set stored at now.
func (s *Set) Expire(now time.Time) time.Time {
	return now.Add(time.Duration(s.TTL) * time.Second)
}

// Decrement returns a copy of rrs with elapsed subtracted from every TTL.
// TTLs never drop below 1 so a live entry is never served as uncacheable.
func Decrement(rrs []dnsmsg.RR, elapsed time.Duration) []dnsmsg.RR {
	sec := uint32(0)
	if elapsed > 0 {
		sec = uint32(elapsed / time.Second)
	}
	out := dnsmsg.CopyRRs(rrs)
	for i := range out {
		if out[i].TTL > sec {
			out[i].TTL -= sec
		} else {
			out[i].TTL = 1
		}
	}
	return out
}

// Tiered looks up L1 first and then L2, promoting L2 hits into L1.
// Inserts go to both.
type Tiered struct {
	L1 Backend
	L2 Backend
}

func (t *Tiered) Lookup(key Key) ([]dnsmsg.RR, bool) {
	if rrs, ok := t.L1.Lookup(key); ok {
		return rrs, true
	}
	rrs, ok := t.L2.Lookup(key)
	if !ok {
		return nil, false
	}
	t.L1.Insert(rrs)
	return rrs, true
}

func (t *Tiered) Insert(rrs []dnsmsg.RR) {
	t.L1.Insert(rrs)
	t.L2.Insert(rrs)
}

func (t *Tiered) Len() int {
	return t.L1.Len()
}

func (t *Tiered) Close() error {
	return errors.Join(t.L1.Close(), t.L2.Close())
}
