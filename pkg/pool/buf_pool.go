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
	"fmt"
	"math/bits"
	"sync"
)

const (
	minBufBits = 9  // 512 bytes, the classic UDP message size
	maxBufBits = 16 // 64 KiB, the largest TCP framed message
)

// Buffer is a pooled byte slice. It must be released exactly once and
// must not be used after Release.
type Buffer struct {
	b    []byte
	pool *sync.Pool
}

// Bytes returns the buffer contents, len(Bytes()) is the size passed to GetBuf.
func (b *Buffer) Bytes() []byte {
	return b.b
}

// SetLen reslices the buffer within its capacity.
func (b *Buffer) SetLen(n int) {
	b.b = b.b[:n]
}

func (b *Buffer) Release() {
	if b.pool == nil {
		return
	}
	b.b = b.b[:cap(b.b)]
	b.pool.Put(b)
}

var bufPools [maxBufBits - minBufBits + 1]sync.Pool

func init() {
	for i := range bufPools {
		size := 1 << (minBufBits + i)
		p := &bufPools[i]
		p.New = func() any {
			return &Buffer{b: make([]byte, size), pool: p}
		}
	}
}

func poolIndex(size int) int {
	if size <= 1<<minBufBits {
		return 0
	}
	return bits.Len(uint(size-1)) - minBufBits
}

// GetBuf returns a buffer of exactly size bytes. Sizes above 64 KiB are
// allocated directly and are not pooled.
func GetBuf(size int) *Buffer {
	if size < 0 {
		panic(fmt.Sprintf("pool: negative buffer size %d", size))
	}
	if size > 1<<maxBufBits {
		return &Buffer{b: make([]byte, size)}
	}
	buf := bufPools[poolIndex(size)].Get().(*Buffer)
	buf.b = buf.b[:size]
	return buf
}
