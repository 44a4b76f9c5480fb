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

package redis_cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/cache"
	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/pool"
	"github.com/pmkol/ldns-x/pkg/utils"
)

const keyPrefix = "ldns:"

var nopLogger = zap.NewNop()

type RedisCacheOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisCache.Close is called.
	// Optional.
	ClientCloser io.Closer

	// ClientTimeout specifies the timeout for read and write operations.
	// Default is 50ms.
	ClientTimeout time.Duration

	// Logger is the *zap.Logger for this RedisCache.
	// A nil Logger will disable logging.
	Logger *zap.Logger

	// Now replaces time.Now. Optional.
	Now func() time.Time
}

func (opts *RedisCacheOpts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	utils.SetDefaultNum(&opts.ClientTimeout, 50*time.Millisecond)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return nil
}

// RedisCache is a cache.Backend stored in redis. Redis expires the keys
// itself, so there is no sweeper. After a client error the cache
// reports misses and drops inserts until a background ping succeeds.
type RedisCache struct {
	opts           RedisCacheOpts
	clientDisabled atomic.Bool
}

func NewRedisCache(opts RedisCacheOpts) (*RedisCache, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisCache{opts: opts}, nil
}

func (r *RedisCache) disabled() bool {
	return r.clientDisabled.Load()
}

func (r *RedisCache) disableClient() {
	if !r.clientDisabled.CompareAndSwap(false, true) {
		return
	}
	r.opts.Logger.Warn("redis temporarily disabled")
	go func() {
		const maxBackoff = time.Second * 30
		backoff := time.Millisecond * 100
		for {
			time.Sleep(backoff)
			ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
			err := r.opts.Client.Ping(ctx).Err()
			cancel()
			if err != nil {
				backoff += time.Duration(rand.IntN(1000))*time.Millisecond + time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				r.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
				continue
			}
			r.clientDisabled.Store(false)
			r.opts.Logger.Info("redis enabled")
			return
		}
	}()
}

func redisKey(k cache.Key) string {
	return keyPrefix + k.String()
}

func (r *RedisCache) Lookup(key cache.Key) ([]dnsmsg.RR, bool) {
	if r.disabled() {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	b, err := r.opts.Client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.opts.Logger.Warn("redis get", zap.Stringer("key", key), zap.Error(err))
			r.disableClient()
		}
		return nil, false
	}

	stored, expire, rrs, err := unpackRedisValue(b)
	if err != nil {
		r.opts.Logger.Warn("redis data unpack error", zap.Stringer("key", key), zap.Error(err))
		return nil, false
	}
	now := r.opts.Now()
	if !now.Before(expire) {
		return nil, false
	}
	return cache.Decrement(rrs, now.Sub(stored)), true
}

// Insert writes every set of rrs through one pipeline.
func (r *RedisCache) Insert(rrs []dnsmsg.RR) {
	if r.disabled() {
		return
	}
	sets := cache.Sets(rrs)
	if len(sets) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	now := r.opts.Now()
	pipeline := r.opts.Client.Pipeline()
	buffers := make([]*pool.Buffer, 0, len(sets))
	defer func() {
		for _, b := range buffers {
			b.Release()
		}
	}()
	for _, s := range sets {
		data, err := packRedisValue(now, s.Expire(now), s.RRs)
		if err != nil {
			r.opts.Logger.Warn("redis data pack error", zap.Stringer("key", s.Key), zap.Error(err))
			continue
		}
		buffers = append(buffers, data)
		pipeline.Set(ctx, redisKey(s.Key), data.Bytes(), time.Duration(s.TTL)*time.Second)
	}
	if len(buffers) == 0 {
		return
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		r.opts.Logger.Warn("redis pipeline set", zap.Error(err))
		r.disableClient()
	}
}

// Close closes the redis client.
func (r *RedisCache) Close() error {
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}

func (r *RedisCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	i, err := r.opts.Client.DBSize(ctx).Result()
	if err != nil {
		r.opts.Logger.Error("dbsize", zap.Error(err))
		return 0
	}
	return int(i)
}

// packRedisValue lays out stored and expire as unix nanoseconds followed
// by the snappy compressed wire form of rrs. The returned buffer must be
// released.
func packRedisValue(stored, expire time.Time, rrs []dnsmsg.RR) (*pool.Buffer, error) {
	m := &dnsmsg.Msg{Answer: rrs}
	raw, err := m.AppendEncode(make([]byte, 0, 512), true)
	if err != nil {
		return nil, err
	}
	buf := pool.GetBuf(16 + snappy.MaxEncodedLen(len(raw)))
	b := buf.Bytes()
	binary.BigEndian.PutUint64(b[:8], uint64(stored.UnixNano()))
	binary.BigEndian.PutUint64(b[8:16], uint64(expire.UnixNano()))
	n := len(snappy.Encode(b[16:], raw))
	buf.SetLen(16 + n)
	return buf, nil
}

func unpackRedisValue(b []byte) (stored, expire time.Time, rrs []dnsmsg.RR, err error) {
	if len(b) < 16 {
		return time.Time{}, time.Time{}, nil, errors.New("b is too short")
	}
	stored = time.Unix(0, int64(binary.BigEndian.Uint64(b[:8])))
	expire = time.Unix(0, int64(binary.BigEndian.Uint64(b[8:16])))
	raw, err := snappy.Decode(nil, b[16:])
	if err != nil {
		return time.Time{}, time.Time{}, nil, fmt.Errorf("snappy: %w", err)
	}
	m, err := dnsmsg.Decode(raw)
	if err != nil {
		return time.Time{}, time.Time{}, nil, err
	}
	return stored, expire, m.Answer, nil
}
