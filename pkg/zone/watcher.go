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

package zone

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/pool"
	"github.com/pmkol/ldns-x/pkg/safe_close"
)

const defaultReloadDelay = 2 * time.Second

var nopLogger = zap.NewNop()

type WatcherOpts struct {
	Path   string
	Origin string

	// ReloadDelay debounces bursts of file events. Default is 2s.
	ReloadDelay time.Duration

	// Logger is the *zap.Logger for this Watcher.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

// Watcher serves a zone file and reloads it when the file changes. A
// file that fails to parse is logged and the previous zone kept.
type Watcher struct {
	opts    WatcherOpts
	zone    atomic.Pointer[Zone]
	reloads atomic.Uint64
	w       *fsnotify.Watcher
	sc      *safe_close.SafeClose
}

func NewWatcher(opts WatcherOpts) (*Watcher, error) {
	if opts.ReloadDelay <= 0 {
		opts.ReloadDelay = defaultReloadDelay
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	z, err := LoadFile(opts.Path, opts.Origin)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create zone watcher: %w", err)
	}
	// Watch the directory so that editors replacing the file by rename
	// are noticed.
	if err := fw.Add(filepath.Dir(opts.Path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", opts.Path, err)
	}

	w := &Watcher{opts: opts, w: fw, sc: safe_close.NewSafeClose()}
	w.zone.Store(z)
	w.sc.Attach(w.loop)
	return w, nil
}

// Zone returns the current zone.
func (w *Watcher) Zone() *Zone {
	return w.zone.Load()
}

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() uint64 {
	return w.reloads.Load()
}

func (w *Watcher) Lookup(name string, t dnsmsg.Type, class dnsmsg.Class) ([]dnsmsg.RR, bool) {
	return w.Zone().Lookup(name, t, class)
}

func (w *Watcher) reload() {
	z, err := LoadFile(w.opts.Path, w.opts.Origin)
	if err != nil {
		w.opts.Logger.Error("failed to reload zone", zap.String("file", w.opts.Path), zap.Error(err))
		return
	}
	w.zone.Store(z)
	w.reloads.Add(1)
	w.opts.Logger.Info("zone reloaded", zap.String("file", w.opts.Path), zap.Int("records", z.Len()))
}

func (w *Watcher) loop(done func(), closeSignal <-chan struct{}) {
	defer done()
	defer w.w.Close()

	timer := pool.GetTimer(time.Hour)
	timer.Stop()
	defer pool.ReleaseTimer(timer)

	target := filepath.Clean(w.opts.Path)
	for {
		select {
		case <-closeSignal:
			return
		case e, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != target || e.Has(fsnotify.Chmod) && !e.Has(fsnotify.Write) {
				continue
			}
			w.opts.Logger.Debug("zone file event", zap.String("file", e.Name), zap.Stringer("op", e.Op))
			if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
				// Wait for the replacement file to appear.
				continue
			}
			pool.ResetAndDrainTimer(timer, w.opts.ReloadDelay)
		case <-timer.C:
			w.reload()
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Warn("zone watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) Close() error {
	w.sc.CloseWait()
	return nil
}
