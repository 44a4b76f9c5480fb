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

package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/pkg/pool"
	"github.com/pmkol/ldns-x/pkg/safe_close"
	"github.com/pmkol/ldns-x/pkg/utils"
)

var certReloadDelay = 2 * time.Second

// certWatcher holds a key pair and reloads it when one of its files
// changes on disk. A pair that fails to load is logged and the previous
// one kept.
type certWatcher struct {
	certFile, keyFile string
	logger            *zap.Logger

	ptr     atomic.Pointer[tls.Certificate]
	reloads atomic.Uint64
	w       *fsnotify.Watcher
	sc      *safe_close.SafeClose
}

func newCertWatcher(certFile, keyFile string, logger *zap.Logger) (*certWatcher, error) {
	c, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate watcher, %w", err)
	}

	cw := &certWatcher{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		w:        w,
		sc:       safe_close.NewSafeClose(),
	}
	cw.ptr.Store(&c)
	cw.watch()
	cw.sc.Attach(cw.loop)
	return cw, nil
}

func (cw *certWatcher) get() *tls.Certificate {
	return cw.ptr.Load()
}

func (cw *certWatcher) watch() {
	for _, f := range [...]string{cw.certFile, cw.keyFile} {
		_ = cw.w.Remove(f)
		if err := cw.w.Add(f); err != nil {
			cw.logger.Warn("failed to watch certificate file", zap.String("file", f), zap.Error(err))
		}
	}
}

func (cw *certWatcher) reload() {
	c, err := tls.LoadX509KeyPair(cw.certFile, cw.keyFile)
	if err != nil {
		cw.logger.Error("failed to reload certificate", zap.String("file", cw.certFile), zap.Error(err))
		return
	}
	cw.ptr.Store(&c)
	cw.reloads.Add(1)
	cw.logger.Info("certificate reloaded", zap.String("file", cw.certFile))
}

func (cw *certWatcher) loop(done func(), closeSignal <-chan struct{}) {
	defer done()
	defer cw.w.Close()

	timer := pool.GetTimer(time.Hour)
	timer.Stop()
	defer pool.ReleaseTimer(timer)

	// Editors and cert managers replace files by renaming, which drops
	// the watch.
	needReWatch := false
	for {
		select {
		case <-closeSignal:
			return
		case e, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if e.Has(fsnotify.Chmod) && !e.Has(fsnotify.Write) {
				continue
			}
			if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
				needReWatch = true
			}
			pool.ResetAndDrainTimer(timer, certReloadDelay)
		case <-timer.C:
			if needReWatch {
				needReWatch = false
				cw.watch()
			}
			cw.reload()
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("certificate watcher error", zap.Error(err))
		}
	}
}

func (cw *certWatcher) Close() error {
	cw.sc.CloseWait()
	return nil
}

// CreateQUICListener creates a DoQ listener on conn with the server
// certificate.
func (s *Server) CreateQUICListener(conn net.PacketConn, allowedSNI string) (*quic.EarlyListener, error) {
	getCert, cw, err := s.quicCertificate(allowedSNI)
	if err != nil {
		return nil, err
	}
	tr := &quic.Transport{
		Conn:              conn,
		StatelessResetKey: s.opts.StatelessResetKey,
	}
	closers := []io.Closer{tr, conn}
	if cw != nil {
		closers = append(closers, cw)
	}
	for _, c := range closers {
		if !s.trackCloser(c, true) {
			if cw != nil {
				cw.Close()
			}
			tr.Close()
			return nil, ErrServerClosed
		}
	}

	return tr.ListenEarly(&tls.Config{
		NextProtos: []string{doqNextProto},

		// No post-quantum key exchange, it costs too much CPU per handshake.
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert := getCert()
			if cert == nil {
				return nil, errors.New("certificate not available")
			}
			if allowedSNI != "" && chi.ServerName != "" && chi.ServerName != allowedSNI {
				return nil, errors.New("invalid sni")
			}
			return cert, nil
		},
	}, &quic.Config{
		Allow0RTT:                      true,
		InitialStreamReceiveWindow:     16 * 1024,
		MaxStreamReceiveWindow:         512 * 1024,
		InitialConnectionReceiveWindow: 32 * 1024,
		MaxConnectionReceiveWindow:     1024 * 1024,
		MaxIncomingStreams:             1000,
	})
}

// quicCertificate returns the certificate source of the quic listener.
// Without Cert and Key a self-signed certificate for allowedSNI, or
// localhost, is generated and cw is nil.
func (s *Server) quicCertificate(allowedSNI string) (get func() *tls.Certificate, cw *certWatcher, err error) {
	switch {
	case s.opts.Cert == "" && s.opts.Key == "":
		name := allowedSNI
		if name == "" {
			name = "localhost"
		}
		cert, err := utils.GenerateCertificate(name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate certificate: %w", err)
		}
		s.opts.Logger.Warn("no certificate for quic listener, using a self-signed one", zap.String("name", name))
		return func() *tls.Certificate { return &cert }, nil, nil
	case s.opts.Cert == "" || s.opts.Key == "":
		return nil, nil, errors.New("quic listener needs both cert and key")
	}
	cw, err = newCertWatcher(s.opts.Cert, s.opts.Key, s.opts.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cw.get, cw, nil
}
