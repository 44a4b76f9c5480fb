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

package coremain

import (
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pires/go-proxyproto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/mlog"
	"github.com/pmkol/ldns-x/pkg/cache"
	"github.com/pmkol/ldns-x/pkg/cache/mem_cache"
	"github.com/pmkol/ldns-x/pkg/cache/redis_cache"
	"github.com/pmkol/ldns-x/pkg/resolver"
	"github.com/pmkol/ldns-x/pkg/safe_close"
	"github.com/pmkol/ldns-x/pkg/server"
	"github.com/pmkol/ldns-x/pkg/server/dns_handler"
	"github.com/pmkol/ldns-x/pkg/upstream"
	"github.com/pmkol/ldns-x/pkg/utils"
	"github.com/pmkol/ldns-x/pkg/zone"
)

const proxyHeaderTimeout = 5 * time.Second

// LDNS is a running daemon: the resolver with its cache and zone, the
// dns servers and the api http server.
type LDNS struct {
	logger *zap.Logger

	resolver *resolver.Resolver
	cache    cache.Backend
	zone     *zone.Watcher

	resetKey *quic.StatelessResetKey
	addrs    []net.Addr

	httpAPIMux *http.ServeMux
	httpAPI    net.Addr

	metricsReg *prometheus.Registry

	sc           *safe_close.SafeClose
	shutdownOnce sync.Once
}

// NewLDNS starts every component of cfg. Call Wait to block until ldns
// exits.
func NewLDNS(cfg *Config) (*LDNS, error) {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	m := &LDNS{
		logger:     lg,
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}

	m.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}))
	m.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	m.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if err := m.start(cfg); err != nil {
		m.Close(nil)
		m.shutdownOnce.Do(m.shutdown)
		return nil, err
	}
	return m, nil
}

func (m *LDNS) start(cfg *Config) error {
	if err := m.initCache(&cfg.Cache); err != nil {
		return fmt.Errorf("failed to init cache, %w", err)
	}

	if len(cfg.Zone.File) > 0 {
		w, err := zone.NewWatcher(zone.WatcherOpts{
			Path:   cfg.Zone.File,
			Origin: cfg.Zone.Origin,
			Logger: m.logger.Named("zone"),
		})
		if err != nil {
			return fmt.Errorf("failed to load zone, %w", err)
		}
		m.zone = w
		m.logger.Info("zone loaded", zap.String("file", cfg.Zone.File), zap.Int("records", w.Zone().Len()))
	}

	opts := resolver.Opts{
		Logger:     m.logger.Named("resolver"),
		MetricsReg: m.GetMetricsReg(),
		Upstream: upstream.Opts{
			UDPBufSize: cfg.Upstream.UDPBufSize,
			TLSConfig:  &tls.Config{InsecureSkipVerify: cfg.Upstream.InsecureSkipVerify},
		},
	}
	// Nil pointers must not become non-nil interfaces.
	if m.cache != nil {
		opts.Cache = m.cache
	}
	if m.zone != nil {
		opts.Zone = m.zone
	}
	r, err := resolver.New(cfg.Resolver, opts)
	if err != nil {
		return fmt.Errorf("failed to init resolver, %w", err)
	}
	m.resolver = r

	if len(cfg.Servers) == 0 {
		return errors.New("no server is configured")
	}
	for i := range cfg.Servers {
		if err := m.startServers(&cfg.Servers[i]); err != nil {
			return fmt.Errorf("failed to start server #%d, %w", i, err)
		}
	}

	if httpAddr := cfg.API.HTTP; len(httpAddr) > 0 {
		if err := m.startHTTPAPI(httpAddr); err != nil {
			return fmt.Errorf("failed to start api http server, %w", err)
		}
	}
	return nil
}

func (m *LDNS) initCache(cfg *CacheConfig) error {
	cfg.init()
	if cfg.Size < 0 {
		return nil
	}
	mc := mem_cache.NewMemCache(cfg.Size, cfg.cleanerInterval())
	if len(cfg.Redis) == 0 {
		m.cache = mc
		return nil
	}

	opt, err := redis.ParseURL(cfg.Redis)
	if err != nil {
		mc.Close()
		return fmt.Errorf("invalid redis url, %w", err)
	}
	opt.MaxRetries = -1
	c := redis.NewClient(opt)
	rc, err := redis_cache.NewRedisCache(redis_cache.RedisCacheOpts{
		Client:        c,
		ClientCloser:  c,
		ClientTimeout: utils.MsToDuration(cfg.RedisTimeout),
		Logger:        m.logger.Named("redis_cache"),
	})
	if err != nil {
		mc.Close()
		c.Close()
		return err
	}
	m.cache = &cache.Tiered{L1: mc, L2: rc}
	return nil
}

func (m *LDNS) startServers(cfg *ServerConfig) error {
	if len(cfg.Listeners) == 0 {
		return errors.New("no listener is configured")
	}
	allowList, err := parseAllowList(cfg.AllowList)
	if err != nil {
		return err
	}
	h, err := dns_handler.NewEntryHandler(dns_handler.EntryHandlerOpts{
		Logger:       m.logger.Named("handler"),
		Resolver:     m.resolver,
		QueryTimeout: utils.MsToDuration(cfg.QueryTimeout),
		AllowList:    allowList,
		MaxTTL:       cfg.MaxTTL,
	})
	if err != nil {
		return err
	}

	for i := range cfg.Listeners {
		lc := &cfg.Listeners[i]
		if err := lc.validate(); err != nil {
			return fmt.Errorf("invalid listener #%d, %w", i, err)
		}
		s := server.NewServer(server.ServerOpts{
			Logger:            m.logger.Named("server"),
			DNSHandler:        h,
			Cert:              lc.Cert,
			Key:               lc.Key,
			StatelessResetKey: m.statelessResetKey(),
			IdleTimeout:       time.Duration(cfg.IdleTimeout) * time.Second,
		})
		if err := m.startListener(s, lc); err != nil {
			s.Close()
			return fmt.Errorf("failed to start listener #%d, %w", i, err)
		}
	}
	return nil
}

func (m *LDNS) startListener(s *server.Server, lc *ListenerConfig) error {
	var run func() error
	var addr net.Addr
	switch lc.protocol() {
	case "udp":
		c, err := net.ListenPacket("udp", lc.Addr)
		if err != nil {
			return err
		}
		addr = c.LocalAddr()
		run = func() error { return s.ServeUDP(c) }
	case "tcp":
		l, err := net.Listen("tcp", lc.Addr)
		if err != nil {
			return err
		}
		addr = l.Addr()
		if lc.ProxyProtocol {
			l = &proxyproto.Listener{Listener: l, ReadHeaderTimeout: proxyHeaderTimeout}
		}
		run = func() error { return s.ServeTCP(l) }
	case "quic":
		c, err := net.ListenPacket("udp", lc.Addr)
		if err != nil {
			return err
		}
		l, err := s.CreateQUICListener(c, lc.SNI)
		if err != nil {
			c.Close()
			return err
		}
		addr = c.LocalAddr()
		run = func() error { return s.ServeQUIC(l) }
	}

	m.addrs = append(m.addrs, addr)
	m.logger.Info("starting server", zap.String("protocol", lc.protocol()), zap.Stringer("addr", addr))
	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			errChan <- run()
		}()
		select {
		case err := <-errChan:
			m.sc.SendCloseSignal(fmt.Errorf("server %s exited, %w", addr, err))
		case <-closeSignal:
		}
		s.Close()
	})
	return nil
}

func (m *LDNS) startHTTPAPI(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.httpAPI = l.Addr()
	httpServer := &http.Server{
		Handler:           m.httpAPIMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			m.logger.Info("starting api http server", zap.Stringer("addr", l.Addr()))
			errChan <- httpServer.Serve(l)
		}()
		select {
		case err := <-errChan:
			m.sc.SendCloseSignal(err)
		case <-closeSignal:
			httpServer.Close()
		}
	})
	return nil
}

func (m *LDNS) statelessResetKey() *quic.StatelessResetKey {
	if m.resetKey == nil {
		k := new(quic.StatelessResetKey)
		if _, err := rand.Read(k[:]); err != nil {
			m.logger.Warn("failed to generate stateless reset key", zap.Error(err))
			return nil
		}
		m.resetKey = k
	}
	return m.resetKey
}

// Close asks ldns to exit with err. It does not block.
func (m *LDNS) Close(err error) {
	m.sc.SendCloseSignal(err)
}

// Wait blocks until ldns is closed and every component has been shut
// down. It returns the error that caused the exit.
func (m *LDNS) Wait() error {
	<-m.sc.ReceiveCloseSignal()
	m.shutdownOnce.Do(m.shutdown)
	return m.sc.Err()
}

func (m *LDNS) shutdown() {
	m.sc.CloseWait()
	if m.resolver != nil {
		if err := m.resolver.Close(); err != nil {
			m.logger.Warn("failed to close resolver", zap.Error(err))
		}
	}
	if m.zone != nil {
		m.zone.Close()
	}
	if m.cache != nil {
		m.cache.Close()
	}
	m.logger.Info("ldns exited", zap.Error(m.sc.Err()))
	m.logger.Sync()
}

func (m *LDNS) GetResolver() *resolver.Resolver {
	return m.resolver
}

func (m *LDNS) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix("ldns_", m.metricsReg)
}

func (m *LDNS) GetHTTPAPIMux() *http.ServeMux {
	return m.httpAPIMux
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}
