/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package proxy supervises one HTTP(S) listener per configured server,
// forwards requests to their resolved upstream or static target, and
// keeps listener sockets alive across a configuration reload.
package proxy

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ginsdk "github.com/gin-gonic/gin"

	"github.com/nabbar/revproxy/config"
	"github.com/nabbar/revproxy/health"
	liblog "github.com/nabbar/revproxy/logger"
	"github.com/nabbar/revproxy/metrics"
	"github.com/nabbar/revproxy/middleware"
	"github.com/nabbar/revproxy/tlsmanager"
	"github.com/nabbar/revproxy/upstream"
)

const shutdownTimeout = 5 * time.Second

// Engine supervises every listener declared in a configuration snapshot,
// keeping unchanged listener sockets open across a reload.
type Engine struct {
	mu        sync.Mutex
	listeners map[string]*listener

	up       upstream.Manager
	checker  health.Checker
	tls      tlsmanager.Manager
	mc       *metrics.Collector
	log      func() liblog.Logger
	registry *middleware.Registry
}

type listener struct {
	name    string
	running atomic.Bool
	srv     *http.Server
	tlsCfg  *tls.Config
	cfg     config.Server
}

// NewEngine wires together the collaborators every listener needs to
// route, balance, health-check, and account for its traffic.
func NewEngine(up upstream.Manager, checker health.Checker, tm tlsmanager.Manager, mc *metrics.Collector, logFct func() liblog.Logger, registry *middleware.Registry) *Engine {
	return &Engine{
		listeners: make(map[string]*listener, 8),
		up:        up,
		checker:   checker,
		tls:       tm,
		mc:        mc,
		log:       logFct,
		registry:  registry,
	}
}

// Apply reconciles the running listeners against snap: unchanged
// name+port listeners keep their socket and only rebuild their routing
// handler; removed listeners drain and stop; new listeners start.
func (e *Engine) Apply(ctx context.Context, snap *config.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wanted := make(map[string]config.Server, len(snap.Servers))
	for _, srv := range snap.Servers {
		wanted[srv.Name] = srv
	}

	for name, l := range e.listeners {
		srv, ok := wanted[name]
		if !ok || srv.Listen != l.cfg.Listen {
			e.stopListener(l)
			delete(e.listeners, name)
			continue
		}
	}

	for name, srv := range wanted {
		if l, ok := e.listeners[name]; ok {
			l.cfg = srv
			l.srv.Handler = e.buildHandler(snap, srv)
			if srv.SSL != nil && srv.SSL.Enabled {
				e.tls.Watch(name, *srv.SSL, e.onRotate(snap))
			}
			continue
		}

		e.startListener(ctx, snap, srv)
	}
}

func (e *Engine) onRotate(snap *config.Snapshot) tlsmanager.OnRotate {
	return func(listenerName string) {
		e.mu.Lock()
		defer e.mu.Unlock()

		l, ok := e.listeners[listenerName]
		if !ok || l.cfg.SSL == nil {
			return
		}

		tcfg, err := e.tls.Load(listenerName, *l.cfg.SSL)
		if err != nil || tcfg == nil {
			return
		}

		l.tlsCfg = tcfg
		l.srv.TLSConfig = tcfg
	}
}

func (e *Engine) startListener(ctx context.Context, snap *config.Snapshot, srv config.Server) {
	l := &listener{name: srv.Name, cfg: srv}

	handler := e.buildHandler(snap, srv)

	httpSrv := &http.Server{
		Addr:    srv.Listen,
		Handler: handler,
	}

	if srv.SSL != nil && srv.SSL.Enabled {
		tcfg, err := e.tls.Load(srv.Name, *srv.SSL)
		if err == nil && tcfg != nil {
			l.tlsCfg = tcfg
			httpSrv.TLSConfig = tcfg
			e.tls.Watch(srv.Name, *srv.SSL, e.onRotate(snap))
		}
	}

	l.srv = httpSrv
	e.listeners[srv.Name] = l

	go func() {
		l.running.Store(true)
		defer l.running.Store(false)

		var err error
		if l.tlsCfg != nil {
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			if e.log != nil {
				if lg := e.log(); lg != nil {
					lg.Error("listener stopped", err, srv.Name)
				}
			}
		}
	}()
}

func (e *Engine) stopListener(l *listener) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = l.srv.Shutdown(ctx)
	e.tls.StopWatching(l.name)
}

// StopAll drains and closes every running listener.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, l := range e.listeners {
		e.stopListener(l)
		delete(e.listeners, name)
	}
}

func (e *Engine) buildHandler(snap *config.Snapshot, srv config.Server) http.Handler {
	r := ginsdk.New()
	r.Use(ginsdk.Recovery())

	for _, loc := range srv.Locations {
		loc := loc
		chain := e.registry.Build(srv, loc)
		route := e.routeFor(srv, loc)

		handlers := append(append([]ginsdk.HandlerFunc{}, chain...), route)
		r.Any(loc.Path+"/*proxyPath", handlers...)
		r.Any(loc.Path, handlers...)
	}

	return r
}

func (e *Engine) routeFor(srv config.Server, loc config.Location) ginsdk.HandlerFunc {
	switch loc.Target() {
	case config.RouteUpstream:
		fwd := NewForwarder(srv.Name, loc.Upstream, e.up, e.checker, e.mc, loc)
		return func(c *ginsdk.Context) {
			if IsUpgradeRequest(c.Request) {
				clientIP := ClientIPFromRequest(c.Request)
				target, err := resolveTunnelTarget(e.up, loc.Upstream, clientIP)
				if err != nil {
					c.AbortWithStatusJSON(http.StatusBadGateway, ginsdk.H{"error": "Bad Gateway", "message": err.Error()})
					return
				}
				_ = fwd.Tunnel(c.Writer, c.Request, target)
				return
			}
			fwd.ServeHTTP(c)
		}

	case config.RouteProxyPass:
		fwd := NewPassthroughForwarder(srv.Name, loc.ProxyPass, e.mc, loc)
		return fwd.ServeHTTP

	case config.RouteRoot:
		return rootHandler(loc)

	case config.RouteReturn:
		return returnHandler(loc)

	default:
		return func(c *ginsdk.Context) {
			c.AbortWithStatusJSON(http.StatusNotFound, ginsdk.H{"error": "Not Found"})
		}
	}
}
