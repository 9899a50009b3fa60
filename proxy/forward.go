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

package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	ginsdk "github.com/gin-gonic/gin"

	"github.com/nabbar/revproxy/config"
	"github.com/nabbar/revproxy/health"
	"github.com/nabbar/revproxy/metrics"
	"github.com/nabbar/revproxy/upstream"
)

// hopByHopHeaders are stripped from both the outbound request and the
// inbound response, per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Proxy-Authenticate",
	"Proxy-Authorization",
}

// Forwarder proxies one location's requests to its resolved upstream,
// retrying once on a connection-level error after an urgent health check.
type Forwarder struct {
	pool      string
	up        upstream.Manager
	checker   health.Checker
	metrics   *metrics.Collector
	listener  string
	timeout   time.Duration
	buffering bool

	client *http.Client
}

// NewForwarder returns a Forwarder bound to one location's upstream pool.
func NewForwarder(listener, pool string, up upstream.Manager, checker health.Checker, mc *metrics.Collector, loc config.Location) *Forwarder {
	timeout := loc.ProxyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
			DualStack: false,
		}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
	}

	return &Forwarder{
		pool:      pool,
		up:        up,
		checker:   checker,
		metrics:   mc,
		listener:  listener,
		timeout:   timeout,
		buffering: loc.ProxyBuffering,
		client:    &http.Client{Transport: transport, Timeout: timeout},
	}
}

func (f *Forwarder) ServeHTTP(c *ginsdk.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, ginsdk.H{"error": "Bad Gateway", "message": err.Error()})
		return
	}
	c.Request.Body.Close()

	clientIP := ClientIPFromRequest(c.Request)

	target, lerr := f.up.ResolveForIP(f.pool, clientIP)
	if lerr != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, ginsdk.H{"error": "Bad Gateway", "message": lerr.Error()})
		return
	}

	resp, rerr := f.attempt(c, target, body)
	if rerr != nil && isConnError(rerr) {
		f.checker.CheckUrgent(c.Request.Context(), target)
		f.up.Release(f.pool, target)

		retryTarget, lerr2 := f.up.ResolveForIP(f.pool, clientIP)
		if lerr2 == nil && retryTarget != target {
			resp, rerr = f.attempt(c, retryTarget, body)
			target = retryTarget
		}
	}
	defer f.up.Release(f.pool, target)

	if rerr != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, ginsdk.H{"error": "Bad Gateway", "message": rerr.Error()})
		return
	}
	defer resp.Body.Close()

	f.writeResponse(c, resp)
}

func (f *Forwarder) attempt(c *ginsdk.Context, target string, body []byte) (*http.Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	out := c.Request.Clone(c.Request.Context())
	out.URL.Scheme = u.Scheme
	out.URL.Host = u.Host
	out.URL.Path = joinPath(u.Path, c.Request.URL.Path)
	out.Host = c.Request.Host
	out.RequestURI = ""
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))

	for _, h := range hopByHopHeaders {
		out.Header.Del(h)
	}

	if f.metrics != nil {
		f.metrics.AddBytesIn(f.listener, uint64(len(body)))
		f.metrics.IncTotalRequests(f.listener)
	}

	return f.client.Do(out)
}

func (f *Forwarder) writeResponse(c *ginsdk.Context, resp *http.Response) {
	for _, h := range hopByHopHeaders {
		resp.Header.Del(h)
	}

	rewriteSetCookies(resp.Header)

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		rewriteRedirect(resp.Header, c.Request)
	}

	if !hasExplicitCacheControl(resp.Header) {
		resp.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate")
		resp.Header.Set("Pragma", "no-cache")
		resp.Header.Set("Expires", "0")
	}

	for k, vv := range resp.Header {
		for _, v := range vv {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)

	var n int64
	var cerr error
	if f.buffering {
		buf, _ := io.ReadAll(resp.Body)
		n = int64(len(buf))
		_, cerr = c.Writer.Write(buf)
	} else {
		n, cerr = io.Copy(c.Writer, resp.Body)
	}

	if f.metrics != nil {
		f.metrics.AddBytesOut(f.listener, uint64(n))
	}

	_ = cerr
}

func hasExplicitCacheControl(h http.Header) bool {
	return h.Get("Cache-Control") != "" || h.Get("Expires") != ""
}

// rewriteSetCookies resets Domain and Path on every Set-Cookie value so
// cookies issued by the upstream scope correctly to the proxy's own host.
func rewriteSetCookies(h http.Header) {
	cookies := h.Values("Set-Cookie")
	if len(cookies) == 0 {
		return
	}

	out := make([]string, 0, len(cookies))
	for _, sc := range cookies {
		parts := strings.Split(sc, ";")
		kept := parts[:0]
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			lower := strings.ToLower(trimmed)
			if strings.HasPrefix(lower, "domain=") {
				continue
			}
			if strings.HasPrefix(lower, "path=") {
				continue
			}
			kept = append(kept, p)
		}
		kept = append(kept, " Path=/")
		out = append(out, strings.Join(kept, ";"))
	}

	h.Del("Set-Cookie")
	for _, sc := range out {
		h.Add("Set-Cookie", sc)
	}
}

// rewriteRedirect rewrites a 3xx Location header to the original client
// host: a relative Location, or an absolute one naming any host other
// than the client's, gets the client's host and scheme; an absolute
// Location already naming the client's host passes unmodified. Redirects
// to external hosts are rewritten as well: origin hosts and backup status
// are not consulted.
func rewriteRedirect(h http.Header, orig *http.Request) {
	loc := h.Get("Location")
	if loc == "" {
		return
	}

	u, err := url.Parse(loc)
	if err != nil {
		return
	}

	if !u.IsAbs() {
		u.Scheme = schemeOf(orig)
		u.Host = orig.Host
		h.Set("Location", u.String())
		return
	}

	if strings.EqualFold(u.Host, orig.Host) {
		return
	}

	u.Host = orig.Host
	u.Scheme = schemeOf(orig)
	h.Set("Location", u.String())
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		return fwd
	}
	return "http"
}

func joinPath(base, reqPath string) string {
	if base == "" || base == "/" {
		return reqPath
	}
	return strings.TrimRight(base, "/") + reqPath
}

// isConnError reports whether err is a connection-level failure eligible
// for one urgent-health-check-then-retry cycle, as opposed to an error
// that occurred after response headers were already being streamed.
func isConnError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// ClientIPFromRequest resolves the originating client IP with the same
// header precedence as the middleware chain, for IP-hash balancer
// selection. Unlike the middleware, it does not normalize IPv4-mapped
// IPv6 addresses.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
