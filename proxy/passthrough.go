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
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	ginsdk "github.com/gin-gonic/gin"

	"github.com/nabbar/revproxy/config"
	"github.com/nabbar/revproxy/httpcli"
	"github.com/nabbar/revproxy/metrics"
)

// PassthroughForwarder proxies a location's requests to a single fixed
// URL (proxy_pass), bypassing the Upstream Manager's pool resolution and
// health-event wiring entirely.
type PassthroughForwarder struct {
	listener  string
	target    *url.URL
	metrics   *metrics.Collector
	buffering bool
	clientFct httpcli.FctHttpClient
}

// NewPassthroughForwarder returns a PassthroughForwarder bound to a single fixed
// upstream URL.
func NewPassthroughForwarder(listener, target string, mc *metrics.Collector, loc config.Location) *PassthroughForwarder {
	timeout := loc.ProxyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
	}
	client := &http.Client{Transport: transport, Timeout: timeout}

	u, _ := url.Parse(target)

	return &PassthroughForwarder{
		listener:  listener,
		target:    u,
		metrics:   mc,
		buffering: loc.ProxyBuffering,
		clientFct: func() *http.Client { return client },
	}
}

func (f *PassthroughForwarder) ServeHTTP(c *ginsdk.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, ginsdk.H{"error": "Bad Gateway", "message": err.Error()})
		return
	}
	c.Request.Body.Close()

	dest := *f.target
	dest.Path = joinPath(f.target.Path, c.Request.URL.Path)
	dest.RawQuery = c.Request.URL.RawQuery

	req := httpcli.New(f.clientFct)
	req.SetUrl(&dest)
	req.Method(c.Request.Method)
	req.RequestReader(bytes.NewReader(body))

	for k, vv := range c.Request.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			req.Header(k, v)
		}
	}
	req.Header("Host", c.Request.Host)

	if f.metrics != nil {
		f.metrics.AddBytesIn(f.listener, uint64(len(body)))
		f.metrics.IncTotalRequests(f.listener)
	}

	resp, lerr := req.Do(c.Request.Context())
	if lerr != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, ginsdk.H{"error": "Bad Gateway", "message": lerr.Error()})
		return
	}
	defer resp.Body.Close()

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
	if f.buffering {
		buf, _ := io.ReadAll(resp.Body)
		n = int64(len(buf))
		_, _ = c.Writer.Write(buf)
	} else {
		n, _ = io.Copy(c.Writer, resp.Body)
	}

	if f.metrics != nil {
		f.metrics.AddBytesOut(f.listener, uint64(n))
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if http.CanonicalHeaderKey(key) == http.CanonicalHeaderKey(h) {
			return true
		}
	}
	return false
}
