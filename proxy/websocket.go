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
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nabbar/revproxy/metrics"
	"github.com/nabbar/revproxy/upstream"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var wsDialer = websocket.Dialer{
	TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
}

// IsUpgradeRequest reports whether r carries a WebSocket upgrade request.
func IsUpgradeRequest(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// Tunnel upgrades w/r to a WebSocket connection, dials the resolved
// upstream, and pipes frames bidirectionally until either side closes.
// A handshake failure on the upstream side is not retried.
func (f *Forwarder) Tunnel(w http.ResponseWriter, r *http.Request, target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return ErrorUpstreamConn.Error(err)
	}
	u.Scheme = wsScheme(u.Scheme)
	u.Path = joinPath(u.Path, r.URL.Path)
	u.RawQuery = r.URL.RawQuery

	upHeader := make(http.Header)
	for k, vv := range r.Header {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-key", "sec-websocket-version", "sec-websocket-extensions":
			continue
		default:
			upHeader[k] = vv
		}
	}

	upConn, resp, err := wsDialer.Dial(u.String(), upHeader)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return ErrorUpstreamConn.Error(err)
	}
	defer upConn.Close()

	clientConn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return ErrorUpstreamProtocol.Error(err)
	}
	defer clientConn.Close()

	if f.metrics != nil {
		f.metrics.IncActiveConns(f.listener)
		defer f.metrics.DecActiveConns(f.listener)
	}

	var once sync.Once
	done := make(chan struct{})
	closeBoth := func() {
		once.Do(func() { close(done) })
	}

	go pumpWS(clientConn, upConn, f.metrics, f.listener, true, closeBoth)
	go pumpWS(upConn, clientConn, f.metrics, f.listener, false, closeBoth)

	<-done
	return nil
}

func pumpWS(dst, src *websocket.Conn, mc *metrics.Collector, listener string, outbound bool, onDone func()) {
	defer onDone()

	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			return
		}

		if mc != nil {
			if outbound {
				mc.AddBytesOut(listener, uint64(len(msg)))
			} else {
				mc.AddBytesIn(listener, uint64(len(msg)))
			}
		}

		if err := dst.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}

func wsScheme(httpScheme string) string {
	if httpScheme == "https" {
		return "wss"
	}
	return "ws"
}

// resolveTunnelTarget is a small convenience wrapper so engine.go's route
// handler can share the same pool-resolution path as plain HTTP forwarding.
func resolveTunnelTarget(up upstream.Manager, pool, clientIP string) (string, error) {
	target, err := up.ResolveForIP(pool, clientIP)
	if err != nil {
		return "", err
	}
	return target, nil
}
