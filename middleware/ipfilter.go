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

package middleware

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	ginsdk "github.com/gin-gonic/gin"

	libcache "github.com/nabbar/revproxy/cache"
	"github.com/nabbar/revproxy/config"
)

// ClientIP extracts the client address, preferring the forwarding chain:
// X-Forwarded-For's first token, then X-Real-IP, then the socket
// address, normalizing IPv4-mapped-IPv6 forms.
func ClientIP(c *ginsdk.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return normalizeIP(first)
		}
	}
	if xr := c.GetHeader("X-Real-IP"); xr != "" {
		return normalizeIP(xr)
	}
	return normalizeIP(c.ClientIP())
}

func normalizeIP(raw string) string {
	host, _, err := net.SplitHostPort(raw)
	if err != nil {
		host = raw
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

type ipCounter struct {
	mu            sync.Mutex
	windowStart   time.Time
	count         int
	failedAttempt int
	verified      bool
}

// CaptchaGate tracks per-IP request counters and the blackhole ban table
// shared by the IP filter stage.
type CaptchaGate struct {
	blackhole libcache.Cache[string, time.Time]
	counters  sync.Map // string -> *ipCounter
}

// NewCaptchaGate returns a gate with a blackhole table swept every 60s,
// running a periodic garbage-collection sweep.
func NewCaptchaGate(ctx context.Context) *CaptchaGate {
	g := &CaptchaGate{
		blackhole: libcache.New[string, time.Time](ctx, 0),
	}
	go g.sweepLoop(ctx)
	return g
}

func (g *CaptchaGate) sweepLoop(ctx context.Context) {
	t := time.NewTicker(60 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.blackhole.Expire()
		}
	}
}

func (g *CaptchaGate) isBlackholed(ip string) bool {
	until, _, ok := g.blackhole.Load(ip)
	if !ok {
		return false
	}
	return time.Now().Before(until)
}

func (g *CaptchaGate) blackhole_(ip string, ban time.Duration) {
	g.blackhole.Store(ip, time.Now().Add(ban))
}

func (g *CaptchaGate) counter(ip string) *ipCounter {
	v, _ := g.counters.LoadOrStore(ip, &ipCounter{})
	return v.(*ipCounter)
}

// IPFilterHandler implements the allow/deny + rate-per-IP + captcha stage.
// gate may be nil when no captcha configuration is present.
func IPFilterHandler(cfg config.IPFilter, gate *CaptchaGate) ginsdk.HandlerFunc {
	whitelist := parseCIDRList(cfg.Whitelist)
	blacklist := parseCIDRList(cfg.Blacklist)

	return func(c *ginsdk.Context) {
		ip := ClientIP(c)

		if gate != nil && gate.isBlackholed(ip) {
			c.Header("Content-Type", "text/html; charset=utf-8")
			c.String(403, captchaChallengePage)
			c.Abort()
			return
		}

		if len(whitelist) > 0 && !matchAny(whitelist, ip) {
			c.AbortWithStatus(403)
			return
		}

		if len(blacklist) > 0 && matchAny(blacklist, ip) {
			c.AbortWithStatus(403)
			return
		}

		if cfg.MaxRequestsPerSecond > 0 && gate != nil {
			ctr := gate.counter(ip)
			ctr.mu.Lock()
			now := time.Now()
			if now.Sub(ctr.windowStart) >= time.Second {
				ctr.windowStart = now
				ctr.count = 0
			}
			ctr.count++
			exceeded := ctr.count > cfg.MaxRequestsPerSecond
			if exceeded {
				ctr.failedAttempt++
			}
			failed := ctr.failedAttempt
			verified := ctr.verified
			ctr.mu.Unlock()

			if exceeded {
				if !verified {
					c.Header("Content-Type", "text/html; charset=utf-8")
					c.String(403, captchaChallengePage)
					c.Abort()
					return
				}
				if failed >= cfg.MaxFailedAttempts && cfg.MaxFailedAttempts > 0 {
					ban := cfg.BanDuration
					if ban <= 0 {
						ban = 15 * time.Minute
					}
					gate.blackhole_(ip, ban)
					c.AbortWithStatus(403)
					return
				}
			}
		}

		c.Next()
	}
}

const captchaChallengePage = `<!doctype html><html><head><title>Verification required</title></head>` +
	`<body><h1>Verification required</h1><p>Please complete the challenge to continue.</p></body></html>`

func parseCIDRList(entries []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			if strings.Contains(e, ":") {
				e += "/128"
			} else {
				e += "/32"
			}
		}
		if _, n, err := net.ParseCIDR(e); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func matchAny(nets []*net.IPNet, ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
