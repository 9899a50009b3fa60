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
	"fmt"
	"strconv"
	"time"

	ginsdk "github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	libcache "github.com/nabbar/revproxy/cache"
	"github.com/nabbar/revproxy/config"
)

// RateLimiter hands out a token-bucket rate.Limiter per client key,
// backed by a generic TTL cache so idle clients are reclaimed instead of
// accumulating forever.
type RateLimiter struct {
	limiters libcache.Cache[string, *rate.Limiter]
	windowMs int
	max      int
}

// NewRateLimiter returns a RateLimiter whose per-IP entries expire two
// windows after they were stored.
func NewRateLimiter(ctx context.Context, cfg config.RateLimit) *RateLimiter {
	window := time.Duration(cfg.WindowMs) * time.Millisecond
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		limiters: libcache.New[string, *rate.Limiter](ctx, window*2),
		windowMs: cfg.WindowMs,
		max:      cfg.Max,
	}
}

func (r *RateLimiter) limiterFor(key string) *rate.Limiter {
	if l, _, ok := r.limiters.Load(key); ok {
		return l
	}

	window := time.Duration(r.windowMs) * time.Millisecond
	if window <= 0 {
		window = time.Second
	}
	max := r.max
	if max <= 0 {
		max = 1
	}

	l := rate.NewLimiter(rate.Limit(float64(max)/window.Seconds()), max)
	if v, _, ok := r.limiters.LoadOrStore(key, l); ok {
		return v
	}
	return l
}

// RateLimitHandler implements the location/listener rate-limit stage:
// token-bucket throttling keyed by client IP, with standard
// RateLimit-* response headers and a configurable status on exceed.
func RateLimitHandler(cfg config.RateLimit, limiter *RateLimiter) ginsdk.HandlerFunc {
	status := cfg.Status
	if status == 0 {
		status = 429
	}
	message := cfg.Message
	if message == "" {
		message = "Too Many Requests"
	}

	return func(c *ginsdk.Context) {
		if limiter == nil || cfg.Max <= 0 {
			c.Next()
			return
		}

		key := ClientIP(c)
		l := limiter.limiterFor(key)

		res := l.Reserve()
		if !res.OK() {
			c.AbortWithStatus(status)
			return
		}

		delay := res.Delay()
		if delay > 0 {
			res.Cancel()
			c.Header("RateLimit-Limit", strconv.Itoa(cfg.Max))
			c.Header("RateLimit-Remaining", "0")
			c.Header("RateLimit-Reset", strconv.Itoa(int(delay.Seconds())))
			c.JSON(status, ginsdk.H{"error": message})
			c.Abort()
			return
		}

		remaining := int(l.Tokens())
		c.Header("RateLimit-Limit", strconv.Itoa(cfg.Max))
		c.Header("RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("RateLimit-Reset", fmt.Sprintf("%d", windowSeconds(cfg)))

		c.Next()
	}
}

func windowSeconds(cfg config.RateLimit) int {
	return cfg.WindowMs / 1000
}
