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

// Package middleware builds the fixed-order gin.HandlerFunc chain: CSRF
// pass-through, IP allow/deny + rate-per-IP + captcha, rate limiting and
// header rewrite, ahead of the Proxy Engine's own handoff.
package middleware

import (
	"context"

	ginsdk "github.com/gin-gonic/gin"

	"github.com/nabbar/revproxy/config"
)

// Registry builds per-location handler chains, owning the long-lived
// captcha gate and per-location rate limiters across a snapshot's
// lifetime (these carry accumulated counters and must not be rebuilt on
// every request).
type Registry struct {
	ctx   context.Context
	gate  *CaptchaGate
	limit map[*config.RateLimit]*RateLimiter
}

// NewRegistry returns a Registry. captchaEnabled controls whether the IP
// filter stage consults a blackhole gate.
func NewRegistry(ctx context.Context, captchaEnabled bool) *Registry {
	r := &Registry{
		ctx:   ctx,
		limit: make(map[*config.RateLimit]*RateLimiter),
	}
	if captchaEnabled {
		r.gate = NewCaptchaGate(ctx)
	}
	return r
}

func (r *Registry) rateLimiterFor(cfg *config.RateLimit) *RateLimiter {
	if cfg == nil {
		return nil
	}
	if l, ok := r.limit[cfg]; ok {
		return l
	}
	l := NewRateLimiter(r.ctx, *cfg)
	r.limit[cfg] = l
	return l
}

// Build assembles the fixed-order chain for one location, merging
// listener-level config with location-level overrides (location wins).
func (r *Registry) Build(listener config.Server, loc config.Location) []ginsdk.HandlerFunc {
	csrf := effectiveCSRF(listener.CSRF, loc.CSRF)
	ipf := effectiveIPFilter(listener.IPFilter, loc.IPFilter)
	rl := effectiveRateLimit(listener.RateLimit, loc.RateLimit)
	hdr := effectiveHeaders(listener.Headers, loc.Headers)

	chain := make([]ginsdk.HandlerFunc, 0, 4)
	chain = append(chain, CSRFHandler(csrf))

	if ipf != nil {
		chain = append(chain, IPFilterHandler(*ipf, r.gate))
	}

	if rl != nil {
		chain = append(chain, RateLimitHandler(*rl, r.rateLimiterFor(rl)))
	}

	if hdr != nil {
		chain = append(chain, HeaderRewriteHandler(*hdr))
	}

	return chain
}

func effectiveCSRF(listener, loc *config.CSRF) config.CSRF {
	if loc != nil {
		return *loc
	}
	if listener != nil {
		return *listener
	}
	return config.CSRF{}
}

func effectiveIPFilter(listener, loc *config.IPFilter) *config.IPFilter {
	if loc != nil {
		return loc
	}
	return listener
}

func effectiveRateLimit(listener, loc *config.RateLimit) *config.RateLimit {
	if loc != nil {
		return loc
	}
	return listener
}

func effectiveHeaders(listener, loc *config.HeaderRule) *config.HeaderRule {
	if loc != nil {
		return loc
	}
	return listener
}
