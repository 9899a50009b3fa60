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

package config

import "time"

// DefaultHealthCheck is the built-in bottom of the health-check defaulting
// chain: origin overrides pool overrides this, field by field.
func DefaultHealthCheck() HealthCheck {
	return HealthCheck{
		Type:           "http",
		Path:           "/",
		Interval:       5 * time.Second,
		Timeout:        5 * time.Second,
		Retries:        3,
		ExpectedStatus: []int{200, 201, 202, 301, 302, 303, 307, 308, 404},
	}
}

// mergeHealthCheck fills zero-value fields of dst from src, field by field.
func mergeHealthCheck(dst, src HealthCheck) HealthCheck {
	if dst.Type == "" {
		dst.Type = src.Type
	}
	if dst.Path == "" {
		dst.Path = src.Path
	}
	if dst.Interval == 0 {
		dst.Interval = src.Interval
	}
	if dst.Timeout == 0 {
		dst.Timeout = src.Timeout
	}
	if dst.Retries == 0 {
		dst.Retries = src.Retries
	}
	if len(dst.ExpectedStatus) == 0 {
		dst.ExpectedStatus = src.ExpectedStatus
	}
	return dst
}

// ResolveHealthCheck merges origin -> pool -> built-in defaults.
func ResolveHealthCheck(origin, pool *HealthCheck) HealthCheck {
	def := DefaultHealthCheck()

	merged := def
	if pool != nil {
		merged = mergeHealthCheck(*pool, def)
	}
	if origin != nil {
		merged = mergeHealthCheck(*origin, merged)
	}

	return merged
}

// applyDefaults fills in the field-by-field defaults described in the
// config store's merge rules: missing policy -> round-robin, missing
// weight -> 1, and the health-check inheritance chain.
func applyDefaults(s *Snapshot) {
	for i := range s.Upstreams {
		p := &s.Upstreams[i]

		if p.Balancer == "" {
			p.Balancer = "round-robin"
		}

		for j := range p.Servers {
			o := &p.Servers[j]
			if o.Weight == 0 {
				o.Weight = 1
			}
		}
	}

	if s.Monitoring.PushInterval == 0 {
		s.Monitoring.PushInterval = 5 * time.Second
	}

	if s.Captcha != nil {
		if s.Captcha.MaxAttempts == 0 {
			s.Captcha.MaxAttempts = 5
		}
		if s.Captcha.BlackholeThreshold == 0 {
			s.Captcha.BlackholeThreshold = s.Captcha.MaxAttempts
		}
		if s.Captcha.BanDuration == 0 {
			s.Captcha.BanDuration = 15 * time.Minute
		}
		if s.Captcha.Timeout == 0 {
			s.Captcha.Timeout = 5 * time.Minute
		}
	}

	for i := range s.Servers {
		sv := &s.Servers[i]
		for j := range sv.Locations {
			if sv.Locations[j].Balancer == "" {
				sv.Locations[j].Balancer = ""
			}
		}
	}
}
