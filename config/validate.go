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

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	liberr "github.com/nabbar/revproxy/errors"
)

var structValidator = validator.New()

// Validate runs struct-tag validation, then the cross-field invariants:
// at least one pool and one listener, every pool has a name and >=1
// origin with a parseable URL, every location sets exactly one routing
// target, every upstream name resolves, and duplicate origin URLs across
// pools are dropped with first-wins semantics and a warning.
//
// Validate mutates s in place to apply defaults and drop duplicate
// origins; it must be called exactly once, before the snapshot is
// published.
func Validate(s *Snapshot) ([]string, liberr.Error) {
	var warnings []string

	applyDefaults(s)

	if len(s.Upstreams) == 0 {
		return warnings, ErrorNoPool.Error()
	}

	if len(s.Servers) == 0 {
		return warnings, ErrorNoListener.Error()
	}

	if err := structValidator.Struct(s); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok {
			e := ErrorValidation.Error()
			for _, fe := range ve {
				e.Add(fmt.Errorf("field '%s' failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return warnings, e
		}
		return warnings, ErrorValidation.Error(err)
	}

	seen := make(map[string]string, 16)
	for pi := range s.Upstreams {
		p := &s.Upstreams[pi]

		kept := p.Servers[:0]
		for _, o := range p.Servers {
			if owner, ok := seen[o.URL]; ok {
				warnings = append(warnings, fmt.Sprintf(
					"origin %q duplicated in pool %q, first seen in pool %q: dropped", o.URL, p.Name, owner))
				continue
			}
			seen[o.URL] = p.Name
			kept = append(kept, o)
		}
		p.Servers = kept

		if len(p.Servers) == 0 {
			return warnings, ErrorNoPool.Errorf("pool %q has no origins after dedup", p.Name)
		}
	}

	for si := range s.Servers {
		sv := &s.Servers[si]
		for li := range sv.Locations {
			loc := &sv.Locations[li]

			n := 0
			for _, set := range []bool{loc.Upstream != "", loc.ProxyPass != "", loc.Root != "", loc.Return != nil} {
				if set {
					n++
				}
			}
			if n != 1 {
				return warnings, ErrorRouteTarget.Errorf("listener %q location %q", sv.Name, loc.Path)
			}

			if loc.Target() == RouteUpstream {
				if _, ok := s.PoolByName(loc.Upstream); !ok {
					return warnings, ErrorUpstreamRef.Errorf("listener %q location %q -> %q", sv.Name, loc.Path, loc.Upstream)
				}
			}
		}
	}

	s.Version++

	return warnings, nil
}
