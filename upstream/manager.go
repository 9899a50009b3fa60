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

// Package upstream owns upstream pools, wires health-checker transitions
// into balancer membership, and resolves a location to a concrete,
// normalized target URL.
package upstream

import (
	"net/url"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nabbar/revproxy/balancer"
	"github.com/nabbar/revproxy/config"
	liberr "github.com/nabbar/revproxy/errors"
	"github.com/nabbar/revproxy/health"
)

type originState struct {
	cfg        config.Origin
	manualDown bool
	isDown     bool
}

type pool struct {
	mu         sync.Mutex
	name       string
	policy     balancer.Policy
	origins    map[string]*originState
	order      []string
	bal        balancer.Balancer
	backup     bool
	healthCfg  *config.HealthCheck
}

// Manager resolves locations to target origins and reacts to health
// transitions by recomputing each pool's active tier.
type Manager interface {
	// Apply replaces the full set of pools from a config snapshot.
	Apply(pools []config.UpstreamPool)
	// Resolve returns the normalized target URL for an upstream pool,
	// or ErrorNoAvailableUpstream if no origin is eligible.
	Resolve(poolName string) (string, liberr.Error)
	// ResolveForIP is Resolve but lets the ip-hash policy act on the
	// caller's address.
	ResolveForIP(poolName, clientIP string) (string, liberr.Error)
	// Release signals the proxy engine finished using url from poolName,
	// decrementing least-connections bookkeeping when applicable.
	Release(poolName, url string)
	// OnHealthTransition is the callback to register with a health.Checker.
	OnHealthTransition(t health.Transition)
	// HealthChecks returns the resolved HealthCheck per registered origin
	// URL, for wiring into a health.Checker.
	HealthChecks() map[string]config.HealthCheck
}

type manager struct {
	mu    sync.RWMutex
	pools map[string]*pool

	originToPool map[string]string

	normCache *lru.Cache[string, string]
}

// New returns an empty Manager.
func New() Manager {
	c, _ := lru.New[string, string](4096)
	return &manager{
		pools:        make(map[string]*pool, 16),
		originToPool: make(map[string]string, 64),
		normCache:    c,
	}
}

func (m *manager) Apply(pools []config.UpstreamPool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*pool, len(pools))
	nextOriginToPool := make(map[string]string, len(m.originToPool))

	for _, pc := range pools {
		p, ok := m.pools[pc.Name]
		if !ok {
			p = &pool{
				name:    pc.Name,
				origins: make(map[string]*originState, len(pc.Servers)),
			}
		}

		p.mu.Lock()
		newPolicy := balancer.Policy(pc.Balancer)
		if p.bal == nil || newPolicy != p.policy {
			p.bal = balancer.New(newPolicy)
		}
		p.policy = newPolicy
		p.healthCfg = pc.HealthCheck

		origins := make(map[string]*originState, len(pc.Servers))
		order := make([]string, 0, len(pc.Servers))
		for _, oc := range pc.Servers {
			st, ok := p.origins[oc.URL]
			if !ok {
				st = &originState{}
			}
			st.cfg = oc
			st.manualDown = oc.Down
			origins[oc.URL] = st
			order = append(order, oc.URL)
			nextOriginToPool[oc.URL] = pc.Name
		}
		p.origins = origins
		p.order = order
		p.mu.Unlock()

		m.recomputeTier(p)
		next[pc.Name] = p
	}

	m.pools = next
	m.originToPool = nextOriginToPool
}

// recomputeTier implements the primary/backup resolution: prefer
// eligible primaries, fall back to eligible backups, else leave the pool
// with no active members.
func (m *manager) recomputeTier(p *pool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var primaries, backups []balancer.Member

	for _, u := range p.order {
		st := p.origins[u]
		if st.manualDown || st.isDown {
			continue
		}
		mem := balancer.Member{URL: u, Weight: st.cfg.Weight}
		if st.cfg.Backup {
			backups = append(backups, mem)
		} else {
			primaries = append(primaries, mem)
		}
	}

	if len(primaries) > 0 {
		p.backup = false
		p.bal.UpdateMembers(primaries)
		return
	}

	p.backup = true
	p.bal.UpdateMembers(backups)
}

func (m *manager) Resolve(poolName string) (string, liberr.Error) {
	return m.resolve(poolName, "")
}

func (m *manager) ResolveForIP(poolName, clientIP string) (string, liberr.Error) {
	return m.resolve(poolName, clientIP)
}

func (m *manager) resolve(poolName, clientIP string) (string, liberr.Error) {
	m.mu.RLock()
	p, ok := m.pools[poolName]
	m.mu.RUnlock()

	if !ok {
		return "", ErrorUnknownPool.Errorf("pool %q", poolName)
	}

	p.mu.Lock()
	bal := p.bal
	p.mu.Unlock()

	var raw string
	if clientIP != "" {
		raw = bal.NextForIP(clientIP)
	} else {
		raw = bal.Next()
	}

	if raw == "" {
		return "", ErrorNoAvailableUpstream.Errorf("pool %q", poolName)
	}

	return m.normalize(raw), nil
}

func (m *manager) Release(poolName, url string) {
	m.mu.RLock()
	p, ok := m.pools[poolName]
	m.mu.RUnlock()

	if !ok {
		return
	}

	p.mu.Lock()
	bal := p.bal
	p.mu.Unlock()

	bal.Release(url)
}

func (m *manager) OnHealthTransition(t health.Transition) {
	m.mu.RLock()
	poolName, ok := m.originToPool[t.URL]
	m.mu.RUnlock()

	if !ok {
		return
	}

	m.mu.RLock()
	p, ok := m.pools[poolName]
	m.mu.RUnlock()

	if !ok {
		return
	}

	p.mu.Lock()
	st, ok := p.origins[t.URL]
	if ok {
		st.isDown = !t.Up
	}
	p.mu.Unlock()

	if ok {
		m.recomputeTier(p)
	}
}

func (m *manager) HealthChecks() map[string]config.HealthCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]config.HealthCheck, len(m.originToPool))
	for _, p := range m.pools {
		p.mu.Lock()
		for url, st := range p.origins {
			out[url] = config.ResolveHealthCheck(st.cfg.HealthCheck, p.healthCfg)
		}
		p.mu.Unlock()
	}
	return out
}

// normalize strips a trailing slash and canonicalizes localhost/::1 to
// 127.0.0.1, memoizing results since pools reuse the same few origins
// across many requests.
func (m *manager) normalize(raw string) string {
	if v, ok := m.normCache.Get(raw); ok {
		return v
	}

	out := raw
	if u, err := url.Parse(raw); err == nil {
		u.Path = strings.TrimSuffix(u.Path, "/")

		host := u.Hostname()
		if host == "localhost" || host == "::1" {
			if port := u.Port(); port != "" {
				u.Host = "127.0.0.1:" + port
			} else {
				u.Host = "127.0.0.1"
			}
		}
		out = u.String()
	} else {
		out = strings.TrimSuffix(raw, "/")
	}

	m.normCache.Add(raw, out)
	return out
}
