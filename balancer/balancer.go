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

// Package balancer implements the per-pool origin selectors: smooth
// weighted round-robin, least-connections and IP-hash.
package balancer

// Member is a single eligible origin as seen by a Balancer.
type Member struct {
	URL    string
	Weight int
}

// Policy names a selection algorithm, matching a pool's configured policy.
type Policy string

const (
	PolicyRoundRobin      Policy = "round-robin"
	PolicyLeastConnection Policy = "least-connections"
	PolicyIPHash          Policy = "ip-hash"
)

// Balancer selects one origin among a pool's current membership. All
// methods are safe for concurrent use.
type Balancer interface {
	// UpdateMembers replaces the eligible set. Per-origin state (weighted
	// counters, connection counts) is preserved for URLs that persist and
	// dropped for URLs that disappear.
	UpdateMembers(members []Member)
	// Next returns the selected origin URL, or "" when the set is empty.
	Next() string
	// NextForIP is used by the ip-hash policy; other policies ignore ip
	// and behave as Next.
	NextForIP(ip string) string
	// Release signals the proxy engine finished a request handed out by
	// Next/NextForIP; only least-connections acts on it.
	Release(url string)
}

// New returns a Balancer implementing policy, defaulting to smooth
// weighted round-robin for an empty or unrecognized policy.
func New(policy Policy) Balancer {
	switch policy {
	case PolicyLeastConnection:
		return newLeastConn()
	case PolicyIPHash:
		return newIPHash()
	default:
		return newWeightedRR()
	}
}
