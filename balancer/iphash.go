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

package balancer

import (
	"hash/fnv"
	"sync"
)

// ipHash hashes the client IP to an index modulo the sum of weights,
// falling back to smooth weighted round-robin when the chosen origin is
// no longer part of the membership.
type ipHash struct {
	mu      sync.Mutex
	members []Member
	total   int
	fall    *weightedRR
}

func newIPHash() *ipHash {
	return &ipHash{fall: newWeightedRR()}
}

func (h *ipHash) UpdateMembers(members []Member) {
	h.mu.Lock()
	h.members = append([]Member(nil), members...)

	total := 0
	for _, m := range h.members {
		w := m.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	h.total = total
	h.mu.Unlock()

	h.fall.UpdateMembers(members)
}

func (h *ipHash) Next() string {
	return h.fall.Next()
}

func (h *ipHash) NextForIP(ip string) string {
	h.mu.Lock()
	members := h.members
	total := h.total
	h.mu.Unlock()

	if total == 0 || len(members) == 0 {
		return h.fall.Next()
	}

	sum := fnv.New32a()
	_, _ = sum.Write([]byte(ip))
	idx := int(sum.Sum32()) % total
	if idx < 0 {
		idx += total
	}

	acc := 0
	for _, m := range members {
		w := m.Weight
		if w <= 0 {
			w = 1
		}
		acc += w
		if idx < acc {
			return m.URL
		}
	}

	return h.fall.Next()
}

func (h *ipHash) Release(url string) {
	h.fall.Release(url)
}
