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

import "sync"

type lcEntry struct {
	url    string
	weight int
	conns  int
	order  int
}

// leastConn hands out the origin with the fewest active connections,
// breaking ties by higher weight then declared order.
type leastConn struct {
	mu      sync.Mutex
	entries []*lcEntry
}

func newLeastConn() *leastConn {
	return &leastConn{}
}

func (l *leastConn) UpdateMembers(members []Member) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := make(map[string]int, len(l.entries))
	for _, e := range l.entries {
		prev[e.url] = e.conns
	}

	entries := make([]*lcEntry, 0, len(members))
	for i, m := range members {
		weight := m.Weight
		if weight <= 0 {
			weight = 1
		}
		entries = append(entries, &lcEntry{
			url:    m.URL,
			weight: weight,
			conns:  prev[m.URL],
			order:  i,
		})
	}
	l.entries = entries
}

func (l *leastConn) Next() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return ""
	}

	best := l.entries[0]
	for _, e := range l.entries[1:] {
		switch {
		case e.conns < best.conns:
			best = e
		case e.conns == best.conns && e.weight > best.weight:
			best = e
		case e.conns == best.conns && e.weight == best.weight && e.order < best.order:
			best = e
		}
	}

	best.conns++
	return best.url
}

func (l *leastConn) NextForIP(_ string) string {
	return l.Next()
}

func (l *leastConn) Release(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.url == url {
			if e.conns > 0 {
				e.conns--
			}
			return
		}
	}
}
