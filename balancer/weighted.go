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

type wrrEntry struct {
	url     string
	weight  int
	current int
}

// weightedRR implements Nginx-style smooth weighted round-robin: each
// call advances every entry's current weight by its effective weight,
// picks the maximum (ties broken by declared order), then debits it by
// the total weight.
type weightedRR struct {
	mu      sync.Mutex
	entries []*wrrEntry
}

func newWeightedRR() *weightedRR {
	return &weightedRR{}
}

func (w *weightedRR) UpdateMembers(members []Member) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := make(map[string]int, len(w.entries))
	for _, e := range w.entries {
		prev[e.url] = e.current
	}

	entries := make([]*wrrEntry, 0, len(members))
	for _, m := range members {
		weight := m.Weight
		if weight <= 0 {
			weight = 1
		}
		entries = append(entries, &wrrEntry{
			url:     m.URL,
			weight:  weight,
			current: prev[m.URL],
		})
	}
	w.entries = entries
}

func (w *weightedRR) Next() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) == 0 {
		return ""
	}

	total := 0
	var best *wrrEntry

	for _, e := range w.entries {
		e.current += e.weight
		total += e.weight

		if best == nil || e.current > best.current {
			best = e
		}
	}

	best.current -= total
	return best.url
}

func (w *weightedRR) NextForIP(_ string) string {
	return w.Next()
}

func (w *weightedRR) Release(_ string) {}
