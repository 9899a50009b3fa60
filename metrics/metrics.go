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

// Package metrics implements the per-listener counters, the rolling
// trend buffer, and the Prometheus scrape endpoint.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sample is one point of a listener's trend buffer.
type Sample struct {
	At             time.Time
	RequestsPerSec float64
	BytesInRate    float64
	BytesOutRate   float64
	ActiveConns    int64
}

// Overview is the read-only, point-in-time summary for one listener.
type Overview struct {
	Listener    string
	BytesIn     uint64
	BytesOut    uint64
	ActiveConns int64
	TotalReqs   uint64
}

type listenerCounters struct {
	bytesIn     uint64
	bytesOut    uint64
	activeConns int64
	totalReqs   uint64

	mu        sync.Mutex
	ring      []Sample
	ringCap   int
	ringHead  int
	ringLen   int
	prevIn    uint64
	prevOut   uint64
	prevReqs  uint64
	prevTime  time.Time
}

// Collector owns per-listener counters and their trend buffers, and
// exposes the same figures as Prometheus vectors for scraping.
type Collector struct {
	mu        sync.RWMutex
	listeners map[string]*listenerCounters
	ringCap   int
	tick      time.Duration

	promBytesIn     *prometheus.CounterVec
	promBytesOut    *prometheus.CounterVec
	promActiveConns *prometheus.GaugeVec
	promTotalReqs   *prometheus.CounterVec

	stop chan struct{}
}

// New returns a Collector with the given trend-buffer capacity and
// sampling tick, defaulting to 1024 samples / 5s tick.
func New(ringCap int, tick time.Duration) *Collector {
	if ringCap <= 0 {
		ringCap = 1024
	}
	if tick <= 0 {
		tick = 5 * time.Second
	}

	c := &Collector{
		listeners: make(map[string]*listenerCounters, 8),
		ringCap:   ringCap,
		tick:      tick,
		stop:      make(chan struct{}),

		promBytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revproxy_listener_bytes_in_total",
			Help: "Total bytes received from clients, per listener.",
		}, []string{"listener"}),
		promBytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revproxy_listener_bytes_out_total",
			Help: "Total bytes sent to clients, per listener.",
		}, []string{"listener"}),
		promActiveConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "revproxy_listener_active_connections",
			Help: "Active connections, per listener.",
		}, []string{"listener"}),
		promTotalReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revproxy_listener_requests_total",
			Help: "Total requests handled, per listener.",
		}, []string{"listener"}),
	}

	return c
}

// Register adds the collector's Prometheus vectors to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, coll := range []prometheus.Collector{c.promBytesIn, c.promBytesOut, c.promActiveConns, c.promTotalReqs} {
		if err := reg.Register(coll); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) listener(name string) *listenerCounters {
	c.mu.RLock()
	lc, ok := c.listeners[name]
	c.mu.RUnlock()
	if ok {
		return lc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lc, ok = c.listeners[name]; ok {
		return lc
	}
	lc = &listenerCounters{
		ring:     make([]Sample, c.ringCap),
		ringCap:  c.ringCap,
		prevTime: time.Now(),
	}
	c.listeners[name] = lc
	return lc
}

// AddBytesIn atomically increments the bytes-received counter.
func (c *Collector) AddBytesIn(listener string, n uint64) {
	atomic.AddUint64(&c.listener(listener).bytesIn, n)
	c.promBytesIn.WithLabelValues(listener).Add(float64(n))
}

// AddBytesOut atomically increments the bytes-sent counter.
func (c *Collector) AddBytesOut(listener string, n uint64) {
	atomic.AddUint64(&c.listener(listener).bytesOut, n)
	c.promBytesOut.WithLabelValues(listener).Add(float64(n))
}

// IncActiveConns moves the active-connection gauge by +1.
func (c *Collector) IncActiveConns(listener string) {
	atomic.AddInt64(&c.listener(listener).activeConns, 1)
	c.promActiveConns.WithLabelValues(listener).Inc()
}

// DecActiveConns moves the active-connection gauge by -1.
func (c *Collector) DecActiveConns(listener string) {
	atomic.AddInt64(&c.listener(listener).activeConns, -1)
	c.promActiveConns.WithLabelValues(listener).Dec()
}

// IncTotalRequests atomically increments the total-requests counter.
func (c *Collector) IncTotalRequests(listener string) {
	atomic.AddUint64(&c.listener(listener).totalReqs, 1)
	c.promTotalReqs.WithLabelValues(listener).Inc()
}

// GetOverview returns the current counters for one listener.
func (c *Collector) GetOverview(listener string) Overview {
	lc := c.listener(listener)
	return Overview{
		Listener:    listener,
		BytesIn:     atomic.LoadUint64(&lc.bytesIn),
		BytesOut:    atomic.LoadUint64(&lc.bytesOut),
		ActiveConns: atomic.LoadInt64(&lc.activeConns),
		TotalReqs:   atomic.LoadUint64(&lc.totalReqs),
	}
}

// GetPerListener returns the current overview for every known listener.
func (c *Collector) GetPerListener() []Overview {
	c.mu.RLock()
	names := make([]string, 0, len(c.listeners))
	for n := range c.listeners {
		names = append(names, n)
	}
	c.mu.RUnlock()

	out := make([]Overview, 0, len(names))
	for _, n := range names {
		out = append(out, c.GetOverview(n))
	}
	return out
}

// GetTrend returns up to the last `count` trend samples for a listener,
// oldest first.
func (c *Collector) GetTrend(listener string, count int) []Sample {
	lc := c.listener(listener)

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if count <= 0 || count > lc.ringLen {
		count = lc.ringLen
	}

	out := make([]Sample, 0, count)
	start := lc.ringHead - count
	for i := 0; i < count; i++ {
		idx := (start + i) % lc.ringCap
		if idx < 0 {
			idx += lc.ringCap
		}
		out = append(out, lc.ring[idx])
	}
	return out
}

// Start begins the sampling ticker that pushes trend-buffer entries.
func (c *Collector) Start() {
	go func() {
		t := time.NewTicker(c.tick)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
				c.sampleAll()
			}
		}
	}()
}

// Stop halts the sampling ticker.
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) sampleAll() {
	c.mu.RLock()
	all := make([]*listenerCounters, 0, len(c.listeners))
	for _, lc := range c.listeners {
		all = append(all, lc)
	}
	c.mu.RUnlock()

	now := time.Now()
	for _, lc := range all {
		lc.mu.Lock()

		in := atomic.LoadUint64(&lc.bytesIn)
		out := atomic.LoadUint64(&lc.bytesOut)
		reqs := atomic.LoadUint64(&lc.totalReqs)
		active := atomic.LoadInt64(&lc.activeConns)

		elapsed := now.Sub(lc.prevTime).Seconds()
		if elapsed <= 0 {
			elapsed = c.tick.Seconds()
		}

		sample := Sample{
			At:             now,
			RequestsPerSec: float64(reqs-lc.prevReqs) / elapsed,
			BytesInRate:    float64(in-lc.prevIn) / elapsed,
			BytesOutRate:   float64(out-lc.prevOut) / elapsed,
			ActiveConns:    active,
		}

		lc.ring[lc.ringHead] = sample
		lc.ringHead = (lc.ringHead + 1) % lc.ringCap
		if lc.ringLen < lc.ringCap {
			lc.ringLen++
		}

		lc.prevIn, lc.prevOut, lc.prevReqs, lc.prevTime = in, out, reqs, now

		lc.mu.Unlock()
	}
}
