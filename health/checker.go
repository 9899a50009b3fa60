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

// Package health implements the Health Checker: per-origin adaptive-
// interval probes that emit up/down transitions, plus an on-demand urgent
// check the Proxy Engine triggers on connection-level errors.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/nabbar/revproxy/config"
	montps "github.com/nabbar/revproxy/monitor/status"
)

const (
	minInterval       = time.Second
	maxInterval       = 30 * time.Second
	successThreshold  = 3
)

// Transition is emitted whenever an origin crosses the up/down boundary.
type Transition struct {
	URL string
	Up  bool
}

// OnTransition is invoked once per origin_up / origin_down event.
type OnTransition func(Transition)

// State is the runtime health state of a single origin, mirroring
// the per-origin health state.
type State struct {
	URL                  string
	Status               montps.Status
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheckTime        time.Time
	CurrentInterval      time.Duration
	IsDown               bool
}

// Prober performs a single probe attempt against an origin URL; it returns
// a non-nil error on any I/O failure or unexpected status.
type Prober interface {
	Probe(ctx context.Context, url string, cfg config.HealthCheck) error
}

// Checker periodically probes a set of registered origins and reports
// up/down transitions; it never panics or surfaces probe errors to
// callers other than through State/OnTransition.
type Checker interface {
	// Register starts probing url on its own adaptive-interval loop.
	// Re-registering an already-known url updates its HealthCheck config
	// without resetting accumulated counters.
	Register(url string, cfg config.HealthCheck)
	// Unregister stops probing url and drops its state.
	Unregister(url string)
	// CheckUrgent forces interval=min and runs one probe immediately,
	// blocking until it completes (bounded by the probe's own timeout).
	CheckUrgent(ctx context.Context, url string)
	// State returns the current health state of a registered origin.
	State(url string) (State, bool)
	// OnTransition registers a callback invoked after every up/down event,
	// in registration order. Must be called before Start.
	OnTransition(fct OnTransition)
	// Start begins the probe loops; it returns immediately.
	Start(ctx context.Context)
	// Stop halts all probe loops and waits for them to exit.
	Stop()
}

type origin struct {
	mu  sync.Mutex
	url string
	cfg config.HealthCheck

	st State

	cancel context.CancelFunc
	wg     sync.WaitGroup

	kick chan struct{}
}

type checker struct {
	mu      sync.Mutex
	origins map[string]*origin
	onTrans []OnTransition
	prober  Prober

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Checker using the given Prober for probe attempts.
func New(prober Prober) Checker {
	return &checker{
		origins: make(map[string]*origin, 16),
		prober:  prober,
	}
}

func (c *checker) OnTransition(fct OnTransition) {
	if fct == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrans = append(c.onTrans, fct)
}

func (c *checker) emit(t Transition) {
	c.mu.Lock()
	cbs := append([]OnTransition(nil), c.onTrans...)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(t)
	}
}

func (c *checker) Register(url string, cfg config.HealthCheck) {
	c.mu.Lock()
	o, ok := c.origins[url]
	if !ok {
		o = &origin{
			url:  url,
			kick: make(chan struct{}, 1),
			st: State{
				URL:             url,
				Status:          montps.OK,
				CurrentInterval: firstInterval(cfg),
			},
		}
		c.origins[url] = o
	}
	o.mu.Lock()
	o.cfg = cfg
	running := o.cancel != nil
	o.mu.Unlock()
	ctx := c.ctx
	c.mu.Unlock()

	if !ok && ctx != nil && !running {
		c.startOrigin(o)
	}
}

func firstInterval(cfg config.HealthCheck) time.Duration {
	if cfg.Interval > 0 {
		return cfg.Interval
	}
	return 5 * time.Second
}

func (c *checker) Unregister(url string) {
	c.mu.Lock()
	o, ok := c.origins[url]
	delete(c.origins, url)
	c.mu.Unlock()

	if !ok {
		return
	}

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (c *checker) State(url string) (State, bool) {
	c.mu.Lock()
	o, ok := c.origins[url]
	c.mu.Unlock()

	if !ok {
		return State{}, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st, true
}

func (c *checker) CheckUrgent(ctx context.Context, url string) {
	c.mu.Lock()
	o, ok := c.origins[url]
	c.mu.Unlock()

	if !ok {
		return
	}

	o.mu.Lock()
	o.st.CurrentInterval = minInterval
	o.mu.Unlock()

	c.probeOnce(ctx, o)

	select {
	case o.kick <- struct{}{}:
	default:
	}
}

func (c *checker) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	origins := make([]*origin, 0, len(c.origins))
	for _, o := range c.origins {
		origins = append(origins, o)
	}
	c.mu.Unlock()

	for _, o := range origins {
		c.startOrigin(o)
	}
}

func (c *checker) startOrigin(o *origin) {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return
	}
	octx, ocancel := context.WithCancel(c.ctx)
	o.cancel = ocancel
	o.mu.Unlock()

	o.wg.Add(1)
	go c.loop(octx, o)
}

func (c *checker) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	origins := make([]*origin, 0, len(c.origins))
	for _, o := range c.origins {
		origins = append(origins, o)
	}
	c.mu.Unlock()

	for _, o := range origins {
		o.wg.Wait()
	}
}

func (c *checker) loop(ctx context.Context, o *origin) {
	defer o.wg.Done()

	for {
		o.mu.Lock()
		interval := o.st.CurrentInterval
		o.mu.Unlock()

		t := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-o.kick:
			t.Stop()
		case <-t.C:
		}

		c.probeOnce(ctx, o)
	}
}

func (c *checker) probeOnce(ctx context.Context, o *origin) {
	o.mu.Lock()
	cfg := o.cfg
	o.mu.Unlock()

	pctx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		pctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	err := c.prober.Probe(pctx, o.url, cfg)

	o.mu.Lock()
	o.st.LastCheckTime = time.Now()

	if err == nil {
		o.st.ConsecutiveSuccesses++
		o.st.ConsecutiveFailures = 0

		if o.st.ConsecutiveSuccesses >= successThreshold {
			o.st.CurrentInterval = minDur(o.st.CurrentInterval*2, maxInterval)
		}

		wasDown := o.st.IsDown
		if wasDown {
			o.st.IsDown = false
			o.st.Status = montps.OK
			o.st.ConsecutiveFailures = 0
			o.st.ConsecutiveSuccesses = 0
		}
		o.mu.Unlock()

		if wasDown {
			c.emit(Transition{URL: o.url, Up: true})
		}
		return
	}

	o.st.ConsecutiveSuccesses = 0
	o.st.CurrentInterval = minInterval
	o.st.ConsecutiveFailures++

	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}

	wentDown := false
	if !o.st.IsDown && o.st.ConsecutiveFailures >= retries {
		o.st.IsDown = true
		o.st.Status = montps.KO
		wentDown = true
	}
	o.mu.Unlock()

	if wentDown {
		c.emit(Transition{URL: o.url, Up: false})
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
