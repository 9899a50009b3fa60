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

package health_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nabbar/revproxy/config"
	. "github.com/nabbar/revproxy/health"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeProber struct {
	mu   sync.Mutex
	fail bool
}

func (f *fakeProber) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *fakeProber) Probe(_ context.Context, _ string, _ config.HealthCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("probe failed")
	}
	return nil
}

var _ = Describe("Checker", func() {
	var (
		prober *fakeProber
		c      Checker
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		prober = &fakeProber{}
		c = New(prober)
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		c.Stop()
		cancel()
	})

	It("transitions down after reaching the failure threshold via urgent checks", func() {
		var mu sync.Mutex
		var events []Transition
		c.OnTransition(func(t Transition) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, t)
		})

		prober.setFail(true)
		c.Register("http://origin-a", config.HealthCheck{Retries: 3})

		for i := 0; i < 3; i++ {
			c.CheckUrgent(ctx, "http://origin-a")
		}

		st, ok := c.State("http://origin-a")
		Expect(ok).To(BeTrue())
		Expect(st.IsDown).To(BeTrue())
		Expect(st.ConsecutiveFailures).To(BeNumerically(">=", 3))

		mu.Lock()
		defer mu.Unlock()
		Expect(events).To(HaveLen(1))
		Expect(events[0]).To(Equal(Transition{URL: "http://origin-a", Up: false}))
	})

	It("honors a custom retries threshold smaller than the default", func() {
		prober.setFail(true)
		c.Register("http://origin-b", config.HealthCheck{Retries: 1})

		c.CheckUrgent(ctx, "http://origin-b")

		st, _ := c.State("http://origin-b")
		Expect(st.IsDown).To(BeTrue())
	})

	It("transitions back up after consecutive successes following a down state", func() {
		var mu sync.Mutex
		var events []Transition
		c.OnTransition(func(t Transition) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, t)
		})

		prober.setFail(true)
		c.Register("http://origin-c", config.HealthCheck{Retries: 2})
		c.CheckUrgent(ctx, "http://origin-c")
		c.CheckUrgent(ctx, "http://origin-c")

		st, _ := c.State("http://origin-c")
		Expect(st.IsDown).To(BeTrue())

		prober.setFail(false)
		for i := 0; i < 3; i++ {
			c.CheckUrgent(ctx, "http://origin-c")
		}

		st, _ = c.State("http://origin-c")
		Expect(st.IsDown).To(BeFalse())

		mu.Lock()
		defer mu.Unlock()
		Expect(events).To(HaveLen(2))
		Expect(events[0].Up).To(BeFalse())
		Expect(events[1].Up).To(BeTrue())
	})

	It("reports an unknown origin as not found", func() {
		_, ok := c.State("http://never-registered")
		Expect(ok).To(BeFalse())
	})

	It("probes on its own interval once started, reaching a down state without manual kicks", func() {
		prober.setFail(true)
		c.Register("http://origin-d", config.HealthCheck{Retries: 2, Interval: 5 * time.Millisecond})
		c.Start(ctx)

		Eventually(func() bool {
			st, _ := c.State("http://origin-d")
			return st.IsDown
		}, "2s", "5ms").Should(BeTrue())
	})

	It("stops probing once unregistered", func() {
		prober.setFail(true)
		c.Register("http://origin-e", config.HealthCheck{Retries: 2, Interval: 5 * time.Millisecond})
		c.Start(ctx)
		c.Unregister("http://origin-e")

		_, ok := c.State("http://origin-e")
		Expect(ok).To(BeFalse())
	})
})
