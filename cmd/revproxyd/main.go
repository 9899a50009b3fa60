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

// Command revproxyd runs the reverse proxy data plane: it loads a
// configuration file, starts health checking and metrics collection, and
// supervises one listener per configured server, reloading in place on
// file changes or SIGHUP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nabbar/revproxy/config"
	"github.com/nabbar/revproxy/health"
	liblog "github.com/nabbar/revproxy/logger"
	loglvl "github.com/nabbar/revproxy/logger/level"
	"github.com/nabbar/revproxy/metrics"
	"github.com/nabbar/revproxy/middleware"
	"github.com/nabbar/revproxy/proxy"
	"github.com/nabbar/revproxy/tlsmanager"
	"github.com/nabbar/revproxy/upstream"
)

const envConfigPath = "PROXY_CONFIG_PATH"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "revproxyd",
		Short: "reverse proxy data plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to the configuration file (defaults to $"+envConfigPath+" or ./config/config.json)")
	root.AddCommand(newConfigureCmd())

	return root
}

func newConfigureCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "emit a defaulted configuration document",
		RunE: func(cmd *cobra.Command, args []string) error {
			lg := liblog.New(context.Background())
			st := config.New(func() liblog.Logger { return lg })

			path := out
			if path == "" {
				path = resolveConfigPath("")
			}

			if err := st.Load(path); err != nil {
				// a missing/invalid file leaves no snapshot; MarshalDefaulted
				// then returns nothing and an empty line is printed
				_ = err
			}

			b, err := st.MarshalDefaulted()
			if err != nil {
				return err
			}

			fmt.Println(string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "config", "", "base configuration to default from")

	return cmd
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(envConfigPath); env != "" {
		return env
	}
	return "./config/config.json"
}

func run(configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lg := liblog.New(ctx)
	logFct := func() liblog.Logger { return lg }

	st := config.New(logFct)
	path := resolveConfigPath(configPath)

	if err := st.Load(path); err != nil {
		return fmt.Errorf("initial configuration load failed: %w", err)
	}

	snap := st.Current()
	lg.SetLevel(loglvl.Parse(snap.Logging.Level))

	checker := health.New(health.NewProber())
	up := upstream.New()
	tm := tlsmanager.New()
	mc := metrics.New(1024, snap.Monitoring.PushInterval)

	captchaEnabled := snap.Captcha != nil && snap.Captcha.Enabled
	registry := middleware.NewRegistry(ctx, captchaEnabled)

	engine := proxy.NewEngine(up, checker, tm, mc, logFct, registry)

	checker.OnTransition(func(t health.Transition) {
		up.OnHealthTransition(t)
	})
	checker.Start(ctx)
	mc.Start()

	applySnapshot := func(s *config.Snapshot, warnings []string) {
		for _, w := range warnings {
			lg.Warning("configuration warning", nil, w)
		}

		up.Apply(s.Upstreams)
		reconcileHealthChecks(checker, up)
		engine.Apply(ctx, s)

		if s.Monitoring.Enabled {
			startMonitoring(mc, s.Monitoring)
		}
	}

	st.RegisterOnChange(applySnapshot)
	applySnapshot(snap, nil)

	if err := st.Watch(); err != nil {
		lg.Warning("configuration file watch failed to start", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		s := <-sig
		switch s {
		case syscall.SIGHUP:
			if err := st.Reload(); err != nil {
				lg.Error("explicit reload failed", err)
			}
		default:
			lg.Info("shutting down", nil)
			st.StopWatch()
			checker.Stop()
			mc.Stop()
			tm.StopAll()
			engine.StopAll()
			return nil
		}
	}
}

// reconcileHealthChecks registers every known origin with the checker,
// relying on Register's update-in-place semantics to be a no-op for
// origins that were already registered with the same config.
func reconcileHealthChecks(checker health.Checker, up upstream.Manager) {
	for url, cfg := range up.HealthChecks() {
		checker.Register(url, cfg)
	}
}

var monitoringStarted bool

func startMonitoring(mc *metrics.Collector, mon config.Monitoring) {
	if monitoringStarted {
		return
	}
	monitoringStarted = true

	reg := prometheus.NewRegistry()
	if err := mc.Register(reg); err != nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", mon.WSPort)
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
