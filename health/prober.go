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

package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/nabbar/revproxy/config"
	netprot "github.com/nabbar/revproxy/network/protocol"
)

// httpProber performs the "http" probe type: a GET on the origin URL,
// considering any 2xx/3xx status healthy, or any status listed in the
// HealthCheck's ExpectedStatus.
type httpProber struct{}

// NewHTTPProber returns a Prober for config.HealthCheck{Type: "http"}.
func NewHTTPProber() Prober {
	return httpProber{}
}

func (httpProber) Probe(ctx context.Context, rawurl string, cfg config.HealthCheck) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ErrorProbeFailed.Error(err)
	}

	if cfg.Path != "" {
		u.Path = cfg.Path
	} else if u.Path == "" {
		u.Path = "/"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return ErrorProbeFailed.Error(err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "close")
	req.Header.Set("User-Agent", "HealthChecker/1.0")

	cli := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	resp, err := cli.Do(req)
	if err != nil {
		return ErrorProbeFailed.Error(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}

	for _, s := range cfg.ExpectedStatus {
		if s == resp.StatusCode {
			return nil
		}
	}

	return ErrorProbeFailed.Errorf("unexpected status %d", resp.StatusCode)
}

// tcpProber performs the "tcp" probe type: open then immediately close a
// connection to the origin's host:port.
type tcpProber struct{}

// NewTCPProber returns a Prober for config.HealthCheck{Type: "tcp"}.
func NewTCPProber() Prober {
	return tcpProber{}
}

func (tcpProber) Probe(ctx context.Context, rawurl string, _ config.HealthCheck) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ErrorProbeFailed.Error(err)
	}

	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, netprot.NetworkTCP.String(), host)
	if err != nil {
		return ErrorProbeFailed.Error(err)
	}
	return conn.Close()
}

// byType dispatches to the Prober matching cfg.Type, defaulting to http.
type byType struct{}

// NewProber returns a Prober that dispatches each call to the http or tcp
// implementation according to the HealthCheck's own Type field.
func NewProber() Prober {
	return byType{}
}

func (byType) Probe(ctx context.Context, rawurl string, cfg config.HealthCheck) error {
	switch cfg.Type {
	case "tcp":
		return tcpProber{}.Probe(ctx, rawurl, cfg)
	case "http", "":
		return httpProber{}.Probe(ctx, rawurl, cfg)
	default:
		return ErrorProbeFailed.Error(fmt.Errorf("unknown probe type %q", cfg.Type))
	}
}
