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

// Package config implements the Config Store & Validator: it parses,
// defaults, validates and watches the JSON configuration document, and
// exposes the current immutable Snapshot through an atomically swapped
// pointer.
package config

import (
	"time"
)

// HealthCheck is the per-pool or per-origin probe configuration. An
// origin-level HealthCheck overrides its pool's field-by-field; a pool-level
// HealthCheck overrides the built-in defaults field-by-field.
type HealthCheck struct {
	Type           string        `mapstructure:"type" json:"type,omitempty" validate:"omitempty,oneof=http tcp"`
	Path           string        `mapstructure:"path" json:"path,omitempty"`
	Interval       time.Duration `mapstructure:"interval" json:"interval,omitempty"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	Retries        int           `mapstructure:"retries" json:"retries,omitempty" validate:"omitempty,min=1"`
	ExpectedStatus []int         `mapstructure:"expectedStatus" json:"expectedStatus,omitempty"`
}

// Origin is a single backend URL within an upstream pool.
type Origin struct {
	URL         string       `mapstructure:"url" json:"url" validate:"required,url"`
	Weight      int          `mapstructure:"weight" json:"weight,omitempty" validate:"omitempty,min=1"`
	Backup      bool         `mapstructure:"backup" json:"backup,omitempty"`
	Down        bool         `mapstructure:"down" json:"down,omitempty"`
	HealthCheck *HealthCheck `mapstructure:"healthCheck" json:"healthCheck,omitempty"`
}

// UpstreamPool is a named group of origins sharing a selection policy.
type UpstreamPool struct {
	Name        string       `mapstructure:"name" json:"name" validate:"required"`
	Balancer    string       `mapstructure:"balancer" json:"balancer,omitempty" validate:"omitempty,oneof=round-robin least-connections ip-hash"`
	Servers     []Origin     `mapstructure:"servers" json:"servers" validate:"required,min=1,dive"`
	HealthCheck *HealthCheck `mapstructure:"healthCheck" json:"healthCheck,omitempty"`
}

// HeaderRule adds or removes request/response headers. Add values may
// contain ${remote_addr}, ${host}, ${user_agent} placeholders.
type HeaderRule struct {
	Add    map[string]string `mapstructure:"add" json:"add,omitempty"`
	Remove []string          `mapstructure:"remove" json:"remove,omitempty"`
}

// RateLimit is a fixed-window request throttle.
type RateLimit struct {
	WindowMs int    `mapstructure:"windowMs" json:"windowMs,omitempty" validate:"omitempty,min=1"`
	Max      int    `mapstructure:"max" json:"max,omitempty" validate:"omitempty,min=1"`
	Status   int    `mapstructure:"status" json:"status,omitempty"`
	Message  string `mapstructure:"message" json:"message,omitempty"`
}

// IPFilter is an allow/deny list evaluated against exact IPs or CIDRs.
type IPFilter struct {
	Whitelist []string `mapstructure:"whitelist" json:"whitelist,omitempty"`
	Blacklist []string `mapstructure:"blacklist" json:"blacklist,omitempty"`

	MaxRequestsPerSecond int           `mapstructure:"maxRequestsPerSecond" json:"maxRequestsPerSecond,omitempty"`
	MaxFailedAttempts    int           `mapstructure:"maxFailedAttempts" json:"maxFailedAttempts,omitempty"`
	BanDuration          time.Duration `mapstructure:"banDuration" json:"banDuration,omitempty"`
}

// CSRF enables canonicalization of the CSRF token found in headers, cookies
// or JSON body into a single canonical request header.
type CSRF struct {
	Enabled bool `mapstructure:"enabled" json:"enabled,omitempty"`
}

// Location is a path-prefix rule inside a listener. Exactly one of
// Upstream, ProxyPass, Root or Return must be set.
type Location struct {
	Path string `mapstructure:"path" json:"path" validate:"required"`

	Upstream  string `mapstructure:"upstream" json:"upstream,omitempty"`
	ProxyPass string `mapstructure:"proxy_pass" json:"proxy_pass,omitempty" validate:"omitempty,url"`
	Root      string `mapstructure:"root" json:"root,omitempty"`
	Return    *struct {
		Status int    `mapstructure:"status" json:"status"`
		Body   string `mapstructure:"body" json:"body"`
	} `mapstructure:"return" json:"return,omitempty"`

	Balancer       string      `mapstructure:"balancer" json:"balancer,omitempty"`
	ProxyTimeout   time.Duration `mapstructure:"proxyTimeout" json:"proxyTimeout,omitempty"`
	ProxyBuffering bool        `mapstructure:"proxyBuffering" json:"proxyBuffering,omitempty"`

	Headers   *HeaderRule `mapstructure:"headers" json:"headers,omitempty"`
	RateLimit *RateLimit  `mapstructure:"rateLimit" json:"rateLimit,omitempty"`
	IPFilter  *IPFilter   `mapstructure:"ipFilter" json:"ipFilter,omitempty"`
	CSRF      *CSRF       `mapstructure:"csrf" json:"csrf,omitempty"`
}

// RouteTarget enumerates which of Location's mutually exclusive routing
// targets is set.
type RouteTarget uint8

const (
	RouteNone RouteTarget = iota
	RouteUpstream
	RouteProxyPass
	RouteRoot
	RouteReturn
)

// Target reports which routing target the location carries.
func (l Location) Target() RouteTarget {
	switch {
	case l.Upstream != "":
		return RouteUpstream
	case l.ProxyPass != "":
		return RouteProxyPass
	case l.Root != "":
		return RouteRoot
	case l.Return != nil:
		return RouteReturn
	default:
		return RouteNone
	}
}

// SSL is a listener's or server's TLS configuration.
type SSL struct {
	Enabled           bool     `mapstructure:"enabled" json:"enabled,omitempty"`
	Key               string   `mapstructure:"key" json:"key,omitempty" validate:"required_if=Enabled true"`
	Cert              string   `mapstructure:"cert" json:"cert,omitempty" validate:"required_if=Enabled true"`
	HTTP2             bool     `mapstructure:"http2" json:"http2,omitempty"`
	Ciphers           []string `mapstructure:"ciphers" json:"ciphers,omitempty"`
	Protocols         []string `mapstructure:"protocols" json:"protocols,omitempty"`
	DHParam           string   `mapstructure:"dhparam" json:"dhparam,omitempty"`
	ClientCertificate string   `mapstructure:"clientCertificate" json:"clientCertificate,omitempty"`
	PreferServerCipher bool    `mapstructure:"preferServerCiphers" json:"preferServerCiphers,omitempty"`
	SessionTimeout    time.Duration `mapstructure:"sessionTimeout" json:"sessionTimeout,omitempty"`
	SessionTickets    bool     `mapstructure:"sessionTickets" json:"sessionTickets,omitempty"`
}

// Server (aka Listener) is a bound socket with a middleware chain and an
// ordered set of locations.
type Server struct {
	Name       string     `mapstructure:"name" json:"name" validate:"required"`
	Listen     string     `mapstructure:"listen" json:"listen" validate:"required,hostname_port"`
	ServerName []string   `mapstructure:"serverName" json:"serverName,omitempty"`
	Locations  []Location `mapstructure:"locations" json:"locations" validate:"required,min=1,dive"`

	Headers   *HeaderRule `mapstructure:"headers" json:"headers,omitempty"`
	RateLimit *RateLimit  `mapstructure:"rateLimit" json:"rateLimit,omitempty"`
	IPFilter  *IPFilter   `mapstructure:"ipFilter" json:"ipFilter,omitempty"`
	CSRF      *CSRF       `mapstructure:"csrf" json:"csrf,omitempty"`
	SSL       *SSL        `mapstructure:"ssl" json:"ssl,omitempty"`
}

// Logging carries the level/sink selection handed to the injected logger.
type Logging struct {
	Level string `mapstructure:"level" json:"level,omitempty" validate:"omitempty,oneof=error warn info http verbose debug silly"`
	File  string `mapstructure:"file" json:"file,omitempty"`
}

// Monitoring enables the metrics collector and its sampling cadence.
type Monitoring struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled,omitempty"`
	WSPort       int           `mapstructure:"wsPort" json:"wsPort,omitempty"`
	PushInterval time.Duration `mapstructure:"pushInterval" json:"pushInterval,omitempty"`
	Metrics      []string      `mapstructure:"metrics" json:"metrics,omitempty"`
}

// GoogleCaptcha carries reCAPTCHA site/secret configuration.
type GoogleCaptcha struct {
	SiteKey   string  `mapstructure:"siteKey" json:"siteKey,omitempty"`
	SecretKey string  `mapstructure:"secretKey" json:"secretKey,omitempty"`
	MinScore  float64 `mapstructure:"minScore" json:"minScore,omitempty"`
}

// Captcha configures the blackhole gate shared by the middleware chain.
type Captcha struct {
	Enabled             bool           `mapstructure:"enabled" json:"enabled,omitempty"`
	MaxAttempts         int            `mapstructure:"maxAttempts" json:"maxAttempts,omitempty"`
	Timeout             time.Duration  `mapstructure:"timeout" json:"timeout,omitempty"`
	BlackholeThreshold  int            `mapstructure:"blackholeThreshold" json:"blackholeThreshold,omitempty"`
	BanDuration         time.Duration  `mapstructure:"banDuration" json:"banDuration,omitempty"`
	Google              *GoogleCaptcha `mapstructure:"google" json:"google,omitempty"`
}

// Snapshot is the immutable, validated configuration object consumed by
// the data plane. A new Snapshot entirely replaces the previous one on
// reload; nothing in it is mutated after Validate succeeds.
type Snapshot struct {
	Version    int64          `mapstructure:"-" json:"-"`
	Upstreams  []UpstreamPool `mapstructure:"upstreams" json:"upstreams" validate:"required,min=1,dive"`
	Servers    []Server       `mapstructure:"servers" json:"servers" validate:"required,min=1,dive"`
	SSL        *SSL           `mapstructure:"ssl" json:"ssl,omitempty"`
	Logging    Logging        `mapstructure:"logging" json:"logging"`
	Monitoring Monitoring     `mapstructure:"monitoring" json:"monitoring"`
	Captcha    *Captcha       `mapstructure:"captcha" json:"captcha,omitempty"`
}

// PoolByName returns the upstream pool with the given name, if any.
func (s *Snapshot) PoolByName(name string) (*UpstreamPool, bool) {
	for i := range s.Upstreams {
		if s.Upstreams[i].Name == name {
			return &s.Upstreams[i], true
		}
	}
	return nil, false
}

// ServerByName returns the listener with the given name, if any.
func (s *Snapshot) ServerByName(name string) (*Server, bool) {
	for i := range s.Servers {
		if s.Servers[i].Name == name {
			return &s.Servers[i], true
		}
	}
	return nil, false
}
