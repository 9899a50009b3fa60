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

package middleware

import (
	"bytes"
	"encoding/json"
	"io"

	ginsdk "github.com/gin-gonic/gin"

	"github.com/nabbar/revproxy/config"
)

// CanonicalCSRFHeader is the single request header the proxy forwards
// once a token has been found in any of the recognized locations.
const CanonicalCSRFHeader = "X-Canonical-Csrf-Token"

var csrfHeaderNames = []string{
	"x-csrf-token",
	"csrf-token",
	"xsrf-token",
	"x-xsrf-token",
	"_csrf",
	"authjs.csrf-token",
	"next-auth.csrf-token",
	"XSRF-TOKEN",
}

// CSRFHandler scans headers, cookies and a JSON body for a recognized
// CSRF token name and copies the first match into CanonicalCSRFHeader. It
// never blocks the request.
func CSRFHandler(cfg config.CSRF) ginsdk.HandlerFunc {
	return func(c *ginsdk.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		if tok := findCSRFInHeaders(c); tok != "" {
			c.Request.Header.Set(CanonicalCSRFHeader, tok)
			c.Next()
			return
		}

		if tok := findCSRFInCookies(c); tok != "" {
			c.Request.Header.Set(CanonicalCSRFHeader, tok)
			c.Next()
			return
		}

		if tok := findCSRFInBody(c); tok != "" {
			c.Request.Header.Set(CanonicalCSRFHeader, tok)
		}

		c.Next()
	}
}

func findCSRFInHeaders(c *ginsdk.Context) string {
	for _, n := range csrfHeaderNames {
		if v := c.GetHeader(n); v != "" {
			return v
		}
	}
	return ""
}

func findCSRFInCookies(c *ginsdk.Context) string {
	for _, n := range csrfHeaderNames {
		if v, err := c.Cookie(n); err == nil && v != "" {
			return v
		}
	}
	return ""
}

// findCSRFInBody peeks the request body for a JSON object and restores it
// for downstream consumers (the Proxy Engine forwards the original body).
func findCSRFInBody(c *ginsdk.Context) string {
	if c.Request.Body == nil {
		return ""
	}

	ct := c.GetHeader("Content-Type")
	if ct != "" && ct != "application/json" && ct != "application/json; charset=utf-8" {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	if err != nil || len(raw) == 0 {
		return ""
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}

	for _, n := range csrfHeaderNames {
		if v, ok := body[n]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
