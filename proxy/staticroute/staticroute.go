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

// Package staticroute serves a location's non-proxied routing targets:
// a static filesystem root, or a fixed status/body return.
package staticroute

import (
	"net/http"
	"path/filepath"
	"strings"

	ginsdk "github.com/gin-gonic/gin"
)

// Root serves files under dir, stripping prefix from the request path,
// matching the location's path-prefix semantics. Every resolved path is
// re-anchored under dir via CleanJoin before being served.
func Root(prefix, dir string) ginsdk.HandlerFunc {
	return func(c *ginsdk.Context) {
		rest := strings.TrimPrefix(c.Request.URL.Path, prefix)

		full, ok := CleanJoin(dir, rest)
		if !ok {
			c.Status(http.StatusForbidden)
			return
		}

		http.ServeFile(c.Writer, c.Request, full)
	}
}

// Return serves a fixed status code and body, matching a location's
// `return` target.
func Return(status int, body string) ginsdk.HandlerFunc {
	return func(c *ginsdk.Context) {
		c.String(status, body)
	}
}

// CleanJoin joins dir and the request's remaining path safely, rejecting
// any attempt to escape dir via "..".
func CleanJoin(dir, reqPath string) (string, bool) {
	full := filepath.Join(dir, reqPath)

	rel, err := filepath.Rel(dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}
