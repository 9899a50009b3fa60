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

package middleware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/nabbar/revproxy/config"
	. "github.com/nabbar/revproxy/middleware"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CSRFHandler", func() {
	It("copies a header-borne token into the canonical header", func() {
		h := CSRFHandler(config.CSRF{Enabled: true})

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("x-csrf-token", "abc123")

		w := runHandler(h, req)
		_ = w
		Expect(req.Header.Get(CanonicalCSRFHeader)).To(Equal("abc123"))
	})

	It("copies a cookie-borne token when no header is present", func() {
		h := CSRFHandler(config.CSRF{Enabled: true})

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.AddCookie(&http.Cookie{Name: "csrf-token", Value: "xyz789"})

		runHandler(h, req)
		Expect(req.Header.Get(CanonicalCSRFHeader)).To(Equal("xyz789"))
	})

	It("copies a JSON-body-borne token and restores the body for downstream reads", func() {
		h := CSRFHandler(config.CSRF{Enabled: true})

		body := `{"_csrf":"body-token"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		runHandler(h, req)
		Expect(req.Header.Get(CanonicalCSRFHeader)).To(Equal("body-token"))

		remaining, err := io.ReadAll(req.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(remaining)).To(Equal(body))
	})

	It("does nothing when disabled", func() {
		h := CSRFHandler(config.CSRF{Enabled: false})

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("x-csrf-token", "abc123")

		runHandler(h, req)
		Expect(req.Header.Get(CanonicalCSRFHeader)).To(Equal(""))
	})
})
