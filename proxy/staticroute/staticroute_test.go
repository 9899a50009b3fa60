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

package staticroute_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	ginsdk "github.com/gin-gonic/gin"

	. "github.com/nabbar/revproxy/proxy/staticroute"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Return", func() {
	It("writes the configured status and body", func() {
		h := Return(418, "teapot")

		w := httptest.NewRecorder()
		c, _ := ginsdk.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		h(c)

		Expect(w.Code).To(Equal(418))
		Expect(w.Body.String()).To(Equal("teapot"))
	})
})

var _ = Describe("Root", func() {
	It("serves a file under the configured directory, stripping the location prefix", func() {
		dir, err := os.MkdirTemp("", "staticroute-test")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		Expect(os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi there"), 0o644)).To(Succeed())

		h := Root("/assets", dir)

		w := httptest.NewRecorder()
		c, _ := ginsdk.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/assets/hello.txt", nil)

		h(c)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("hi there"))
	})

	It("returns 404 for a file that does not exist", func() {
		dir, err := os.MkdirTemp("", "staticroute-test")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		h := Root("/assets", dir)

		w := httptest.NewRecorder()
		c, _ := ginsdk.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/assets/missing.txt", nil)

		h(c)

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("rejects a request path that escapes the served directory", func() {
		dir, err := os.MkdirTemp("", "staticroute-test")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		h := Root("/assets", dir)

		w := httptest.NewRecorder()
		c, _ := ginsdk.CreateTestContext(w)
		req := httptest.NewRequest(http.MethodGet, "/assets/x", nil)
		req.URL.Path = "/assets/../../etc/passwd"
		c.Request = req

		h(c)

		Expect(w.Code).To(Equal(http.StatusForbidden))
	})
})

var _ = Describe("CleanJoin", func() {
	It("joins a clean relative path under the root directory", func() {
		out, ok := CleanJoin("/srv/www", "/images/logo.png")
		Expect(ok).To(BeTrue())
		Expect(out).To(Equal(filepath.Join("/srv/www", "/images/logo.png")))
	})

	It("rejects a path-traversal attempt", func() {
		_, ok := CleanJoin("/srv/www", "/../../etc/passwd")
		Expect(ok).To(BeFalse())
	})
})
