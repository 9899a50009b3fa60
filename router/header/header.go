/*
 * MIT License
 *
 * Copyright (c) 2019 Nicolas JUHEL
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

// Package header implements the static response-header injection used by
// listener- and location-level "headers.add" config rules.
package header

import (
	"net/http"

	ginsdk "github.com/gin-gonic/gin"
)

// Headers collects header name/value pairs to apply to every response
// passing through a listener or location, and renders them as a Gin
// middleware.
type Headers interface {
	// Add appends a value to an existing header, keeping prior values.
	Add(key, val string)
	// Set replaces all existing values of a header with a single value.
	Set(key, val string)
	// Get returns the first value set for a header, or "" if absent.
	Get(key string) string
	// Del removes all values of a header.
	Del(key string)
	// Header returns a shallow map of header name to first value.
	Header() map[string]string
	// Clone returns a Headers sharing the same underlying storage.
	Clone() Headers
	// Handler is the Gin middleware function that applies the headers.
	Handler(c *ginsdk.Context)
	// Register prepends the Handler to the given handler chain.
	Register(h ...ginsdk.HandlerFunc) []ginsdk.HandlerFunc
}

type headers struct {
	h http.Header
}

// NewHeaders returns an empty Headers instance.
func NewHeaders() Headers {
	return &headers{h: make(http.Header)}
}

func (o *headers) Add(key, val string) {
	o.h.Add(key, val)
}

func (o *headers) Set(key, val string) {
	o.h.Set(key, val)
}

func (o *headers) Get(key string) string {
	return o.h.Get(key)
}

func (o *headers) Del(key string) {
	o.h.Del(key)
}

func (o *headers) Header() map[string]string {
	res := make(map[string]string, len(o.h))

	for k := range o.h {
		res[k] = o.h.Get(k)
	}

	return res
}

func (o *headers) Clone() Headers {
	return &headers{h: o.h}
}

func (o *headers) Handler(c *ginsdk.Context) {
	if o == nil || o.h == nil {
		return
	}

	for k, vs := range o.h {
		for _, v := range vs {
			c.Header(k, v)
		}
	}
}

func (o *headers) Register(h ...ginsdk.HandlerFunc) []ginsdk.HandlerFunc {
	chain := make([]ginsdk.HandlerFunc, 0, len(h)+1)
	chain = append(chain, o.Handler)
	chain = append(chain, h...)
	return chain
}
