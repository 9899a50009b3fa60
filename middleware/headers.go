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
	"strings"

	ginsdk "github.com/gin-gonic/gin"

	"github.com/nabbar/revproxy/config"
	routerhdr "github.com/nabbar/revproxy/router/header"
)

// HeaderRewriteHandler adds and removes response headers per location
// config, substituting ${remote_addr}, ${host} and ${user_agent}
// placeholders in add-values.
func HeaderRewriteHandler(cfg config.HeaderRule) ginsdk.HandlerFunc {
	return func(c *ginsdk.Context) {
		if len(cfg.Add) > 0 {
			h := routerhdr.NewHeaders()
			for k, v := range cfg.Add {
				h.Add(k, substitutePlaceholders(v, c))
			}
			h.Handler(c)
		}

		for _, k := range cfg.Remove {
			c.Writer.Header().Del(k)
		}

		c.Next()
	}
}

func substitutePlaceholders(v string, c *ginsdk.Context) string {
	v = strings.ReplaceAll(v, "${remote_addr}", ClientIP(c))
	v = strings.ReplaceAll(v, "${host}", c.Request.Host)
	v = strings.ReplaceAll(v, "${user_agent}", c.Request.UserAgent())
	return v
}
