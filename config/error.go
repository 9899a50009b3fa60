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

package config

import (
	"github.com/nabbar/revproxy/errors"
)

const (
	ErrorParamEmpty errors.CodeError = iota + errors.MinPkgProxyConfig
	ErrorFileRead
	ErrorDecode
	ErrorValidation
	ErrorNoPool
	ErrorNoListener
	ErrorUpstreamRef
	ErrorRouteTarget
	ErrorDuplicateOrigin
)

var isCodeError bool

func IsCodeError() bool {
	return isCodeError
}

func init() {
	isCodeError = errors.ExistInMapMessage(ErrorParamEmpty)
	errors.RegisterIdFctMessage(ErrorParamEmpty, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case ErrorParamEmpty:
		return "given parameter is empty or invalid"
	case ErrorFileRead:
		return "cannot read configuration file"
	case ErrorDecode:
		return "cannot decode configuration document"
	case ErrorValidation:
		return "configuration validation failed"
	case ErrorNoPool:
		return "configuration must declare at least one upstream pool"
	case ErrorNoListener:
		return "configuration must declare at least one listener"
	case ErrorUpstreamRef:
		return "location references an unknown upstream pool"
	case ErrorRouteTarget:
		return "location must set exactly one routing target"
	case ErrorDuplicateOrigin:
		return "origin url is duplicated across pools, first wins"
	}

	return ""
}
