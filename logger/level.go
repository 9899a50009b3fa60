/*
MIT License

Copyright (c) 2019 Nicolas JUHEL

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package logger

import (
	loglvl "github.com/nabbar/revproxy/logger/level"
)

// Level re-exports the canonical logger/level.Level type so deprecated
// top-level call sites (compat.go) stay source-compatible without a second
// level implementation.
type Level = loglvl.Level

const (
	PanicLevel = loglvl.PanicLevel
	FatalLevel = loglvl.FatalLevel
	ErrorLevel = loglvl.ErrorLevel
	WarnLevel  = loglvl.WarnLevel
	InfoLevel  = loglvl.InfoLevel
	DebugLevel = loglvl.DebugLevel
	NilLevel   = loglvl.NilLevel
)
