/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
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
 *
 */

// Package status defines the tri-state health value shared by the health
// checker and the metrics/overview surfaces: KO, Warn and OK are ordered so
// that numeric comparison ("is at least Warn") works directly.
package status

import (
	"math"
	"strconv"
	"strings"
)

// Status is a tri-state health value, ordered KO < Warn < OK.
type Status uint8

const (
	KO Status = iota
	Warn
	OK
)

func (s Status) String() string {
	switch s {
	case Warn:
		return "Warn"
	case OK:
		return "OK"
	default:
		return "KO"
	}
}

func (s Status) Int() int {
	return int(s)
}

func (s Status) Int64() int64 {
	return int64(s)
}

func (s Status) Float() float64 {
	return float64(s)
}

// NewFromString parses a status name, case-insensitively and trimmed.
// Any unrecognized value defaults to KO.
func NewFromString(s string) Status {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn":
		return Warn
	case "ok":
		return OK
	default:
		return KO
	}
}

// NewFromInt converts an integer to a Status, defaulting to KO for anything
// outside the valid {0,1,2} range.
func NewFromInt(i int64) Status {
	if i < 0 || i > int64(OK) {
		return KO
	}
	return Status(i)
}

// Parse is an alias of NewFromString kept for symmetry with ParseInt/ParseUint.
func Parse(s string) Status {
	return NewFromString(s)
}

func ParseInt(i int) Status {
	return NewFromInt(int64(i))
}

func ParseInt64(i int64) Status {
	return NewFromInt(i)
}

func ParseUint(i uint) Status {
	if i > math.MaxInt64 {
		return KO
	}
	return NewFromInt(int64(i))
}

func ParseUint8(i uint8) Status {
	return NewFromInt(int64(i))
}

func ParseUint64(i uint64) Status {
	if i > math.MaxInt64 {
		return KO
	}
	return NewFromInt(int64(i))
}

func ParseByte(b byte) Status {
	return NewFromInt(int64(b))
}

func ParseFloat64(f float64) Status {
	if f != math.Trunc(f) {
		return KO
	}
	return NewFromInt(int64(f))
}

// MarshalJSON encodes the status as its string name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON decodes a quoted status name, defaulting to KO on error.
func (s *Status) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		*s = KO
		return nil
	}
	*s = NewFromString(str)
	return nil
}
