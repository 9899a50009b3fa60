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
	"encoding/json"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	libatm "github.com/nabbar/revproxy/atomic"
	liberr "github.com/nabbar/revproxy/errors"
	liblog "github.com/nabbar/revproxy/logger"
)

// OnChange is invoked with the newly validated snapshot after a successful
// reload (initial load included), and with the warnings the validator
// produced for it (e.g. dropped duplicate origins).
type OnChange func(snap *Snapshot, warnings []string)

// Store parses, validates, watches and atomically serves the current
// configuration Snapshot.
type Store interface {
	// Load reads path, validates it, and makes it the current snapshot.
	Load(path string) liberr.Error

	// Watch starts watching the loaded file for changes, coalesced within
	// a 200ms window, re-validating and swapping the current snapshot on
	// every change. A failed reload is logged and the active snapshot is
	// left unchanged.
	Watch() liberr.Error

	// StopWatch cancels a pending coalesced reload, if any. The underlying
	// file watcher keeps running, so later file changes still reload.
	StopWatch()

	// Current returns the current snapshot, or nil if none has loaded yet.
	Current() *Snapshot

	// Reload re-reads the last loaded path once, synchronously (used by
	// the SIGHUP handler).
	Reload() liberr.Error

	// RegisterOnChange adds a callback invoked after every successful
	// (re)load, in registration order.
	RegisterOnChange(fct OnChange)

	// MarshalDefaulted serializes the current, defaulted snapshot back to
	// JSON -- the round-trip view used for config-dump tooling.
	MarshalDefaulted() ([]byte, error)
}

type store struct {
	mu  sync.Mutex
	cur libatm.Value[*Snapshot]
	vpr *viper.Viper
	log liblog.FuncLog
	path string

	onChange []OnChange

	coalesce *time.Timer
}

// New returns a Store with no snapshot loaded yet. log may be nil (no-op
// logging).
func New(log liblog.FuncLog) Store {
	s := &store{
		cur: libatm.NewValue[*Snapshot](),
		vpr: viper.New(),
		log: log,
	}
	return s
}

func (s *store) logger() liblog.Logger {
	if s.log == nil {
		return nil
	}
	return s.log()
}

func (s *store) Current() *Snapshot {
	return s.cur.Load()
}

func (s *store) RegisterOnChange(fct OnChange) {
	if fct == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fct)
}

func (s *store) Load(path string) liberr.Error {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()

	return s.reload()
}

func (s *store) Reload() liberr.Error {
	return s.reload()
}

func (s *store) reload() liberr.Error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	if path == "" {
		return ErrorParamEmpty.Error()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return ErrorFileRead.Error(err)
	}

	var snap Snapshot
	if err := v.Unmarshal(&snap); err != nil {
		return ErrorDecode.Error(err)
	}

	warnings, verr := Validate(&snap)
	if verr != nil {
		if l := s.logger(); l != nil {
			l.Error("configuration reload rejected, keeping prior snapshot", verr)
		}
		return verr
	}

	if prev := s.cur.Load(); prev != nil {
		snap.Version = prev.Version + 1
	} else {
		snap.Version = 1
	}

	s.mu.Lock()
	s.vpr = v
	s.mu.Unlock()

	s.cur.Store(&snap)

	s.mu.Lock()
	cbs := append([]OnChange(nil), s.onChange...)
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(&snap, warnings)
	}

	return nil
}

func (s *store) Watch() liberr.Error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	if path == "" {
		return ErrorParamEmpty.Error()
	}

	s.vpr.SetConfigFile(path)
	s.vpr.OnConfigChange(func(_ fsnotify.Event) {
		s.debounceReload()
	})
	s.vpr.WatchConfig()

	return nil
}

// debounceReload coalesces bursts of filesystem events into a single
// reload, matching the store's 200ms coalescing window.
func (s *store) debounceReload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coalesce != nil {
		s.coalesce.Stop()
	}

	s.coalesce = time.AfterFunc(200*time.Millisecond, func() {
		if err := s.reload(); err != nil {
			if l := s.logger(); l != nil {
				l.Error("configuration file change ignored", err)
			}
		}
	})
}

func (s *store) StopWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coalesce != nil {
		s.coalesce.Stop()
		s.coalesce = nil
	}
}

func (s *store) MarshalDefaulted() ([]byte, error) {
	snap := s.cur.Load()
	if snap == nil {
		return nil, nil
	}
	return json.MarshalIndent(snap, "", "  ")
}
