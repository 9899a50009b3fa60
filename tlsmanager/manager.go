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

// Package tlsmanager loads and validates certificate/key pairs, builds the
// listener TLS context, and watches the underlying files for rotation.
package tlsmanager

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	libtls "github.com/nabbar/revproxy/certificates"
	tlscpr "github.com/nabbar/revproxy/certificates/cipher"
	tlsvrs "github.com/nabbar/revproxy/certificates/tlsversion"
	"github.com/nabbar/revproxy/config"
	liberr "github.com/nabbar/revproxy/errors"
)

// OnRotate is invoked with the listener name whenever its certificate or
// key file changes on disk.
type OnRotate func(listenerName string)

// Manager loads, validates and watches a listener's TLS material.
type Manager interface {
	// Load parses ssl, validates the key pair, and returns a ready
	// *tls.Config for the listener.
	Load(listenerName string, ssl config.SSL) (*tls.Config, liberr.Error)
	// Watch starts an fsnotify watch on ssl's cert/key files, invoking fct
	// on change. A listener may only have one active watch; re-calling
	// Watch replaces it.
	Watch(listenerName string, ssl config.SSL, fct OnRotate) liberr.Error
	// StopWatching stops watching listenerName's files, if any.
	StopWatching(listenerName string)
	// StopAll stops every active watch.
	StopAll()
}

type watch struct {
	w *fsnotify.Watcher
}

type manager struct {
	mu      sync.Mutex
	watches map[string]*watch
}

// New returns an empty Manager.
func New() Manager {
	return &manager{watches: make(map[string]*watch, 8)}
}

func (m *manager) Load(listenerName string, ssl config.SSL) (*tls.Config, liberr.Error) {
	if !ssl.Enabled {
		return nil, nil
	}

	if _, err := os.Stat(ssl.Cert); err != nil {
		return nil, ErrorFileMissing.Error(err)
	}
	if _, err := os.Stat(ssl.Key); err != nil {
		return nil, ErrorFileMissing.Error(err)
	}

	certPEM, err := os.ReadFile(ssl.Cert)
	if err != nil {
		return nil, ErrorFileMissing.Error(err)
	}
	keyPEM, err := os.ReadFile(ssl.Key)
	if err != nil {
		return nil, ErrorFileMissing.Error(err)
	}

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, ErrorBadParams.Error(err)
	}

	if err := validateKeyPair(pair); err != nil {
		return nil, ErrorKeyMismatch.Error(err)
	}

	cfg := libtls.New()
	if err := cfg.AddCertificatePairString(string(keyPEM), string(certPEM)); err != nil {
		return nil, ErrorBadParams.Error(err)
	}

	if len(ssl.Protocols) > 0 {
		min, max := protocolRange(ssl.Protocols)
		cfg.SetVersionMin(min)
		cfg.SetVersionMax(max)
	}

	if len(ssl.Ciphers) > 0 {
		cfg.SetCipherList(parseCiphers(ssl.Ciphers))
	}

	if ssl.ClientCertificate != "" {
		if caPEM, err := os.ReadFile(ssl.ClientCertificate); err == nil {
			cfg.AddClientCAString(string(caPEM))
		}
	}

	cfg.SetSessionTicketDisabled(!ssl.SessionTickets)

	tcfg := cfg.TLS(listenerName)
	if ssl.SessionTickets {
		// 48 random bytes, reduced to the 32-byte key crypto/tls takes.
		key := make([]byte, 48)
		_, _ = rand.Read(key)
		tcfg.SetSessionTicketKeys([][32]byte{sha256.Sum256(key)})
	}
	if ssl.HTTP2 {
		tcfg.NextProtos = append(tcfg.NextProtos, "h2")
	}
	tcfg.PreferServerCipherSuites = ssl.PreferServerCipher

	return tcfg, nil
}

// validateKeyPair derives the public key from the certificate and the
// private key from the key file, signs a 1-byte payload and verifies it,
// matching the key-pair sign/verify validation contract.
func validateKeyPair(pair tls.Certificate) error {
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return err
	}

	signer, ok := pair.PrivateKey.(crypto.Signer)
	if !ok {
		return ErrorKeyMismatch.Error()
	}

	payload := [1]byte{0x42}
	digest := sha256.Sum256(payload[:])

	sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return err
	}

	switch pub := leaf.PublicKey.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest[:], sig) {
			return ErrorKeyMismatch.Error()
		}
		return nil
	default:
		return ErrorKeyMismatch.Errorf("unsupported public key type")
	}
}

func protocolRange(protocols []string) (tlsvrs.Version, tlsvrs.Version) {
	min := tlsvrs.VersionTLS13
	max := tlsvrs.VersionTLS10

	for _, p := range protocols {
		v := tlsvrs.Parse(strings.TrimSpace(p))
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	if max < min {
		max = min
	}

	return min, max
}

func parseCiphers(ciphers []string) []tlscpr.Cipher {
	out := make([]tlscpr.Cipher, 0, len(ciphers))
	for _, c := range ciphers {
		out = append(out, tlscpr.Parse(strings.TrimSpace(c)))
	}
	return out
}

func (m *manager) Watch(listenerName string, ssl config.SSL, fct OnRotate) liberr.Error {
	if !ssl.Enabled {
		return nil
	}

	m.StopWatching(listenerName)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return ErrorBadParams.Error(err)
	}

	if err := w.Add(ssl.Cert); err != nil {
		w.Close()
		return ErrorFileMissing.Error(err)
	}
	if ssl.Key != ssl.Cert {
		if err := w.Add(ssl.Key); err != nil {
			w.Close()
			return ErrorFileMissing.Error(err)
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if fct != nil {
						fct(listenerName)
					}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	m.mu.Lock()
	m.watches[listenerName] = &watch{w: w}
	m.mu.Unlock()

	return nil
}

func (m *manager) StopWatching(listenerName string) {
	m.mu.Lock()
	w, ok := m.watches[listenerName]
	delete(m.watches, listenerName)
	m.mu.Unlock()

	if ok {
		w.w.Close()
	}
}

func (m *manager) StopAll() {
	m.mu.Lock()
	all := m.watches
	m.watches = make(map[string]*watch, 8)
	m.mu.Unlock()

	for _, w := range all {
		w.w.Close()
	}
}
