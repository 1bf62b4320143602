// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqkeys.
//
// go-pqkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package pqc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Provider{
		"circl": func() Provider { return NewCirclProvider() },
	}
)

func register(name string, fn func() Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// NewProvider returns the named provider wrapped in size checks. An empty
// name selects circl.
func NewProvider(name string) (Provider, error) {
	if name == "" {
		name = "circl"
	}
	registryMu.RLock()
	fn, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, cryptoerr.New(cryptoerr.KindHardwareUnavailable,
			"provider %q not available (built providers: %v)", name, ProviderNames())
	}
	return Checked(fn()), nil
}

// ProviderNames lists the providers compiled into this binary.
func ProviderNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checked validates every input and output length against the sizes the
// wrapped provider reports.
type checked struct {
	Provider
}

// Checked wraps p so that malformed inputs are rejected before reaching it
// and unexpected output lengths are reported instead of returned.
func Checked(p Provider) Provider {
	if c, ok := p.(*checked); ok {
		return c
	}
	return &checked{Provider: p}
}

func expectLen(kind cryptoerr.Kind, what string, got, want int) error {
	if got != want {
		return cryptoerr.New(kind, "%s is %d bytes, expected %d", what, got, want)
	}
	return nil
}

func (c *checked) GenerateKeyPair(alg Algorithm) ([]byte, []byte, error) {
	s, err := c.Provider.Sizes(alg)
	if err != nil {
		return nil, nil, err
	}
	pub, sec, err := c.Provider.GenerateKeyPair(alg)
	if err != nil {
		return nil, nil, err
	}
	if err := expectLen(cryptoerr.KindKeyGeneration, alg.String()+" public key", len(pub), s.PublicKey); err != nil {
		return nil, nil, err
	}
	if err := expectLen(cryptoerr.KindKeyGeneration, alg.String()+" secret key", len(sec), s.SecretKey); err != nil {
		return nil, nil, err
	}
	return pub, sec, nil
}

func (c *checked) Encapsulate(public []byte) ([]byte, []byte, error) {
	s, err := c.Provider.Sizes(KEM768)
	if err != nil {
		return nil, nil, err
	}
	if err := expectLen(cryptoerr.KindInvalidKeyFormat, "public key", len(public), s.PublicKey); err != nil {
		return nil, nil, err
	}
	ct, ss, err := c.Provider.Encapsulate(public)
	if err != nil {
		return nil, nil, err
	}
	if err := expectLen(cryptoerr.KindEncapsulation, "ciphertext", len(ct), s.Ciphertext); err != nil {
		return nil, nil, err
	}
	if err := expectLen(cryptoerr.KindEncapsulation, "shared secret", len(ss), s.SharedSecret); err != nil {
		return nil, nil, err
	}
	return ct, ss, nil
}

func (c *checked) Decapsulate(secret, ciphertext []byte) ([]byte, error) {
	s, err := c.Provider.Sizes(KEM768)
	if err != nil {
		return nil, err
	}
	if err := expectLen(cryptoerr.KindInvalidKeyFormat, "secret key", len(secret), s.SecretKey); err != nil {
		return nil, err
	}
	if err := expectLen(cryptoerr.KindInvalidCiphertext, "ciphertext", len(ciphertext), s.Ciphertext); err != nil {
		return nil, err
	}
	ss, err := c.Provider.Decapsulate(secret, ciphertext)
	if err != nil {
		return nil, err
	}
	if err := expectLen(cryptoerr.KindDecapsulation, "shared secret", len(ss), s.SharedSecret); err != nil {
		return nil, err
	}
	return ss, nil
}

func (c *checked) Sign(secret, message []byte) ([]byte, error) {
	s, err := c.Provider.Sizes(SIG65)
	if err != nil {
		return nil, err
	}
	if err := expectLen(cryptoerr.KindInvalidKeyFormat, "secret key", len(secret), s.SecretKey); err != nil {
		return nil, err
	}
	sig, err := c.Provider.Sign(secret, message)
	if err != nil {
		return nil, err
	}
	if len(sig) == 0 || len(sig) > s.Signature {
		return nil, cryptoerr.New(cryptoerr.KindSigning, "signature is %d bytes, maximum %d", len(sig), s.Signature)
	}
	return sig, nil
}

func (c *checked) Verify(public, message, signature []byte) (bool, error) {
	s, err := c.Provider.Sizes(SIG65)
	if err != nil {
		return false, err
	}
	if err := expectLen(cryptoerr.KindInvalidKeyFormat, "public key", len(public), s.PublicKey); err != nil {
		return false, err
	}
	if len(signature) == 0 || len(signature) > s.Signature {
		return false, cryptoerr.New(cryptoerr.KindInvalidSignature,
			"signature is %d bytes, maximum %d", len(signature), s.Signature)
	}
	return c.Provider.Verify(public, message, signature)
}

// String describes the wrapped provider.
func (c *checked) String() string {
	return fmt.Sprintf("checked(%s)", c.Provider.Name())
}
