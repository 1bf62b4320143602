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
	"bytes"
	"crypto/rand"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
)

// SelfTestReport records the lengths a provider actually produced.
type SelfTestReport struct {
	Provider string           `json:"provider" yaml:"provider"`
	Sizes    map[string]Sizes `json:"sizes" yaml:"sizes"`
}

// SelfTest runs a KEM round trip and a sign, verify and tamper check
// against p, returning the observed lengths.
func SelfTest(p Provider) (*SelfTestReport, error) {
	report := &SelfTestReport{Provider: p.Name(), Sizes: make(map[string]Sizes)}

	pub, sec, err := p.GenerateKeyPair(KEM768)
	if err != nil {
		return nil, err
	}
	ct, ss1, err := p.Encapsulate(pub)
	if err != nil {
		return nil, err
	}
	ss2, err := p.Decapsulate(sec, ct)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(ss1, ss2) {
		return nil, cryptoerr.New(cryptoerr.KindDecapsulation, "self test: shared secrets differ")
	}
	report.Sizes[KEM768.String()] = Sizes{
		PublicKey:    len(pub),
		SecretKey:    len(sec),
		Ciphertext:   len(ct),
		SharedSecret: len(ss1),
	}

	spub, ssec, err := p.GenerateKeyPair(SIG65)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 64)
	if _, err := rand.Read(msg); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInternal, err, "self test message")
	}
	sig, err := p.Sign(ssec, msg)
	if err != nil {
		return nil, err
	}
	ok, err := p.Verify(spub, msg, sig)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cryptoerr.New(cryptoerr.KindSignatureVerification, "self test: valid signature rejected")
	}
	msg[0] ^= 0xFF
	if ok, _ := p.Verify(spub, msg, sig); ok {
		return nil, cryptoerr.New(cryptoerr.KindSecurityPolicy, "self test: tampered message accepted")
	}
	report.Sizes[SIG65.String()] = Sizes{
		PublicKey: len(spub),
		SecretKey: len(ssec),
		Signature: len(sig),
	}
	return report, nil
}
