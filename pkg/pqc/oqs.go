//go:build quantum

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
	"github.com/open-quantum-safe/liboqs-go/oqs"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
)

// OQSProvider implements Provider on top of liboqs. A fresh liboqs context
// is created and cleaned per call, so the provider holds no secret state.
type OQSProvider struct{}

var _ Provider = (*OQSProvider)(nil)

// NewOQSProvider returns a liboqs backed provider.
func NewOQSProvider() *OQSProvider { return &OQSProvider{} }

// Name returns "liboqs".
func (p *OQSProvider) Name() string { return "liboqs" }

func (p *OQSProvider) Sizes(alg Algorithm) (Sizes, error) {
	switch alg {
	case KEM768:
		kem := oqs.KeyEncapsulation{}
		if err := kem.Init(alg.String(), nil); err != nil {
			return Sizes{}, cryptoerr.Wrap(cryptoerr.KindHardwareUnavailable, err, "%s", alg)
		}
		defer kem.Clean()
		d := kem.Details()
		return Sizes{
			PublicKey:    d.LengthPublicKey,
			SecretKey:    d.LengthSecretKey,
			Ciphertext:   d.LengthCiphertext,
			SharedSecret: d.LengthSharedSecret,
		}, nil
	case SIG65:
		signer := oqs.Signature{}
		if err := signer.Init(alg.String(), nil); err != nil {
			return Sizes{}, cryptoerr.Wrap(cryptoerr.KindHardwareUnavailable, err, "%s", alg)
		}
		defer signer.Clean()
		d := signer.Details()
		return Sizes{
			PublicKey: d.LengthPublicKey,
			SecretKey: d.LengthSecretKey,
			Signature: d.MaxLengthSignature,
		}, nil
	default:
		return Sizes{}, cryptoerr.New(cryptoerr.KindUnsupportedAlgorithm, "%s", alg)
	}
}

func (p *OQSProvider) GenerateKeyPair(alg Algorithm) ([]byte, []byte, error) {
	switch alg {
	case KEM768:
		kem := oqs.KeyEncapsulation{}
		if err := kem.Init(alg.String(), nil); err != nil {
			return nil, nil, cryptoerr.Wrap(cryptoerr.KindKeyGeneration, err, "%s", alg)
		}
		defer kem.Clean()
		pub, err := kem.GenerateKeyPair()
		if err != nil {
			return nil, nil, cryptoerr.Wrap(cryptoerr.KindKeyGeneration, err, "%s", alg)
		}
		return pub, kem.ExportSecretKey(), nil
	case SIG65:
		signer := oqs.Signature{}
		if err := signer.Init(alg.String(), nil); err != nil {
			return nil, nil, cryptoerr.Wrap(cryptoerr.KindKeyGeneration, err, "%s", alg)
		}
		defer signer.Clean()
		pub, err := signer.GenerateKeyPair()
		if err != nil {
			return nil, nil, cryptoerr.Wrap(cryptoerr.KindKeyGeneration, err, "%s", alg)
		}
		return pub, signer.ExportSecretKey(), nil
	default:
		return nil, nil, cryptoerr.New(cryptoerr.KindUnsupportedAlgorithm, "%s", alg)
	}
}

func (p *OQSProvider) Encapsulate(public []byte) ([]byte, []byte, error) {
	kem := oqs.KeyEncapsulation{}
	if err := kem.Init(KEM768.String(), nil); err != nil {
		return nil, nil, cryptoerr.Wrap(cryptoerr.KindEncapsulation, err, "init")
	}
	defer kem.Clean()
	ct, ss, err := kem.EncapSecret(public)
	if err != nil {
		return nil, nil, cryptoerr.Wrap(cryptoerr.KindEncapsulation, err, "%s", KEM768)
	}
	return ct, ss, nil
}

func (p *OQSProvider) Decapsulate(secret, ciphertext []byte) ([]byte, error) {
	kem := oqs.KeyEncapsulation{}
	if err := kem.Init(KEM768.String(), secret); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidKeyFormat, err, "%s secret key", KEM768)
	}
	defer kem.Clean()
	ss, err := kem.DecapSecret(ciphertext)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindDecapsulation, err, "%s", KEM768)
	}
	return ss, nil
}

func (p *OQSProvider) Sign(secret, message []byte) ([]byte, error) {
	signer := oqs.Signature{}
	if err := signer.Init(SIG65.String(), secret); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidKeyFormat, err, "%s secret key", SIG65)
	}
	defer signer.Clean()
	sig, err := signer.Sign(message)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindSigning, err, "%s", SIG65)
	}
	return sig, nil
}

func (p *OQSProvider) Verify(public, message, signature []byte) (bool, error) {
	verifier := oqs.Signature{}
	if err := verifier.Init(SIG65.String(), nil); err != nil {
		return false, cryptoerr.Wrap(cryptoerr.KindSignatureVerification, err, "init")
	}
	defer verifier.Clean()
	ok, err := verifier.Verify(message, signature, public)
	if err != nil {
		return false, cryptoerr.Wrap(cryptoerr.KindSignatureVerification, err, "%s", SIG65)
	}
	return ok, nil
}

func init() {
	register("liboqs", func() Provider { return NewOQSProvider() })
}
