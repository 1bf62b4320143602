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
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
)

// CirclProvider implements Provider with Cloudflare's circl library.
type CirclProvider struct {
	rand io.Reader
}

var _ Provider = (*CirclProvider)(nil)

// NewCirclProvider returns a provider drawing randomness from crypto/rand.
func NewCirclProvider() *CirclProvider {
	return &CirclProvider{rand: rand.Reader}
}

// Name returns "circl".
func (p *CirclProvider) Name() string { return "circl" }

// Sizes reports the FIPS 203 and FIPS 204 lengths.
func (p *CirclProvider) Sizes(alg Algorithm) (Sizes, error) {
	switch alg {
	case KEM768:
		return Sizes{
			PublicKey:    mlkem768.PublicKeySize,
			SecretKey:    mlkem768.PrivateKeySize,
			Ciphertext:   mlkem768.CiphertextSize,
			SharedSecret: mlkem768.SharedKeySize,
		}, nil
	case SIG65:
		return Sizes{
			PublicKey: mldsa65.PublicKeySize,
			SecretKey: mldsa65.PrivateKeySize,
			Signature: mldsa65.SignatureSize,
		}, nil
	default:
		return Sizes{}, cryptoerr.New(cryptoerr.KindUnsupportedAlgorithm, "%s", alg)
	}
}

func (p *CirclProvider) GenerateKeyPair(alg Algorithm) ([]byte, []byte, error) {
	switch alg {
	case KEM768:
		pub, priv, err := mlkem768.GenerateKeyPair(p.rand)
		if err != nil {
			return nil, nil, cryptoerr.Wrap(cryptoerr.KindKeyGeneration, err, "%s", alg)
		}
		return marshalPair(alg, pub, priv)
	case SIG65:
		pub, priv, err := mldsa65.GenerateKey(p.rand)
		if err != nil {
			return nil, nil, cryptoerr.Wrap(cryptoerr.KindKeyGeneration, err, "%s", alg)
		}
		return marshalPair(alg, pub, priv)
	default:
		return nil, nil, cryptoerr.New(cryptoerr.KindUnsupportedAlgorithm, "%s", alg)
	}
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

func marshalPair(alg Algorithm, pub, priv binaryMarshaler) ([]byte, []byte, error) {
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, cryptoerr.Wrap(cryptoerr.KindSerialization, err, "%s public key", alg)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, nil, cryptoerr.Wrap(cryptoerr.KindSerialization, err, "%s secret key", alg)
	}
	return pubBytes, privBytes, nil
}

func (p *CirclProvider) Encapsulate(public []byte) ([]byte, []byte, error) {
	scheme := mlkem768.Scheme()
	pk, err := scheme.UnmarshalBinaryPublicKey(public)
	if err != nil {
		return nil, nil, cryptoerr.Wrap(cryptoerr.KindInvalidKeyFormat, err, "ML-KEM-768 public key")
	}
	ct, ss, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, cryptoerr.Wrap(cryptoerr.KindEncapsulation, err, "ML-KEM-768")
	}
	return ct, ss, nil
}

func (p *CirclProvider) Decapsulate(secret, ciphertext []byte) ([]byte, error) {
	scheme := mlkem768.Scheme()
	if len(ciphertext) != scheme.CiphertextSize() {
		return nil, cryptoerr.New(cryptoerr.KindInvalidCiphertext, "ML-KEM-768 ciphertext is %d bytes", len(ciphertext))
	}
	sk, err := scheme.UnmarshalBinaryPrivateKey(secret)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidKeyFormat, err, "ML-KEM-768 secret key")
	}
	ss, err := scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindDecapsulation, err, "ML-KEM-768")
	}
	return ss, nil
}

func (p *CirclProvider) Sign(secret, message []byte) ([]byte, error) {
	var sk mldsa65.PrivateKey
	if err := sk.UnmarshalBinary(secret); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidKeyFormat, err, "ML-DSA-65 secret key")
	}
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(&sk, message, nil, true, sig); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindSigning, err, "ML-DSA-65")
	}
	return sig, nil
}

func (p *CirclProvider) Verify(public, message, signature []byte) (bool, error) {
	var pk mldsa65.PublicKey
	if err := pk.UnmarshalBinary(public); err != nil {
		return false, cryptoerr.Wrap(cryptoerr.KindInvalidKeyFormat, err, "ML-DSA-65 public key")
	}
	if len(signature) != mldsa65.SignatureSize {
		return false, cryptoerr.New(cryptoerr.KindInvalidSignature, "ML-DSA-65 signature is %d bytes", len(signature))
	}
	return mldsa65.Verify(&pk, message, nil, signature), nil
}
