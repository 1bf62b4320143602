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

package interop

import (
	"time"

	"github.com/awnumar/memguard"
	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

// GenerateKeypair creates a key pair for alg and returns handles to both
// halves. On failure it returns nil and sets the last error.
func (b *Boundary) GenerateKeypair(alg pqc.Algorithm) (out *KeyPairHandle) {
	const op = metrics.OpGenerate
	start := time.Now()
	status := StatusSuccess
	defer func() { b.observe(op, alg, start, status) }()
	defer b.recoverTo(op, &status)

	public, secret, err := b.provider.GenerateKeyPair(alg)
	if err != nil {
		status = b.fail(op, err)
		return nil
	}
	pub, pubLen, err := b.seal(public)
	if err != nil {
		memguard.WipeBytes(secret)
		status = b.fail(op, err)
		return nil
	}
	sec, secLen, err := b.seal(secret)
	if err != nil {
		_ = b.arena.Release(pub)
		status = b.fail(op, err)
		return nil
	}
	return &KeyPairHandle{
		PublicKey:    pub,
		PublicKeyLen: pubLen,
		SecretKey:    sec,
		SecretKeyLen: secLen,
		Algorithm:    alg,
	}
}

// Encapsulate derives a shared secret for an ML-KEM-768 public key.
func (b *Boundary) Encapsulate(public []byte) (out EncapsulationOut, status Status) {
	const op = metrics.OpEncapsulate
	start := time.Now()
	defer func() { b.observe(op, pqc.KEM768, start, status) }()
	defer b.recoverTo(op, &status)

	sizes, err := b.sizes(pqc.KEM768)
	if err == nil {
		err = checkRegion("public key", public, sizes.PublicKey)
	}
	if err != nil {
		return EncapsulationOut{}, b.fail(op, err)
	}

	ct, shared, err := b.provider.Encapsulate(public)
	if err != nil {
		return EncapsulationOut{}, b.fail(op, err)
	}
	ss, ssLen, err := b.seal(shared)
	if err != nil {
		return EncapsulationOut{}, b.fail(op, err)
	}
	c, cLen, err := b.seal(ct)
	if err != nil {
		_ = b.arena.Release(ss)
		return EncapsulationOut{}, b.fail(op, err)
	}
	return EncapsulationOut{
		SharedSecret:    ss,
		SharedSecretLen: ssLen,
		Ciphertext:      c,
		CiphertextLen:   cLen,
	}, StatusSuccess
}

// Decapsulate recovers the shared secret from an ML-KEM-768 ciphertext.
func (b *Boundary) Decapsulate(secret, ciphertext []byte) (h Handle, n int, status Status) {
	const op = metrics.OpDecapsulate
	start := time.Now()
	defer func() { b.observe(op, pqc.KEM768, start, status) }()
	defer b.recoverTo(op, &status)

	sizes, err := b.sizes(pqc.KEM768)
	if err == nil {
		err = checkRegion("secret key", secret, sizes.SecretKey)
	}
	if err == nil {
		err = checkRegion("ciphertext", ciphertext, sizes.Ciphertext)
	}
	if err != nil {
		return 0, 0, b.fail(op, err)
	}

	shared, err := b.provider.Decapsulate(secret, ciphertext)
	if err != nil {
		return 0, 0, b.fail(op, err)
	}
	if h, n, err = b.seal(shared); err != nil {
		return 0, 0, b.fail(op, err)
	}
	return h, n, StatusSuccess
}

// Sign produces an ML-DSA-65 signature. The returned length is whatever the
// provider produced.
func (b *Boundary) Sign(secret, message []byte) (h Handle, n int, status Status) {
	const op = metrics.OpSign
	start := time.Now()
	defer func() { b.observe(op, pqc.SIG65, start, status) }()
	defer b.recoverTo(op, &status)

	sizes, err := b.sizes(pqc.SIG65)
	if err == nil {
		err = checkRegion("secret key", secret, sizes.SecretKey)
	}
	if err == nil {
		err = checkRegion("message", message, 0)
	}
	if err != nil {
		return 0, 0, b.fail(op, err)
	}

	sig, err := b.provider.Sign(secret, message)
	if err != nil {
		return 0, 0, b.fail(op, err)
	}
	if h, n, err = b.seal(sig); err != nil {
		return 0, 0, b.fail(op, err)
	}
	return h, n, StatusSuccess
}

// Verify checks an ML-DSA-65 signature. A signature that does not verify
// returns StatusSignatureVerificationFailed.
func (b *Boundary) Verify(public, message, signature []byte) (status Status) {
	const op = metrics.OpVerify
	start := time.Now()
	defer func() { b.observe(op, pqc.SIG65, start, status) }()
	defer b.recoverTo(op, &status)

	sizes, err := b.sizes(pqc.SIG65)
	if err == nil {
		err = checkRegion("public key", public, sizes.PublicKey)
	}
	if err == nil {
		err = checkRegion("message", message, 0)
	}
	if err == nil {
		err = checkRegion("signature", signature, 0)
	}
	if err == nil && len(signature) > sizes.Signature {
		err = cryptoerr.New(cryptoerr.KindInvalidSignature, "signature is %d bytes, maximum %d", len(signature), sizes.Signature)
	}
	if err != nil {
		return b.fail(op, err)
	}

	ok, err := b.provider.Verify(public, message, signature)
	if err != nil {
		return b.fail(op, err)
	}
	if !ok {
		return b.fail(op, cryptoerr.New(cryptoerr.KindSignatureVerification, "signature does not match message"))
	}
	return StatusSuccess
}

// Buffer returns the bytes behind h. The slice aliases arena memory and is
// valid until h is freed.
func (b *Boundary) Buffer(h Handle) ([]byte, Status) {
	data, err := b.arena.Bytes(h)
	if err != nil {
		return nil, b.fail("buffer", err)
	}
	return data, StatusSuccess
}

// FreeBuffer zeroes and frees the buffer behind h. Unknown or already freed
// handles return StatusInvalidInput.
func (b *Boundary) FreeBuffer(h Handle) Status {
	defer func() { b.metrics.SetBuffersOutstanding(b.arena.Outstanding()) }()
	if err := b.arena.Release(h); err != nil {
		return b.fail("free_buffer", err)
	}
	return StatusSuccess
}

// FreeKeypair frees both halves of kp and clears the record so it cannot be
// freed again.
func (b *Boundary) FreeKeypair(kp *KeyPairHandle) Status {
	if kp == nil {
		return b.fail("free_keypair", secmem.ErrNullPointer)
	}
	status := b.freeAll("free_keypair", kp.PublicKey, kp.SecretKey)
	*kp = KeyPairHandle{}
	return status
}

// FreeEncapsulation frees both buffers of out and clears the record.
func (b *Boundary) FreeEncapsulation(out *EncapsulationOut) Status {
	if out == nil {
		return b.fail("free_encapsulation", secmem.ErrNullPointer)
	}
	status := b.freeAll("free_encapsulation", out.SharedSecret, out.Ciphertext)
	*out = EncapsulationOut{}
	return status
}

func (b *Boundary) freeAll(op string, handles ...Handle) Status {
	defer func() { b.metrics.SetBuffersOutstanding(b.arena.Outstanding()) }()
	status := StatusSuccess
	for _, h := range handles {
		if err := b.arena.Release(h); err != nil {
			status = b.fail(op, err)
		}
	}
	return status
}
