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

// Command libpqkeys builds the C shared library:
//
//	go build -buildmode=c-shared -o libpqkeys.so ./cmd/libpqkeys
//
// Every buffer handed to the host is allocated with calloc and must be
// returned through the matching pqc_free_* call, which zeroes it first.
// Algorithms are 1 for ML-KEM-768 and 2 for ML-DSA-65. Functions return 0
// on success or a negative status. pqc_get_last_error_message returns a new
// copy of the most recent failure on every call; the caller owns it and
// releases it with pqc_free_string.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef struct {
	uint8_t* public_key;
	size_t   public_key_len;
	uint8_t* secret_key;
	size_t   secret_key_len;
	int      algorithm;
} KeyPairHandle;

typedef struct {
	uint8_t* shared_secret;
	size_t   shared_secret_len;
	uint8_t* ciphertext;
	size_t   ciphertext_len;
} EncapsulationOut;
*/
import "C"

import (
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/interop"
	"github.com/jeremyhahn/go-pqkeys/pkg/lifecycle"
	"github.com/jeremyhahn/go-pqkeys/pkg/logging"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

// cAllocator hands out calloc memory so the pointer given to the host is
// the secret buffer itself.
type cAllocator struct{}

func (cAllocator) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, secmem.ErrInvalidSize
	}
	p := C.calloc(C.size_t(n), 1)
	if p == nil {
		return nil, secmem.ErrAllocationFailed
	}
	return unsafe.Slice((*byte)(p), n), nil
}

func (cAllocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	C.free(unsafe.Pointer(unsafe.SliceData(b)))
}

type library struct {
	boundary *interop.Boundary
	table    *handleTable
}

var (
	libOnce sync.Once
	lib     *library
)

func instance() *library {
	libOnce.Do(func() {
		logger := logging.New(envOr("PQKEYS_LOG_LEVEL", "warn"), logging.FormatJSON, os.Stderr)
		provider, err := pqc.NewProvider(os.Getenv("PQKEYS_PROVIDER"))
		if err != nil {
			logger.Warn("falling back to circl provider", slog.Any("error", err))
			provider = pqc.NewCirclProvider()
		}
		manager, err := lifecycle.NewManager(provider, lifecycle.WithLogger(logger))
		if err != nil {
			panic(err)
		}
		b, err := interop.New(provider,
			interop.WithManager(manager),
			interop.WithLogger(logger),
			interop.WithArenaOptions(secmem.WithAllocator(cAllocator{})))
		if err != nil {
			panic(err)
		}
		lib = &library{boundary: b, table: newHandleTable()}
	})
	return lib
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// view aliases host memory without copying. nil stays nil so the boundary
// can tell a null pointer from an empty buffer.
func view(p *C.uint8_t, n C.size_t) []byte {
	if p == nil {
		return nil
	}
	if n == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(n))
}

// export registers the buffer behind h and returns its address.
func (l *library) export(h interop.Handle) (*C.uint8_t, C.size_t) {
	data, status := l.boundary.Buffer(h)
	if status != interop.StatusSuccess || len(data) == 0 {
		return nil, 0
	}
	p := unsafe.SliceData(data)
	l.table.put(uintptr(unsafe.Pointer(p)), h)
	return (*C.uint8_t)(unsafe.Pointer(p)), C.size_t(len(data))
}

func (l *library) handleOf(p *C.uint8_t) interop.Handle {
	h, _ := l.table.take(uintptr(unsafe.Pointer(p)))
	return h
}

//export pqc_generate_keypair
func pqc_generate_keypair(algorithm C.int) *C.KeyPairHandle {
	l := instance()
	kp := l.boundary.GenerateKeypair(pqc.Algorithm(algorithm))
	if kp == nil {
		return nil
	}
	out := (*C.KeyPairHandle)(C.calloc(1, C.size_t(unsafe.Sizeof(C.KeyPairHandle{}))))
	if out == nil {
		l.boundary.FreeKeypair(kp)
		l.boundary.Fail("generate_keypair", secmem.ErrAllocationFailed)
		return nil
	}
	out.public_key, out.public_key_len = l.export(kp.PublicKey)
	out.secret_key, out.secret_key_len = l.export(kp.SecretKey)
	out.algorithm = algorithm
	l.table.addRecord(uintptr(unsafe.Pointer(out)))
	return out
}

//export pqc_free_keypair
func pqc_free_keypair(kp *C.KeyPairHandle) C.int {
	l := instance()
	if kp == nil {
		return C.int(l.boundary.Fail("free_keypair", secmem.ErrNullPointer))
	}
	if !l.table.takeRecord(uintptr(unsafe.Pointer(kp))) {
		return C.int(l.boundary.Fail("free_keypair", secmem.ErrUnknownHandle))
	}
	handles := interop.KeyPairHandle{
		PublicKey: l.handleOf(kp.public_key),
		SecretKey: l.handleOf(kp.secret_key),
	}
	status := l.boundary.FreeKeypair(&handles)
	C.free(unsafe.Pointer(kp))
	return C.int(status)
}

//export pqc_encapsulate
func pqc_encapsulate(public *C.uint8_t, publicLen C.size_t, out *C.EncapsulationOut) C.int {
	l := instance()
	if out == nil {
		return C.int(l.boundary.Fail("encapsulate", secmem.ErrNullPointer))
	}
	res, status := l.boundary.Encapsulate(view(public, publicLen))
	if status != interop.StatusSuccess {
		return C.int(status)
	}
	out.shared_secret, out.shared_secret_len = l.export(res.SharedSecret)
	out.ciphertext, out.ciphertext_len = l.export(res.Ciphertext)
	return C.int(interop.StatusSuccess)
}

//export pqc_free_encapsulation
func pqc_free_encapsulation(out *C.EncapsulationOut) C.int {
	l := instance()
	if out == nil {
		return C.int(l.boundary.Fail("free_encapsulation", secmem.ErrNullPointer))
	}
	handles := interop.EncapsulationOut{
		SharedSecret: l.handleOf(out.shared_secret),
		Ciphertext:   l.handleOf(out.ciphertext),
	}
	status := l.boundary.FreeEncapsulation(&handles)
	*out = C.EncapsulationOut{}
	return C.int(status)
}

//export pqc_decapsulate
func pqc_decapsulate(secret *C.uint8_t, secretLen C.size_t, ct *C.uint8_t, ctLen C.size_t,
	shared **C.uint8_t, sharedLen *C.size_t) C.int {
	l := instance()
	if shared == nil || sharedLen == nil {
		return C.int(l.boundary.Fail("decapsulate", secmem.ErrNullPointer))
	}
	h, _, status := l.boundary.Decapsulate(view(secret, secretLen), view(ct, ctLen))
	if status != interop.StatusSuccess {
		return C.int(status)
	}
	*shared, *sharedLen = l.export(h)
	return C.int(interop.StatusSuccess)
}

//export pqc_sign
func pqc_sign(secret *C.uint8_t, secretLen C.size_t, msg *C.uint8_t, msgLen C.size_t,
	sig **C.uint8_t, sigLen *C.size_t) C.int {
	l := instance()
	if sig == nil || sigLen == nil {
		return C.int(l.boundary.Fail("sign", secmem.ErrNullPointer))
	}
	h, _, status := l.boundary.Sign(view(secret, secretLen), view(msg, msgLen))
	if status != interop.StatusSuccess {
		return C.int(status)
	}
	*sig, *sigLen = l.export(h)
	return C.int(interop.StatusSuccess)
}

//export pqc_verify
func pqc_verify(public *C.uint8_t, publicLen C.size_t, msg *C.uint8_t, msgLen C.size_t,
	sig *C.uint8_t, sigLen C.size_t) C.int {
	l := instance()
	return C.int(l.boundary.Verify(view(public, publicLen), view(msg, msgLen), view(sig, sigLen)))
}

//export pqc_free_buffer
func pqc_free_buffer(p *C.uint8_t, n C.size_t) C.int {
	l := instance()
	if p == nil {
		return C.int(l.boundary.Fail("free_buffer", secmem.ErrNullPointer))
	}
	key := uintptr(unsafe.Pointer(p))
	h, ok := l.table.lookup(key)
	if !ok {
		return C.int(l.boundary.Fail("free_buffer", secmem.ErrUnknownHandle))
	}
	if data, status := l.boundary.Buffer(h); status != interop.StatusSuccess || len(data) != int(n) {
		return C.int(l.boundary.Fail("free_buffer",
			cryptoerr.Wrap(cryptoerr.KindBoundary, secmem.ErrInvalidSize, "length %d does not match buffer", n)))
	}
	l.table.take(key)
	return C.int(l.boundary.FreeBuffer(h))
}

//export pqc_get_last_error_message
func pqc_get_last_error_message() *C.char {
	l := instance()
	msg, ok := l.boundary.LastErrorMessage()
	if !ok {
		return nil
	}
	out := C.CString(msg)
	l.table.addString(uintptr(unsafe.Pointer(out)))
	return out
}

//export pqc_free_string
func pqc_free_string(s *C.char) C.int {
	l := instance()
	if s == nil {
		return C.int(l.boundary.Fail("free_string", secmem.ErrNullPointer))
	}
	if !l.table.takeString(uintptr(unsafe.Pointer(s))) {
		return C.int(l.boundary.Fail("free_string", secmem.ErrUnknownHandle))
	}
	C.free(unsafe.Pointer(s))
	return C.int(interop.StatusSuccess)
}

//export pqc_manager_generate_key
func pqc_manager_generate_key(user, algorithm *C.char, id *C.char, idCap C.size_t) C.int {
	l := instance()
	if user == nil || algorithm == nil || id == nil {
		return C.int(l.boundary.Fail("manager_generate_key", secmem.ErrNullPointer))
	}
	keyID, status := l.boundary.ManagerGenerateKey(C.GoString(user), C.GoString(algorithm))
	if status != interop.StatusSuccess {
		return C.int(status)
	}
	return C.int(l.copyString("manager_generate_key", keyID, id, idCap))
}

//export pqc_manager_rotate_key
func pqc_manager_rotate_key(keyID *C.char, newID *C.char, newIDCap C.size_t) C.int {
	l := instance()
	if keyID == nil || newID == nil {
		return C.int(l.boundary.Fail("manager_rotate_key", secmem.ErrNullPointer))
	}
	id, status := l.boundary.ManagerRotateKey(C.GoString(keyID))
	if status != interop.StatusSuccess {
		return C.int(status)
	}
	return C.int(l.copyString("manager_rotate_key", id, newID, newIDCap))
}

//export pqc_manager_revoke_key
func pqc_manager_revoke_key(keyID *C.char) C.int {
	l := instance()
	if keyID == nil {
		return C.int(l.boundary.Fail("manager_revoke_key", secmem.ErrNullPointer))
	}
	return C.int(l.boundary.ManagerRevokeKey(C.GoString(keyID)))
}

//export pqc_manager_active_public_key
func pqc_manager_active_public_key(user, algorithm *C.char, public **C.uint8_t, publicLen *C.size_t) C.int {
	l := instance()
	if user == nil || algorithm == nil || public == nil || publicLen == nil {
		return C.int(l.boundary.Fail("manager_active_public_key", secmem.ErrNullPointer))
	}
	h, _, status := l.boundary.ManagerActivePublicKey(C.GoString(user), C.GoString(algorithm))
	if status != interop.StatusSuccess {
		return C.int(status)
	}
	*public, *publicLen = l.export(h)
	return C.int(interop.StatusSuccess)
}

// copyString writes s and a terminating NUL into dst.
func (l *library) copyString(op, s string, dst *C.char, capacity C.size_t) interop.Status {
	if int(capacity) < len(s)+1 {
		return l.boundary.Fail(op, secmem.ErrBufferTooSmall)
	}
	out := unsafe.Slice((*byte)(unsafe.Pointer(dst)), len(s)+1)
	copy(out, s)
	out[len(s)] = 0
	return interop.StatusSuccess
}

func main() {}
