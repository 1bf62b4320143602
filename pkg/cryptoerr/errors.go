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

// Package cryptoerr defines the error taxonomy shared by every go-pqkeys
// component, together with the security event model and the reporter that
// turns critical errors into out-of-band alerts.
//
// Every error kind carries a stable code, a severity and a recoverability
// flag. Callers match kinds with errors.Is against the exported sentinels
// and extract details with errors.As:
//
//	var cerr *cryptoerr.Error
//	if errors.As(err, &cerr) && !cerr.Recoverable() {
//	    // abort the request
//	}
package cryptoerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the class of a cryptographic error.
type Kind uint8

const (
	KindInternal Kind = iota
	KindKeyGeneration
	KindInvalidKeyFormat
	KindSignatureVerification
	KindEncapsulation
	KindDecapsulation
	KindKeyNotFound
	KindKeyExpired
	KindKeyRevoked
	KindUnsupportedAlgorithm
	KindMemoryAllocation
	KindHardwareUnavailable
	KindBoundary
	KindSerialization
	KindDeserialization
	KindConfiguration
	KindSecurityPolicy
	KindRateLimit
	KindConcurrentConflict
	KindInvalidKeyState
	KindHSM
	KindSigning
	KindInvalidCiphertext
	KindInvalidSignature
)

type kindInfo struct {
	name        string
	code        string
	severity    Severity
	recoverable bool
}

var kinds = map[Kind]kindInfo{
	KindKeyGeneration:         {"key generation failed", "CRYPTO_001", SeverityMedium, true},
	KindInvalidKeyFormat:      {"invalid key format", "CRYPTO_002", SeverityMedium, true},
	KindSignatureVerification: {"signature verification failed", "CRYPTO_003", SeverityHigh, true},
	KindEncapsulation:         {"encapsulation failed", "CRYPTO_004", SeverityHigh, true},
	KindDecapsulation:         {"decapsulation failed", "CRYPTO_005", SeverityHigh, true},
	KindKeyNotFound:           {"key not found", "CRYPTO_006", SeverityMedium, true},
	KindKeyExpired:            {"key expired", "CRYPTO_007", SeverityHigh, true},
	KindKeyRevoked:            {"key revoked", "CRYPTO_008", SeverityCritical, false},
	KindUnsupportedAlgorithm:  {"unsupported algorithm", "CRYPTO_009", SeverityMedium, false},
	KindMemoryAllocation:      {"memory allocation failed", "CRYPTO_010", SeverityLow, true},
	KindHardwareUnavailable:   {"hardware feature unavailable", "CRYPTO_011", SeverityLow, false},
	KindBoundary:              {"native boundary operation failed", "CRYPTO_012", SeverityMedium, true},
	KindSerialization:         {"serialization error", "CRYPTO_013", SeverityLow, true},
	KindDeserialization:       {"deserialization error", "CRYPTO_014", SeverityLow, true},
	KindConfiguration:         {"configuration error", "CRYPTO_015", SeverityLow, true},
	KindSecurityPolicy:        {"security policy violation", "CRYPTO_016", SeverityCritical, false},
	KindRateLimit:             {"rate limit exceeded", "CRYPTO_017", SeverityMedium, true},
	KindConcurrentConflict:    {"concurrent operation conflict", "CRYPTO_018", SeverityLow, true},
	KindInvalidKeyState:       {"invalid key state", "CRYPTO_019", SeverityMedium, true},
	KindHSM:                   {"hsm error", "CRYPTO_020", SeverityMedium, true},
	KindSigning:               {"signing failed", "CRYPTO_021", SeverityHigh, true},
	KindInvalidCiphertext:     {"invalid ciphertext", "CRYPTO_022", SeverityMedium, true},
	KindInvalidSignature:      {"invalid signature format", "CRYPTO_023", SeverityMedium, true},
	KindInternal:              {"internal error", "CRYPTO_999", SeverityMedium, true},
}

func (k Kind) info() kindInfo {
	if info, ok := kinds[k]; ok {
		return info
	}
	return kinds[KindInternal]
}

// String returns the human readable name of the kind.
func (k Kind) String() string { return k.info().name }

// Code returns the stable error code for the kind.
func (k Kind) Code() string { return k.info().code }

// Severity returns the severity assigned to the kind.
func (k Kind) Severity() Severity { return k.info().severity }

// Recoverable reports whether a caller may retry or re-query state after an
// error of this kind.
func (k Kind) Recoverable() bool { return k.info().recoverable }

// Sentinels for errors.Is matching. A *Error matches the sentinel of its kind.
var (
	ErrKeyGeneration         = &Error{Kind: KindKeyGeneration}
	ErrInvalidKeyFormat      = &Error{Kind: KindInvalidKeyFormat}
	ErrSignatureVerification = &Error{Kind: KindSignatureVerification}
	ErrEncapsulation         = &Error{Kind: KindEncapsulation}
	ErrDecapsulation         = &Error{Kind: KindDecapsulation}
	ErrKeyNotFound           = &Error{Kind: KindKeyNotFound}
	ErrKeyExpired            = &Error{Kind: KindKeyExpired}
	ErrKeyRevoked            = &Error{Kind: KindKeyRevoked}
	ErrUnsupportedAlgorithm  = &Error{Kind: KindUnsupportedAlgorithm}
	ErrMemoryAllocation      = &Error{Kind: KindMemoryAllocation}
	ErrHardwareUnavailable   = &Error{Kind: KindHardwareUnavailable}
	ErrBoundary              = &Error{Kind: KindBoundary}
	ErrSerialization         = &Error{Kind: KindSerialization}
	ErrDeserialization       = &Error{Kind: KindDeserialization}
	ErrConfiguration         = &Error{Kind: KindConfiguration}
	ErrSecurityPolicy        = &Error{Kind: KindSecurityPolicy}
	ErrRateLimit             = &Error{Kind: KindRateLimit}
	ErrConcurrentConflict    = &Error{Kind: KindConcurrentConflict}
	ErrInvalidKeyState       = &Error{Kind: KindInvalidKeyState}
	ErrHSM                   = &Error{Kind: KindHSM}
	ErrSigning               = &Error{Kind: KindSigning}
	ErrInvalidCiphertext     = &Error{Kind: KindInvalidCiphertext}
	ErrInvalidSignature      = &Error{Kind: KindInvalidSignature}
	ErrInternal              = &Error{Kind: KindInternal}
)

// Error is a classified cryptographic error.
type Error struct {
	Kind      Kind
	Message   string
	KeyID     string
	UserID    string
	Operation string
	Err       error
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithKey attaches a key id and returns the receiver.
func (e *Error) WithKey(keyID string) *Error {
	e.KeyID = keyID
	return e
}

// WithUser attaches a user id and returns the receiver.
func (e *Error) WithUser(userID string) *Error {
	e.UserID = userID
	return e
}

// WithOperation attaches the failing operation name and returns the receiver.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Code())
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.KeyID != "" {
		b.WriteString(" (key_id=")
		b.WriteString(e.KeyID)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the stable error code.
func (e *Error) Code() string { return e.Kind.Code() }

// Severity returns the severity of the error.
func (e *Error) Severity() Severity { return e.Kind.Severity() }

// Recoverable reports whether the caller may recover from the error.
func (e *Error) Recoverable() bool { return e.Kind.Recoverable() }

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain. Foreign errors are classified
// as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return &Error{Kind: KindInternal, Err: err}
}
