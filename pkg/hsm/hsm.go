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

// Package hsm stores references to key material in an external hardware
// security module or secrets service. Private keys never leave the process:
// a store records the key id, owner, algorithm and public key, and returns
// an opaque reference of the form hsm://<provider>:<slot>/<key_id>.
package hsm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
)

var (
	// ErrInvalidReference indicates a malformed reference string.
	ErrInvalidReference = errors.New("hsm: invalid reference")
	// ErrReferenceNotFound indicates the reference is unknown to the store.
	ErrReferenceNotFound = errors.New("hsm: reference not found")
	// ErrNotSupported indicates a store type not compiled into this binary.
	ErrNotSupported = errors.New("hsm: store not supported in this build")
)

// StoreRequest describes the key a reference is created for.
type StoreRequest struct {
	KeyID     string
	UserID    string
	Algorithm string
	PublicKey []byte
}

// ReferenceStore creates and removes external key references.
type ReferenceStore interface {
	// Store records the key and returns its reference.
	Store(ctx context.Context, req StoreRequest) (string, error)
	// Remove deletes the record behind reference.
	Remove(ctx context.Context, reference string) error
	// Name identifies the store in logs.
	Name() string
}

// Reference is a parsed hsm:// reference.
type Reference struct {
	Provider string
	Slot     string
	KeyID    string
}

// String formats the reference.
func (r Reference) String() string {
	return fmt.Sprintf("hsm://%s:%s/%s", r.Provider, r.Slot, r.KeyID)
}

// ParseReference parses hsm://<provider>:<slot>/<key_id>.
func ParseReference(ref string) (Reference, error) {
	rest, ok := strings.CutPrefix(ref, "hsm://")
	if !ok {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	loc, keyID, ok := strings.Cut(rest, "/")
	if !ok || keyID == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	provider, slot, ok := strings.Cut(loc, ":")
	if !ok || provider == "" || slot == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return Reference{Provider: provider, Slot: slot, KeyID: keyID}, nil
}

// Config selects and configures a reference store.
type Config struct {
	// Type is one of none, memory, vault or pkcs11.
	Type    string        `yaml:"type"`
	Timeout time.Duration `yaml:"timeout"`
	// Slot names the memory store slot.
	Slot   string        `yaml:"slot"`
	Vault  *VaultConfig  `yaml:"vault,omitempty"`
	PKCS11 *PKCS11Config `yaml:"pkcs11,omitempty"`
}

// PKCS11Config contains PKCS#11 module settings.
type PKCS11Config struct {
	Library string `yaml:"library"`
	SlotID  uint   `yaml:"slot_id"`
	PIN     string `yaml:"pin"`
	Label   string `yaml:"label"`
}

// New builds the store selected by cfg. Type "none" or "" returns a nil
// store, which disables external references.
func New(cfg Config) (ReferenceStore, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore("memory", cfg.Slot), nil
	case "vault":
		if cfg.Vault == nil {
			return nil, errors.New("hsm: vault configuration required")
		}
		return NewVaultStore(*cfg.Vault)
	case "pkcs11":
		if cfg.PKCS11 == nil {
			return nil, errors.New("hsm: pkcs11 configuration required")
		}
		return newPKCS11Store(*cfg.PKCS11)
	default:
		return nil, fmt.Errorf("hsm: unknown store type %q", cfg.Type)
	}
}

func hsmError(err error, op, keyID string) error {
	return cryptoerr.Wrap(cryptoerr.KindHSM, err, "%s", op).WithKey(keyID).WithOperation(op)
}
