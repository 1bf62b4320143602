//go:build pkcs11

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

package hsm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/miekg/pkcs11"
)

// PKCS11Store records key references as CKO_DATA objects on a token. Each
// object is labelled with the key id and carries the public key as its
// value.
type PKCS11Store struct {
	mu      sync.Mutex
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	slot    uint
	app     string
}

// NewPKCS11Store loads the module and opens a read/write session.
func NewPKCS11Store(cfg PKCS11Config) (*PKCS11Store, error) {
	if cfg.Library == "" {
		return nil, errors.New("hsm: PKCS#11 library path is required")
	}

	ctx := pkcs11.New(cfg.Library)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", cfg.Library)
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("failed to initialize PKCS#11: %w", err)
	}
	// Some modules only expose slots after GetSlotList.
	if _, err := ctx.GetSlotList(true); err != nil {
		ctx.Finalize()
		ctx.Destroy()
		return nil, fmt.Errorf("failed to get PKCS#11 slot list: %w", err)
	}

	session, err := ctx.OpenSession(cfg.SlotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		ctx.Finalize()
		ctx.Destroy()
		return nil, fmt.Errorf("failed to open PKCS#11 session: %w", err)
	}
	if cfg.PIN != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
			ctx.CloseSession(session)
			ctx.Finalize()
			ctx.Destroy()
			return nil, fmt.Errorf("failed to authenticate with PKCS#11: %w", err)
		}
	}

	app := cfg.Label
	if app == "" {
		app = "go-pqkeys"
	}
	return &PKCS11Store{ctx: ctx, session: session, slot: cfg.SlotID, app: app}, nil
}

func newPKCS11Store(cfg PKCS11Config) (ReferenceStore, error) {
	return NewPKCS11Store(cfg)
}

func (s *PKCS11Store) Name() string { return "pkcs11" }

func (s *PKCS11Store) Store(ctx context.Context, req StoreRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", hsmError(err, "store", req.KeyID)
	}
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_DATA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, false),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, req.KeyID),
		pkcs11.NewAttribute(pkcs11.CKA_APPLICATION, s.app),
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, req.PublicKey),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return "", hsmError(errors.New("store closed"), "store", req.KeyID)
	}
	if _, err := s.ctx.CreateObject(s.session, template); err != nil {
		return "", hsmError(err, "store", req.KeyID)
	}
	return Reference{Provider: "pkcs11", Slot: strconv.FormatUint(uint64(s.slot), 10), KeyID: req.KeyID}.String(), nil
}

func (s *PKCS11Store) Remove(ctx context.Context, reference string) error {
	ref, err := ParseReference(reference)
	if err != nil {
		return hsmError(err, "remove", "")
	}
	if err := ctx.Err(); err != nil {
		return hsmError(err, "remove", ref.KeyID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return hsmError(errors.New("store closed"), "remove", ref.KeyID)
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_DATA),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, ref.KeyID),
		pkcs11.NewAttribute(pkcs11.CKA_APPLICATION, s.app),
	}
	if err := s.ctx.FindObjectsInit(s.session, template); err != nil {
		return hsmError(err, "remove", ref.KeyID)
	}
	handles, _, err := s.ctx.FindObjects(s.session, 1)
	if ferr := s.ctx.FindObjectsFinal(s.session); err == nil {
		err = ferr
	}
	if err != nil {
		return hsmError(err, "remove", ref.KeyID)
	}
	if len(handles) == 0 {
		return hsmError(ErrReferenceNotFound, "remove", ref.KeyID)
	}
	if err := s.ctx.DestroyObject(s.session, handles[0]); err != nil {
		return hsmError(err, "remove", ref.KeyID)
	}
	return nil
}

// Close logs out and releases the module.
func (s *PKCS11Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil
	}
	_ = s.ctx.Logout(s.session)
	_ = s.ctx.CloseSession(s.session)
	_ = s.ctx.Finalize()
	s.ctx.Destroy()
	s.ctx = nil
	return nil
}
