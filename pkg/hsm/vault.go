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
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig contains HashiCorp Vault settings. References are written to
// a KV version 2 mount.
type VaultConfig struct {
	Address    string `yaml:"address"`
	Token      string `yaml:"token"`
	Namespace  string `yaml:"namespace"`
	MountPath  string `yaml:"mount_path"`
	PathPrefix string `yaml:"path_prefix"`
}

// vaultLogical is the subset of the Vault logical client the store uses.
type vaultLogical interface {
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vault.Secret, error)
	DeleteWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// VaultStore records key references in Vault.
type VaultStore struct {
	logical vaultLogical
	mount   string
	prefix  string
}

// NewVaultStore connects a Vault client using cfg.
func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("hsm: vault address is required")
	}
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	return newVaultStore(client.Logical(), cfg), nil
}

func newVaultStore(logical vaultLogical, cfg VaultConfig) *VaultStore {
	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = "pqkeys"
	}
	return &VaultStore{logical: logical, mount: mount, prefix: prefix}
}

func (s *VaultStore) Name() string { return "vault" }

func (s *VaultStore) dataPath(keyID string) string {
	return path.Join(s.mount, "data", s.prefix, keyID)
}

func (s *VaultStore) metadataPath(keyID string) string {
	return path.Join(s.mount, "metadata", s.prefix, keyID)
}

func (s *VaultStore) Store(ctx context.Context, req StoreRequest) (string, error) {
	data := map[string]interface{}{
		"data": map[string]interface{}{
			"key_id":     req.KeyID,
			"user_id":    req.UserID,
			"algorithm":  req.Algorithm,
			"public_key": base64.StdEncoding.EncodeToString(req.PublicKey),
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if _, err := s.logical.WriteWithContext(ctx, s.dataPath(req.KeyID), data); err != nil {
		return "", hsmError(err, "store", req.KeyID)
	}
	return Reference{Provider: "vault", Slot: s.mount, KeyID: req.KeyID}.String(), nil
}

func (s *VaultStore) Remove(ctx context.Context, reference string) error {
	ref, err := ParseReference(reference)
	if err != nil {
		return hsmError(err, "remove", "")
	}
	if ref.Provider != "vault" || ref.Slot != s.mount {
		return hsmError(fmt.Errorf("%w: %q is not managed by this store", ErrInvalidReference, reference), "remove", ref.KeyID)
	}
	if _, err := s.logical.DeleteWithContext(ctx, s.metadataPath(ref.KeyID)); err != nil {
		return hsmError(err, "remove", ref.KeyID)
	}
	return nil
}
