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

package lifecycle

import (
	"context"

	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"golang.org/x/sync/errgroup"
)

// GenerateRequest asks for one key.
type GenerateRequest struct {
	UserID    string        `json:"user_id"`
	Algorithm pqc.Algorithm `json:"algorithm"`
}

// GenerateResult is the outcome of one GenerateRequest.
type GenerateResult struct {
	Request GenerateRequest `json:"request"`
	KeyID   string          `json:"key_id,omitempty"`
	Err     error           `json:"-"`
}

// GenerateKeys generates keys for every request on a bounded worker pool.
// Results are returned in request order. Requests not yet started when ctx
// is cancelled fail with the context error; started ones complete.
func (m *Manager) GenerateKeys(ctx context.Context, reqs []GenerateRequest) []GenerateResult {
	results := make([]GenerateResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(m.opts.workers)
	for i, req := range reqs {
		results[i].Request = req
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].KeyID, results[i].Err = m.GenerateKey(req.UserID, req.Algorithm)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
