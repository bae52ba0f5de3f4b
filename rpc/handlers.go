// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/blinklabs-io/slotforge/block"
)

// handleHealth reports the best and finalized heads
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	best, err := s.config.Chain.BestChain()
	if err != nil {
		s.logger.Error("failed to get best block", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			IsHealthy: false,
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
		Best: &HeadInfo{
			Hash:   formatHash(best.Hash()),
			Number: best.Number,
			Slot:   best.Slot,
		},
		Finalized: formatHash(s.config.Chain.FinalizedHash()),
	})
}

func (s *Server) epochAuthorship(ctx context.Context) ([]SlotAuthorshipResponse, error) {
	slots, err := s.config.Authorship.EpochAuthorship(ctx)
	if err != nil {
		return nil, newError(CodeAuthorship, err)
	}
	ret := make([]SlotAuthorshipResponse, 0, len(slots))
	for _, sa := range slots {
		claim, err := newClaimResponse(sa.Claim)
		if err != nil {
			return nil, newError(CodeAuthorship, err)
		}
		ret = append(ret, SlotAuthorshipResponse{
			SlotNumber: sa.Slot,
			Claim:      claim,
		})
	}
	return ret, nil
}

func (s *Server) createBlock(
	ctx context.Context,
	createEmpty bool,
	finalize bool,
	parentHash *HashParam,
) (*CreatedBlockResponse, error) {
	var parent *block.Hash
	if parentHash != nil {
		hash := block.Hash(*parentHash)
		parent = &hash
	}
	created, err := s.config.Engine.SealNewBlock(ctx, createEmpty, finalize, parent)
	if err != nil {
		return nil, engineError(err)
	}
	return &CreatedBlockResponse{
		Hash: formatHash(created.Hash),
		Aux:  created.Aux,
	}, nil
}

func (s *Server) finalizeBlock(ctx context.Context, hash block.Hash) error {
	if err := s.config.Engine.FinalizeBlock(ctx, hash); err != nil {
		return engineError(err)
	}
	return nil
}

func (s *Server) submitExtrinsic(payload []byte) (block.Hash, error) {
	hash, err := s.config.Pool.AddTransaction(payload)
	if err != nil {
		return block.Hash{}, submitError(err)
	}
	return hash, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}
