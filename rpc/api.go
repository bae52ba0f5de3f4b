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

	"github.com/blinklabs-io/slotforge/block"
)

// The services below are registered with the go-ethereum RPC server, which
// exposes each exported method as <namespace>_<lowerCamelMethod> and decodes
// positional params into the method arguments. Trailing pointer arguments
// are optional.

// babeAPI serves the babe namespace
type babeAPI struct {
	s *Server
}

// EpochAuthorship is babe_epochAuthorship
func (api *babeAPI) EpochAuthorship(ctx context.Context) ([]SlotAuthorshipResponse, error) {
	ret, err := api.s.epochAuthorship(ctx)
	api.s.observe("babe_epochAuthorship", err)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// engineAPI serves the engine namespace
type engineAPI struct {
	s *Server
}

// CreateBlock is engine_createBlock: [create_empty, finalize, parent_hash|null]
func (api *engineAPI) CreateBlock(
	ctx context.Context,
	createEmpty bool,
	finalize bool,
	parentHash *HashParam,
) (*CreatedBlockResponse, error) {
	ret, err := api.s.createBlock(ctx, createEmpty, finalize, parentHash)
	api.s.observe("engine_createBlock", err)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// FinalizeBlock is engine_finalizeBlock: [hash]
func (api *engineAPI) FinalizeBlock(ctx context.Context, hash HashParam) (bool, error) {
	err := api.s.finalizeBlock(ctx, block.Hash(hash))
	api.s.observe("engine_finalizeBlock", err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// authorAPI serves the author namespace
type authorAPI struct {
	s *Server
}

// SubmitExtrinsic is author_submitExtrinsic: ["0x<payload>"]
func (api *authorAPI) SubmitExtrinsic(_ context.Context, payload HexBytes) (string, error) {
	hash, err := api.s.submitExtrinsic(payload)
	api.s.observe("author_submitExtrinsic", err)
	if err != nil {
		return "", err
	}
	return formatHash(hash), nil
}
