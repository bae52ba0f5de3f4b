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

// Package consensus holds the types shared between block production and
// block import: origins, fork choice, import parameters and results.
package consensus

import (
	"context"

	"github.com/blinklabs-io/slotforge/block"
)

// BlockOrigin describes where a block came from
type BlockOrigin int

const (
	OriginGenesis BlockOrigin = iota
	OriginNetworkInitialSync
	OriginNetworkBroadcast
	OriginFile
	// OriginOwn marks blocks authored by this node
	OriginOwn
)

func (o BlockOrigin) String() string {
	switch o {
	case OriginGenesis:
		return "genesis"
	case OriginNetworkInitialSync:
		return "network-initial-sync"
	case OriginNetworkBroadcast:
		return "network-broadcast"
	case OriginFile:
		return "file"
	case OriginOwn:
		return "own"
	default:
		return "unknown"
	}
}

// ForkChoiceStrategy decides whether an imported block becomes the new best
type ForkChoiceStrategy struct {
	custom bool
	isBest bool
}

// ForkChoiceLongestChain makes the block best when it is higher than the current best
var ForkChoiceLongestChain = ForkChoiceStrategy{}

// ForkChoiceCustom forces the outcome of fork choice
func ForkChoiceCustom(isBest bool) ForkChoiceStrategy {
	return ForkChoiceStrategy{custom: true, isBest: isBest}
}

// IsBest applies the strategy to a candidate of the given height
func (f ForkChoiceStrategy) IsBest(candidate uint64, best uint64) bool {
	if f.custom {
		return f.isBest
	}
	return candidate > best
}

func (f ForkChoiceStrategy) String() string {
	if f.custom {
		if f.isBest {
			return "custom(best)"
		}
		return "custom(not-best)"
	}
	return "longest-chain"
}

// BlockImportParams carries a block and how to import it
type BlockImportParams struct {
	Origin     BlockOrigin
	Header     block.Header
	Body       []block.Transaction
	Finalized  bool
	ForkChoice ForkChoiceStrategy
}

// Block reassembles the header and body
func (p *BlockImportParams) Block() *block.Block {
	return &block.Block{
		Header:       p.Header,
		Transactions: p.Body,
	}
}

// ImportResultKind enumerates the outcomes of a block import
type ImportResultKind int

const (
	ImportResultImported ImportResultKind = iota
	ImportResultAlreadyInChain
	ImportResultKnownBad
	ImportResultUnknownParent
	ImportResultMissingState
)

func (k ImportResultKind) String() string {
	switch k {
	case ImportResultImported:
		return "imported"
	case ImportResultAlreadyInChain:
		return "already in chain"
	case ImportResultKnownBad:
		return "known bad"
	case ImportResultUnknownParent:
		return "unknown parent"
	case ImportResultMissingState:
		return "missing state"
	default:
		return "unknown"
	}
}

// ImportedAux describes side effects of a successful import
type ImportedAux struct {
	IsNewBest   bool   `json:"is_new_best"`
	Reorganized bool   `json:"reorganized"`
	ReorgDepth  uint64 `json:"reorg_depth"`
	Finalized   bool   `json:"finalized"`
}

type ImportResult struct {
	Kind ImportResultKind
	Aux  ImportedAux
}

// Imported builds a successful result
func Imported(aux ImportedAux) ImportResult {
	return ImportResult{Kind: ImportResultImported, Aux: aux}
}

// BlockImport commits blocks under a fork-choice rule. Returned errors are
// failures of the importer itself, rejections are reported through the result.
type BlockImport interface {
	ImportBlock(ctx context.Context, params BlockImportParams) (ImportResult, error)
}
