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

package chain

import (
	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
)

const (
	BlockImportedEventType  = "chain.block-imported"
	BlockFinalizedEventType = "chain.block-finalized"
	ChainReorgEventType     = "chain.reorg"
)

type BlockImportedEvent struct {
	Hash      block.Hash
	Number    uint64
	Slot      uint64
	Origin    consensus.BlockOrigin
	IsNewBest bool
	// TxHashes lists the transactions included in the block
	TxHashes []block.Hash
}

type BlockFinalizedEvent struct {
	Hash   block.Hash
	Number uint64
	Slot   uint64
}

// ChainReorgEvent is emitted when the best chain switches to another fork
type ChainReorgEvent struct {
	// CommonAncestor is the last block shared by both forks
	CommonAncestor block.Hash
	// Depth is the number of blocks retracted from the old best chain
	Depth   uint64
	OldBest block.Hash
	NewBest block.Hash
}
