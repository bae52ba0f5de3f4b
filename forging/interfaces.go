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

// Package forging produces blocks. The Sealer turns a seal request into an
// imported block, and the SlotForger, ManualSeal and InstantSeal engines
// decide when to ask for one.
package forging

import (
	"context"
	"time"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/inherent"
	"github.com/blinklabs-io/slotforge/mempool"
)

// TransactionPool is the view of the pool a block author needs
type TransactionPool interface {
	Status() mempool.PoolStatus
	Ready() []block.Transaction
	// RemoveTransactions drops transactions a sealed block committed
	RemoveTransactions(hashes []block.Hash) int
}

// TxValidator re-checks a transaction at proposal time
type TxValidator interface {
	ValidateTx(tx block.Transaction) error
}

// HeaderBackend looks up headers by hash
type HeaderBackend interface {
	Header(hash block.Hash) (*block.Header, error)
}

// SelectChain returns the head new blocks build on by default
type SelectChain interface {
	BestChain() (*block.Header, error)
}

type InherentDataProvider interface {
	CreateInherentData(ctx context.Context) (*inherent.Data, error)
}

// Environment creates a proposer for a parent block
type Environment interface {
	Init(ctx context.Context, parent *block.Header) (Proposer, error)
}

// Proposer builds one block on the parent it was created for
type Proposer interface {
	Propose(
		ctx context.Context,
		inherents *inherent.Data,
		preDigest []byte,
		maxDuration time.Duration,
	) (*Proposal, error)
}

// Proposal is a built, not yet imported block
type Proposal struct {
	Block *block.Block
}

// BlockImporter commits a block or reports why it did not
type BlockImporter interface {
	ImportBlock(ctx context.Context, params consensus.BlockImportParams) (consensus.ImportedAux, error)
}

// Finalizer marks blocks final
type Finalizer interface {
	FinalizeBlock(hash block.Hash) error
}
