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

// Package rpc serves the authorship and sealing engine over JSON-RPC 2.0,
// using the go-ethereum RPC server for dispatch.
package rpc

import (
	"context"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/forging"
	"github.com/blinklabs-io/slotforge/leader"
)

// AuthorshipSource computes the local claims for the current epoch.
// It is implemented by *leader.Scheduler.
type AuthorshipSource interface {
	EpochAuthorship(ctx context.Context) ([]leader.SlotAuthorship, error)
}

// SealingEngine accepts manual sealing commands. It is implemented by
// *forging.ManualSeal.
type SealingEngine interface {
	SealNewBlock(
		ctx context.Context,
		createEmpty bool,
		finalize bool,
		parent *block.Hash,
	) (forging.CreatedBlock, error)
	FinalizeBlock(ctx context.Context, hash block.Hash) error
}

// ChainInfo reports the chain heads for health checks
type ChainInfo interface {
	BestChain() (*block.Header, error)
	FinalizedHash() block.Hash
}

// TransactionSubmitter accepts transactions into the pool
type TransactionSubmitter interface {
	AddTransaction(payload []byte) (block.Hash, error)
}
