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

package forging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/inherent"
)

const (
	DefaultMaxBlockTxs   = 1000
	DefaultMaxBlockBytes = 2 * 1024 * 1024
)

type BasicEnvironmentConfig struct {
	Logger *slog.Logger
	Pool   TransactionPool
	// Validator optionally re-checks each ready transaction
	Validator     TxValidator
	MaxBlockTxs   int
	MaxBlockBytes int
}

// BasicEnvironment builds blocks from the ready transactions of a pool
type BasicEnvironment struct {
	config BasicEnvironmentConfig
	logger *slog.Logger
}

func NewBasicEnvironment(cfg BasicEnvironmentConfig) (*BasicEnvironment, error) {
	if cfg.Pool == nil {
		return nil, errors.New("transaction pool is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.MaxBlockTxs <= 0 {
		cfg.MaxBlockTxs = DefaultMaxBlockTxs
	}
	if cfg.MaxBlockBytes <= 0 {
		cfg.MaxBlockBytes = DefaultMaxBlockBytes
	}
	return &BasicEnvironment{
		config: cfg,
		logger: cfg.Logger,
	}, nil
}

func (e *BasicEnvironment) Init(_ context.Context, parent *block.Header) (Proposer, error) {
	if parent == nil {
		return nil, errors.New("missing parent header")
	}
	return &basicProposer{
		env:    e,
		parent: *parent,
	}, nil
}

type basicProposer struct {
	env    *BasicEnvironment
	parent block.Header
}

// Propose selects ready transactions until a limit or the deadline is
// hit. Hitting the deadline ends selection early and is not an error.
func (p *basicProposer) Propose(
	ctx context.Context,
	inherents *inherent.Data,
	preDigest []byte,
	maxDuration time.Duration,
) (*Proposal, error) {
	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}
	logger := p.env.logger
	ts, _, err := inherent.Timestamp(inherents)
	if err != nil {
		return nil, err
	}
	slot, ok, err := inherent.Slot(inherents)
	if err != nil {
		return nil, err
	}
	if !ok || slot < p.parent.Slot {
		slot = p.parent.Slot
	}

	var (
		// Non-nil so an empty body encodes as an empty array
		txs       = []block.Transaction{}
		blockSize int
	)
	ready := p.env.config.Pool.Ready()
	for _, tx := range ready {
		if ctx.Err() != nil {
			logger.Debug(
				"proposal deadline reached",
				"component", "forging",
				"tx_count", len(txs),
			)
			break
		}
		if len(txs) >= p.env.config.MaxBlockTxs {
			break
		}
		txSize := len(tx.Payload)
		if txSize > p.env.config.MaxBlockBytes {
			logger.Debug(
				"skipping transaction - exceeds max block size",
				"component", "forging",
				"tx_hash", tx.Hash().String(),
				"tx_size", txSize,
			)
			continue
		}
		if blockSize+txSize > p.env.config.MaxBlockBytes {
			logger.Debug(
				"block size limit reached",
				"component", "forging",
				"current_size", blockSize,
				"tx_size", txSize,
			)
			break
		}
		if p.env.config.Validator != nil {
			if err := p.env.config.Validator.ValidateTx(tx); err != nil {
				logger.Debug(
					"skipping transaction - failed re-validation",
					"component", "forging",
					"tx_hash", tx.Hash().String(),
					"error", err,
				)
				continue
			}
		}
		txs = append(txs, tx)
		blockSize += txSize
	}

	header := block.Header{
		ParentHash: p.parent.Hash(),
		Number:     p.parent.Number + 1,
		Slot:       slot,
		Timestamp:  ts,
		PreDigest:  preDigest,
	}
	blk := block.New(header, txs)
	logger.Debug(
		fmt.Sprintf("proposed block with %d of %d ready transactions", len(txs), len(ready)),
		"component", "forging",
		"block_number", header.Number,
		"slot", slot,
	)
	return &Proposal{Block: blk}, nil
}
