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

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/event"
	"github.com/blinklabs-io/slotforge/inherent"
	"github.com/blinklabs-io/slotforge/oneshot"
)

// DefaultProposalTimeout bounds how long a proposer may spend on a block
const DefaultProposalTimeout = 5 * time.Second

// SealRequest asks for one block. Reply, when set, receives exactly one
// result.
type SealRequest struct {
	CreateEmpty bool
	Finalize    bool
	// ParentHash selects the parent. The best block is used when nil.
	ParentHash *block.Hash
	// Slot overrides the slot inherent, and PreDigest carries the slot
	// claim. Both are set for claimed slots only.
	Slot      *uint64
	PreDigest []byte
	Reply     *oneshot.Sender[SealResult]
}

// CreatedBlock identifies an imported block
type CreatedBlock struct {
	Hash block.Hash
	Aux  consensus.ImportedAux
}

type SealResult struct {
	Block CreatedBlock
	Err   error
}

type SealerConfig struct {
	Logger       *slog.Logger
	Pool         TransactionPool
	Headers      HeaderBackend
	Chain        SelectChain
	Environment  Environment
	Inherents    InherentDataProvider
	Importer     BlockImporter
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	// ProposalTimeout defaults to DefaultProposalTimeout
	ProposalTimeout time.Duration
}

// Sealer builds and imports blocks on request
type Sealer struct {
	config  SealerConfig
	logger  *slog.Logger
	metrics *forgingMetrics
}

func NewSealer(cfg SealerConfig) (*Sealer, error) {
	switch {
	case cfg.Pool == nil:
		return nil, errors.New("transaction pool is required")
	case cfg.Headers == nil:
		return nil, errors.New("header backend is required")
	case cfg.Chain == nil:
		return nil, errors.New("chain selection is required")
	case cfg.Environment == nil:
		return nil, errors.New("proposer environment is required")
	case cfg.Inherents == nil:
		return nil, errors.New("inherent data provider is required")
	case cfg.Importer == nil:
		return nil, errors.New("block importer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ProposalTimeout <= 0 {
		cfg.ProposalTimeout = DefaultProposalTimeout
	}
	return &Sealer{
		config:  cfg,
		logger:  cfg.Logger,
		metrics: initForgingMetrics(cfg.PromRegistry),
	}, nil
}

// SealNewBlock seals one block and reports through req.Reply. It runs on
// the caller's goroutine. Concurrent calls against the same parent are not
// serialized, and callers that need ordering must serialize themselves.
func (s *Sealer) SealNewBlock(ctx context.Context, req SealRequest) {
	created, err := s.Seal(ctx, req)
	if req.Reply != nil {
		req.Reply.Send(SealResult{Block: created, Err: err})
	}
}

// Seal is SealNewBlock returning the outcome directly
func (s *Sealer) Seal(ctx context.Context, req SealRequest) (_ CreatedBlock, err error) {
	ctx, span := otel.Tracer("slotforge/forging").Start(ctx, "seal_new_block")
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.observeSeal(err, time.Since(start))
	}()
	span.SetAttributes(
		attribute.Bool("seal.create_empty", req.CreateEmpty),
		attribute.Bool("seal.finalize", req.Finalize),
	)

	if s.config.Pool.Status().Ready == 0 && !req.CreateEmpty {
		return CreatedBlock{}, ErrEmptyTransactionPool
	}

	var parent *block.Header
	if req.ParentHash != nil {
		parent, err = s.config.Headers.Header(*req.ParentHash)
		if err != nil || parent == nil {
			return CreatedBlock{}, &BlockNotFoundError{Hash: *req.ParentHash, Err: err}
		}
	} else {
		parent, err = s.config.Chain.BestChain()
		if err != nil {
			return CreatedBlock{}, fmt.Errorf("failed to get best block: %w", err)
		}
	}

	proposer, err := s.config.Environment.Init(ctx, parent)
	if err != nil {
		return CreatedBlock{}, fmt.Errorf("failed to initialize proposer: %w", err)
	}

	inherents, err := s.config.Inherents.CreateInherentData(ctx)
	if err != nil {
		return CreatedBlock{}, fmt.Errorf("failed to create inherent data: %w", err)
	}
	if req.Slot != nil {
		if err := inherents.Replace(inherent.SlotIdentifier, *req.Slot); err != nil {
			return CreatedBlock{}, err
		}
	}
	proposal, err := proposer.Propose(ctx, inherents, req.PreDigest, s.config.ProposalTimeout)
	if err != nil {
		return CreatedBlock{}, fmt.Errorf("failed to propose block: %w", err)
	}
	blk := proposal.Block
	if len(blk.Transactions) == 0 && !req.CreateEmpty {
		return CreatedBlock{}, ErrEmptyTransactionPool
	}

	params := consensus.BlockImportParams{
		Origin:     consensus.OriginOwn,
		Header:     blk.Header,
		Body:       blk.Transactions,
		Finalized:  req.Finalize,
		ForkChoice: consensus.ForkChoiceLongestChain,
	}
	aux, err := s.config.Importer.ImportBlock(ctx, params)
	if err != nil {
		return CreatedBlock{}, err
	}

	hash := blk.Hash()
	// The pool also prunes on the import event, but that runs on another
	// goroutine and a following seal must not pick these up again
	if len(blk.Transactions) > 0 {
		txHashes := make([]block.Hash, len(blk.Transactions))
		for i, tx := range blk.Transactions {
			txHashes[i] = tx.Hash()
		}
		s.config.Pool.RemoveTransactions(txHashes)
	}
	span.SetAttributes(
		attribute.String("block.hash", hash.String()),
		attribute.Int64("block.number", int64(blk.Header.Number)), // #nosec G115
		attribute.Int("block.tx_count", len(blk.Transactions)),
	)
	s.metrics.observeBlock(blk)
	s.logger.Info(
		fmt.Sprintf("sealed block %d with %d transactions", blk.Header.Number, len(blk.Transactions)),
		"component", "forging",
		"hash", hash.String(),
		"slot", blk.Header.Slot,
		"new_best", aux.IsNewBest,
		"finalized", aux.Finalized,
	)
	if s.config.EventBus != nil {
		s.config.EventBus.Publish(
			event.BlockSealedEventType,
			event.NewEvent(
				event.BlockSealedEventType,
				event.BlockSealedEvent{
					BlockHash:   hash.Bytes(),
					Slot:        blk.Header.Slot,
					BlockNumber: blk.Header.Number,
					TxCount:     uint(len(blk.Transactions)),
					Claimed:     len(req.PreDigest) > 0,
					Finalized:   aux.Finalized,
					Timestamp:   time.Now(),
				},
			),
		)
	}
	return CreatedBlock{Hash: hash, Aux: aux}, nil
}
