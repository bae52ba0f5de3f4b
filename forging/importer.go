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

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/epoch"
	"github.com/blinklabs-io/slotforge/leader"
)

// Importer turns every non-imported outcome into an error, so a nil error
// always means the block was committed
type Importer struct {
	inner consensus.BlockImport
}

func NewImporter(inner consensus.BlockImport) *Importer {
	return &Importer{inner: inner}
}

func (i *Importer) ImportBlock(
	ctx context.Context,
	params consensus.BlockImportParams,
) (consensus.ImportedAux, error) {
	res, err := i.inner.ImportBlock(ctx, params)
	if err != nil {
		return consensus.ImportedAux{}, err
	}
	if res.Kind != consensus.ImportResultImported {
		return consensus.ImportedAux{}, &consensus.ImportResultError{Result: res.Kind}
	}
	return res.Aux, nil
}

// EpochRegistry is the part of the epoch registry block import uses
type EpochRegistry interface {
	EpochForChild(parent block.Hash, slot uint64) (*epoch.ViableEpoch, error)
	ImportTransition(hash block.Hash, number uint64, parent block.Hash, e epoch.Epoch) error
}

type EpochImportConfig struct {
	Logger   *slog.Logger
	Inner    consensus.BlockImport
	Registry EpochRegistry
	// RequireClaims rejects blocks without a pre-digest
	RequireClaims bool
}

// EpochImport checks slot claims against the epoch of the parent's fork
// and records the epoch a block opens
type EpochImport struct {
	config EpochImportConfig
	logger *slog.Logger
}

func NewEpochImport(cfg EpochImportConfig) (*EpochImport, error) {
	if cfg.Inner == nil {
		return nil, errors.New("inner block import is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("epoch registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &EpochImport{
		config: cfg,
		logger: cfg.Logger,
	}, nil
}

func (e *EpochImport) ImportBlock(
	ctx context.Context,
	params consensus.BlockImportParams,
) (consensus.ImportResult, error) {
	hdr := params.Header
	if hdr.IsGenesis() {
		return e.config.Inner.ImportBlock(ctx, params)
	}
	hasClaim := len(hdr.PreDigest) > 0
	if !hasClaim && e.config.RequireClaims {
		return consensus.ImportResult{}, consensus.NewError(
			fmt.Errorf("%w: block has no pre-digest", consensus.ErrInvalidClaim),
		)
	}
	viable, lookupErr := e.config.Registry.EpochForChild(hdr.ParentHash, hdr.Slot)
	if hasClaim {
		if lookupErr != nil {
			var lookup *epoch.ChainLookupError
			if errors.As(lookupErr, &lookup) {
				// The chain import reports a missing parent itself
				return e.config.Inner.ImportBlock(ctx, params)
			}
			return consensus.ImportResult{}, consensus.NewError(lookupErr)
		}
		if err := verifyPreDigest(hdr, viable.Epoch); err != nil {
			return consensus.ImportResult{}, consensus.NewError(err)
		}
	}
	res, err := e.config.Inner.ImportBlock(ctx, params)
	if err != nil || res.Kind != consensus.ImportResultImported {
		return res, err
	}
	if lookupErr != nil || viable.Recorded || viable.Index == 0 {
		return res, nil
	}
	hash := hdr.Hash()
	if err := e.config.Registry.ImportTransition(hash, hdr.Number, hdr.ParentHash, *viable.Epoch); err != nil {
		// The block is committed, so the error is reported but not fatal
		e.logger.Error(
			"failed to record epoch transition",
			"component", "forging",
			"block", hash.String(),
			"epoch", viable.Index,
			"error", err,
		)
	}
	return res, nil
}

func verifyPreDigest(hdr block.Header, e *epoch.Epoch) error {
	pd, err := leader.DecodePreDigest(hdr.PreDigest)
	if err != nil {
		return err
	}
	if pd.Slot != hdr.Slot {
		return fmt.Errorf(
			"%w: pre-digest slot %d does not match header slot %d",
			consensus.ErrInvalidClaim,
			pd.Slot,
			hdr.Slot,
		)
	}
	claim, err := pd.Claim(e)
	if err != nil {
		return err
	}
	return leader.VerifyClaim(hdr.Slot, e, claim)
}
