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
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/slotforge/leader"
	"github.com/blinklabs-io/slotforge/slot"
)

// SlotTicker delivers slot boundaries
type SlotTicker interface {
	Subscribe() <-chan slot.Tick
	Unsubscribe(ch <-chan slot.Tick)
}

// BlockSealer is implemented by *Sealer
type BlockSealer interface {
	Seal(ctx context.Context, req SealRequest) (CreatedBlock, error)
}

type SlotForgerConfig struct {
	Logger       *slog.Logger
	Sealer       BlockSealer
	Chain        leader.BestChain
	Epochs       leader.EpochLookup
	Keys         leader.KeyProvider
	Clock        SlotTicker
	PromRegistry prometheus.Registerer
	// Finalize marks every forged block final on import
	Finalize bool
}

// SlotForger authors a block for every slot one of the local keys can claim
type SlotForger struct {
	config      SlotForgerConfig
	logger      *slog.Logger
	metrics     *slotForgerMetrics
	slotTracker *SlotTracker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewSlotForger(cfg SlotForgerConfig) (*SlotForger, error) {
	switch {
	case cfg.Sealer == nil:
		return nil, errors.New("sealer is required")
	case cfg.Chain == nil:
		return nil, errors.New("chain is required")
	case cfg.Epochs == nil:
		return nil, errors.New("epoch lookup is required")
	case cfg.Keys == nil:
		return nil, errors.New("key provider is required")
	case cfg.Clock == nil:
		return nil, errors.New("slot clock is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &SlotForger{
		config:      cfg,
		logger:      cfg.Logger,
		metrics:     initSlotForgerMetrics(cfg.PromRegistry),
		slotTracker: NewSlotTracker(),
	}, nil
}

func (f *SlotForger) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return errors.New("slot forger already running")
	}
	f.running = true
	ctx, f.cancel = context.WithCancel(ctx)
	ticks := f.config.Clock.Subscribe()
	f.wg.Add(1)
	go f.runLoop(ctx, ticks)
	f.logger.Info("slot forger started", "component", "forging")
	return nil
}

// Stop blocks until the run loop has exited
func (f *SlotForger) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.cancel()
	f.mu.Unlock()
	f.wg.Wait()
	f.logger.Info("slot forger stopped", "component", "forging")
}

func (f *SlotForger) runLoop(ctx context.Context, ticks <-chan slot.Tick) {
	defer f.wg.Done()
	defer f.config.Clock.Unsubscribe(ticks)
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			if err := f.ForgeSlot(ctx, tick.Slot); err != nil {
				f.logger.Error(
					"forge attempt failed",
					"component", "forging",
					"slot", tick.Slot,
					"error", err,
				)
			}
		}
	}
}

// ForgeSlot claims slot and seals a block on the best head if a local key
// can claim it. Each slot is forged at most once.
func (f *SlotForger) ForgeSlot(ctx context.Context, slotNo uint64) error {
	f.metrics.aboutToLead.Inc()
	if _, ok := f.slotTracker.WasForgedByUs(slotNo); ok {
		return nil
	}
	best, err := f.config.Chain.BestChain()
	if err != nil {
		f.metrics.slotClockErrors.Inc()
		return fmt.Errorf("failed to get best block: %w", err)
	}
	if slotNo <= best.Slot {
		f.logger.Debug(
			"forge skip: slot already has block",
			"component", "forging",
			"slot", slotNo,
			"best_slot", best.Slot,
		)
		return nil
	}
	parent := best.Hash()
	e, err := f.config.Epochs.EpochForSlot(parent, slotNo)
	if err != nil {
		f.metrics.slotClockErrors.Inc()
		return fmt.Errorf("failed to resolve epoch for slot %d: %w", slotNo, err)
	}
	claim, ok := leader.ClaimSlot(slotNo, e, f.config.Keys)
	if !ok {
		f.metrics.nodeNotLeader.Inc()
		return nil
	}
	f.metrics.nodeIsLeader.Inc()
	preDigest, err := leader.EncodePreDigest(slotNo, claim)
	if err != nil {
		f.metrics.couldNotForge.Inc()
		return err
	}
	created, err := f.config.Sealer.Seal(ctx, SealRequest{
		CreateEmpty: true,
		Finalize:    f.config.Finalize,
		ParentHash:  &parent,
		Slot:        &slotNo,
		PreDigest:   preDigest,
	})
	if err != nil {
		f.metrics.couldNotForge.Inc()
		return err
	}
	f.slotTracker.RecordForgedBlock(slotNo, created.Hash)
	f.metrics.forged.Inc()
	f.logger.Info(
		"block forged for claimed slot",
		"component", "forging",
		"slot", slotNo,
		"epoch", e.Index,
		"authority", claim.Authority().String(),
		"hash", created.Hash.String(),
	)
	return nil
}

// SlotTracker returns the record of slots forged by this node
func (f *SlotForger) SlotTracker() *SlotTracker {
	return f.slotTracker
}
