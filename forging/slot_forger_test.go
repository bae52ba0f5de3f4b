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

package forging_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/slotforge/chain"
	"github.com/blinklabs-io/slotforge/forging"
	"github.com/blinklabs-io/slotforge/keystore"
	"github.com/blinklabs-io/slotforge/leader"
	"github.com/blinklabs-io/slotforge/slot"
)

type fakeTicker struct {
	ch           chan slot.Tick
	unsubscribed chan struct{}
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{
		ch:           make(chan slot.Tick, 4),
		unsubscribed: make(chan struct{}),
	}
}

func (f *fakeTicker) Subscribe() <-chan slot.Tick {
	return f.ch
}

func (f *fakeTicker) Unsubscribe(<-chan slot.Tick) {
	close(f.unsubscribed)
}

type forgerSetup struct {
	*harness
	claims *claimSetup
	ticker *fakeTicker
	forger *forging.SlotForger
}

func newForgerSetup(t *testing.T, keys leader.KeyProvider) *forgerSetup {
	t.Helper()
	var claims *claimSetup
	h := newHarness(t, func(cfg *forging.SealerConfig) {
		c, ok := cfg.Headers.(*chain.Chain)
		require.True(t, ok)
		claims = newClaimSetup(t, c)
		cfg.Importer = forging.NewImporter(claims.epochImport(t, true))
	})
	if keys == nil {
		keys = claims.keys
	}
	ticker := newFakeTicker()
	forger, err := forging.NewSlotForger(forging.SlotForgerConfig{
		Sealer:       h.sealer,
		Chain:        h.chain,
		Epochs:       claims.registry,
		Keys:         keys,
		Clock:        ticker,
		PromRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return &forgerSetup{harness: h, claims: claims, ticker: ticker, forger: forger}
}

func TestForgeSlotSealsClaimedBlock(t *testing.T) {
	s := newForgerSetup(t, nil)
	s.addTxs(t, "tx-1")

	require.NoError(t, s.forger.ForgeSlot(context.Background(), 3))

	best, err := s.chain.BestChain()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), best.Number)
	assert.Equal(t, uint64(3), best.Slot)
	pd, err := leader.DecodePreDigest(best.PreDigest)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), pd.Slot)

	hash, ok := s.forger.SlotTracker().WasForgedByUs(3)
	require.True(t, ok)
	assert.Equal(t, best.Hash(), hash)

	blk, err := s.chain.Block(hash)
	require.NoError(t, err)
	assert.Len(t, blk.Transactions, 1)
}

func TestForgeSlotForgesEmptyBlocks(t *testing.T) {
	s := newForgerSetup(t, nil)

	require.NoError(t, s.forger.ForgeSlot(context.Background(), 2))
	best, err := s.chain.BestChain()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), best.Slot)
}

func TestForgeSlotOncePerSlot(t *testing.T) {
	s := newForgerSetup(t, nil)

	require.NoError(t, s.forger.ForgeSlot(context.Background(), 5))
	first := s.chain.BestHash()
	require.NoError(t, s.forger.ForgeSlot(context.Background(), 5))
	assert.Equal(t, first, s.chain.BestHash())
	assert.Equal(t, 1, s.forger.SlotTracker().Len())

	// Slots at or before the best block are skipped
	require.NoError(t, s.forger.ForgeSlot(context.Background(), 4))
	assert.Equal(t, first, s.chain.BestHash())
}

func TestForgeSlotNotLeader(t *testing.T) {
	other := keystore.New(keystore.Config{})
	_, err := other.Insert(bytes.Repeat([]byte{0x09}, 32))
	require.NoError(t, err)
	s := newForgerSetup(t, other)
	genesis := s.chain.BestHash()

	require.NoError(t, s.forger.ForgeSlot(context.Background(), 3))
	assert.Equal(t, genesis, s.chain.BestHash())
	assert.Equal(t, 0, s.forger.SlotTracker().Len())
}

func TestForgeSlotAcrossEpochs(t *testing.T) {
	s := newForgerSetup(t, nil)

	require.NoError(t, s.forger.ForgeSlot(context.Background(), 8))
	require.NoError(t, s.forger.ForgeSlot(context.Background(), 11))
	best, err := s.chain.BestChain()
	require.NoError(t, err)
	assert.Equal(t, uint64(11), best.Slot)
	assert.Equal(t, 1, s.claims.registry.Len())
}

func TestSlotForgerRunLoop(t *testing.T) {
	s := newForgerSetup(t, nil)

	require.NoError(t, s.forger.Start(context.Background()))
	require.Error(t, s.forger.Start(context.Background()))
	s.ticker.ch <- slot.Tick{Slot: 4, SlotStart: time.Now()}
	require.Eventually(t, func() bool {
		best, err := s.chain.BestChain()
		return err == nil && best.Slot == 4
	}, 2*time.Second, 10*time.Millisecond)

	s.forger.Stop()
	s.forger.Stop()
	select {
	case <-s.ticker.unsubscribed:
	default:
		t.Fatal("forger did not unsubscribe from the clock")
	}
}

func TestSlotForgerRequiresDependencies(t *testing.T) {
	_, err := forging.NewSlotForger(forging.SlotForgerConfig{})
	require.Error(t, err)
}
