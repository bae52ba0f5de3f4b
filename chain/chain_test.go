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

package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/chain"
	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/database"
	"github.com/blinklabs-io/slotforge/event"
)

func newTestChain(t *testing.T, eb *event.EventBus) (*chain.Chain, *database.Database) {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c, err := chain.NewChain(chain.ChainConfig{
		DB:           db,
		EventBus:     eb,
		PromRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return c, db
}

func child(parent *block.Header, slot uint64, txs ...string) *block.Block {
	body := make([]block.Transaction, 0, len(txs))
	for _, tx := range txs {
		body = append(body, block.NewTransaction([]byte(tx)))
	}
	return block.New(
		block.Header{
			ParentHash: parent.Hash(),
			Number:     parent.Number + 1,
			Slot:       slot,
		},
		body,
	)
}

func importParams(b *block.Block, finalize bool) consensus.BlockImportParams {
	return consensus.BlockImportParams{
		Origin:     consensus.OriginOwn,
		Header:     b.Header,
		Body:       b.Transactions,
		Finalized:  finalize,
		ForkChoice: consensus.ForkChoiceLongestChain,
	}
}

func mustImport(t *testing.T, c *chain.Chain, b *block.Block, finalize bool) consensus.ImportedAux {
	t.Helper()
	res, err := c.ImportBlock(context.Background(), importParams(b, finalize))
	require.NoError(t, err)
	require.Equal(t, consensus.ImportResultImported, res.Kind)
	return res.Aux
}

func TestLinearImport(t *testing.T) {
	c, _ := newTestChain(t, nil)
	genesis, err := c.BestChain()
	require.NoError(t, err)
	assert.True(t, genesis.IsGenesis())

	b1 := child(genesis, 1, "a")
	aux := mustImport(t, c, b1, false)
	assert.True(t, aux.IsNewBest)
	assert.False(t, aux.Reorganized)
	b2 := child(&b1.Header, 2, "b", "c")
	mustImport(t, c, b2, false)

	best, err := c.BestChain()
	require.NoError(t, err)
	assert.Equal(t, b2.Hash(), best.Hash())
	n, err := c.BlockNumber(b2.Hash())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	ok, err := c.IsDescendantOf(genesis.Hash(), b2.Hash())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.IsDescendantOf(b2.Hash(), b1.Hash())
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.IsDescendantOf(b2.Hash(), b2.Hash())
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := c.Block(b2.Hash())
	require.NoError(t, err)
	assert.Len(t, stored.Transactions, 2)
}

func TestImportRejections(t *testing.T) {
	c, _ := newTestChain(t, nil)
	genesis, err := c.BestChain()
	require.NoError(t, err)
	b1 := child(genesis, 1)
	mustImport(t, c, b1, false)

	res, err := c.ImportBlock(context.Background(), importParams(b1, false))
	require.NoError(t, err)
	assert.Equal(t, consensus.ImportResultAlreadyInChain, res.Kind)

	orphan := child(&block.Header{Number: 7, Slot: 7}, 8)
	res, err = c.ImportBlock(context.Background(), importParams(orphan, false))
	require.NoError(t, err)
	assert.Equal(t, consensus.ImportResultUnknownParent, res.Kind)

	badNumber := child(&b1.Header, 2)
	badNumber.Header.Number = 5
	res, err = c.ImportBlock(context.Background(), importParams(badNumber, false))
	require.NoError(t, err)
	assert.Equal(t, consensus.ImportResultKnownBad, res.Kind)

	tampered := child(&b1.Header, 2, "x")
	tampered.Transactions = nil
	res, err = c.ImportBlock(context.Background(), importParams(tampered, false))
	require.NoError(t, err)
	assert.Equal(t, consensus.ImportResultKnownBad, res.Kind)

	_, err = c.Header(orphan.Hash())
	require.ErrorIs(t, err, consensus.ErrUnknownBlock)
}

func TestReorgToLongerFork(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, reorgCh := eb.Subscribe(chain.ChainReorgEventType)
	c, _ := newTestChain(t, eb)
	genesis, err := c.BestChain()
	require.NoError(t, err)

	a1 := child(genesis, 1, "a1")
	a2 := child(&a1.Header, 2, "a2")
	mustImport(t, c, a1, false)
	mustImport(t, c, a2, false)

	b1 := child(genesis, 3, "b1")
	b2 := child(&b1.Header, 4, "b2")
	b3 := child(&b2.Header, 5, "b3")
	assert.False(t, mustImport(t, c, b1, false).IsNewBest)
	assert.False(t, mustImport(t, c, b2, false).IsNewBest)
	aux := mustImport(t, c, b3, false)
	assert.True(t, aux.IsNewBest)
	assert.True(t, aux.Reorganized)
	assert.Equal(t, uint64(2), aux.ReorgDepth)
	assert.Equal(t, b3.Hash(), c.BestHash())

	select {
	case evt := <-reorgCh:
		data := evt.Data.(chain.ChainReorgEvent)
		assert.Equal(t, genesis.Hash(), data.CommonAncestor)
		assert.Equal(t, a2.Hash(), data.OldBest)
	case <-time.After(time.Second):
		t.Fatal("no reorg event")
	}
}

func TestFinalizeOnImport(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, finCh := eb.Subscribe(chain.BlockFinalizedEventType)
	c, _ := newTestChain(t, eb)
	genesis, err := c.BestChain()
	require.NoError(t, err)

	a1 := child(genesis, 1)
	aux := mustImport(t, c, a1, true)
	assert.True(t, aux.Finalized)
	assert.Equal(t, a1.Hash(), c.FinalizedHash())
	evt := <-finCh
	assert.Equal(t, a1.Hash(), evt.Data.(chain.BlockFinalizedEvent).Hash)

	// A sibling of the finalized block can no longer be imported
	b1 := child(genesis, 2, "b")
	res, err := c.ImportBlock(context.Background(), importParams(b1, false))
	require.NoError(t, err)
	assert.Equal(t, consensus.ImportResultKnownBad, res.Kind)
}

func TestFinalizeBlockMovesBest(t *testing.T) {
	c, _ := newTestChain(t, nil)
	genesis, err := c.BestChain()
	require.NoError(t, err)
	a1 := child(genesis, 1, "a")
	a2 := child(&a1.Header, 2, "a")
	b1 := child(genesis, 3, "b")
	mustImport(t, c, a1, false)
	mustImport(t, c, a2, false)
	mustImport(t, c, b1, false)

	require.NoError(t, c.FinalizeBlock(b1.Hash()))
	assert.Equal(t, b1.Hash(), c.FinalizedHash())
	assert.Equal(t, b1.Hash(), c.BestHash())
	require.NoError(t, c.FinalizeBlock(b1.Hash()))
	require.ErrorIs(t, c.FinalizeBlock(a2.Hash()), chain.ErrFinalizedNotDescendant)
	require.ErrorIs(t, c.FinalizeBlock(block.Hash{0x01}), consensus.ErrUnknownBlock)
}

func TestChainReload(t *testing.T) {
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	defer db.Close()
	c, err := chain.NewChain(chain.ChainConfig{DB: db})
	require.NoError(t, err)
	genesis, err := c.BestChain()
	require.NoError(t, err)
	a1 := child(genesis, 1)
	a2 := child(&a1.Header, 2)
	mustImport(t, c, a1, true)
	mustImport(t, c, a2, false)

	reloaded, err := chain.NewChain(chain.ChainConfig{DB: db})
	require.NoError(t, err)
	assert.Equal(t, a2.Hash(), reloaded.BestHash())
	assert.Equal(t, a1.Hash(), reloaded.FinalizedHash())
	ok, err := reloaded.IsDescendantOf(genesis.Hash(), a2.Hash())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = chain.NewChain(chain.ChainConfig{DB: db, Genesis: block.Genesis(99)})
	require.ErrorIs(t, err, chain.ErrGenesisMismatch)
}
