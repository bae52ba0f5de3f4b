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

// Package chain stores the block tree and tracks the best and finalized
// heads. It answers ancestry queries and imports blocks under a fork-choice
// strategy.
package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/database"
	"github.com/blinklabs-io/slotforge/event"
)

var (
	blockKeyPrefix = []byte("chain/block/")
	bestKey        = []byte("chain/meta/best")
	finalizedKey   = []byte("chain/meta/finalized")
	genesisKey     = []byte("chain/meta/genesis")
)

type ChainConfig struct {
	Logger       *slog.Logger
	DB           *database.Database
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	// Genesis defaults to block.Genesis(0)
	Genesis         *block.Block
	HeaderCacheSize int
}

// indexEntry is the ancestry metadata kept in memory for every block
type indexEntry struct {
	parent block.Hash
	number uint64
	slot   uint64
}

type chainMetrics struct {
	bestNumber      prometheus.Gauge
	finalizedNumber prometheus.Gauge
	imports         *prometheus.CounterVec
	reorgs          prometheus.Counter
}

type Chain struct {
	mutex     sync.RWMutex
	config    ChainConfig
	logger    *slog.Logger
	db        *database.Database
	eventBus  *event.EventBus
	index     map[block.Hash]indexEntry
	headers   *headerCache
	genesis   block.Hash
	best      block.Hash
	finalized block.Hash
	metrics   *chainMetrics
}

func NewChain(cfg ChainConfig) (*Chain, error) {
	c := &Chain{
		config:   cfg,
		logger:   cfg.Logger,
		db:       cfg.DB,
		eventBus: cfg.EventBus,
		index:    make(map[block.Hash]indexEntry),
	}
	if c.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.db == nil {
		return nil, errors.New("database is required")
	}
	if cfg.Genesis == nil {
		c.config.Genesis = block.Genesis(0)
	}
	var err error
	c.headers, err = newHeaderCache(cfg.HeaderCacheSize, cfg.PromRegistry)
	if err != nil {
		return nil, err
	}
	if cfg.PromRegistry != nil {
		c.initMetrics(cfg.PromRegistry)
	}
	if err := c.load(); err != nil {
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}
	c.updateMetrics()
	return c, nil
}

func (c *Chain) initMetrics(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	c.metrics = &chainMetrics{
		bestNumber: factory.NewGauge(prometheus.GaugeOpts{
			Name: "slotforge_chain_best_block_number",
			Help: "height of the best block",
		}),
		finalizedNumber: factory.NewGauge(prometheus.GaugeOpts{
			Name: "slotforge_chain_finalized_block_number",
			Help: "height of the last finalized block",
		}),
		imports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slotforge_chain_block_imports_total",
			Help: "block import attempts by result",
		}, []string{"result"}),
		reorgs: factory.NewCounter(prometheus.CounterOpts{
			Name: "slotforge_chain_reorgs_total",
			Help: "best chain reorganizations",
		}),
	}
}

func (c *Chain) updateMetrics() {
	if c.metrics == nil {
		return
	}
	c.metrics.bestNumber.Set(float64(c.index[c.best].number))
	c.metrics.finalizedNumber.Set(float64(c.index[c.finalized].number))
}

func (c *Chain) load() error {
	genesis := c.config.Genesis
	genesisHash := genesis.Hash()
	stored, err := c.db.Get(genesisKey)
	switch {
	case errors.Is(err, database.ErrKeyNotFound):
		// Fresh database
		if err := c.db.Update(func(txn *database.Txn) error {
			if err := c.putBlock(txn, genesis); err != nil {
				return err
			}
			for _, key := range [][]byte{genesisKey, bestKey, finalizedKey} {
				if err := txn.Set(key, genesisHash.Bytes()); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		c.addToIndex(genesisHash, &genesis.Header)
		c.genesis, c.best, c.finalized = genesisHash, genesisHash, genesisHash
		return nil
	case err != nil:
		return err
	}
	if lcommon.NewBlake2b256(stored) != genesisHash {
		return ErrGenesisMismatch
	}
	c.genesis = genesisHash
	err = c.db.Iterate(blockKeyPrefix, func(_, val []byte) error {
		blk, err := block.Decode(val)
		if err != nil {
			return err
		}
		c.addToIndex(blk.Hash(), &blk.Header)
		return nil
	})
	if err != nil {
		return err
	}
	for _, m := range []struct {
		key  []byte
		dest *block.Hash
	}{{bestKey, &c.best}, {finalizedKey, &c.finalized}} {
		val, err := c.db.Get(m.key)
		if err != nil {
			return err
		}
		*m.dest = lcommon.NewBlake2b256(val)
	}
	c.logger.Debug(
		fmt.Sprintf("loaded %d blocks", len(c.index)),
		"component", "chain",
		"best", c.best.String(),
		"finalized", c.finalized.String(),
	)
	return nil
}

func (c *Chain) putBlock(txn *database.Txn, blk *block.Block) error {
	data, err := blk.Encode()
	if err != nil {
		return err
	}
	hash := blk.Hash()
	return txn.Set(append(append([]byte{}, blockKeyPrefix...), hash.Bytes()...), data)
}

func (c *Chain) addToIndex(hash block.Hash, hdr *block.Header) {
	c.index[hash] = indexEntry{
		parent: hdr.ParentHash,
		number: hdr.Number,
		slot:   hdr.Slot,
	}
	c.headers.Put(hash, hdr)
}

// Block returns the full block for hash
func (c *Chain) Block(hash block.Hash) (*block.Block, error) {
	c.mutex.RLock()
	_, ok := c.index[hash]
	c.mutex.RUnlock()
	if !ok {
		return nil, UnknownBlockError{Hash: hash}
	}
	data, err := c.db.Get(append(append([]byte{}, blockKeyPrefix...), hash.Bytes()...))
	if err != nil {
		return nil, fmt.Errorf("read block %s: %w", hash.String(), err)
	}
	return block.Decode(data)
}

// Header returns the header for hash
func (c *Chain) Header(hash block.Hash) (*block.Header, error) {
	if hdr, ok := c.headers.Get(hash); ok {
		return hdr, nil
	}
	blk, err := c.Block(hash)
	if err != nil {
		return nil, err
	}
	c.headers.Put(hash, &blk.Header)
	return &blk.Header, nil
}

// BlockNumber returns the height of a known block
func (c *Chain) BlockNumber(hash block.Hash) (uint64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	entry, ok := c.index[hash]
	if !ok {
		return 0, UnknownBlockError{Hash: hash}
	}
	return entry.number, nil
}

// IsDescendantOf reports whether desc is a strict descendant of base
func (c *Chain) IsDescendantOf(base, desc block.Hash) (bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.isDescendantOf(base, desc)
}

func (c *Chain) isDescendantOf(base, desc block.Hash) (bool, error) {
	baseEntry, ok := c.index[base]
	if !ok {
		return false, UnknownBlockError{Hash: base}
	}
	cur, ok := c.index[desc]
	if !ok {
		return false, UnknownBlockError{Hash: desc}
	}
	if cur.number <= baseEntry.number {
		return false, nil
	}
	for cur.number > baseEntry.number+1 {
		cur = c.index[cur.parent]
	}
	return cur.parent == base, nil
}

// BestChain returns the header of the best block
func (c *Chain) BestChain() (*block.Header, error) {
	c.mutex.RLock()
	best := c.best
	c.mutex.RUnlock()
	return c.Header(best)
}

func (c *Chain) BestHash() block.Hash {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.best
}

func (c *Chain) FinalizedHash() block.Hash {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.finalized
}

func (c *Chain) GenesisHash() block.Hash {
	return c.genesis
}

// ImportBlock stores the block and applies fork choice and finality
func (c *Chain) ImportBlock(
	ctx context.Context,
	params consensus.BlockImportParams,
) (consensus.ImportResult, error) {
	blk := params.Block()
	hash := blk.Hash()
	hdr := &blk.Header

	c.mutex.Lock()
	result, events, err := c.importLocked(hash, blk, params)
	c.mutex.Unlock()
	if c.metrics != nil {
		label := result.Kind.String()
		if err != nil {
			label = "error"
		}
		c.metrics.imports.WithLabelValues(label).Inc()
	}
	if err != nil {
		return consensus.ImportResult{}, err
	}
	if result.Kind != consensus.ImportResultImported {
		c.logger.Debug(
			"block not imported",
			"component", "chain",
			"hash", hash.String(),
			"result", result.Kind.String(),
		)
		return result, nil
	}
	c.logger.Info(
		fmt.Sprintf("imported block #%d", hdr.Number),
		"component", "chain",
		"hash", hash.String(),
		"slot", hdr.Slot,
		"origin", params.Origin.String(),
		"txs", len(blk.Transactions),
		"best", result.Aux.IsNewBest,
	)
	c.publish(events)
	return result, nil
}

func (c *Chain) importLocked(
	hash block.Hash,
	blk *block.Block,
	params consensus.BlockImportParams,
) (consensus.ImportResult, []event.Event, error) {
	hdr := &blk.Header
	if _, ok := c.index[hash]; ok {
		return consensus.ImportResult{Kind: consensus.ImportResultAlreadyInChain}, nil, nil
	}
	parent, ok := c.index[hdr.ParentHash]
	if !ok {
		return consensus.ImportResult{Kind: consensus.ImportResultUnknownParent}, nil, nil
	}
	if hdr.Number != parent.number+1 || hdr.Slot < parent.slot {
		return consensus.ImportResult{Kind: consensus.ImportResultKnownBad}, nil, nil
	}
	if err := blk.Verify(); err != nil {
		return consensus.ImportResult{Kind: consensus.ImportResultKnownBad}, nil, nil
	}
	// Blocks must extend the finalized chain
	if hdr.ParentHash != c.finalized {
		ok, err := c.isDescendantOf(c.finalized, hdr.ParentHash)
		if err != nil {
			return consensus.ImportResult{}, nil, err
		}
		if !ok {
			return consensus.ImportResult{Kind: consensus.ImportResultKnownBad}, nil, nil
		}
	}

	var aux consensus.ImportedAux
	var events []event.Event
	newBest := c.best
	if params.ForkChoice.IsBest(hdr.Number, c.index[c.best].number) {
		aux.IsNewBest = true
		newBest = hash
	}
	newFinalized := c.finalized
	if params.Finalized {
		newFinalized = hash
		aux.Finalized = true
		// Finality overrides fork choice
		if !aux.IsNewBest {
			onBest, err := c.isAncestorOrSelf(hash, c.best)
			if err != nil {
				return consensus.ImportResult{}, nil, err
			}
			if !onBest {
				aux.IsNewBest = true
				newBest = hash
			}
		}
	}

	err := c.db.Update(func(txn *database.Txn) error {
		if err := c.putBlock(txn, blk); err != nil {
			return err
		}
		if newBest != c.best {
			if err := txn.Set(bestKey, newBest.Bytes()); err != nil {
				return err
			}
		}
		if newFinalized != c.finalized {
			if err := txn.Set(finalizedKey, newFinalized.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return consensus.ImportResult{}, nil, fmt.Errorf("store block: %w", err)
	}
	c.addToIndex(hash, hdr)

	txHashes := make([]block.Hash, 0, len(blk.Transactions))
	for _, tx := range blk.Transactions {
		txHashes = append(txHashes, tx.Hash())
	}
	events = append(events, event.NewEvent(
		BlockImportedEventType,
		BlockImportedEvent{
			Hash:      hash,
			Number:    hdr.Number,
			Slot:      hdr.Slot,
			Origin:    params.Origin,
			IsNewBest: aux.IsNewBest,
			TxHashes:  txHashes,
		},
	))
	if newBest != c.best {
		if hdr.ParentHash != c.best {
			ancestor, depth := c.commonAncestor(c.best, newBest)
			aux.Reorganized = true
			aux.ReorgDepth = depth
			events = append(events, event.NewEvent(
				ChainReorgEventType,
				ChainReorgEvent{
					CommonAncestor: ancestor,
					Depth:          depth,
					OldBest:        c.best,
					NewBest:        newBest,
				},
			))
			if c.metrics != nil {
				c.metrics.reorgs.Inc()
			}
		}
		c.best = newBest
	}
	if newFinalized != c.finalized {
		c.finalized = newFinalized
		events = append(events, event.NewEvent(
			BlockFinalizedEventType,
			BlockFinalizedEvent{
				Hash:   hash,
				Number: hdr.Number,
				Slot:   hdr.Slot,
			},
		))
	}
	c.updateMetrics()
	return consensus.Imported(aux), events, nil
}

// FinalizeBlock marks hash and its ancestors as final. The best block moves
// to hash if it is not already on the finalized fork.
func (c *Chain) FinalizeBlock(hash block.Hash) error {
	c.mutex.Lock()
	entry, ok := c.index[hash]
	if !ok {
		c.mutex.Unlock()
		return UnknownBlockError{Hash: hash}
	}
	if hash == c.finalized {
		c.mutex.Unlock()
		return nil
	}
	ok, err := c.isDescendantOf(c.finalized, hash)
	if err != nil {
		c.mutex.Unlock()
		return err
	}
	if !ok {
		c.mutex.Unlock()
		return ErrFinalizedNotDescendant
	}
	newBest := c.best
	onBest, err := c.isAncestorOrSelf(hash, c.best)
	if err != nil {
		c.mutex.Unlock()
		return err
	}
	if !onBest {
		newBest = hash
	}
	err = c.db.Update(func(txn *database.Txn) error {
		if err := txn.Set(finalizedKey, hash.Bytes()); err != nil {
			return err
		}
		return txn.Set(bestKey, newBest.Bytes())
	})
	if err != nil {
		c.mutex.Unlock()
		return fmt.Errorf("store finalized block: %w", err)
	}
	var events []event.Event
	if newBest != c.best {
		ancestor, depth := c.commonAncestor(c.best, newBest)
		events = append(events, event.NewEvent(
			ChainReorgEventType,
			ChainReorgEvent{
				CommonAncestor: ancestor,
				Depth:          depth,
				OldBest:        c.best,
				NewBest:        newBest,
			},
		))
		c.best = newBest
	}
	c.finalized = hash
	events = append(events, event.NewEvent(
		BlockFinalizedEventType,
		BlockFinalizedEvent{
			Hash:   hash,
			Number: entry.number,
			Slot:   entry.slot,
		},
	))
	c.updateMetrics()
	c.mutex.Unlock()
	c.logger.Info(
		fmt.Sprintf("finalized block #%d", entry.number),
		"component", "chain",
		"hash", hash.String(),
	)
	c.publish(events)
	return nil
}

func (c *Chain) isAncestorOrSelf(base, desc block.Hash) (bool, error) {
	if base == desc {
		return true, nil
	}
	return c.isDescendantOf(base, desc)
}

// commonAncestor returns the last shared block of two forks and the number
// of blocks retracted from a
func (c *Chain) commonAncestor(a, b block.Hash) (block.Hash, uint64) {
	ea, eb := c.index[a], c.index[b]
	var depth uint64
	for ea.number > eb.number {
		a, ea = ea.parent, c.index[ea.parent]
		depth++
	}
	for eb.number > ea.number {
		b, eb = eb.parent, c.index[eb.parent]
	}
	for a != b {
		a, ea = ea.parent, c.index[ea.parent]
		b, eb = eb.parent, c.index[eb.parent]
		depth++
	}
	return a, depth
}

func (c *Chain) publish(events []event.Event) {
	if c.eventBus == nil {
		return
	}
	for _, evt := range events {
		c.eventBus.Publish(evt.Type, evt)
	}
}
