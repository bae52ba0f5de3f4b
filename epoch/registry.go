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

package epoch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/chain"
	"github.com/blinklabs-io/slotforge/database"
	"github.com/blinklabs-io/slotforge/event"
)

var registryKey = []byte("epoch/changes")

// AncestryQuery answers questions about block ancestry
type AncestryQuery interface {
	// BlockNumber returns the height of a known block
	BlockNumber(hash block.Hash) (uint64, error)
	// IsDescendantOf reports whether desc is a strict descendant of base
	IsDescendantOf(base, desc block.Hash) (bool, error)
}

type RegistryConfig struct {
	Logger       *slog.Logger
	Ancestry     AncestryQuery
	GenesisEpoch GenesisEpochFunc
	// DB persists the tree when set
	DB           *database.Database
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
}

// ViableEpoch is the epoch a child block at some slot would belong to
type ViableEpoch struct {
	*Epoch
	// Recorded is false when the epoch was synthesized from genesis or
	// derived from its predecessor. A block opening such an epoch records it.
	Recorded bool
}

type node struct {
	hash     block.Hash
	number   uint64
	parent   *block.Hash
	children []block.Hash
	epoch    *Epoch
}

// Registry is an arena of epochs keyed by the hash of the block that
// opened them. Ancestry is resolved through AncestryQuery.
type Registry struct {
	mu        sync.RWMutex
	config    RegistryConfig
	logger    *slog.Logger
	nodes     map[block.Hash]*node
	roots     []block.Hash
	subId     event.EventSubscriberId
	running   bool
	epochsGau prometheus.Gauge
}

// NewRegistry creates a registry, restoring any tree persisted in the database
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Ancestry == nil {
		return nil, errors.New("ancestry query is required")
	}
	r := &Registry{
		config: cfg,
		logger: cfg.Logger,
		nodes:  make(map[block.Hash]*node),
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.PromRegistry != nil {
		r.epochsGau = promauto.With(cfg.PromRegistry).NewGauge(
			prometheus.GaugeOpts{
				Name: "slotforge_epoch_tracked_epochs",
				Help: "epoch records held in the fork tree",
			},
		)
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Start subscribes to finality notifications to prune the tree
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.config.EventBus == nil {
		return nil
	}
	r.subId = r.config.EventBus.SubscribeFunc(
		chain.BlockFinalizedEventType,
		r.handleFinalized,
	)
	r.running = true
	return nil
}

func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	subId := r.subId
	r.mu.Unlock()
	// A handler may be waiting on r.mu, so unsubscribe without holding it
	r.config.EventBus.Unsubscribe(chain.BlockFinalizedEventType, subId)
}

func (r *Registry) handleFinalized(evt event.Event) {
	e, ok := evt.Data.(chain.BlockFinalizedEvent)
	if !ok {
		return
	}
	removed, err := r.Prune(e.Hash, e.Slot)
	if err != nil {
		r.logger.Warn(
			"failed to prune epoch tree",
			"component", "epoch",
			"finalized", e.Hash.String(),
			"error", err,
		)
		return
	}
	if removed > 0 {
		r.logger.Debug(
			fmt.Sprintf("pruned %d epoch records", removed),
			"component", "epoch",
			"finalized", e.Hash.String(),
		)
	}
}

// EpochForSlot returns the epoch governing slot on the fork ending at head
func (r *Registry) EpochForSlot(head block.Hash, slot uint64) (*Epoch, error) {
	v, err := r.EpochForChild(head, slot)
	if err != nil {
		return nil, err
	}
	return v.Epoch, nil
}

// EpochForChild returns the epoch a block at slot built on parent belongs to
func (r *Registry) EpochForChild(parent block.Hash, slot uint64) (*ViableEpoch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, err := r.config.Ancestry.BlockNumber(parent); err != nil {
		return nil, &ChainLookupError{Err: err}
	}
	n, err := r.findNode(parent, slot)
	if err != nil {
		return nil, err
	}
	if n != nil {
		if n.epoch.Contains(slot) {
			return &ViableEpoch{Epoch: n.epoch.Clone(), Recorded: true}, nil
		}
		return &ViableEpoch{Epoch: n.epoch.successorFor(slot)}, nil
	}
	if r.config.GenesisEpoch == nil {
		return nil, ErrNoEpochData
	}
	genesis, err := r.config.GenesisEpoch(slot)
	if err != nil {
		return nil, err
	}
	if slot < genesis.StartSlot {
		return nil, ErrNoEpochData
	}
	return &ViableEpoch{Epoch: genesis.successorFor(slot)}, nil
}

// findNode returns the deepest recorded epoch whose start block is head or
// one of its ancestors and which starts at or before slot
func (r *Registry) findNode(head block.Hash, slot uint64) (*node, error) {
	var found *node
	candidates := r.roots
	for {
		var next *node
		for _, h := range candidates {
			n := r.nodes[h]
			if n.epoch.StartSlot > slot {
				continue
			}
			ok, err := r.isAncestorOrSelf(n.hash, head)
			if err != nil {
				return nil, err
			}
			if ok {
				next = n
				break
			}
		}
		if next == nil {
			return found, nil
		}
		found = next
		candidates = next.children
	}
}

func (r *Registry) isAncestorOrSelf(base, desc block.Hash) (bool, error) {
	if base == desc {
		return true, nil
	}
	ok, err := r.config.Ancestry.IsDescendantOf(base, desc)
	if err != nil {
		return false, &ChainLookupError{Err: err}
	}
	return ok, nil
}

// ImportTransition records that the block hash (at height number, child of
// parent) opens epoch e on its fork
func (r *Registry) ImportTransition(
	hash block.Hash,
	number uint64,
	parent block.Hash,
	e Epoch,
) error {
	if err := e.Validate(); err != nil {
		return err
	}
	rec := e.Clone()
	rec.StartBlock = hash
	rec.StartNumber = number
	r.mu.Lock()
	if existing, ok := r.nodes[hash]; ok {
		r.mu.Unlock()
		if existing.epoch.Index == rec.Index &&
			existing.epoch.StartSlot == rec.StartSlot &&
			existing.epoch.Randomness == rec.Randomness {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrEpochConflict, hash.String())
	}
	parentNode, err := r.findNode(parent, rec.StartSlot)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	n := &node{
		hash:   hash,
		number: number,
		epoch:  rec,
	}
	r.insert(n, parentNode)
	persistErr := r.persist()
	r.updateMetrics()
	r.mu.Unlock()

	r.logger.Info(
		fmt.Sprintf("recorded epoch %d starting at slot %d", rec.Index, rec.StartSlot),
		"component", "epoch",
		"block", hash.String(),
		"block_number", number,
	)
	if r.config.EventBus != nil {
		r.config.EventBus.Publish(
			event.EpochTransitionEventType,
			event.NewEvent(
				event.EpochTransitionEventType,
				event.EpochTransitionEvent{
					StartBlock:  hash.Bytes(),
					StartNumber: number,
					Epoch:       rec.Index,
					StartSlot:   rec.StartSlot,
					Duration:    rec.Duration,
					Randomness:  rec.Randomness[:],
				},
			),
		)
	}
	return persistErr
}

func (r *Registry) insert(n *node, parent *node) {
	r.nodes[n.hash] = n
	if parent == nil {
		r.roots = append(r.roots, n.hash)
		return
	}
	p := parent.hash
	n.parent = &p
	parent.children = append(parent.children, n.hash)
}

// Prune drops every epoch record that the finalized block can no longer
// reach. The epoch governing the finalized block becomes the only root.
func (r *Registry) Prune(finalized block.Hash, slot uint64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep, err := r.findNode(finalized, slot)
	if err != nil {
		return 0, err
	}
	var (
		newRoots   []block.Hash
		candidates []block.Hash
	)
	if keep == nil {
		candidates = r.roots
	} else {
		newRoots = []block.Hash{keep.hash}
		candidates = keep.children
		keep.children = nil
	}
	var dropped []block.Hash
	for _, h := range candidates {
		// Records opened by descendants of the finalized block stay
		ok, err := r.isAncestorOrSelf(finalized, h)
		if err != nil {
			return 0, err
		}
		if !ok {
			dropped = append(dropped, h)
			continue
		}
		if keep == nil {
			newRoots = append(newRoots, h)
			r.nodes[h].parent = nil
		} else {
			keep.children = append(keep.children, h)
		}
	}
	if keep != nil {
		// Everything outside the kept subtree goes too
		for _, h := range r.roots {
			if h != keep.hash {
				dropped = append(dropped, h)
			}
		}
		if keep.parent != nil {
			p := r.nodes[*keep.parent]
			p.children = removeHash(p.children, keep.hash)
			keep.parent = nil
		}
	}
	removed := 0
	for _, h := range dropped {
		removed += r.removeSubtree(h)
	}
	r.roots = newRoots
	r.updateMetrics()
	if removed == 0 {
		return 0, nil
	}
	return removed, r.persist()
}

func (r *Registry) removeSubtree(h block.Hash) int {
	n, ok := r.nodes[h]
	if !ok {
		return 0
	}
	count := 1
	for _, c := range n.children {
		count += r.removeSubtree(c)
	}
	delete(r.nodes, h)
	return count
}

func removeHash(hashes []block.Hash, h block.Hash) []block.Hash {
	ret := hashes[:0]
	for _, v := range hashes {
		if v != h {
			ret = append(ret, v)
		}
	}
	return ret
}

// Len returns the number of recorded epochs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

func (r *Registry) updateMetrics() {
	if r.epochsGau != nil {
		r.epochsGau.Set(float64(len(r.nodes)))
	}
}

type persistedNode struct {
	cbor.StructAsArray
	Hash      block.Hash
	Number    uint64
	HasParent bool
	Parent    block.Hash
	Epoch     Epoch
}

// persist writes the tree in breadth-first order so parents precede children
func (r *Registry) persist() error {
	if r.config.DB == nil {
		return nil
	}
	records := make([]persistedNode, 0, len(r.nodes))
	queue := append([]block.Hash{}, r.roots...)
	for len(queue) > 0 {
		n := r.nodes[queue[0]]
		queue = queue[1:]
		rec := persistedNode{
			Hash:   n.hash,
			Number: n.number,
			Epoch:  *n.epoch,
		}
		if n.parent != nil {
			rec.HasParent = true
			rec.Parent = *n.parent
		}
		records = append(records, rec)
		queue = append(queue, n.children...)
	}
	data, err := cbor.Encode(records)
	if err != nil {
		return fmt.Errorf("encode epoch tree: %w", err)
	}
	if err := r.config.DB.Set(registryKey, data); err != nil {
		return fmt.Errorf("persist epoch tree: %w", err)
	}
	return nil
}

func (r *Registry) load() error {
	if r.config.DB == nil {
		return nil
	}
	data, err := r.config.DB.Get(registryKey)
	if err != nil {
		if errors.Is(err, database.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("load epoch tree: %w", err)
	}
	var records []persistedNode
	if _, err := cbor.Decode(data, &records); err != nil {
		return fmt.Errorf("decode epoch tree: %w", err)
	}
	for _, rec := range records {
		e := rec.Epoch
		n := &node{
			hash:   rec.Hash,
			number: rec.Number,
			epoch:  &e,
		}
		var parent *node
		if rec.HasParent {
			parent = r.nodes[rec.Parent]
		}
		r.insert(n, parent)
	}
	r.updateMetrics()
	r.logger.Debug(
		fmt.Sprintf("restored %d epoch records", len(records)),
		"component", "epoch",
	)
	return nil
}
