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
	"sync"

	"github.com/blinklabs-io/slotforge/block"
)

// defaultMaxTrackedSlots bounds the number of remembered forged slots.
// The oldest entry is evicted first.
const defaultMaxTrackedSlots = 100

// SlotTracker remembers which recent slots this node forged and the
// resulting block hashes
type SlotTracker struct {
	mu       sync.RWMutex
	forged   map[uint64]block.Hash
	order    []uint64 // insertion order for eviction
	maxSlots int
}

func NewSlotTracker() *SlotTracker {
	return NewSlotTrackerWithCapacity(defaultMaxTrackedSlots)
}

func NewSlotTrackerWithCapacity(maxSlots int) *SlotTracker {
	if maxSlots <= 0 {
		maxSlots = defaultMaxTrackedSlots
	}
	return &SlotTracker{
		forged:   make(map[uint64]block.Hash, maxSlots),
		order:    make([]uint64, 0, maxSlots),
		maxSlots: maxSlots,
	}
}

// RecordForgedBlock stores hash for slot, replacing any earlier record
func (st *SlotTracker) RecordForgedBlock(slot uint64, hash block.Hash) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.forged[slot]; exists {
		st.forged[slot] = hash
		return
	}
	if len(st.order) >= st.maxSlots {
		oldest := st.order[0]
		st.order = st.order[1:]
		delete(st.forged, oldest)
	}
	st.forged[slot] = hash
	st.order = append(st.order, slot)
}

// WasForgedByUs returns the hash forged for slot, if any
func (st *SlotTracker) WasForgedByUs(slot uint64) (block.Hash, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	hash, ok := st.forged[slot]
	return hash, ok
}

func (st *SlotTracker) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.forged)
}
