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

// Package epoch tracks epochs per fork. Each epoch is recorded against the
// block that opened it, and lookups resolve the epoch governing a slot on a
// given fork by walking block ancestry.
package epoch

import (
	"encoding/binary"
	"encoding/hex"
	"slices"

	"github.com/blinklabs-io/gouroboros/cbor"
	"golang.org/x/crypto/blake2b"

	"github.com/blinklabs-io/slotforge/block"
)

// AuthorityID is an authority's VRF verification key
type AuthorityID [32]byte

func (a AuthorityID) String() string {
	return hex.EncodeToString(a[:])
}

type Authority struct {
	cbor.StructAsArray
	ID     AuthorityID
	Weight uint64
}

// Epoch is a contiguous range of slots with a fixed authority set and
// randomness
type Epoch struct {
	cbor.StructAsArray
	// StartBlock is the first block of the epoch on its fork. It is the
	// zero hash for epochs that no block has opened yet.
	StartBlock  block.Hash
	StartNumber uint64
	Index       uint64
	StartSlot   uint64
	Duration    uint64
	Authorities []Authority
	Randomness  [32]byte
	// C is the probability of a slot having a primary author
	C Ratio
	// SecondarySlots enables round-robin secondary claims
	SecondarySlots bool
}

// Ratio is a fraction, used for the primary slot probability
type Ratio struct {
	cbor.StructAsArray
	Numerator   uint64
	Denominator uint64
}

func (r Ratio) Float64() float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}

// EndSlot is the first slot after the epoch
func (e *Epoch) EndSlot() uint64 {
	return e.StartSlot + e.Duration
}

func (e *Epoch) Contains(slot uint64) bool {
	return slot >= e.StartSlot && slot < e.EndSlot()
}

// TotalWeight sums the authority weights
func (e *Epoch) TotalWeight() uint64 {
	var total uint64
	for _, a := range e.Authorities {
		total += a.Weight
	}
	return total
}

func (e *Epoch) Clone() *Epoch {
	ret := *e
	ret.Authorities = slices.Clone(e.Authorities)
	return &ret
}

// Successor derives the epoch that follows e when no block has recorded
// one. The authority set carries over and the randomness is
// blake2b-256(randomness || index), so every fork crossing the boundary
// from e derives the same epoch.
//
// The hash chain does not mix in any block VRF outputs, so anyone holding
// e can compute every later derived schedule in advance. This is a
// simplification: a chain that needs unpredictable randomness must record
// each epoch through Registry.ImportTransition with randomness it gathered
// itself, and recorded epochs always take precedence over derived ones.
func (e *Epoch) Successor() *Epoch {
	next := e.Clone()
	next.Index = e.Index + 1
	next.StartSlot = e.EndSlot()
	next.StartBlock = block.ZeroHash
	next.StartNumber = 0
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], next.Index)
	h, _ := blake2b.New256(nil)
	h.Write(e.Randomness[:])
	h.Write(idx[:])
	copy(next.Randomness[:], h.Sum(nil))
	return next
}

// successorFor walks forward from e to the epoch containing slot
func (e *Epoch) successorFor(slot uint64) *Epoch {
	cur := e
	for slot >= cur.EndSlot() {
		cur = cur.Successor()
	}
	return cur
}

// Validate checks that e can govern slots
func (e *Epoch) Validate() error {
	if e.Duration == 0 {
		return ErrInvalidEpoch
	}
	if len(e.Authorities) == 0 {
		return ErrInvalidEpoch
	}
	// c is a probability
	if e.C.Denominator == 0 || e.C.Numerator > e.C.Denominator {
		return ErrInvalidEpoch
	}
	return nil
}

// GenesisEpochFunc synthesizes the genesis epoch for a slot
type GenesisEpochFunc func(slot uint64) (*Epoch, error)

// FixedGenesis returns a GenesisEpochFunc that always yields a copy of e
func FixedGenesis(e Epoch) GenesisEpochFunc {
	return func(uint64) (*Epoch, error) {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		return e.Clone(), nil
	}
}
