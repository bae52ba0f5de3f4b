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

// Package leader decides which local authority, if any, may author a slot
// and computes whole-epoch authorship schedules.
package leader

import (
	"bytes"

	"github.com/blinklabs-io/gouroboros/vrf"

	"github.com/blinklabs-io/slotforge/epoch"
)

// VRFSigner evaluates the VRF with one authority's secret key
type VRFSigner interface {
	Prove(alpha []byte) (proof []byte, output []byte, err error)
}

// KeyProvider gives access to the authority keys held by this node
type KeyProvider interface {
	VRFSigner(id epoch.AuthorityID) (VRFSigner, bool)
}

// Claim is evidence that an authority may author a slot. It is either a
// *PrimaryClaim or a *SecondaryClaim.
type Claim interface {
	AuthorityIndex() uint32
	Authority() epoch.AuthorityID
	isClaim()
}

// PrimaryClaim is won by a VRF output below the authority's threshold
type PrimaryClaim struct {
	Index     uint32
	Key       epoch.AuthorityID
	Threshold Uint128
	Output    []byte
	Proof     []byte
}

func (c *PrimaryClaim) AuthorityIndex() uint32       { return c.Index }
func (c *PrimaryClaim) Authority() epoch.AuthorityID { return c.Key }
func (*PrimaryClaim) isClaim()                       {}

// SecondaryClaim is the round-robin fallback author for a slot
type SecondaryClaim struct {
	Index uint32
	Key   epoch.AuthorityID
}

func (c *SecondaryClaim) AuthorityIndex() uint32       { return c.Index }
func (c *SecondaryClaim) Authority() epoch.AuthorityID { return c.Key }
func (*SecondaryClaim) isClaim()                       {}

// VRFInput builds the VRF transcript for a slot in an epoch
func VRFInput(slot uint64, e *epoch.Epoch) []byte {
	return vrf.MkInputVrf(int64(slot), e.Randomness[:]) // #nosec G115 -- slots stay far below 2^63
}

// ClaimSlot returns the claim a local key can make for slot, if any.
// Local keys are tried in epoch authority order and a primary claim from
// any of them wins over a secondary claim. The result depends only on the
// epoch, the slot and the keys.
func ClaimSlot(slot uint64, e *epoch.Epoch, keys KeyProvider) (Claim, bool) {
	if e == nil || len(e.Authorities) == 0 {
		return nil, false
	}
	if claim, ok := claimPrimary(slot, e, keys); ok {
		return claim, true
	}
	if !e.SecondarySlots {
		return nil, false
	}
	return claimSecondary(slot, e, keys)
}

func claimPrimary(slot uint64, e *epoch.Epoch, keys KeyProvider) (*PrimaryClaim, bool) {
	alpha := VRFInput(slot, e)
	for idx, auth := range e.Authorities {
		signer, ok := keys.VRFSigner(auth.ID)
		if !ok {
			continue
		}
		proof, output, err := signer.Prove(alpha)
		if err != nil {
			// A key that cannot prove cannot claim
			continue
		}
		threshold := PrimaryThreshold(e.C, e.Authorities, idx)
		if !belowThreshold(output, threshold) {
			continue
		}
		return &PrimaryClaim{
			Index:     uint32(idx), // #nosec G115 -- authority sets are small
			Key:       auth.ID,
			Threshold: threshold,
			Output:    bytes.Clone(output),
			Proof:     bytes.Clone(proof),
		}, true
	}
	return nil, false
}

// SecondaryAuthorIndex is the round-robin author of slot
func SecondaryAuthorIndex(slot uint64, e *epoch.Epoch) uint32 {
	return uint32(slot % uint64(len(e.Authorities))) // #nosec G115 -- bounded by the authority count
}

func claimSecondary(slot uint64, e *epoch.Epoch, keys KeyProvider) (*SecondaryClaim, bool) {
	idx := SecondaryAuthorIndex(slot, e)
	auth := e.Authorities[idx]
	if _, ok := keys.VRFSigner(auth.ID); !ok {
		return nil, false
	}
	return &SecondaryClaim{Index: idx, Key: auth.ID}, true
}
