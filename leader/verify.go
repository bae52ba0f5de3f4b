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

package leader

import (
	"fmt"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/vrf"

	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/epoch"
)

var (
	ErrAuthorityOutOfRange = fmt.Errorf("%w: authority index out of range", consensus.ErrInvalidClaim)
	ErrAuthorityMismatch   = fmt.Errorf("%w: authority does not match epoch", consensus.ErrInvalidClaim)
	ErrBadVRFProof         = fmt.Errorf("%w: VRF proof does not verify", consensus.ErrInvalidClaim)
	ErrAboveThreshold      = fmt.Errorf("%w: VRF output above threshold", consensus.ErrInvalidClaim)
	ErrWrongSecondary      = fmt.Errorf("%w: authority is not the secondary author of the slot", consensus.ErrInvalidClaim)
	ErrSecondaryDisabled   = fmt.Errorf("%w: secondary slots are disabled", consensus.ErrInvalidClaim)
)

const (
	preDigestPrimary   = 1
	preDigestSecondary = 2
)

// PreDigest is the claim as carried in a block header
type PreDigest struct {
	cbor.StructAsArray
	Kind           uint8
	Slot           uint64
	AuthorityIndex uint32
	Output         []byte
	Proof          []byte
}

// EncodePreDigest serializes claim for slot into header bytes
func EncodePreDigest(slot uint64, claim Claim) ([]byte, error) {
	pd := PreDigest{
		Slot:           slot,
		AuthorityIndex: claim.AuthorityIndex(),
		Output:         []byte{},
		Proof:          []byte{},
	}
	switch c := claim.(type) {
	case *PrimaryClaim:
		pd.Kind = preDigestPrimary
		pd.Output = c.Output
		pd.Proof = c.Proof
	case *SecondaryClaim:
		pd.Kind = preDigestSecondary
	default:
		return nil, fmt.Errorf("unknown claim type %T", claim)
	}
	return cbor.Encode(&pd)
}

func DecodePreDigest(data []byte) (*PreDigest, error) {
	var pd PreDigest
	if _, err := cbor.Decode(data, &pd); err != nil {
		return nil, fmt.Errorf("decode pre-digest: %w", err)
	}
	if pd.Kind != preDigestPrimary && pd.Kind != preDigestSecondary {
		return nil, fmt.Errorf("%w: unknown pre-digest kind %d", consensus.ErrInvalidClaim, pd.Kind)
	}
	return &pd, nil
}

// Claim rebuilds the claim against the epoch it was made in
func (pd *PreDigest) Claim(e *epoch.Epoch) (Claim, error) {
	if int(pd.AuthorityIndex) >= len(e.Authorities) {
		return nil, ErrAuthorityOutOfRange
	}
	key := e.Authorities[pd.AuthorityIndex].ID
	if pd.Kind == preDigestSecondary {
		return &SecondaryClaim{Index: pd.AuthorityIndex, Key: key}, nil
	}
	return &PrimaryClaim{
		Index:     pd.AuthorityIndex,
		Key:       key,
		Threshold: PrimaryThreshold(e.C, e.Authorities, int(pd.AuthorityIndex)),
		Output:    pd.Output,
		Proof:     pd.Proof,
	}, nil
}

// VerifyClaim checks a claim the way any node re-verifying a block would
func VerifyClaim(slot uint64, e *epoch.Epoch, claim Claim) error {
	idx := int(claim.AuthorityIndex())
	if idx >= len(e.Authorities) {
		return ErrAuthorityOutOfRange
	}
	if e.Authorities[idx].ID != claim.Authority() {
		return ErrAuthorityMismatch
	}
	switch c := claim.(type) {
	case *PrimaryClaim:
		key := c.Key
		ok, err := vrf.Verify(key[:], c.Proof, c.Output, VRFInput(slot, e))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadVRFProof, err)
		}
		if !ok {
			return ErrBadVRFProof
		}
		if !belowThreshold(c.Output, PrimaryThreshold(e.C, e.Authorities, idx)) {
			return ErrAboveThreshold
		}
		return nil
	case *SecondaryClaim:
		if !e.SecondarySlots {
			return ErrSecondaryDisabled
		}
		if SecondaryAuthorIndex(slot, e) != c.Index {
			return ErrWrongSecondary
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown claim type %T", consensus.ErrInvalidClaim, claim)
	}
}
