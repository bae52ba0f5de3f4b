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

package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/leader"
)

// HexBytes is a byte string encoded as 0x-prefixed hex
type HexBytes []byte

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(b))
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := decodeHex(s)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, errors.New("hex string must start with 0x")
	}
	return hex.DecodeString(s[2:])
}

func parseHash(s string) (block.Hash, error) {
	var hash block.Hash
	b, err := decodeHex(s)
	if err != nil {
		return hash, err
	}
	if len(b) != len(hash) {
		return hash, fmt.Errorf("invalid hash length: expected %d bytes, got %d", len(hash), len(b))
	}
	copy(hash[:], b)
	return hash, nil
}

// HashParam is a 0x-prefixed 32-byte block hash argument
type HashParam block.Hash

func (h *HashParam) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	hash, err := parseHash(s)
	if err != nil {
		return err
	}
	*h = HashParam(hash)
	return nil
}

func formatHash(h block.Hash) string {
	return "0x" + hex.EncodeToString(h.Bytes())
}

// SlotAuthorshipResponse is one entry of babe_epochAuthorship
type SlotAuthorshipResponse struct {
	SlotNumber uint64        `json:"slot_number"`
	Claim      ClaimResponse `json:"claim"`
}

// ClaimResponse holds exactly one of its fields
type ClaimResponse struct {
	Primary   *PrimaryClaimResponse   `json:"Primary,omitempty"`
	Secondary *SecondaryClaimResponse `json:"Secondary,omitempty"`
}

type PrimaryClaimResponse struct {
	Threshold leader.Uint128 `json:"threshold"`
	Key       HexBytes       `json:"key"`
	Output    HexBytes       `json:"output"`
	Proof     HexBytes       `json:"proof"`
}

type SecondaryClaimResponse struct {
	AuthorityIndex uint32 `json:"authority_index"`
}

func newClaimResponse(claim leader.Claim) (ClaimResponse, error) {
	switch c := claim.(type) {
	case *leader.PrimaryClaim:
		return ClaimResponse{
			Primary: &PrimaryClaimResponse{
				Threshold: c.Threshold,
				Key:       HexBytes(c.Key[:]),
				Output:    HexBytes(c.Output),
				Proof:     HexBytes(c.Proof),
			},
		}, nil
	case *leader.SecondaryClaim:
		return ClaimResponse{
			Secondary: &SecondaryClaimResponse{AuthorityIndex: c.Index},
		}, nil
	default:
		return ClaimResponse{}, fmt.Errorf("unknown claim type %T", claim)
	}
}

// CreatedBlockResponse is returned by engine_createBlock
type CreatedBlockResponse struct {
	Hash string                `json:"hash"`
	Aux  consensus.ImportedAux `json:"aux"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	IsHealthy bool      `json:"is_healthy"`
	Best      *HeadInfo `json:"best,omitempty"`
	Finalized string    `json:"finalized,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type HeadInfo struct {
	Hash   string `json:"hash"`
	Number uint64 `json:"number"`
	Slot   uint64 `json:"slot"`
}
