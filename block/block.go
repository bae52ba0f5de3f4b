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

// Package block defines the header, block and transaction types produced
// and imported by the node, along with their CBOR encoding and hashes.
package block

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/gouroboros/cbor"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
)

// Hash identifies blocks and transactions.
type Hash = lcommon.Blake2b256

// ZeroHash is the parent hash of the genesis block.
var ZeroHash Hash

var ErrInvalidExtrinsicsRoot = errors.New("extrinsics root does not match body")

// Transaction is an opaque transaction payload.
type Transaction struct {
	cbor.StructAsArray
	Payload []byte
}

func NewTransaction(payload []byte) Transaction {
	return Transaction{Payload: payload}
}

func (t Transaction) Hash() Hash {
	return lcommon.Blake2b256Hash(t.Payload)
}

// Header is the sealed portion of a block.
type Header struct {
	cbor.StructAsArray
	ParentHash     Hash
	Number         uint64
	Slot           uint64
	Timestamp      uint64 // milliseconds since the unix epoch
	ExtrinsicsRoot Hash
	// PreDigest holds the encoded slot claim. It is empty for blocks sealed
	// by manual or instant sealing.
	PreDigest []byte
}

// Hash returns the blake2b-256 hash of the header's CBOR encoding.
func (h *Header) Hash() Hash {
	data, err := cbor.Encode(h)
	if err != nil {
		// Header fields are all plain values, so encoding cannot fail
		panic(fmt.Sprintf("encode header: %s", err))
	}
	return lcommon.Blake2b256Hash(data)
}

func (h *Header) IsGenesis() bool {
	return h.Number == 0
}

// Block is a header and its body.
type Block struct {
	cbor.StructAsArray
	Header       Header
	Transactions []Transaction
}

// New assembles a block and fills in the extrinsics root.
func New(header Header, txs []Transaction) *Block {
	if txs == nil {
		// Use an empty slice so the body encodes as an empty CBOR array
		txs = []Transaction{}
	}
	header.ExtrinsicsRoot = ExtrinsicsRoot(txs)
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// Verify checks that the header commits to the body.
func (b *Block) Verify() error {
	if ExtrinsicsRoot(b.Transactions) != b.Header.ExtrinsicsRoot {
		return ErrInvalidExtrinsicsRoot
	}
	return nil
}

func (b *Block) Encode() ([]byte, error) {
	return cbor.Encode(b)
}

func Decode(data []byte) (*Block, error) {
	var b Block
	if _, err := cbor.Decode(data, &b); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if b.Transactions == nil {
		b.Transactions = []Transaction{}
	}
	return &b, nil
}

// ExtrinsicsRoot hashes the concatenated transaction hashes.
func ExtrinsicsRoot(txs []Transaction) Hash {
	buf := make([]byte, 0, len(txs)*len(Hash{}))
	for _, tx := range txs {
		h := tx.Hash()
		buf = append(buf, h[:]...)
	}
	return lcommon.Blake2b256Hash(buf)
}

// Genesis builds the genesis block for the given start timestamp.
func Genesis(timestamp uint64) *Block {
	return New(
		Header{
			ParentHash: ZeroHash,
			Number:     0,
			Slot:       0,
			Timestamp:  timestamp,
		},
		nil,
	)
}
