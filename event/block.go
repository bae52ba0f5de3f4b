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

package event

import "time"

// BlockSealedEventType is the event type for blocks produced by this node
const BlockSealedEventType = EventType("block.sealed")

// BlockSealedEvent is emitted after a locally produced block was imported
type BlockSealedEvent struct {
	BlockHash   []byte
	Slot        uint64
	BlockNumber uint64
	TxCount     uint
	// Claimed is true for blocks produced from a slot claim rather than a
	// manual or instant seal command
	Claimed   bool
	Finalized bool
	Timestamp time.Time
}
