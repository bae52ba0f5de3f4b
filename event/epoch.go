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

// EpochTransitionEventType is the event type for newly recorded epochs
const EpochTransitionEventType = EventType("epoch.transition")

// EpochTransitionEvent is emitted when a fork crosses into a new epoch
type EpochTransitionEvent struct {
	// StartBlock is the hash of the first block of the new epoch on its fork
	StartBlock  []byte
	StartNumber uint64
	Epoch       uint64
	StartSlot   uint64
	Duration    uint64
	Randomness  []byte
}
