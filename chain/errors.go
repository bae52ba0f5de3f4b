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

package chain

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
)

var (
	ErrFinalizedNotDescendant = errors.New(
		"block is not a descendant of the last finalized block",
	)
	ErrGenesisMismatch = errors.New(
		"stored genesis does not match configured genesis",
	)
)

// UnknownBlockError reports a lookup for a block the chain does not have
type UnknownBlockError struct {
	Hash block.Hash
}

func (e UnknownBlockError) Error() string {
	return fmt.Sprintf("unknown block %s", e.Hash.String())
}

func (e UnknownBlockError) Unwrap() error {
	return consensus.ErrUnknownBlock
}
