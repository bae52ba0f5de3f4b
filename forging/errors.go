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
	"errors"
	"fmt"

	"github.com/blinklabs-io/slotforge/block"
)

var (
	// ErrEmptyTransactionPool is returned when a block without
	// transactions was not asked for
	ErrEmptyTransactionPool = errors.New("transaction pool is empty")
	ErrEngineStopped        = errors.New("sealing engine is not running")
)

// BlockNotFoundError is returned when an explicit parent is unknown
type BlockNotFoundError struct {
	Hash block.Hash
	Err  error
}

func (e *BlockNotFoundError) Error() string {
	return fmt.Sprintf("block not found: %s", e.Hash.String())
}

func (e *BlockNotFoundError) Unwrap() error {
	return e.Err
}
