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

package epoch

import (
	"errors"
	"fmt"
)

var (
	ErrNoEpochData   = errors.New("no epoch data for slot")
	ErrEpochConflict = errors.New("a different epoch is already recorded for block")
	ErrInvalidEpoch  = errors.New(
		"epoch needs a non-zero duration, at least one authority and c in [0, 1]",
	)
)

// ChainLookupError wraps a failure to resolve block ancestry
type ChainLookupError struct {
	Err error
}

func (e *ChainLookupError) Error() string {
	return fmt.Sprintf("chain lookup failed: %s", e.Err)
}

func (e *ChainLookupError) Unwrap() error {
	return e.Err
}
