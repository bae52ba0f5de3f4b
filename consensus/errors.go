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

package consensus

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownBlock = errors.New("unknown block")
	// ErrInvalidClaim is a slot claim that fails verification
	ErrInvalidClaim = errors.New("invalid slot claim")
)

// Error is a consensus failure wrapping its underlying cause
type Error struct {
	Err error
}

func NewError(err error) *Error {
	return &Error{Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("consensus error: %s", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ImportResultError is returned when an import did not commit the block
type ImportResultError struct {
	Result ImportResultKind
}

func (e *ImportResultError) Error() string {
	return fmt.Sprintf("block import failed: %s", e.Result)
}

// Is matches any ImportResultError with the same result
func (e *ImportResultError) Is(target error) bool {
	t, ok := target.(*ImportResultError)
	return ok && t.Result == e.Result
}
