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
	"errors"

	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/forging"
	"github.com/blinklabs-io/slotforge/mempool"
)

// JSON-RPC 2.0 reserved codes, as returned by the go-ethereum RPC server
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Sealing engine codes
const (
	CodeImportFailed         = 1
	CodeBlockNotFound        = 2
	CodeEmptyTransactionPool = 3
	CodeConsensus            = 4
	CodeEngineOther          = 8
)

const (
	// CodeAuthorship is used for every babe_epochAuthorship failure
	CodeAuthorship = 1234
	CodeInvalidTx  = 1010
	CodePoolFull   = 1016
)

// Error is a JSON-RPC error object
// Error carries a JSON-RPC error code. The go-ethereum server picks up the
// code and data through ErrorCode and ErrorData.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) ErrorCode() int {
	return e.Code
}

func (e *Error) ErrorData() any {
	return e.Data
}

func newError(code int, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}

// engineError maps a sealing or finalization failure to its code
func engineError(err error) *Error {
	var (
		notFound  *forging.BlockNotFoundError
		importErr *consensus.ImportResultError
		consErr   *consensus.Error
	)
	switch {
	case errors.Is(err, forging.ErrEmptyTransactionPool):
		return newError(CodeEmptyTransactionPool, err)
	case errors.As(err, &notFound), errors.Is(err, consensus.ErrUnknownBlock):
		return newError(CodeBlockNotFound, err)
	case errors.As(err, &importErr):
		return newError(CodeImportFailed, err)
	case errors.As(err, &consErr):
		return newError(CodeConsensus, err)
	default:
		return newError(CodeEngineOther, err)
	}
}

func submitError(err error) *Error {
	var full *mempool.MempoolFullError
	if errors.As(err, &full) {
		return newError(CodePoolFull, err)
	}
	return newError(CodeInvalidTx, err)
}
