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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gethRPC "github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/epoch"
	"github.com/blinklabs-io/slotforge/forging"
	"github.com/blinklabs-io/slotforge/leader"
	"github.com/blinklabs-io/slotforge/mempool"
)

type mockAuthorship struct {
	slots []leader.SlotAuthorship
	err   error
}

func (m *mockAuthorship) EpochAuthorship(context.Context) ([]leader.SlotAuthorship, error) {
	return m.slots, m.err
}

type mockEngine struct {
	created     forging.CreatedBlock
	sealErr     error
	finalizeErr error

	createEmpty bool
	finalize    bool
	parent      *block.Hash
	finalized   block.Hash
}

func (m *mockEngine) SealNewBlock(
	_ context.Context,
	createEmpty bool,
	finalize bool,
	parent *block.Hash,
) (forging.CreatedBlock, error) {
	m.createEmpty = createEmpty
	m.finalize = finalize
	m.parent = parent
	return m.created, m.sealErr
}

func (m *mockEngine) FinalizeBlock(_ context.Context, hash block.Hash) error {
	m.finalized = hash
	return m.finalizeErr
}

type mockChain struct {
	best      *block.Header
	finalized block.Hash
	err       error
}

func (m *mockChain) BestChain() (*block.Header, error) {
	return m.best, m.err
}

func (m *mockChain) FinalizedHash() block.Hash {
	return m.finalized
}

type mockPool struct {
	payloads [][]byte
	err      error
}

func (m *mockPool) AddTransaction(payload []byte) (block.Hash, error) {
	if m.err != nil {
		return block.Hash{}, m.err
	}
	m.payloads = append(m.payloads, payload)
	return block.NewTransaction(payload).Hash(), nil
}

type testServer struct {
	*Server
	authorship *mockAuthorship
	engine     *mockEngine
	chain      *mockChain
	pool       *mockPool
}

func newTestServer(t *testing.T, withEngine bool) *testServer {
	t.Helper()
	ts := &testServer{
		authorship: &mockAuthorship{},
		engine:     &mockEngine{},
		chain:      &mockChain{best: &block.Header{Number: 3, Slot: 9}},
		pool:       &mockPool{},
	}
	cfg := Config{
		ListenAddress: "127.0.0.1:0",
		Chain:         ts.chain,
		Authorship:    ts.authorship,
		Pool:          ts.pool,
		PromRegistry:  prometheus.NewRegistry(),
	}
	if withEngine {
		cfg.Engine = ts.engine
	}
	s, err := New(cfg)
	require.NoError(t, err)
	ts.Server = s
	return ts
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func (ts *testServer) post(t *testing.T, body string) (int, testResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	var resp testResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func (ts *testServer) call(t *testing.T, method string, params string) testResponse {
	t.Helper()
	if params == "" {
		params = "[]"
	}
	code, resp := ts.post(
		t,
		fmt.Sprintf(`{"jsonrpc":"2.0","id":7,"method":%q,"params":%s}`, method, params),
	)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.JSONEq(t, "7", string(resp.ID))
	return resp
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Chain: &mockChain{}})
	require.Error(t, err)
}

func TestEpochAuthorship(t *testing.T) {
	ts := newTestServer(t, false)
	key := epoch.AuthorityID{0xab}
	ts.authorship.slots = []leader.SlotAuthorship{
		{
			Slot: 10,
			Claim: &leader.PrimaryClaim{
				Index:     0,
				Key:       key,
				Threshold: leader.Uint128{Lo: 5},
				Output:    []byte{0x01, 0x02},
				Proof:     []byte{0x03},
			},
		},
		{
			Slot:  11,
			Claim: &leader.SecondaryClaim{Index: 2, Key: key},
		},
	}

	resp := ts.call(t, "babe_epochAuthorship", "")
	require.Nil(t, resp.Error)
	expected := fmt.Sprintf(`[
		{"slot_number": 10, "claim": {"Primary": {
			"threshold": 5,
			"key": "0x%x",
			"output": "0x0102",
			"proof": "0x03"
		}}},
		{"slot_number": 11, "claim": {"Secondary": {"authority_index": 2}}}
	]`, key[:])
	assert.JSONEq(t, expected, string(resp.Result))
}

func TestEpochAuthorshipEmpty(t *testing.T) {
	ts := newTestServer(t, false)
	resp := ts.call(t, "babe_epochAuthorship", "")
	require.Nil(t, resp.Error)
	assert.JSONEq(t, "[]", string(resp.Result))
}

func TestEpochAuthorshipError(t *testing.T) {
	ts := newTestServer(t, false)
	ts.authorship.err = consensus.NewError(epoch.ErrNoEpochData)

	resp := ts.call(t, "babe_epochAuthorship", "")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeAuthorship, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, epoch.ErrNoEpochData.Error())
}

func TestCreateBlock(t *testing.T) {
	ts := newTestServer(t, true)
	ts.engine.created = forging.CreatedBlock{
		Hash: block.Hash{0x01},
		Aux:  consensus.ImportedAux{IsNewBest: true, Finalized: true},
	}

	resp := ts.call(t, "engine_createBlock", "[true, true, null]")
	require.Nil(t, resp.Error)
	var created CreatedBlockResponse
	require.NoError(t, json.Unmarshal(resp.Result, &created))
	assert.Equal(t, formatHash(block.Hash{0x01}), created.Hash)
	assert.True(t, created.Aux.IsNewBest)
	assert.True(t, created.Aux.Finalized)
	assert.True(t, ts.engine.createEmpty)
	assert.True(t, ts.engine.finalize)
	assert.Nil(t, ts.engine.parent)
}

func TestCreateBlockWithParent(t *testing.T) {
	ts := newTestServer(t, true)
	parent := block.Hash{0xaa, 0xbb}

	resp := ts.call(t, "engine_createBlock", fmt.Sprintf(`[false, false, %q]`, formatHash(parent)))
	require.Nil(t, resp.Error)
	require.NotNil(t, ts.engine.parent)
	assert.Equal(t, parent, *ts.engine.parent)
	assert.False(t, ts.engine.createEmpty)
}

func TestCreateBlockInvalidParams(t *testing.T) {
	ts := newTestServer(t, true)
	for _, params := range []string{
		`[true]`,
		`["yes", true]`,
		`[true, true, "0x1234"]`,
		`[true, true, "abcd"]`,
		`{"create_empty": true}`,
	} {
		resp := ts.call(t, "engine_createBlock", params)
		require.NotNil(t, resp.Error, params)
		assert.Equal(t, CodeInvalidParams, resp.Error.Code, params)
	}
}

func TestCreateBlockErrorCodes(t *testing.T) {
	testDefs := []struct {
		name string
		err  error
		code int
	}{
		{"empty pool", forging.ErrEmptyTransactionPool, CodeEmptyTransactionPool},
		{"parent not found", &forging.BlockNotFoundError{Hash: block.Hash{0x01}}, CodeBlockNotFound},
		{"unknown block", fmt.Errorf("lookup: %w", consensus.ErrUnknownBlock), CodeBlockNotFound},
		{"import rejected", &consensus.ImportResultError{Result: consensus.ImportResultKnownBad}, CodeImportFailed},
		{"consensus", consensus.NewError(consensus.ErrInvalidClaim), CodeConsensus},
		{"proposer", errors.New("failed to initialize proposer: no state"), CodeEngineOther},
		{"stopped", forging.ErrEngineStopped, CodeEngineOther},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			ts := newTestServer(t, true)
			ts.engine.sealErr = testDef.err
			resp := ts.call(t, "engine_createBlock", "[false, false]")
			require.NotNil(t, resp.Error)
			assert.Equal(t, testDef.code, resp.Error.Code)
			assert.Equal(t, testDef.err.Error(), resp.Error.Message)
		})
	}
}

func TestFinalizeBlock(t *testing.T) {
	ts := newTestServer(t, true)
	hash := block.Hash{0x42}

	resp := ts.call(t, "engine_finalizeBlock", fmt.Sprintf(`[%q]`, formatHash(hash)))
	require.Nil(t, resp.Error)
	assert.JSONEq(t, "true", string(resp.Result))
	assert.Equal(t, hash, ts.engine.finalized)

	ts.engine.finalizeErr = fmt.Errorf("unknown block: %w", consensus.ErrUnknownBlock)
	resp = ts.call(t, "engine_finalizeBlock", fmt.Sprintf(`[%q]`, formatHash(hash)))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeBlockNotFound, resp.Error.Code)

	resp = ts.call(t, "engine_finalizeBlock", "[]")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestEngineMethodsRequireEngine(t *testing.T) {
	ts := newTestServer(t, false)
	resp := ts.call(t, "engine_createBlock", "[true, false]")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestSubmitExtrinsic(t *testing.T) {
	ts := newTestServer(t, false)

	resp := ts.call(t, "author_submitExtrinsic", `["0xcafe"]`)
	require.Nil(t, resp.Error)
	var hash string
	require.NoError(t, json.Unmarshal(resp.Result, &hash))
	assert.Equal(t, formatHash(block.NewTransaction([]byte{0xca, 0xfe}).Hash()), hash)
	require.Len(t, ts.pool.payloads, 1)

	ts.pool.err = &mempool.MempoolFullError{Capacity: 1}
	resp = ts.call(t, "author_submitExtrinsic", `["0xcafe"]`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodePoolFull, resp.Error.Code)

	ts.pool.err = mempool.ErrEmptyTransaction
	resp = ts.call(t, "author_submitExtrinsic", `["0x"]`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidTx, resp.Error.Code)

	resp = ts.call(t, "author_submitExtrinsic", `["cafe"]`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestProtocolErrors(t *testing.T) {
	ts := newTestServer(t, true)
	testDefs := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, CodeParseError},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"chain_getBlock"}`, CodeMethodNotFound},
		{"too many params", `{"jsonrpc":"2.0","id":1,"method":"engine_createBlock","params":[true,true,null,1]}`, CodeInvalidParams},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			code, resp := ts.post(t, testDef.body)
			require.Equal(t, http.StatusOK, code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, testDef.code, resp.Error.Code)
		})
	}
}

func TestBatchRequest(t *testing.T) {
	ts := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`[
		{"jsonrpc":"2.0","id":1,"method":"babe_epochAuthorship","params":[]},
		{"jsonrpc":"2.0","id":2,"method":"engine_finalizeBlock","params":[]}
	]`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resps []testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resps))
	require.Len(t, resps, 2)
	byID := make(map[string]testResponse)
	for _, resp := range resps {
		byID[string(resp.ID)] = resp
	}
	assert.Nil(t, byID["1"].Error)
	assert.JSONEq(t, "[]", string(byID["1"].Result))
	require.NotNil(t, byID["2"].Error)
	assert.Equal(t, CodeInvalidParams, byID["2"].Error.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	ts.chain.finalized = block.Hash{0x09}

	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.True(t, health.IsHealthy)
	require.NotNil(t, health.Best)
	assert.Equal(t, formatHash(ts.chain.best.Hash()), health.Best.Hash)
	assert.Equal(t, uint64(3), health.Best.Number)
	assert.Equal(t, uint64(9), health.Best.Slot)
	assert.Equal(t, formatHash(block.Hash{0x09}), health.Finalized)

	ts.chain.err = errors.New("database is closed")
	rec = httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartStop(t *testing.T) {
	ts := newTestServer(t, false)
	require.NoError(t, ts.Start(t.Context()))
	require.Error(t, ts.Start(t.Context()))
	addr := ts.Addr()
	require.NotNil(t, addr)

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.Stop(stopCtx))
	assert.Nil(t, ts.Addr())
	require.NoError(t, ts.Stop(stopCtx))
}

func TestClientRoundTrip(t *testing.T) {
	ts := newTestServer(t, true)
	ts.engine.created = forging.CreatedBlock{
		Hash: block.Hash{0x05},
		Aux:  consensus.ImportedAux{IsNewBest: true},
	}
	ts.engine.finalizeErr = fmt.Errorf("unknown block: %w", consensus.ErrUnknownBlock)
	require.NoError(t, ts.Start(t.Context()))
	t.Cleanup(func() {
		//nolint:errcheck
		ts.Stop(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := gethRPC.DialContext(ctx, "http://"+ts.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var created CreatedBlockResponse
	require.NoError(t, client.CallContext(ctx, &created, "engine_createBlock", true, false, nil))
	assert.Equal(t, formatHash(block.Hash{0x05}), created.Hash)
	assert.True(t, created.Aux.IsNewBest)

	// Error codes reach the client
	var ok bool
	err = client.CallContext(ctx, &ok, "engine_finalizeBlock", formatHash(block.Hash{0x01}))
	var rpcErr gethRPC.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeBlockNotFound, rpcErr.ErrorCode())
	assert.Contains(t, rpcErr.Error(), consensus.ErrUnknownBlock.Error())
}

func TestStartAfterStop(t *testing.T) {
	ts := newTestServer(t, false)
	require.NoError(t, ts.Start(t.Context()))
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.Stop(stopCtx))
	require.Error(t, ts.Start(t.Context()))
}
