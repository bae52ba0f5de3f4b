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

package mempool

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/chain"
	"github.com/blinklabs-io/slotforge/event"
)

// mockValidator rejects configured payloads
type mockValidator struct {
	mu      sync.Mutex
	reject  map[block.Hash]bool
	failAll bool
}

func newMockValidator() *mockValidator {
	return &mockValidator{reject: make(map[block.Hash]bool)}
}

func (v *mockValidator) ValidateTx(tx block.Transaction) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failAll || v.reject[tx.Hash()] {
		return errors.New("validation failed")
	}
	return nil
}

func (v *mockValidator) setFailAll(fail bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failAll = fail
}

func newTestMempool(t *testing.T, v TxValidator, capacity int64) (*Mempool, *event.EventBus) {
	t.Helper()
	bus := event.NewEventBus(nil, nil)
	m := NewMempool(MempoolConfig{
		Logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		EventBus:        bus,
		PromRegistry:    prometheus.NewRegistry(),
		Validator:       v,
		MempoolCapacity: capacity,
	})
	t.Cleanup(func() {
		m.Stop()
		bus.Stop()
	})
	return m, bus
}

func TestAddTransaction(t *testing.T) {
	m, bus := newTestMempool(t, newMockValidator(), 1024)
	_, addCh := bus.Subscribe(AddTransactionEventType)

	hash, err := m.AddTransaction([]byte("tx-1"))
	require.NoError(t, err)
	assert.Equal(t, block.NewTransaction([]byte("tx-1")).Hash(), hash)

	select {
	case evt := <-addCh:
		data, ok := evt.Data.(AddTransactionEvent)
		require.True(t, ok)
		assert.Equal(t, hash, data.Hash)
		assert.Equal(t, []byte("tx-1"), data.Body)
	case <-time.After(time.Second):
		t.Fatal("no add event")
	}

	tx, ok := m.GetTransaction(hash)
	require.True(t, ok)
	assert.Equal(t, []byte("tx-1"), tx.Tx.Payload)
	assert.Equal(t, PoolStatus{Ready: 1, Bytes: 4}, m.Status())
	assert.InDelta(t, 1, testutil.ToFloat64(m.metrics.txsInMempool), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.metrics.mempoolBytes), 0)
}

func TestAddTransactionDuplicate(t *testing.T) {
	m, _ := newTestMempool(t, nil, 1024)
	first, err := m.AddTransaction([]byte("dup"))
	require.NoError(t, err)
	before, _ := m.GetTransaction(first)
	time.Sleep(time.Millisecond)
	second, err := m.AddTransaction([]byte("dup"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.Status().Ready)
	after, _ := m.GetTransaction(first)
	assert.True(t, after.LastSeen.After(before.LastSeen))
	assert.InDelta(t, 1, testutil.ToFloat64(m.metrics.txsProcessedNum), 0)
}

func TestAddTransactionRejected(t *testing.T) {
	v := newMockValidator()
	m, _ := newTestMempool(t, v, 1024)
	_, err := m.AddTransaction(nil)
	require.ErrorIs(t, err, ErrEmptyTransaction)

	v.setFailAll(true)
	_, err = m.AddTransaction([]byte("bad"))
	require.Error(t, err)
	assert.Equal(t, 0, m.Status().Ready)
}

func TestMempoolFull(t *testing.T) {
	m, _ := newTestMempool(t, nil, 10)
	_, err := m.AddTransaction(bytes.Repeat([]byte{1}, 8))
	require.NoError(t, err)
	_, err = m.AddTransaction(bytes.Repeat([]byte{2}, 3))
	var fullErr *MempoolFullError
	require.ErrorAs(t, err, &fullErr)
	assert.Equal(t, 8, fullErr.CurrentSize)
	assert.Equal(t, 3, fullErr.TxSize)
	assert.Equal(t, int64(10), fullErr.Capacity)
	_, err = m.AddTransaction(bytes.Repeat([]byte{3}, 2))
	require.NoError(t, err)
}

func TestReadyOrder(t *testing.T) {
	m, _ := newTestMempool(t, nil, 1024)
	for _, p := range []string{"a", "b", "c"} {
		_, err := m.AddTransaction([]byte(p))
		require.NoError(t, err)
	}
	ready := m.Ready()
	require.Len(t, ready, 3)
	assert.Equal(t, []byte("a"), ready[0].Payload)
	assert.Equal(t, []byte("c"), ready[2].Payload)

	m.RemoveTransaction(ready[1].Hash())
	ready = m.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, []byte("c"), ready[1].Payload)
	assert.Equal(t, PoolStatus{Ready: 2, Bytes: 2}, m.Status())
}

func TestRemoveTransactions(t *testing.T) {
	m, bus := newTestMempool(t, nil, 1024)
	_, removeCh := bus.Subscribe(RemoveTransactionEventType)
	a, err := m.AddTransaction([]byte("a"))
	require.NoError(t, err)
	b, err := m.AddTransaction([]byte("b"))
	require.NoError(t, err)
	_, err = m.AddTransaction([]byte("c"))
	require.NoError(t, err)

	removed := m.RemoveTransactions([]block.Hash{a, b, {0xff}})
	assert.Equal(t, 2, removed)
	assert.Equal(t, PoolStatus{Ready: 1, Bytes: 1}, m.Status())
	// Already gone
	assert.Equal(t, 0, m.RemoveTransactions([]block.Hash{a}))

	for range 2 {
		select {
		case <-removeCh:
		case <-time.After(time.Second):
			t.Fatal("missing remove event")
		}
	}
}

func TestRemoveOnBlockImported(t *testing.T) {
	v := newMockValidator()
	m, bus := newTestMempool(t, v, 1024)
	_, removeCh := bus.Subscribe(RemoveTransactionEventType)
	included, err := m.AddTransaction([]byte("included"))
	require.NoError(t, err)
	stale, err := m.AddTransaction([]byte("stale"))
	require.NoError(t, err)
	kept, err := m.AddTransaction([]byte("kept"))
	require.NoError(t, err)

	v.mu.Lock()
	v.reject[stale] = true
	v.mu.Unlock()

	bus.Publish(
		chain.BlockImportedEventType,
		event.NewEvent(chain.BlockImportedEventType, chain.BlockImportedEvent{
			Number:    1,
			IsNewBest: true,
			TxHashes:  []block.Hash{included},
		}),
	)
	require.Eventually(t, func() bool {
		return m.Status().Ready == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, ok := m.GetTransaction(kept)
	assert.True(t, ok)

	seen := map[block.Hash]bool{}
	for range 2 {
		select {
		case evt := <-removeCh:
			seen[evt.Data.(RemoveTransactionEvent).Hash] = true
		case <-time.After(time.Second):
			t.Fatal("missing remove event")
		}
	}
	assert.True(t, seen[included])
	assert.True(t, seen[stale])
}

func TestConcurrentAdds(t *testing.T) {
	m, _ := newTestMempool(t, nil, 1<<20)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AddTransaction([]byte{byte(i), 0xee})
			assert.NoError(t, err)
			_ = m.Ready()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, m.Status().Ready)
	assert.Equal(t, 100, m.Status().Bytes)
}
