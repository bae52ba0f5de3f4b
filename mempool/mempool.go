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

// Package mempool holds transactions waiting to be included in a block.
package mempool

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/chain"
	"github.com/blinklabs-io/slotforge/event"
)

const (
	AddTransactionEventType    event.EventType = "mempool.add_tx"
	RemoveTransactionEventType event.EventType = "mempool.remove_tx"
)

const DefaultMempoolCapacity = 4 * 1024 * 1024

var ErrEmptyTransaction = errors.New("empty transaction")

type AddTransactionEvent struct {
	Hash block.Hash
	Body []byte
}

type RemoveTransactionEvent struct {
	Hash block.Hash
}

type MempoolTransaction struct {
	LastSeen time.Time
	Hash     block.Hash
	Tx       block.Transaction
}

// PoolStatus is a point-in-time view of the pool
type PoolStatus struct {
	Ready int
	Bytes int
}

// TxValidator checks a transaction before it is admitted and again after
// each imported block
type TxValidator interface {
	ValidateTx(tx block.Transaction) error
}

type MempoolConfig struct {
	PromRegistry    prometheus.Registerer
	Validator       TxValidator
	Logger          *slog.Logger
	EventBus        *event.EventBus
	MempoolCapacity int64
}

type Mempool struct {
	config  MempoolConfig
	metrics struct {
		txsProcessedNum prometheus.Counter
		txsInMempool    prometheus.Gauge
		mempoolBytes    prometheus.Gauge
	}
	validator    TxValidator
	logger       *slog.Logger
	eventBus     *event.EventBus
	chainSubId   event.EventSubscriberId
	transactions []*MempoolTransaction
	totalBytes   int
	sync.RWMutex
}

type MempoolFullError struct {
	CurrentSize int
	TxSize      int
	Capacity    int64
}

func (e *MempoolFullError) Error() string {
	return fmt.Sprintf(
		"mempool full: current size=%d bytes, tx size=%d bytes, capacity=%d bytes",
		e.CurrentSize,
		e.TxSize,
		e.Capacity,
	)
}

func NewMempool(config MempoolConfig) *Mempool {
	if config.MempoolCapacity <= 0 {
		config.MempoolCapacity = DefaultMempoolCapacity
	}
	m := &Mempool{
		eventBus:  config.EventBus,
		validator: config.Validator,
		config:    config,
	}
	if config.Logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		m.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	m.metrics.txsProcessedNum = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "slotforge_mempool_txs_processed_total",
			Help: "total transactions processed",
		},
	)
	m.metrics.txsInMempool = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "slotforge_mempool_txs",
		Help: "current count of mempool transactions",
	})
	m.metrics.mempoolBytes = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "slotforge_mempool_bytes",
		Help: "current size of mempool transactions in bytes",
	})
	if m.eventBus != nil {
		m.chainSubId = m.eventBus.SubscribeFunc(
			chain.BlockImportedEventType,
			m.handleBlockImported,
		)
	}
	return m
}

// Stop detaches the pool from chain events
func (m *Mempool) Stop() {
	if m.eventBus != nil {
		m.eventBus.Unsubscribe(chain.BlockImportedEventType, m.chainSubId)
	}
}

// handleBlockImported drops included transactions and re-validates what is
// left when the block became the new best
func (m *Mempool) handleBlockImported(evt event.Event) {
	e, ok := evt.Data.(chain.BlockImportedEvent)
	if !ok {
		return
	}
	var removed []block.Hash
	m.Lock()
	for _, txHash := range e.TxHashes {
		if m.removeTransaction(txHash) {
			removed = append(removed, txHash)
		}
	}
	if e.IsNewBest && m.validator != nil {
		// Iterate backward so deletes don't shift unvisited indexes
		for i := len(m.transactions) - 1; i >= 0; i-- {
			tx := m.transactions[i]
			if err := m.validator.ValidateTx(tx.Tx); err != nil {
				m.removeTransactionByIndex(i)
				removed = append(removed, tx.Hash)
				m.logger.Debug(
					"removed transaction after re-validation failure",
					"component", "mempool",
					"tx_hash", tx.Hash.String(),
					"error", err,
				)
			}
		}
	}
	m.Unlock()
	if len(removed) > 0 {
		m.logger.Debug(
			fmt.Sprintf("removed %d transactions after block import", len(removed)),
			"component", "mempool",
			"block_hash", e.Hash.String(),
		)
	}
	m.publishRemoved(removed)
}

// AddTransaction admits a transaction payload and returns its hash. Adding
// a transaction that is already pooled refreshes it and is not an error.
func (m *Mempool) AddTransaction(payload []byte) (block.Hash, error) {
	if len(payload) == 0 {
		return block.Hash{}, ErrEmptyTransaction
	}
	tx := block.NewTransaction(payload)
	txHash := tx.Hash()
	if m.validator != nil {
		if err := m.validator.ValidateTx(tx); err != nil {
			return txHash, err
		}
	}
	m.Lock()
	if existing := m.getTransaction(txHash); existing != nil {
		existing.LastSeen = time.Now()
		m.Unlock()
		m.logger.Debug(
			"updated last seen for transaction",
			"component", "mempool",
			"tx_hash", txHash.String(),
		)
		return txHash, nil
	}
	if m.totalBytes+len(payload) > int(m.config.MempoolCapacity) {
		current := m.totalBytes
		m.Unlock()
		return txHash, &MempoolFullError{
			CurrentSize: current,
			TxSize:      len(payload),
			Capacity:    m.config.MempoolCapacity,
		}
	}
	m.transactions = append(m.transactions, &MempoolTransaction{
		Hash:     txHash,
		Tx:       tx,
		LastSeen: time.Now(),
	})
	m.totalBytes += len(payload)
	m.metrics.txsProcessedNum.Inc()
	m.metrics.txsInMempool.Inc()
	m.metrics.mempoolBytes.Add(float64(len(payload)))
	m.Unlock()
	m.logger.Debug(
		"added transaction",
		"component", "mempool",
		"tx_hash", txHash.String(),
	)
	// Published outside the lock so handlers may read the pool
	if m.eventBus != nil {
		m.eventBus.Publish(
			AddTransactionEventType,
			event.NewEvent(
				AddTransactionEventType,
				AddTransactionEvent{
					Hash: txHash,
					Body: payload,
				},
			),
		)
	}
	return txHash, nil
}

func (m *Mempool) GetTransaction(txHash block.Hash) (MempoolTransaction, bool) {
	m.RLock()
	defer m.RUnlock()
	ret := m.getTransaction(txHash)
	if ret == nil {
		return MempoolTransaction{}, false
	}
	return *ret, true
}

func (m *Mempool) Transactions() []MempoolTransaction {
	m.RLock()
	defer m.RUnlock()
	ret := make([]MempoolTransaction, len(m.transactions))
	for i := range m.transactions {
		ret[i] = *m.transactions[i]
	}
	return ret
}

// Ready returns the transactions eligible for a block, oldest first
func (m *Mempool) Ready() []block.Transaction {
	m.RLock()
	defer m.RUnlock()
	ret := make([]block.Transaction, len(m.transactions))
	for i, tx := range m.transactions {
		ret[i] = tx.Tx
	}
	return ret
}

func (m *Mempool) Status() PoolStatus {
	m.RLock()
	defer m.RUnlock()
	return PoolStatus{
		Ready: len(m.transactions),
		Bytes: m.totalBytes,
	}
}

func (m *Mempool) getTransaction(txHash block.Hash) *MempoolTransaction {
	for _, tx := range m.transactions {
		if tx.Hash == txHash {
			return tx
		}
	}
	return nil
}

func (m *Mempool) RemoveTransaction(txHash block.Hash) {
	m.Lock()
	removed := m.removeTransaction(txHash)
	m.Unlock()
	if removed {
		m.logger.Debug(
			"removed transaction",
			"component", "mempool",
			"tx_hash", txHash.String(),
		)
		m.publishRemoved([]block.Hash{txHash})
	}
}

func (m *Mempool) removeTransaction(txHash block.Hash) bool {
	for txIdx, tx := range m.transactions {
		if tx.Hash == txHash {
			return m.removeTransactionByIndex(txIdx)
		}
	}
	return false
}

func (m *Mempool) removeTransactionByIndex(txIdx int) bool {
	if txIdx >= len(m.transactions) {
		return false
	}
	tx := m.transactions[txIdx]
	m.transactions = slices.Delete(
		m.transactions,
		txIdx,
		txIdx+1,
	)
	m.totalBytes -= len(tx.Tx.Payload)
	m.metrics.txsInMempool.Dec()
	m.metrics.mempoolBytes.Sub(float64(len(tx.Tx.Payload)))
	return true
}

// RemoveTransactions drops the given transactions, returning how many were
// pooled. Hashes that are not pooled are ignored.
func (m *Mempool) RemoveTransactions(hashes []block.Hash) int {
	var removed []block.Hash
	m.Lock()
	for _, txHash := range hashes {
		if m.removeTransaction(txHash) {
			removed = append(removed, txHash)
		}
	}
	m.Unlock()
	m.publishRemoved(removed)
	return len(removed)
}

func (m *Mempool) publishRemoved(hashes []block.Hash) {
	if m.eventBus == nil {
		return
	}
	for _, txHash := range hashes {
		m.eventBus.Publish(
			RemoveTransactionEventType,
			event.NewEvent(
				RemoveTransactionEventType,
				RemoveTransactionEvent{Hash: txHash},
			),
		)
	}
}
