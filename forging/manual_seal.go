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
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/event"
	"github.com/blinklabs-io/slotforge/mempool"
	"github.com/blinklabs-io/slotforge/oneshot"
)

const DefaultCommandQueueSize = 16

// EngineCommand is a SealNewBlockCommand or a FinalizeBlockCommand
type EngineCommand interface {
	isEngineCommand()
}

type SealNewBlockCommand struct {
	Request SealRequest
}

type FinalizeBlockCommand struct {
	Hash  block.Hash
	Reply *oneshot.Sender[error]
}

func (SealNewBlockCommand) isEngineCommand()  {}
func (FinalizeBlockCommand) isEngineCommand() {}

type ManualSealConfig struct {
	Logger    *slog.Logger
	Sealer    *Sealer
	Finalizer Finalizer
	QueueSize int
}

// ManualSeal runs seal and finalize commands one at a time in arrival order
type ManualSeal struct {
	config   ManualSealConfig
	logger   *slog.Logger
	commands chan EngineCommand

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	stopping <-chan struct{}
	done     chan struct{}
}

func NewManualSeal(cfg ManualSealConfig) (*ManualSeal, error) {
	if cfg.Sealer == nil {
		return nil, errors.New("sealer is required")
	}
	if cfg.Finalizer == nil {
		return nil, errors.New("finalizer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultCommandQueueSize
	}
	return &ManualSeal{
		config: cfg,
		logger: cfg.Logger,
	}, nil
}

func (m *ManualSeal) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("manual seal already running")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.commands = make(chan EngineCommand, m.config.QueueSize)
	m.stopping = ctx.Done()
	m.done = make(chan struct{})
	m.running = true
	go m.run(ctx, m.commands, m.done)
	return nil
}

// Stop cancels the worker and waits for it to exit. It is safe to call
// more than once and after the Start context has been cancelled.
func (m *ManualSeal) Stop() {
	m.mu.Lock()
	if m.running {
		m.running = false
		m.cancel()
	}
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// markStopped clears running once the worker's context is gone, unless a
// later Start has already replaced the worker
func (m *ManualSeal) markStopped(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == done && m.running {
		m.running = false
		m.cancel()
	}
}

func (m *ManualSeal) run(ctx context.Context, commands chan EngineCommand, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			m.markStopped(done)
			// Queued commands get an answer rather than a dropped reply
			for {
				select {
				case cmd := <-commands:
					m.reject(cmd)
				default:
					return
				}
			}
		case cmd := <-commands:
			m.handle(ctx, cmd)
		}
	}
}

func (m *ManualSeal) handle(ctx context.Context, cmd EngineCommand) {
	switch c := cmd.(type) {
	case SealNewBlockCommand:
		m.config.Sealer.SealNewBlock(ctx, c.Request)
	case FinalizeBlockCommand:
		err := m.config.Finalizer.FinalizeBlock(c.Hash)
		if err != nil {
			m.logger.Debug(
				"finalize block failed",
				"component", "forging",
				"hash", c.Hash.String(),
				"error", err,
			)
		}
		if c.Reply != nil {
			c.Reply.Send(err)
		}
	}
}

func (m *ManualSeal) reject(cmd EngineCommand) {
	switch c := cmd.(type) {
	case SealNewBlockCommand:
		if c.Request.Reply != nil {
			c.Request.Reply.Send(SealResult{Err: ErrEngineStopped})
		}
	case FinalizeBlockCommand:
		if c.Reply != nil {
			c.Reply.Send(ErrEngineStopped)
		}
	}
}

// Submit queues a command. It blocks while the queue is full.
func (m *ManualSeal) Submit(ctx context.Context, cmd EngineCommand) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return ErrEngineStopped
	}
	select {
	case m.commands <- cmd:
		return nil
	case <-m.stopping:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SealNewBlock queues a seal command and waits for its result
func (m *ManualSeal) SealNewBlock(
	ctx context.Context,
	createEmpty bool,
	finalize bool,
	parent *block.Hash,
) (CreatedBlock, error) {
	tx, rx := oneshot.New[SealResult]()
	err := m.Submit(ctx, SealNewBlockCommand{
		Request: SealRequest{
			CreateEmpty: createEmpty,
			Finalize:    finalize,
			ParentHash:  parent,
			Reply:       tx,
		},
	})
	if err != nil {
		return CreatedBlock{}, err
	}
	res, err := rx.Recv(ctx)
	if err != nil {
		return CreatedBlock{}, err
	}
	return res.Block, res.Err
}

// FinalizeBlock queues a finalize command and waits for its result
func (m *ManualSeal) FinalizeBlock(ctx context.Context, hash block.Hash) error {
	tx, rx := oneshot.New[error]()
	if err := m.Submit(ctx, FinalizeBlockCommand{Hash: hash, Reply: tx}); err != nil {
		return err
	}
	res, err := rx.Recv(ctx)
	if err != nil {
		return err
	}
	return res
}

type InstantSealConfig struct {
	Logger   *slog.Logger
	EventBus *event.EventBus
	Engine   *ManualSeal
	// Finalize marks every sealed block final
	Finalize bool
}

// InstantSeal seals a block whenever a transaction enters the pool
type InstantSeal struct {
	config InstantSealConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	subId   event.EventSubscriberId
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewInstantSeal(cfg InstantSealConfig) (*InstantSeal, error) {
	if cfg.EventBus == nil {
		return nil, errors.New("event bus is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("manual seal engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &InstantSeal{
		config: cfg,
		logger: cfg.Logger,
	}, nil
}

func (s *InstantSeal) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("instant seal already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.subId = s.config.EventBus.SubscribeFunc(
		mempool.AddTransactionEventType,
		s.handleTransaction,
	)
	s.running = true
	return nil
}

func (s *InstantSeal) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	subId := s.subId
	s.mu.Unlock()
	s.config.EventBus.Unsubscribe(mempool.AddTransactionEventType, subId)
}

func (s *InstantSeal) handleTransaction(evt event.Event) {
	e, ok := evt.Data.(mempool.AddTransactionEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	created, err := s.config.Engine.SealNewBlock(ctx, false, s.config.Finalize, nil)
	if err != nil {
		// A previous seal may already have included this transaction
		if !errors.Is(err, ErrEmptyTransactionPool) {
			s.logger.Warn(
				"instant seal failed",
				"component", "forging",
				"tx_hash", e.Hash.String(),
				"error", err,
			)
		}
		return
	}
	s.logger.Debug(
		"instant sealed block",
		"component", "forging",
		"tx_hash", e.Hash.String(),
		"block_hash", created.Hash.String(),
	)
}
