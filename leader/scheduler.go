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

package leader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/epoch"
	"github.com/blinklabs-io/slotforge/oneshot"
)

const DefaultScheduleQueueSize = 16

var ErrSchedulerStopped = errors.New("authorship scheduler is not running")

// BestChain returns the current best header
type BestChain interface {
	BestChain() (*block.Header, error)
}

// EpochLookup resolves the epoch governing a slot on a fork
type EpochLookup interface {
	EpochForSlot(head block.Hash, slot uint64) (*epoch.Epoch, error)
}

// SlotAuthorship is one claimable slot in a schedule
type SlotAuthorship struct {
	Slot  uint64
	Claim Claim
}

type SchedulerConfig struct {
	Logger       *slog.Logger
	Chain        BestChain
	Epochs       EpochLookup
	Keys         KeyProvider
	PromRegistry prometheus.Registerer
	// QueueSize bounds the number of pending schedule requests
	QueueSize int
}

type scheduleRequest struct {
	ctx        context.Context
	epochStart *uint64
	reply      *oneshot.Sender[scheduleResult]
}

type scheduleResult struct {
	schedule []SlotAuthorship
	err      error
}

type schedulerMetrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
	queued   prometheus.Gauge
}

// Scheduler computes authorship schedules on a dedicated worker pinned to
// its own OS thread. Requests queue on a bounded channel, so a long VRF
// sweep only ever delays other schedule requests.
type Scheduler struct {
	config   SchedulerConfig
	logger   *slog.Logger
	metrics  *schedulerMetrics
	requests chan scheduleRequest
	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	stopping <-chan struct{}
	done     chan struct{}
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		config: cfg,
		logger: cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.config.QueueSize <= 0 {
		s.config.QueueSize = DefaultScheduleQueueSize
	}
	if cfg.PromRegistry != nil {
		factory := promauto.With(cfg.PromRegistry)
		s.metrics = &schedulerMetrics{
			requests: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "slotforge_leader_schedule_requests_total",
				Help: "authorship schedule requests by result",
			}, []string{"result"}),
			duration: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "slotforge_leader_schedule_duration_seconds",
				Help:    "time spent computing an authorship schedule",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			}),
			queued: factory.NewGauge(prometheus.GaugeOpts{
				Name: "slotforge_leader_schedule_queue_depth",
				Help: "pending authorship schedule requests",
			}),
		}
	}
	return s
}

// Start launches the worker. It stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.config.Chain == nil || s.config.Epochs == nil || s.config.Keys == nil {
		return errors.New("scheduler requires chain, epochs and keys")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.requests = make(chan scheduleRequest, s.config.QueueSize)
	s.stopping = ctx.Done()
	s.done = make(chan struct{})
	s.running = true
	go s.worker(ctx, s.requests, s.done)
	s.logger.Debug(
		"authorship scheduler started",
		"component", "leader",
	)
	return nil
}

// Stop cancels the worker and waits for it to exit. It is safe to call
// more than once and after the Start context has been cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		s.cancel()
	}
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// markStopped clears running once the worker's context is gone, unless a
// later Start has already replaced the worker
func (s *Scheduler) markStopped(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done && s.running {
		s.running = false
		s.cancel()
	}
}

func (s *Scheduler) worker(
	ctx context.Context,
	requests chan scheduleRequest,
	done chan struct{},
) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			s.markStopped(done)
			// Fail whatever is still queued
			for {
				select {
				case req := <-requests:
					s.setQueued(len(requests))
					req.reply.Send(scheduleResult{err: ErrSchedulerStopped})
				default:
					return
				}
			}
		case req := <-requests:
			s.setQueued(len(requests))
			if req.reply.Abandoned() || req.ctx.Err() != nil {
				req.reply.Close()
				continue
			}
			schedule, err := s.compute(req.ctx, req.epochStart)
			req.reply.Send(scheduleResult{schedule: schedule, err: err})
		}
	}
}

func (s *Scheduler) setQueued(n int) {
	if s.metrics != nil {
		s.metrics.queued.Set(float64(n))
	}
}

// EpochAuthorship returns the claimable slots of the best block's epoch
func (s *Scheduler) EpochAuthorship(ctx context.Context) ([]SlotAuthorship, error) {
	return s.submit(ctx, nil)
}

// ScheduleForEpoch returns the claimable slots of the epoch containing
// epochStartSlot on the best chain
func (s *Scheduler) ScheduleForEpoch(
	ctx context.Context,
	epochStartSlot uint64,
) ([]SlotAuthorship, error) {
	return s.submit(ctx, &epochStartSlot)
}

func (s *Scheduler) submit(ctx context.Context, epochStart *uint64) ([]SlotAuthorship, error) {
	tx, rx := oneshot.New[scheduleResult]()
	req := scheduleRequest{
		ctx:        ctx,
		epochStart: epochStart,
		reply:      tx,
	}
	// Holding the read lock keeps Stop from racing the enqueue, so every
	// queued request is either served or failed by the worker
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return nil, ErrSchedulerStopped
	}
	select {
	case s.requests <- req:
		s.setQueued(len(s.requests))
	case <-s.stopping:
		s.mu.RUnlock()
		return nil, ErrSchedulerStopped
	case <-ctx.Done():
		s.mu.RUnlock()
		return nil, ctx.Err()
	}
	s.mu.RUnlock()
	res, err := rx.Recv(ctx)
	if err != nil {
		return nil, err
	}
	s.observe(res.err)
	return res.schedule, res.err
}

func (s *Scheduler) observe(err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	var ce *consensus.Error
	switch {
	case err == nil:
	case errors.As(err, &ce):
		result = "consensus_error"
	default:
		result = "error"
	}
	s.metrics.requests.WithLabelValues(result).Inc()
}

// compute sweeps every slot of the resolved epoch. Any failure aborts the
// sweep and no partial schedule is returned.
func (s *Scheduler) compute(
	ctx context.Context,
	epochStart *uint64,
) (_ []SlotAuthorship, err error) {
	ctx, span := otel.Tracer("slotforge/leader").Start(ctx, "schedule_for_epoch")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	start := time.Now()
	best, err := s.config.Chain.BestChain()
	if err != nil {
		return nil, fmt.Errorf("failed to get best header: %w", err)
	}
	bestHash := best.Hash()
	slot := best.Slot
	if epochStart != nil {
		slot = *epochStart
	}
	current, err := s.config.Epochs.EpochForSlot(bestHash, slot)
	if err != nil {
		return nil, consensus.NewError(err)
	}
	span.SetAttributes(
		attribute.Int64("epoch.index", int64(current.Index)),         // #nosec G115
		attribute.Int64("epoch.start_slot", int64(current.StartSlot)), // #nosec G115
	)
	schedule := make([]SlotAuthorship, 0)
	for slot := current.StartSlot; slot < current.EndSlot(); slot++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Re-resolve per slot since the range may straddle a boundary on this fork
		e, err := s.config.Epochs.EpochForSlot(bestHash, slot)
		if err != nil {
			return nil, consensus.NewError(err)
		}
		if claim, ok := ClaimSlot(slot, e, s.config.Keys); ok {
			schedule = append(schedule, SlotAuthorship{Slot: slot, Claim: claim})
		}
	}
	if s.metrics != nil {
		s.metrics.duration.Observe(time.Since(start).Seconds())
	}
	s.logger.Debug(
		fmt.Sprintf("computed authorship schedule with %d claims", len(schedule)),
		"component", "leader",
		"epoch", current.Index,
		"start_slot", current.StartSlot,
		"end_slot", current.EndSlot(),
	)
	return schedule, nil
}
