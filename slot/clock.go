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

// Package slot converts between wall-clock time and slot numbers and
// notifies subscribers at every slot boundary.
package slot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var ErrBeforeGenesis = errors.New("time is before genesis")

// Tick is delivered at a slot boundary
type Tick struct {
	Slot      uint64
	SlotStart time.Time
}

type ClockConfig struct {
	Logger       *slog.Logger
	GenesisTime  time.Time
	SlotDuration time.Duration
	// ClockTolerance is how late a wakeup may be before it is logged as drift.
	// Default: 100ms
	ClockTolerance time.Duration
}

const DefaultClockTolerance = 100 * time.Millisecond

// Clock ticks at each slot boundary. Query methods work whether or not the
// tick loop is running.
type Clock struct {
	config      ClockConfig
	logger      *slog.Logger
	subscribers []chan Tick
	mu          sync.RWMutex
	cancel      context.CancelFunc
	running     bool
	wg          sync.WaitGroup

	nowFunc func() time.Time
}

func NewClock(cfg ClockConfig) (*Clock, error) {
	if cfg.SlotDuration <= 0 {
		return nil, errors.New("slot duration must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ClockTolerance == 0 {
		cfg.ClockTolerance = DefaultClockTolerance
	}
	return &Clock{
		config:  cfg,
		logger:  cfg.Logger.With("component", "slot_clock"),
		nowFunc: time.Now,
	}, nil
}

func (c *Clock) SlotDuration() time.Duration {
	return c.config.SlotDuration
}

// SlotAt returns the slot containing t
func (c *Clock) SlotAt(t time.Time) (uint64, error) {
	if t.Before(c.config.GenesisTime) {
		return 0, ErrBeforeGenesis
	}
	return uint64(t.Sub(c.config.GenesisTime) / c.config.SlotDuration), nil // #nosec G115
}

// SlotStart returns the start time of slot
func (c *Clock) SlotStart(slot uint64) time.Time {
	return c.config.GenesisTime.Add(
		time.Duration(slot) * c.config.SlotDuration, // #nosec G115
	)
}

func (c *Clock) CurrentSlot() (uint64, error) {
	return c.SlotAt(c.nowFunc())
}

// TimeUntilSlot is negative for slots in the past
func (c *Clock) TimeUntilSlot(slot uint64) time.Duration {
	return c.SlotStart(slot).Sub(c.nowFunc())
}

func (c *Clock) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
}

// Stop halts the tick loop and closes all subscriber channels
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
	c.mu.Unlock()
}

// Subscribe returns a channel receiving ticks. A subscriber that falls
// behind misses ticks rather than blocking the clock.
func (c *Clock) Subscribe() <-chan Tick {
	ch := make(chan Tick, 1)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel
func (c *Clock) Unsubscribe(ch <-chan Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subscribers {
		if sub == ch {
			close(sub)
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

func (c *Clock) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		now := c.nowFunc()
		next := uint64(0)
		if current, err := c.SlotAt(now); err == nil {
			next = current + 1
		}
		nextStart := c.SlotStart(next)
		if wait := nextStart.Sub(now); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		actualNow := c.nowFunc()
		actualSlot, err := c.SlotAt(actualNow)
		if err != nil {
			// Woke early relative to genesis
			continue
		}
		if drift := actualNow.Sub(nextStart); drift > c.config.ClockTolerance {
			c.logger.Warn(
				"slot clock drift detected",
				"expected_slot", next,
				"actual_slot", actualSlot,
				"drift", drift,
			)
		}
		c.emit(Tick{Slot: actualSlot, SlotStart: c.SlotStart(actualSlot)})
	}
}

func (c *Clock) emit(tick Tick) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- tick:
		default:
			c.logger.Debug(
				"slot tick dropped for slow subscriber",
				"slot", tick.Slot,
			)
		}
	}
}
