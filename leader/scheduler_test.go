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

package leader_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
	"github.com/blinklabs-io/slotforge/epoch"
	"github.com/blinklabs-io/slotforge/leader"
)

type fakeChain struct {
	header *block.Header
	err    error
}

func (c *fakeChain) BestChain() (*block.Header, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.header, nil
}

// fakeEpochs serves a single epoch, optionally failing for one slot
type fakeEpochs struct {
	mu       sync.Mutex
	epoch    *epoch.Epoch
	failSlot *uint64
	block    chan struct{}
	lookups  int
}

func (f *fakeEpochs) EpochForSlot(_ block.Hash, slot uint64) (*epoch.Epoch, error) {
	f.mu.Lock()
	f.lookups++
	failSlot := f.failSlot
	wait := f.block
	f.mu.Unlock()
	if wait != nil {
		<-wait
	}
	if failSlot != nil && *failSlot == slot {
		return nil, epoch.ErrNoEpochData
	}
	if !f.epoch.Contains(slot) {
		return nil, epoch.ErrNoEpochData
	}
	return f.epoch, nil
}

func newTestScheduler(
	t *testing.T,
	e *epoch.Epoch,
	keys leader.KeyProvider,
	epochs *fakeEpochs,
) *leader.Scheduler {
	t.Helper()
	if epochs == nil {
		epochs = &fakeEpochs{epoch: e}
	}
	s := leader.NewScheduler(leader.SchedulerConfig{
		Chain: &fakeChain{
			header: &block.Header{Number: 4, Slot: e.StartSlot + 3},
		},
		Epochs:       epochs,
		Keys:         keys,
		PromRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func TestEpochAuthorshipCoversWholeEpoch(t *testing.T) {
	defer goleak.VerifyNone(t)
	e, keys := testEpoch(t, 2, ratioNever, true)
	e.StartSlot = 20
	s := newTestScheduler(t, e, keys, nil)

	schedule, err := s.EpochAuthorship(context.Background())
	require.NoError(t, err)
	require.Len(t, schedule, int(e.Duration))
	for i, entry := range schedule {
		assert.Equal(t, e.StartSlot+uint64(i), entry.Slot)
		_, isSecondary := entry.Claim.(*leader.SecondaryClaim)
		assert.True(t, isSecondary)
	}
	s.Stop()
}

func TestEpochAuthorshipOnlyLocalSlots(t *testing.T) {
	defer goleak.VerifyNone(t)
	e, keys := testEpoch(t, 2, ratioNever, true)
	delete(keys, e.Authorities[0].ID)
	s := newTestScheduler(t, e, keys, nil)

	schedule, err := s.EpochAuthorship(context.Background())
	require.NoError(t, err)
	require.Len(t, schedule, 5)
	prev := uint64(0)
	for i, entry := range schedule {
		assert.Equal(t, uint64(1), entry.Slot%2)
		if i > 0 {
			assert.Greater(t, entry.Slot, prev)
		}
		prev = entry.Slot
	}

	// Nothing claimable at all
	empty := newTestScheduler(t, e, testKeys{}, nil)
	schedule, err = empty.EpochAuthorship(context.Background())
	require.NoError(t, err)
	assert.Empty(t, schedule)
	s.Stop()
	empty.Stop()
}

func TestScheduleForEpoch(t *testing.T) {
	defer goleak.VerifyNone(t)
	e, keys := testEpoch(t, 1, ratioAlways, false)
	e.StartSlot = 100
	s := newTestScheduler(t, e, keys, nil)

	schedule, err := s.ScheduleForEpoch(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, schedule, 10)
	assert.Equal(t, uint64(100), schedule[0].Slot)
	assert.Equal(t, uint64(109), schedule[9].Slot)

	// Slot outside any known epoch
	_, err = s.ScheduleForEpoch(context.Background(), 5)
	var ce *consensus.Error
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, epoch.ErrNoEpochData)
	s.Stop()
}

func TestEpochAuthorshipAbortsOnLookupFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	e, keys := testEpoch(t, 2, ratioNever, true)
	failSlot := uint64(6)
	epochs := &fakeEpochs{epoch: e, failSlot: &failSlot}
	s := newTestScheduler(t, e, keys, epochs)

	schedule, err := s.EpochAuthorship(context.Background())
	require.Error(t, err)
	assert.Nil(t, schedule)
	var ce *consensus.Error
	require.ErrorAs(t, err, &ce)
	s.Stop()
}

func TestEpochAuthorshipBestChainError(t *testing.T) {
	defer goleak.VerifyNone(t)
	e, keys := testEpoch(t, 1, ratioNever, true)
	s := leader.NewScheduler(leader.SchedulerConfig{
		Chain:  &fakeChain{err: errors.New("no best block")},
		Epochs: &fakeEpochs{epoch: e},
		Keys:   keys,
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	_, err := s.EpochAuthorship(context.Background())
	require.ErrorContains(t, err, "no best block")
	var ce *consensus.Error
	assert.False(t, errors.As(err, &ce))
}

func TestSchedulerStopped(t *testing.T) {
	defer goleak.VerifyNone(t)
	e, keys := testEpoch(t, 1, ratioNever, true)
	s := leader.NewScheduler(leader.SchedulerConfig{
		Chain:  &fakeChain{header: &block.Header{}},
		Epochs: &fakeEpochs{epoch: e},
		Keys:   keys,
	})
	_, err := s.EpochAuthorship(context.Background())
	require.ErrorIs(t, err, leader.ErrSchedulerStopped)

	require.NoError(t, s.Start(context.Background()))
	_, err = s.EpochAuthorship(context.Background())
	require.NoError(t, err)
	s.Stop()
	s.Stop()
	_, err = s.EpochAuthorship(context.Background())
	require.ErrorIs(t, err, leader.ErrSchedulerStopped)
}

func TestSchedulerStartContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	e, keys := testEpoch(t, 1, ratioNever, true)
	s := leader.NewScheduler(leader.SchedulerConfig{
		Chain:  &fakeChain{header: &block.Header{}},
		Epochs: &fakeEpochs{epoch: e},
		Keys:   keys,
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	_, err := s.EpochAuthorship(context.Background())
	require.NoError(t, err)

	cancel()
	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	_, err = s.EpochAuthorship(reqCtx)
	require.ErrorIs(t, err, leader.ErrSchedulerStopped)
	s.Stop()

	// A cancelled scheduler can be started again
	require.NoError(t, s.Start(context.Background()))
	_, err = s.EpochAuthorship(context.Background())
	require.NoError(t, err)
	s.Stop()
}

func TestEpochAuthorshipCallerCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	e, keys := testEpoch(t, 1, ratioNever, true)
	gate := make(chan struct{})
	epochs := &fakeEpochs{epoch: e, block: gate}
	s := newTestScheduler(t, e, keys, epochs)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.EpochAuthorship(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(gate)
	s.Stop()
}
