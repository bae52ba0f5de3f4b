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

package oneshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSendRecv(t *testing.T) {
	tx, rx := New[int]()
	assert.True(t, tx.Send(42))
	v, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSendOnlyOnce(t *testing.T) {
	tx, rx := New[string]()
	assert.True(t, tx.Send("first"))
	assert.False(t, tx.Send("second"))
	tx.Close()
	v, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestRecvAfterSenderDropped(t *testing.T) {
	tx, rx := New[int]()
	tx.Close()
	_, err := rx.Recv(context.Background())
	require.ErrorIs(t, err, ErrSenderDropped)
}

func TestSendAfterAbandonIsNoop(t *testing.T) {
	tx, rx := New[int]()
	rx.Abandon()
	assert.True(t, tx.Abandoned())
	assert.False(t, tx.Send(1))
}

func TestRecvContextCancelAbandons(t *testing.T) {
	tx, rx := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := rx.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, tx.Abandoned())
	assert.False(t, tx.Send(7))
}

func TestRecvWaitsForConcurrentSend(t *testing.T) {
	defer goleak.VerifyNone(t)
	tx, rx := New[int]()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		tx.Send(9)
	}()
	v, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	wg.Wait()
}
