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

// Package oneshot provides a single-use reply path between the goroutine
// that performs a request and the one caller waiting on its outcome.
package oneshot

import (
	"context"
	"errors"
	"sync"
)

// ErrSenderDropped is returned by Recv when the sender was closed without
// sending a value. Producers send on every exit path, so seeing this error
// means a producer broke that rule.
var ErrSenderDropped = errors.New("oneshot: sender dropped without a value")

type channel[T any] struct {
	values      chan T
	abandoned   chan struct{}
	sendOnce    sync.Once
	abandonOnce sync.Once
}

// Sender is the producing half. It may be used from any goroutine.
type Sender[T any] struct {
	c *channel[T]
}

// Receiver is the consuming half.
type Receiver[T any] struct {
	c *channel[T]
}

// New returns a connected sender and receiver.
func New[T any]() (*Sender[T], *Receiver[T]) {
	c := &channel[T]{
		values:    make(chan T, 1),
		abandoned: make(chan struct{}),
	}
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

// Send delivers v. It never blocks. It returns false when the value was not
// delivered because a value was already sent, the sender was closed, or the
// receiver abandoned the channel.
func (s *Sender[T]) Send(v T) bool {
	delivered := false
	s.c.sendOnce.Do(func() {
		select {
		case <-s.c.abandoned:
		default:
			s.c.values <- v
			delivered = true
		}
		close(s.c.values)
	})
	return delivered
}

// Close drops the sender. A pending Recv returns ErrSenderDropped unless a
// value was sent first.
func (s *Sender[T]) Close() {
	s.c.sendOnce.Do(func() {
		close(s.c.values)
	})
}

// Abandoned reports whether the receiver has gone away.
func (s *Sender[T]) Abandoned() bool {
	select {
	case <-s.c.abandoned:
		return true
	default:
		return false
	}
}

// Recv waits for the value. Cancelling ctx abandons the receiver, after
// which any Send is discarded.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-r.c.values:
		if !ok {
			return zero, ErrSenderDropped
		}
		return v, nil
	case <-ctx.Done():
		r.Abandon()
		return zero, ctx.Err()
	}
}

// Abandon tells the sender nobody is waiting any more.
func (r *Receiver[T]) Abandon() {
	r.c.abandonOnce.Do(func() {
		close(r.c.abandoned)
	})
}
