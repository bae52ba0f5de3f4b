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

package inherent

import (
	"context"
	"errors"
	"time"
)

var (
	TimestampIdentifier = Identifier{'t', 'i', 'm', 's', 't', 'a', 'p', '0'}
	SlotIdentifier      = Identifier{'b', 'a', 'b', 'e', 's', 'l', 'o', 't'}
)

// TimestampProvider supplies the current time in milliseconds since the
// Unix epoch
type TimestampProvider struct {
	Now func() time.Time
}

func (TimestampProvider) Identifier() Identifier {
	return TimestampIdentifier
}

func (p TimestampProvider) ProvideInherentData(_ context.Context, data *Data) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	ts := now().UnixMilli()
	if ts < 0 {
		return errors.New("current time is before the Unix epoch")
	}
	return data.Put(TimestampIdentifier, uint64(ts))
}

// SlotProvider supplies the slot number: the time elapsed since genesis
// divided by the slot duration. A zero GenesisTime means the Unix epoch.
type SlotProvider struct {
	GenesisTime  time.Time
	SlotDuration time.Duration
	Now          func() time.Time
}

func (SlotProvider) Identifier() Identifier {
	return SlotIdentifier
}

func (p SlotProvider) ProvideInherentData(_ context.Context, data *Data) error {
	if p.SlotDuration <= 0 {
		return errors.New("slot duration must be positive")
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	genesis := p.GenesisTime
	if genesis.IsZero() {
		genesis = time.Unix(0, 0)
	}
	elapsed := now().Sub(genesis)
	if elapsed < 0 {
		return errors.New("current time is before genesis")
	}
	return data.Put(SlotIdentifier, uint64(elapsed/p.SlotDuration)) // #nosec G115
}

// Timestamp reads the timestamp inherent, if present
func Timestamp(data *Data) (uint64, bool, error) {
	var ts uint64
	ok, err := data.Get(TimestampIdentifier, &ts)
	return ts, ok, err
}

// Slot reads the slot inherent, if present
func Slot(data *Data) (uint64, bool, error) {
	var slot uint64
	ok, err := data.Get(SlotIdentifier, &slot)
	return slot, ok, err
}
