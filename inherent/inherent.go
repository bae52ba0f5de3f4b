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

// Package inherent collects the data a block author must put into every
// block it builds, such as the timestamp and slot.
package inherent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/blinklabs-io/gouroboros/cbor"
)

var (
	ErrAlreadyExists      = errors.New("inherent data already exists")
	ErrProviderRegistered = errors.New("inherent data provider already registered")
)

// Identifier names one piece of inherent data
type Identifier [8]byte

func (i Identifier) String() string {
	return string(i[:])
}

// Data maps identifiers to CBOR-encoded values
type Data struct {
	values map[Identifier][]byte
}

func NewData() *Data {
	return &Data{values: make(map[Identifier][]byte)}
}

// Put stores v under id. Each identifier may be set once.
func (d *Data) Put(id Identifier, v any) error {
	if _, ok := d.values[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	return d.Replace(id, v)
}

// Replace stores v under id, overwriting any existing value
func (d *Data) Replace(id Identifier, v any) error {
	raw, err := cbor.Encode(v)
	if err != nil {
		return fmt.Errorf("encode inherent %s: %w", id, err)
	}
	d.values[id] = raw
	return nil
}

// Get decodes the value under id into dest. It reports false when no value
// is present.
func (d *Data) Get(id Identifier, dest any) (bool, error) {
	raw, ok := d.values[id]
	if !ok {
		return false, nil
	}
	if _, err := cbor.Decode(raw, dest); err != nil {
		return true, fmt.Errorf("decode inherent %s: %w", id, err)
	}
	return true, nil
}

func (d *Data) Len() int {
	return len(d.values)
}

// Identifiers lists the stored identifiers in byte order
func (d *Data) Identifiers() []Identifier {
	return slices.SortedFunc(maps.Keys(d.values), func(a, b Identifier) int {
		return slices.Compare(a[:], b[:])
	})
}

type Provider interface {
	Identifier() Identifier
	ProvideInherentData(ctx context.Context, data *Data) error
}

// Providers runs a set of providers in registration order
type Providers struct {
	mu        sync.RWMutex
	providers []Provider
}

func NewProviders(providers ...Provider) (*Providers, error) {
	p := &Providers{}
	for _, provider := range providers {
		if err := p.Register(provider); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Providers) Register(provider Provider) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.providers {
		if existing.Identifier() == provider.Identifier() {
			return fmt.Errorf("%w: %s", ErrProviderRegistered, provider.Identifier())
		}
	}
	p.providers = append(p.providers, provider)
	return nil
}

// CreateInherentData asks every provider for its data
func (p *Providers) CreateInherentData(ctx context.Context) (*Data, error) {
	p.mu.RLock()
	providers := slices.Clone(p.providers)
	p.mu.RUnlock()
	data := NewData()
	for _, provider := range providers {
		if err := provider.ProvideInherentData(ctx, data); err != nil {
			return nil, fmt.Errorf(
				"inherent data provider %s failed: %w",
				provider.Identifier(),
				err,
			)
		}
	}
	return data, nil
}
