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

package chain

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/slotforge/block"
)

// DefaultHeaderCacheCapacity is the default number of decoded headers
// kept in memory
const DefaultHeaderCacheCapacity = 4096

// headerCache is an LRU of decoded headers keyed by block hash
type headerCache struct {
	cache        *lru.Cache[block.Hash, *block.Header]
	cachedHdrs   prometheus.GaugeFunc
	cacheLookups *prometheus.CounterVec
}

func newHeaderCache(
	capacity int,
	promRegistry prometheus.Registerer,
) (*headerCache, error) {
	if capacity <= 0 {
		capacity = DefaultHeaderCacheCapacity
	}
	cache, err := lru.New[block.Hash, *block.Header](capacity)
	if err != nil {
		return nil, err
	}
	c := &headerCache{cache: cache}
	if promRegistry != nil {
		factory := promauto.With(promRegistry)
		c.cachedHdrs = factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "slotforge_chain_cached_headers",
				Help: "current number of cached headers",
			},
			func() float64 { return float64(c.cache.Len()) },
		)
		c.cacheLookups = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotforge_chain_header_cache_lookups_total",
				Help: "header cache lookups by result",
			},
			[]string{"result"},
		)
	}
	return c, nil
}

func (c *headerCache) Get(hash block.Hash) (*block.Header, bool) {
	hdr, ok := c.cache.Get(hash)
	if c.cacheLookups != nil {
		if ok {
			c.cacheLookups.WithLabelValues("hit").Inc()
		} else {
			c.cacheLookups.WithLabelValues("miss").Inc()
		}
	}
	return hdr, ok
}

func (c *headerCache) Put(hash block.Hash, hdr *block.Header) {
	c.cache.Add(hash, hdr)
}

func (c *headerCache) Len() int {
	return c.cache.Len()
}
