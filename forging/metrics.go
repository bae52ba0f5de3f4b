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
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/consensus"
)

type forgingMetrics struct {
	sealTotal      *prometheus.CounterVec
	sealDuration   prometheus.Histogram
	blockSizeBytes prometheus.Histogram
	blockTxCount   prometheus.Histogram
}

// initForgingMetrics registers on reg. A nil reg yields working but
// unregistered collectors.
func initForgingMetrics(reg prometheus.Registerer) *forgingMetrics {
	factory := promauto.With(reg)
	return &forgingMetrics{
		sealTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotforge_forge_seal_total",
				Help: "seal attempts by outcome",
			},
			[]string{"result"},
		),
		sealDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "slotforge_forge_seal_duration_seconds",
				Help:    "time from seal request to import",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		blockSizeBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name: "slotforge_forge_block_size_bytes",
				Help: "size of sealed block bodies in bytes",
				Buckets: prometheus.ExponentialBuckets(
					256, 2, 14,
				), // 256B to ~2MB
			},
		),
		blockTxCount: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name: "slotforge_forge_block_tx_count",
				Help: "number of transactions in sealed blocks",
				Buckets: prometheus.LinearBuckets(
					0, 10, 20,
				), // 0, 10, 20, ..., 190
			},
		),
	}
}

func sealResultLabel(err error) string {
	var (
		notFound  *BlockNotFoundError
		importErr *consensus.ImportResultError
		consErr   *consensus.Error
	)
	switch {
	case err == nil:
		return "sealed"
	case errors.Is(err, ErrEmptyTransactionPool):
		return "empty_pool"
	case errors.As(err, &notFound):
		return "parent_not_found"
	case errors.As(err, &importErr):
		return "import_rejected"
	case errors.As(err, &consErr):
		return "consensus_error"
	default:
		return "error"
	}
}

func (m *forgingMetrics) observeSeal(err error, d time.Duration) {
	m.sealTotal.WithLabelValues(sealResultLabel(err)).Inc()
	if err == nil {
		m.sealDuration.Observe(d.Seconds())
	}
}

func (m *forgingMetrics) observeBlock(blk *block.Block) {
	size := 0
	for _, tx := range blk.Transactions {
		size += len(tx.Payload)
	}
	m.blockSizeBytes.Observe(float64(size))
	m.blockTxCount.Observe(float64(len(blk.Transactions)))
}

// slotForgerMetrics follow the forge outcome counters of a stake pool node
type slotForgerMetrics struct {
	aboutToLead     prometheus.Counter
	nodeIsLeader    prometheus.Counter
	nodeNotLeader   prometheus.Counter
	forged          prometheus.Counter
	couldNotForge   prometheus.Counter
	slotClockErrors prometheus.Counter
}

func initSlotForgerMetrics(reg prometheus.Registerer) *slotForgerMetrics {
	factory := promauto.With(reg)
	return &slotForgerMetrics{
		aboutToLead: factory.NewCounter(prometheus.CounterOpts{
			Name: "slotforge_forge_about_to_lead_total",
			Help: "slots where this node checked for a claim",
		}),
		nodeIsLeader: factory.NewCounter(prometheus.CounterOpts{
			Name: "slotforge_forge_node_is_leader_total",
			Help: "slots this node could claim",
		}),
		nodeNotLeader: factory.NewCounter(prometheus.CounterOpts{
			Name: "slotforge_forge_node_not_leader_total",
			Help: "slots this node could not claim",
		}),
		forged: factory.NewCounter(prometheus.CounterOpts{
			Name: "slotforge_forge_forged_total",
			Help: "blocks forged from claimed slots",
		}),
		couldNotForge: factory.NewCounter(prometheus.CounterOpts{
			Name: "slotforge_forge_could_not_forge_total",
			Help: "claimed slots where forging failed",
		}),
		slotClockErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "slotforge_forge_slot_clock_errors_total",
			Help: "errors reading chain state for a slot tick",
		}),
	}
}
