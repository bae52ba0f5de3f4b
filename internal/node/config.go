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


package node

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/slotforge/epoch"
	"github.com/prometheus/client_golang/prometheus"
)

// Seal modes
const (
	SealModeBabe    = "babe"
	SealModeManual  = "manual"
	SealModeInstant = "instant"
)

const (
	DefaultSlotDuration    = 6 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

type Config struct {
	promRegistry       prometheus.Registerer
	logger             *slog.Logger
	genesisEpoch       *epoch.Epoch
	genesisTime        time.Time
	dataDir            string
	rpcListenAddress   string
	sealMode           string
	tracingEndpoint    string
	keyDir             string
	keyFiles           []string
	slotDuration       time.Duration
	shutdownTimeout    time.Duration
	mempoolCapacity    int64
	schedulerQueueSize int
	maxBlockTxs        int
	maxBlockBytes      int
	requireClaims      bool
	finalizeBlocks     bool
	tracing            bool
	tracingStdout      bool
}

// isEngineMode returns true when blocks are sealed on request
func (c *Config) isEngineMode() bool {
	return c.sealMode == SealModeManual || c.sealMode == SealModeInstant
}

func (c *Config) validate() error {
	switch c.sealMode {
	case SealModeBabe, SealModeManual, SealModeInstant:
	default:
		return fmt.Errorf("invalid seal mode: %q", c.sealMode)
	}
	if c.genesisEpoch == nil {
		return errors.New("no genesis epoch defined")
	}
	if err := c.genesisEpoch.Validate(); err != nil {
		return fmt.Errorf("invalid genesis epoch: %w", err)
	}
	if c.slotDuration <= 0 {
		return fmt.Errorf("invalid slot duration: %s", c.slotDuration)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new node config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		sealMode:        SealModeBabe,
		slotDuration:    DefaultSlotDuration,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithRpcListenAddress specifies the address for the JSON-RPC server. An empty address disables it
func WithRpcListenAddress(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.rpcListenAddress = address
	}
}

// WithSealMode selects how blocks are produced: babe, manual or instant
func WithSealMode(mode string) ConfigOptionFunc {
	return func(c *Config) {
		c.sealMode = mode
	}
}

// WithGenesis specifies the epoch that governs the chain until a block records another,
// and the wall-clock start of slot 0
func WithGenesis(e epoch.Epoch, genesisTime time.Time) ConfigOptionFunc {
	return func(c *Config) {
		c.genesisEpoch = &e
		c.genesisTime = genesisTime
	}
}

func WithSlotDuration(duration time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.slotDuration = duration
	}
}

// WithKeys specifies where VRF signing keys are loaded from. Every *.skey file in keyDir is loaded in
// addition to keyFiles
func WithKeys(keyDir string, keyFiles ...string) ConfigOptionFunc {
	return func(c *Config) {
		c.keyDir = keyDir
		c.keyFiles = keyFiles
	}
}

// WithSchedulerQueueSize bounds the number of pending authorship schedule requests
func WithSchedulerQueueSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.schedulerQueueSize = size
	}
}

// WithMempoolCapacity sets the mempool capacity (in bytes)
func WithMempoolCapacity(capacity int64) ConfigOptionFunc {
	return func(c *Config) {
		c.mempoolCapacity = capacity
	}
}

// WithBlockLimits caps the transactions packed into each block
func WithBlockLimits(maxTxs, maxBytes int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxBlockTxs = maxTxs
		c.maxBlockBytes = maxBytes
	}
}

// WithRequireClaims rejects imported blocks that carry no slot claim
func WithRequireClaims(require bool) ConfigOptionFunc {
	return func(c *Config) {
		c.requireClaims = require
	}
}

// WithFinalizeBlocks marks every block forged for a claimed slot final on import
func WithFinalizeBlocks(finalize bool) ConfigOptionFunc {
	return func(c *Config) {
		c.finalizeBlocks = finalize
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithTracingEndpoint overrides the OTLP collector URL
func WithTracingEndpoint(endpoint string) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingEndpoint = endpoint
	}
}

// WithShutdownTimeout sets the timeout for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
