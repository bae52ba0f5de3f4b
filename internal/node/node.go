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
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/blinklabs-io/slotforge/block"
	"github.com/blinklabs-io/slotforge/chain"
	"github.com/blinklabs-io/slotforge/database"
	"github.com/blinklabs-io/slotforge/epoch"
	"github.com/blinklabs-io/slotforge/event"
	"github.com/blinklabs-io/slotforge/forging"
	"github.com/blinklabs-io/slotforge/inherent"
	"github.com/blinklabs-io/slotforge/keystore"
	"github.com/blinklabs-io/slotforge/leader"
	"github.com/blinklabs-io/slotforge/mempool"
	"github.com/blinklabs-io/slotforge/rpc"
	"github.com/blinklabs-io/slotforge/slot"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	chain         *chain.Chain
	epochs        *epoch.Registry
	keystore      *keystore.Keystore
	mempool       *mempool.Mempool
	sealer        *forging.Sealer
	scheduler     *leader.Scheduler
	clock         *slot.Clock
	slotForger    *forging.SlotForger
	manualSeal    *forging.ManualSeal
	instantSeal   *forging.InstantSeal
	rpcServer     *rpc.Server
	shutdownFuncs []func(context.Context) error
	config        Config
	mu            sync.RWMutex
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	return n, nil
}

// Run starts every service and blocks until ctx is cancelled or Stop is called
func (n *Node) Run(ctx context.Context) error {
	if err := n.start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-n.done:
	}
	return nil
}

func (n *Node) start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(ctx); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:      n.config.dataDir,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Load chain
	genesisTs := n.config.genesisTime.UnixMilli()
	if genesisTs < 0 {
		return errors.New("genesis time is before the Unix epoch")
	}
	c, err := chain.NewChain(chain.ChainConfig{
		Logger:       n.config.logger,
		DB:           n.db,
		EventBus:     n.eventBus,
		PromRegistry: n.config.promRegistry,
		Genesis:      block.Genesis(uint64(genesisTs)),
	})
	if err != nil {
		return fmt.Errorf("failed to load chain: %w", err)
	}
	n.chain = c
	// Load epoch tree
	registry, err := epoch.NewRegistry(epoch.RegistryConfig{
		Logger:       n.config.logger,
		Ancestry:     n.chain,
		GenesisEpoch: epoch.FixedGenesis(*n.config.genesisEpoch),
		DB:           n.db,
		EventBus:     n.eventBus,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to load epoch registry: %w", err)
	}
	n.epochs = registry
	if err := n.epochs.Start(); err != nil {
		return fmt.Errorf("failed to start epoch registry: %w", err)
	}
	// Load keys
	n.keystore = keystore.New(keystore.Config{
		Logger:   n.config.logger,
		KeyDir:   n.config.keyDir,
		KeyFiles: n.config.keyFiles,
	})
	if err := n.keystore.Load(); err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}
	if n.keystore.Len() == 0 && n.config.sealMode == SealModeBabe {
		n.config.logger.Warn(
			"no authority keys loaded, this node will not author blocks",
			"component", "node",
		)
	}
	// Initialize mempool
	n.mempool = mempool.NewMempool(mempool.MempoolConfig{
		MempoolCapacity: n.config.mempoolCapacity,
		Logger:          n.config.logger,
		EventBus:        n.eventBus,
		PromRegistry:    n.config.promRegistry,
	})
	// Block production pipeline
	if err := n.setupSealer(); err != nil {
		return err
	}
	n.scheduler = leader.NewScheduler(leader.SchedulerConfig{
		Logger:       n.config.logger,
		Chain:        n.chain,
		Epochs:       n.epochs,
		Keys:         n.keystore,
		PromRegistry: n.config.promRegistry,
		QueueSize:    n.config.schedulerQueueSize,
	})
	if err := n.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start authorship scheduler: %w", err)
	}
	if n.config.isEngineMode() {
		if err := n.startEngine(ctx); err != nil {
			return err
		}
	} else {
		if err := n.startSlotForger(ctx); err != nil {
			return err
		}
	}
	// Configure JSON-RPC
	if n.config.rpcListenAddress != "" {
		rpcCfg := rpc.Config{
			Logger:        n.config.logger,
			ListenAddress: n.config.rpcListenAddress,
			Chain:         n.chain,
			Authorship:    n.scheduler,
			Pool:          n.mempool,
			PromRegistry:  n.config.promRegistry,
		}
		if n.manualSeal != nil {
			rpcCfg.Engine = n.manualSeal
		}
		server, err := rpc.New(rpcCfg)
		if err != nil {
			return fmt.Errorf("failed to configure RPC server: %w", err)
		}
		n.rpcServer = server
		if err := n.rpcServer.Start(ctx); err != nil {
			return err
		}
	}
	n.config.logger.Info(
		"node started",
		"component", "node",
		"seal_mode", n.config.sealMode,
		"authorities", n.keystore.Len(),
		"genesis", n.chain.GenesisHash().String(),
	)
	return nil
}

func (n *Node) setupSealer() error {
	env, err := forging.NewBasicEnvironment(forging.BasicEnvironmentConfig{
		Logger:        n.config.logger,
		Pool:          n.mempool,
		MaxBlockTxs:   n.config.maxBlockTxs,
		MaxBlockBytes: n.config.maxBlockBytes,
	})
	if err != nil {
		return err
	}
	providers, err := inherent.NewProviders(
		inherent.TimestampProvider{},
		inherent.SlotProvider{
			GenesisTime:  n.config.genesisTime,
			SlotDuration: n.config.slotDuration,
		},
	)
	if err != nil {
		return err
	}
	epochImport, err := forging.NewEpochImport(forging.EpochImportConfig{
		Logger:        n.config.logger,
		Inner:         n.chain,
		Registry:      n.epochs,
		RequireClaims: n.config.requireClaims,
	})
	if err != nil {
		return err
	}
	sealer, err := forging.NewSealer(forging.SealerConfig{
		Logger:       n.config.logger,
		Pool:         n.mempool,
		Headers:      n.chain,
		Chain:        n.chain,
		Environment:  env,
		Inherents:    providers,
		Importer:     forging.NewImporter(epochImport),
		EventBus:     n.eventBus,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to configure sealer: %w", err)
	}
	n.sealer = sealer
	return nil
}

func (n *Node) startEngine(ctx context.Context) error {
	engine, err := forging.NewManualSeal(forging.ManualSealConfig{
		Logger:    n.config.logger,
		Sealer:    n.sealer,
		Finalizer: n.chain,
	})
	if err != nil {
		return err
	}
	n.manualSeal = engine
	if err := n.manualSeal.Start(ctx); err != nil {
		return err
	}
	if n.config.sealMode != SealModeInstant {
		return nil
	}
	instant, err := forging.NewInstantSeal(forging.InstantSealConfig{
		Logger:   n.config.logger,
		EventBus: n.eventBus,
		Engine:   n.manualSeal,
		Finalize: n.config.finalizeBlocks,
	})
	if err != nil {
		return err
	}
	n.instantSeal = instant
	return n.instantSeal.Start(ctx)
}

func (n *Node) startSlotForger(ctx context.Context) error {
	clock, err := slot.NewClock(slot.ClockConfig{
		Logger:       n.config.logger,
		GenesisTime:  n.config.genesisTime,
		SlotDuration: n.config.slotDuration,
	})
	if err != nil {
		return err
	}
	n.clock = clock
	forger, err := forging.NewSlotForger(forging.SlotForgerConfig{
		Logger:       n.config.logger,
		Sealer:       n.sealer,
		Chain:        n.chain,
		Epochs:       n.epochs,
		Keys:         n.keystore,
		Clock:        n.clock,
		PromRegistry: n.config.promRegistry,
		Finalize:     n.config.finalizeBlocks,
	})
	if err != nil {
		return err
	}
	n.slotForger = forger
	// Subscribe before the clock ticks so no slot is missed
	if err := n.slotForger.Start(ctx); err != nil {
		return err
	}
	n.clock.Start(ctx)
	return nil
}

// RpcAddr returns the bound JSON-RPC address, or nil when the server is not running
func (n *Node) RpcAddr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.rpcServer == nil {
		return nil
	}
	return n.rpcServer.Addr()
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := DefaultShutdownTimeout
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	n.mu.Lock()
	defer n.mu.Unlock()

	var err error

	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping new work", "component", "node")

	if n.rpcServer != nil {
		if stopErr := n.rpcServer.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("rpc shutdown: %w", stopErr))
		}
	}
	if n.instantSeal != nil {
		n.instantSeal.Stop()
	}
	if n.clock != nil {
		n.clock.Stop()
	}

	// Phase 2: Drain block production
	n.config.logger.Debug("shutdown phase 2: draining block production", "component", "node")

	if n.slotForger != nil {
		n.slotForger.Stop()
	}
	if n.manualSeal != nil {
		n.manualSeal.Stop()
	}
	if n.scheduler != nil {
		n.scheduler.Stop()
	}
	if n.mempool != nil {
		n.mempool.Stop()
	}
	if n.epochs != nil {
		n.epochs.Stop()
	}

	// Phase 3: Close database
	n.config.logger.Debug("shutdown phase 3: closing database", "component", "node")

	n.eventBus.Stop()
	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources", "component", "node")

	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown func: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	close(n.done)

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	return err
}

var _ forging.SlotTicker = (*slot.Clock)(nil)
