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
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/blinklabs-io/slotforge/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// OptionsFromConfig translates the loaded application config into node options
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) ([]ConfigOptionFunc, error) {
	genesisEpoch, err := cfg.GenesisEpoch()
	if err != nil {
		return nil, err
	}
	genesisTime, err := cfg.GenesisTime()
	if err != nil {
		return nil, err
	}
	sealMode := string(cfg.SealMode)
	if sealMode == "" {
		sealMode = SealModeBabe
	}
	opts := []ConfigOptionFunc{
		WithLogger(logger),
		WithDatabasePath(cfg.DataDir),
		WithSealMode(sealMode),
		WithGenesis(genesisEpoch, genesisTime),
		WithSlotDuration(cfg.SlotDuration),
		WithKeys(cfg.KeyDir, cfg.KeyFiles...),
		WithSchedulerQueueSize(cfg.SchedulerQueueSize),
		WithMempoolCapacity(cfg.MempoolCapacity),
		WithBlockLimits(cfg.MaxBlockTxs, cfg.MaxBlockBytes),
		WithRequireClaims(cfg.RequireClaims),
		WithFinalizeBlocks(cfg.FinalizeBlocks),
		WithShutdownTimeout(cfg.ShutdownTimeoutDuration()),
		WithTracing(cfg.Tracing.Enabled),
		WithTracingStdout(cfg.Tracing.Exporter == "stdout"),
		WithTracingEndpoint(cfg.Tracing.Endpoint),
	}
	if cfg.RpcPort > 0 {
		opts = append(
			opts,
			WithRpcListenAddress(
				net.JoinHostPort(cfg.BindAddr, strconv.FormatUint(uint64(cfg.RpcPort), 10)),
			),
		)
	}
	return opts, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := OptionsFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	opts = append(
		opts,
		// Enable metrics with default prometheus registry
		WithPrometheusRegistry(prometheus.DefaultRegisterer),
	)
	n, err := New(NewConfig(opts...))
	if err != nil {
		return err
	}
	shutdownTimeout := cfg.ShutdownTimeoutDuration()

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	g, ctx := errgroup.WithContext(signalCtx)

	// Metrics and debug listener
	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		http.Handle("/metrics", promhttp.Handler())
		metricsAddr := net.JoinHostPort(
			cfg.BindAddr,
			strconv.FormatUint(uint64(cfg.MetricsPort), 10),
		)
		logger.Info(
			"serving prometheus metrics on "+metricsAddr,
			"component", "node",
		)
		metricsServer = &http.Server{
			Addr:              metricsAddr,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				shutdownTimeout,
			)
			defer cancel()
			//nolint:contextcheck
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := n.Run(ctx); err != nil {
			return fmt.Errorf("node error: %w", err)
		}
		// A clean return still takes the other services down
		return context.Canceled
	})

	err = g.Wait()
	if signalCtx.Err() != nil {
		logger.Info("signal received, initiating graceful shutdown")
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logger.Error("node error", "error", err)
	}
	if stopErr := n.Stop(); stopErr != nil {
		logger.Error("shutdown errors occurred", "error", stopErr)
		return errors.Join(err, stopErr)
	}
	logger.Info("shutdown complete")
	return err
}
