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

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	gethRPC "github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultListenAddress = ":9933"

type Config struct {
	Logger        *slog.Logger
	ListenAddress string
	Chain         ChainInfo
	Authorship    AuthorshipSource
	// Engine enables the engine_* methods when set
	Engine SealingEngine
	// Pool enables author_submitExtrinsic when set
	Pool         TransactionSubmitter
	PromRegistry prometheus.Registerer
}

// Server is the JSON-RPC server. Method dispatch and the JSON-RPC envelope
// are handled by the go-ethereum RPC server; this type adds the health
// route, metrics and the listener lifecycle.
type Server struct {
	config     Config
	logger     *slog.Logger
	rpc        *gethRPC.Server
	requests   *prometheus.CounterVec
	httpServer *http.Server
	listenAddr net.Addr
	stopped    bool
	mu         sync.Mutex
}

func New(cfg Config) (*Server, error) {
	if cfg.Chain == nil {
		return nil, errors.New("chain is required")
	}
	if cfg.Authorship == nil {
		return nil, errors.New("authorship source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	s := &Server{
		config: cfg,
		logger: cfg.Logger.With("component", "rpc"),
		requests: promauto.With(cfg.PromRegistry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotforge_rpc_requests_total",
				Help: "JSON-RPC calls by method and outcome",
			},
			[]string{"method", "result"},
		),
	}
	s.rpc = gethRPC.NewServer()
	services := map[string]any{
		"babe": &babeAPI{s: s},
	}
	if cfg.Engine != nil {
		services["engine"] = &engineAPI{s: s}
	}
	if cfg.Pool != nil {
		services["author"] = &authorAPI{s: s}
	}
	for name, svc := range services {
		if err := s.rpc.RegisterName(name, svc); err != nil {
			return nil, fmt.Errorf("failed to register %s RPC service: %w", name, err)
		}
	}
	return s, nil
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /", s.rpc)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) observe(method string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		s.logger.Debug(
			"rpc call failed",
			"method", method,
			"error", err,
		)
	}
	s.requests.WithLabelValues(method, result).Inc()
}

// Start binds the listener and serves in a background goroutine. The
// server shuts down when ctx is cancelled and cannot be started again.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	if s.stopped {
		s.mu.Unlock()
		return errors.New("server stopped")
	}
	server := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen for RPC server: %w", err)
	}
	s.httpServer = server
	s.listenAddr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("RPC server error", "error", err)
		}
	}()
	s.logger.Info("RPC listener started on " + ln.Addr().String())

	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		//nolint:contextcheck
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error(
				"failed to shutdown RPC server on context cancellation",
				"error", err,
			)
		}
	}()
	return nil
}

// Addr returns the bound address while the server runs
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listenAddr = nil
	if srv != nil {
		s.stopped = true
	}
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Debug("shutting down RPC server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown RPC server: %w", err)
	}
	s.rpc.Stop()
	return nil
}
