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

package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/slotforge/epoch"
)

type ctxKey string

const configContextKey ctxKey = "slotforge.config"

const (
	DefaultShutdownTimeout = "30s"
	EnvPrefix              = "slotforge"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// SealMode selects how blocks are produced
type SealMode string

const (
	SealModeBabe    SealMode = "babe"    // Slot claims on a wall clock (default)
	SealModeManual  SealMode = "manual"  // Blocks only on engine_createBlock
	SealModeInstant SealMode = "instant" // A block for every new transaction
)

// Valid returns true if the SealMode is a known mode
func (m SealMode) Valid() bool {
	switch m {
	case SealModeBabe, SealModeManual, SealModeInstant, "":
		return true
	default:
		return false
	}
}

// UsesEngine reports whether the mode takes sealing commands
func (m SealMode) UsesEngine() bool {
	return m == SealModeManual || m == SealModeInstant
}

type AuthorityConfig struct {
	// Key is the hex-encoded VRF verification key
	Key    string `yaml:"key"`
	Weight uint64 `yaml:"weight"`
}

type GenesisConfig struct {
	// Time is the RFC 3339 start of slot 0. Empty means the Unix epoch.
	Time           string            `yaml:"time"`
	StartSlot      uint64            `yaml:"startSlot"      split_words:"true"`
	Randomness     string            `yaml:"randomness"`
	Authorities    []AuthorityConfig `yaml:"authorities"    ignored:"true"`
	SecondarySlots bool              `yaml:"secondarySlots" split_words:"true"`
	// PrimaryNumerator/PrimaryDenominator is the chance that a slot has
	// a primary author
	PrimaryNumerator   uint64 `yaml:"primaryNumerator"   split_words:"true"`
	PrimaryDenominator uint64 `yaml:"primaryDenominator" split_words:"true"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "stdout" or "otlp"
	Exporter string `yaml:"exporter"`
	// Endpoint is the OTLP/HTTP collector address
	Endpoint string `yaml:"endpoint"`
}

type Config struct {
	// DataDir holds the database. An empty path keeps everything in memory.
	DataDir            string        `yaml:"dataDir"            split_words:"true"`
	BindAddr           string        `yaml:"bindAddr"           split_words:"true"`
	RpcPort            uint          `yaml:"rpcPort"            split_words:"true"`
	MetricsPort        uint          `yaml:"metricsPort"        split_words:"true"`
	SealMode           SealMode      `yaml:"sealMode"           split_words:"true"`
	SlotDuration       time.Duration `yaml:"slotDuration"       split_words:"true"`
	EpochLength        uint64        `yaml:"epochLength"        split_words:"true"`
	KeyDir             string        `yaml:"keyDir"             split_words:"true"`
	KeyFiles           []string      `yaml:"keyFiles"           split_words:"true"`
	SchedulerQueueSize int           `yaml:"schedulerQueueSize" split_words:"true"`
	MempoolCapacity    int64         `yaml:"mempoolCapacity"    split_words:"true"`
	MaxBlockTxs        int           `yaml:"maxBlockTxs"        split_words:"true"`
	MaxBlockBytes      int           `yaml:"maxBlockBytes"      split_words:"true"`
	RequireClaims      bool          `yaml:"requireClaims"      split_words:"true"`
	FinalizeBlocks     bool          `yaml:"finalizeBlocks"     split_words:"true"`
	ShutdownTimeout    string        `yaml:"shutdownTimeout"    split_words:"true"`
	Debug              bool          `yaml:"debug"`
	Genesis            GenesisConfig `yaml:"genesis"`
	Tracing            TracingConfig `yaml:"tracing"`
}

// DefaultConfig returns a fresh copy of the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:            ".slotforge",
		BindAddr:           "0.0.0.0",
		RpcPort:            9933,
		MetricsPort:        9615,
		SealMode:           SealModeBabe,
		SlotDuration:       6 * time.Second,
		EpochLength:        200,
		SchedulerQueueSize: 16,
		MempoolCapacity:    4 * 1024 * 1024,
		MaxBlockTxs:        1000,
		MaxBlockBytes:      2 * 1024 * 1024,
		ShutdownTimeout:    DefaultShutdownTimeout,
		Genesis: GenesisConfig{
			PrimaryNumerator:   1,
			PrimaryDenominator: 4,
			SecondarySlots:     true,
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
	}
}

// LoadConfig overlays the config file and then the environment on the
// defaults. Without an explicit path ~/.slotforge/slotforge.yaml and
// /etc/slotforge/slotforge.yaml are tried in order.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".slotforge", "slotforge.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/slotforge/slotforge.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if cfg.SealMode == "" {
		cfg.SealMode = SealModeBabe
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that the node cannot default
func (c *Config) Validate() error {
	if !c.SealMode.Valid() {
		return fmt.Errorf(
			"invalid sealMode: %q (must be 'babe', 'manual', or 'instant')",
			c.SealMode,
		)
	}
	if c.SlotDuration <= 0 {
		return errors.New("slotDuration must be positive")
	}
	if c.EpochLength == 0 {
		return errors.New("epochLength must be positive")
	}
	if c.Genesis.PrimaryDenominator == 0 ||
		c.Genesis.PrimaryNumerator > c.Genesis.PrimaryDenominator {
		return fmt.Errorf(
			"invalid primary slot probability %d/%d",
			c.Genesis.PrimaryNumerator,
			c.Genesis.PrimaryDenominator,
		)
	}
	if _, err := c.GenesisTime(); err != nil {
		return err
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			return fmt.Errorf("invalid tracing exporter: %q", c.Tracing.Exporter)
		}
	}
	return nil
}

// GenesisTime returns the start of slot 0
func (c *Config) GenesisTime() (time.Time, error) {
	if c.Genesis.Time == "" {
		return time.Unix(0, 0), nil
	}
	t, err := time.Parse(time.RFC3339, c.Genesis.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid genesis time: %w", err)
	}
	return t, nil
}

// GenesisEpoch builds the epoch that governs the chain until a block
// records another one
func (c *Config) GenesisEpoch() (epoch.Epoch, error) {
	e := epoch.Epoch{
		StartSlot: c.Genesis.StartSlot,
		Duration:  c.EpochLength,
		C: epoch.Ratio{
			Numerator:   c.Genesis.PrimaryNumerator,
			Denominator: c.Genesis.PrimaryDenominator,
		},
		SecondarySlots: c.Genesis.SecondarySlots,
	}
	if c.Genesis.Randomness != "" {
		randomness, err := hex.DecodeString(c.Genesis.Randomness)
		if err != nil {
			return e, fmt.Errorf("invalid genesis randomness: %w", err)
		}
		if len(randomness) > len(e.Randomness) {
			return e, fmt.Errorf(
				"genesis randomness is %d bytes, at most %d allowed",
				len(randomness),
				len(e.Randomness),
			)
		}
		copy(e.Randomness[:], randomness)
	}
	if len(c.Genesis.Authorities) == 0 {
		return e, errors.New("genesis has no authorities")
	}
	for i, auth := range c.Genesis.Authorities {
		key, err := hex.DecodeString(auth.Key)
		if err != nil {
			return e, fmt.Errorf("genesis authority %d: %w", i, err)
		}
		var id epoch.AuthorityID
		if len(key) != len(id) {
			return e, fmt.Errorf(
				"genesis authority %d: key is %d bytes, expected %d",
				i,
				len(key),
				len(id),
			)
		}
		copy(id[:], key)
		weight := auth.Weight
		if weight == 0 {
			weight = 1
		}
		e.Authorities = append(e.Authorities, epoch.Authority{ID: id, Weight: weight})
	}
	return e, nil
}

// ShutdownTimeoutDuration parses ShutdownTimeout, falling back to the
// default on an empty or invalid value
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultShutdownTimeout)
	}
	return d
}
