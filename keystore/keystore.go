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

// Package keystore holds the VRF signing keys of the authorities this node
// may author blocks for.
package keystore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/blinklabs-io/gouroboros/vrf"

	"github.com/blinklabs-io/slotforge/epoch"
	"github.com/blinklabs-io/slotforge/leader"
)

var (
	ErrInsecureFileMode = errors.New("insecure file permissions")
	ErrDuplicateKey     = errors.New("duplicate authority key")
)

// KeyFileExtension marks signing key files when loading a directory
const KeyFileExtension = ".skey"

type Config struct {
	Logger *slog.Logger
	// KeyDir is scanned for *.skey files by Load
	KeyDir string
	// KeyFiles are loaded in addition to the contents of KeyDir
	KeyFiles []string
}

// Keystore maps authority IDs to VRF signing keys. It implements
// leader.KeyProvider.
type Keystore struct {
	config Config
	logger *slog.Logger
	mu     sync.RWMutex
	keys   map[epoch.AuthorityID]*vrfSigner
}

type vrfSigner struct {
	skey []byte
}

func (v *vrfSigner) Prove(alpha []byte) ([]byte, []byte, error) {
	return vrf.Prove(v.skey, alpha)
}

func New(cfg Config) *Keystore {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Keystore{
		config: cfg,
		logger: cfg.Logger.With("component", "keystore"),
		keys:   make(map[epoch.AuthorityID]*vrfSigner),
	}
}

// Load reads every configured key file. Files are checked for group and
// other access before they are read. A file named both in KeyFiles and by
// the KeyDir scan is loaded once.
func (ks *Keystore) Load() error {
	paths := slices.Clone(ks.config.KeyFiles)
	if ks.config.KeyDir != "" {
		matches, err := filepath.Glob(
			filepath.Join(ks.config.KeyDir, "*"+KeyFileExtension),
		)
		if err != nil {
			return fmt.Errorf("failed to list key directory: %w", err)
		}
		paths = append(paths, matches...)
	}
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		canonical, err := filepath.Abs(path)
		if err != nil {
			canonical = filepath.Clean(path)
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		key, err := loadKeyFromFile(path)
		if err != nil {
			return err
		}
		id, err := ks.insert(key.SKey)
		if err != nil {
			return fmt.Errorf("key file %q: %w", path, err)
		}
		ks.logger.Info(
			"loaded authority key",
			"path", path,
			"authority", id.String(),
		)
	}
	return nil
}

// Insert adds a key from its 32-byte seed
func (ks *Keystore) Insert(seed []byte) (epoch.AuthorityID, error) {
	return ks.insert(seed)
}

func (ks *Keystore) insert(seed []byte) (epoch.AuthorityID, error) {
	var id epoch.AuthorityID
	if len(seed) != vrf.SeedSize {
		return id, fmt.Errorf(
			"invalid VRF seed size: expected %d, got %d",
			vrf.SeedSize,
			len(seed),
		)
	}
	pk, sk, err := vrf.KeyGen(seed)
	if err != nil {
		return id, fmt.Errorf("failed to derive VRF key: %w", err)
	}
	copy(id[:], pk)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, ok := ks.keys[id]; ok {
		return id, fmt.Errorf("%w: %s", ErrDuplicateKey, id)
	}
	ks.keys[id] = &vrfSigner{
		skey: bytes.Clone(sk),
	}
	return id, nil
}

// VRFSigner returns the signer for an authority held by this keystore
func (ks *Keystore) VRFSigner(id epoch.AuthorityID) (leader.VRFSigner, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	signer, ok := ks.keys[id]
	if !ok {
		return nil, false
	}
	return signer, true
}

// Authorities lists the held authority IDs in byte order
func (ks *Keystore) Authorities() []epoch.AuthorityID {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	ret := make([]epoch.AuthorityID, 0, len(ks.keys))
	for id := range ks.keys {
		ret = append(ret, id)
	}
	slices.SortFunc(ret, func(a, b epoch.AuthorityID) int {
		return bytes.Compare(a[:], b[:])
	})
	return ret
}

func (ks *Keystore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

// GenerateKeyFile creates a new random key and writes it to path with
// owner-only permissions. It refuses to overwrite an existing file.
func GenerateKeyFile(path string) (epoch.AuthorityID, error) {
	var id epoch.AuthorityID
	seed := make([]byte, vrf.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return id, fmt.Errorf("failed to read random seed: %w", err)
	}
	pk, _, err := vrf.KeyGen(seed)
	if err != nil {
		return id, fmt.Errorf("failed to derive VRF key: %w", err)
	}
	data, err := encodeKeyEnvelope(seed, pk)
	if err != nil {
		return id, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return id, fmt.Errorf("failed to create key file %q: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return id, fmt.Errorf("failed to write key file %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return id, fmt.Errorf("failed to write key file %q: %w", path, err)
	}
	copy(id[:], pk)
	return id, nil
}
