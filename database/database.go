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

package database

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultBlockCacheSize   = 256 << 20
	DefaultIndexCacheSize   = 64 << 20
	DefaultValueLogFileSize = 256 << 20
	defaultGcInterval       = 5 * time.Minute
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("database is closed")
)

type Config struct {
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	DataDir        string
	BlockCacheSize uint64
	IndexCacheSize uint64
	// GcInterval controls value log garbage collection for disk-backed
	// databases. Zero selects the default, a negative value disables it.
	GcInterval time.Duration
}

// Database is a key/value store backed by badger. It is in-memory when no
// data directory is configured.
type Database struct {
	config   Config
	logger   *slog.Logger
	db       *badger.DB
	gcStopCh chan struct{}
	gcWg     sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool
}

// New opens the database described by config
func New(config *Config) (*Database, error) {
	if config == nil {
		config = &Config{}
	}
	d := &Database{
		config: *config,
		logger: config.Logger,
	}
	if d.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if d.config.BlockCacheSize == 0 {
		d.config.BlockCacheSize = DefaultBlockCacheSize
	}
	if d.config.IndexCacheSize == 0 {
		d.config.IndexCacheSize = DefaultIndexCacheSize
	}
	var badgerOpts badger.Options
	if d.config.DataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithLogger(NewBadgerLogger(d.logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(d.config.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(d.config.DataDir, "kv")).
			WithLogger(NewBadgerLogger(d.logger)).
			WithLoggingLevel(badger.WARNING).
			WithBlockCacheSize(int64(d.config.BlockCacheSize)). //nolint:gosec // cache size is controlled and reasonable
			WithIndexCacheSize(int64(d.config.IndexCacheSize)). //nolint:gosec // cache size is controlled and reasonable
			WithValueLogFileSize(DefaultValueLogFileSize).
			WithCompression(options.Snappy)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	d.db = db
	if d.config.PromRegistry != nil {
		d.registerMetrics(d.config.PromRegistry)
	}
	if d.config.DataDir != "" && d.config.GcInterval >= 0 {
		interval := d.config.GcInterval
		if interval == 0 {
			interval = defaultGcInterval
		}
		d.gcStopCh = make(chan struct{})
		d.gcWg.Add(1)
		go d.valueLogGc(interval, d.gcStopCh)
	}
	return d, nil
}

func (d *Database) valueLogGc(interval time.Duration, stop <-chan struct{}) {
	defer d.gcWg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			for {
				err := d.db.RunValueLogGC(0.5)
				if err == nil {
					// Run it again if it just ran successfully
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					d.logger.Warn(
						fmt.Sprintf("value log GC failure: %s", err),
						"component", "database",
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

// Close stops background GC and closes badger. It is safe to call more than once.
func (d *Database) Close() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.gcStopCh != nil {
		close(d.gcStopCh)
		d.gcWg.Wait()
	}
	return d.db.Close()
}

// Get returns a copy of the value stored at key
func (d *Database) Get(key []byte) ([]byte, error) {
	var ret []byte
	err := d.View(func(txn *Txn) error {
		var err error
		ret, err = txn.Get(key)
		return err
	})
	return ret, err
}

func (d *Database) Set(key, val []byte) error {
	return d.Update(func(txn *Txn) error {
		return txn.Set(key, val)
	})
}

func (d *Database) Delete(key []byte) error {
	return d.Update(func(txn *Txn) error {
		return txn.Delete(key)
	})
}

// View runs fn in a read-only transaction
func (d *Database) View(fn func(*Txn) error) error {
	if d.isClosed() {
		return ErrClosed
	}
	return d.db.View(func(tx *badger.Txn) error {
		return fn(&Txn{tx: tx})
	})
}

// Update runs fn in a read-write transaction that commits when fn returns nil
func (d *Database) Update(fn func(*Txn) error) error {
	if d.isClosed() {
		return ErrClosed
	}
	return d.db.Update(func(tx *badger.Txn) error {
		return fn(&Txn{tx: tx})
	})
}

// Iterate calls fn for every key with the given prefix, in key order
func (d *Database) Iterate(prefix []byte, fn func(key, val []byte) error) error {
	return d.View(func(txn *Txn) error {
		return txn.Iterate(prefix, fn)
	})
}

func (d *Database) isClosed() bool {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	return d.closed
}

// Txn wraps a badger transaction
type Txn struct {
	tx *badger.Txn
}

func (t *Txn) Get(key []byte) ([]byte, error) {
	item, err := t.tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *Txn) Set(key, val []byte) error {
	return t.tx.Set(key, val)
}

func (t *Txn) Delete(key []byte) error {
	return t.tx.Delete(key)
}

func (t *Txn) Iterate(prefix []byte, fn func(key, val []byte) error) error {
	it := t.tx.NewIterator(badger.IteratorOptions{
		Prefix:         prefix,
		PrefetchValues: true,
		PrefetchSize:   100,
	})
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}
