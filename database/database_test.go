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

package database_test

import (
	"fmt"
	"testing"

	"github.com/blinklabs-io/slotforge/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryGetSetDelete(t *testing.T) {
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, database.ErrKeyNotFound)

	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	val, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, db.Delete([]byte("k")))
	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, database.ErrKeyNotFound)
}

func TestIteratePrefix(t *testing.T) {
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(func(txn *database.Txn) error {
		for i := range 3 {
			if err := txn.Set([]byte(fmt.Sprintf("a/%d", i)), []byte{byte(i)}); err != nil {
				return err
			}
		}
		return txn.Set([]byte("b/0"), []byte{9})
	}))

	var keys []string
	require.NoError(t, db.Iterate([]byte("a/"), func(key, val []byte) error {
		keys = append(keys, string(key))
		return nil
	}))
	assert.Equal(t, []string{"a/0", "a/1", "a/2"}, keys)
}

func TestPersistsToDataDir(t *testing.T) {
	dir := t.TempDir()
	db, err := database.New(&database.Config{
		DataDir:      dir,
		PromRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db, err = database.New(&database.Config{DataDir: dir})
	require.NoError(t, err)
	defer db.Close()
	val, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestClosedDatabase(t *testing.T) {
	db, err := database.New(nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, database.ErrClosed)
}
