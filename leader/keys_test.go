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

package leader_test

import (
	"bytes"
	"testing"

	"github.com/blinklabs-io/gouroboros/vrf"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/slotforge/epoch"
	"github.com/blinklabs-io/slotforge/leader"
)

type testSigner struct {
	sk []byte
}

func (s *testSigner) Prove(alpha []byte) ([]byte, []byte, error) {
	return vrf.Prove(s.sk, alpha)
}

type testKeys map[epoch.AuthorityID]*testSigner

func (k testKeys) VRFSigner(id epoch.AuthorityID) (leader.VRFSigner, bool) {
	s, ok := k[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func newTestKey(t *testing.T, seedByte byte) (epoch.AuthorityID, *testSigner) {
	t.Helper()
	pk, sk, err := vrf.KeyGen(bytes.Repeat([]byte{seedByte}, vrf.SeedSize))
	require.NoError(t, err)
	var id epoch.AuthorityID
	copy(id[:], pk)
	return id, &testSigner{sk: sk}
}

// testEpoch builds an epoch with n equally weighted authorities and returns
// a key provider holding all of their keys
func testEpoch(t *testing.T, n int, c epoch.Ratio, secondary bool) (*epoch.Epoch, testKeys) {
	t.Helper()
	keys := testKeys{}
	e := &epoch.Epoch{
		Index:          0,
		StartSlot:      0,
		Duration:       10,
		C:              c,
		SecondarySlots: secondary,
	}
	for i := range n {
		id, signer := newTestKey(t, byte(i+1))
		keys[id] = signer
		e.Authorities = append(e.Authorities, epoch.Authority{ID: id, Weight: 1})
	}
	e.Randomness[0] = 0x42
	return e, keys
}
