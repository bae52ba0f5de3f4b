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

package leader

import (
	"encoding/binary"
	"math/big"

	"github.com/blinklabs-io/gouroboros/cbor"
)

// Uint128 is an unsigned 128-bit integer. VRF outputs are compared against
// primary thresholds in this width.
type Uint128 struct {
	cbor.StructAsArray
	Hi uint64
	Lo uint64
}

// MaxUint128 is 2^128 - 1
var MaxUint128 = Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}

// Uint128FromLEBytes reads the first 16 bytes of b as a little-endian integer
func Uint128FromLEBytes(b []byte) Uint128 {
	var buf [16]byte
	copy(buf[:], b)
	return Uint128{
		Lo: binary.LittleEndian.Uint64(buf[0:8]),
		Hi: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// Uint128FromBig converts b, saturating at the type's bounds
func Uint128FromBig(b *big.Int) Uint128 {
	if b.Sign() <= 0 {
		return Uint128{}
	}
	if b.BitLen() > 128 {
		return MaxUint128
	}
	lo := new(big.Int).And(b, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(b, 64)
	return Uint128{Hi: hi.Uint64(), Lo: lo.Uint64()}
}

func (u Uint128) Big() *big.Int {
	ret := new(big.Int).SetUint64(u.Hi)
	ret.Lsh(ret, 64)
	return ret.Or(ret, new(big.Int).SetUint64(u.Lo))
}

// Cmp returns -1, 0 or +1 as u is less than, equal to or greater than v
func (u Uint128) Cmp(v Uint128) int {
	switch {
	case u.Hi < v.Hi:
		return -1
	case u.Hi > v.Hi:
		return 1
	case u.Lo < v.Lo:
		return -1
	case u.Lo > v.Lo:
		return 1
	default:
		return 0
	}
}

func (u Uint128) String() string {
	return u.Big().String()
}

// MarshalJSON writes the value as a bare JSON number
func (u Uint128) MarshalJSON() ([]byte, error) {
	return []byte(u.String()), nil
}
