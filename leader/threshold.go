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
	"math"
	"math/big"

	"github.com/blinklabs-io/slotforge/epoch"
)

// PrimaryThreshold returns the bound a VRF output must fall below for the
// authority at index to claim a primary slot:
//
//	p = 1 - (1 - c)^(w / W)
//	threshold = p * 2^128
//
// where w is the authority's weight and W the total weight.
func PrimaryThreshold(c epoch.Ratio, authorities []epoch.Authority, index int) Uint128 {
	if index < 0 || index >= len(authorities) {
		return Uint128{}
	}
	var total uint64
	for _, a := range authorities {
		total += a.Weight
	}
	if total == 0 || authorities[index].Weight == 0 {
		return Uint128{}
	}
	theta := float64(authorities[index].Weight) / float64(total)
	p := 1 - math.Pow(1-c.Float64(), theta)
	// c above 1 makes the base negative and p NaN
	if math.IsNaN(p) || p <= 0 {
		return Uint128{}
	}
	// p * 2^128 is exact in big.Float, truncation happens in Int
	scaled := new(big.Float).SetMantExp(big.NewFloat(p), 128)
	ret, _ := scaled.Int(nil)
	return Uint128FromBig(ret)
}

// belowThreshold checks the VRF output against threshold
func belowThreshold(output []byte, threshold Uint128) bool {
	return Uint128FromLEBytes(output).Cmp(threshold) < 0
}
