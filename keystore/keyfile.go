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

package keystore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/vrf"
)

const (
	vrfKeyType        = "VrfSigningKey_PraosVRF"
	vrfKeyDescription = "VRF Signing Key"
)

// keyFileEnvelope is the JSON text envelope a key file is stored in
type keyFileEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

type loadedKey struct {
	Type        string
	Description string
	SKey        []byte
	VKey        []byte
}

// loadKeyFromFile opens path and checks permissions on the open handle
// before reading, so the checked file is the one that gets read.
func loadKeyFromFile(path string) (*loadedKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()

	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}

	const maxKeyFileSize = 1 << 20
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	key, err := parseKeyEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	return key, nil
}

func parseKeyEnvelope(fileBytes []byte) (*loadedKey, error) {
	var env keyFileEnvelope
	if err := json.Unmarshal(fileBytes, &env); err != nil {
		return nil, fmt.Errorf("could not parse key file envelope: %w", err)
	}
	cborData, err := hex.DecodeString(env.CborHex)
	if err != nil {
		return nil, fmt.Errorf("could not decode key from hex: %w", err)
	}
	switch env.Type {
	case vrfKeyType, "VRFSigningKey_PraosVRF":
		sk, vk, err := decodeVRFSKey(cborData)
		if err != nil {
			return nil, err
		}
		return &loadedKey{
			Type:        env.Type,
			Description: env.Description,
			SKey:        sk,
			VKey:        vk,
		}, nil
	default:
		return nil, fmt.Errorf("unknown key type: %s", env.Type)
	}
}

// decodeVRFSKey returns the seed and derived public key. A trailing public
// key in the file is ignored in favour of the derived one.
func decodeVRFSKey(skeyBytes []byte) ([]byte, []byte, error) {
	var keyBytes []byte
	if _, err := cbor.Decode(skeyBytes, &keyBytes); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal VRF skey CBOR: %w", err)
	}
	switch len(keyBytes) {
	case vrf.SeedSize, vrf.SeedSize + vrf.PublicKeySize:
		seed := keyBytes[:vrf.SeedSize]
		pubKey, _, err := vrf.KeyGen(seed)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to derive VRF public key: %w", err)
		}
		return seed, pubKey, nil
	default:
		return nil, nil, fmt.Errorf(
			"invalid VRF skey bytes: expected %d or %d, got %d",
			vrf.SeedSize,
			vrf.SeedSize+vrf.PublicKeySize,
			len(keyBytes),
		)
	}
}

func encodeKeyEnvelope(seed, pk []byte) ([]byte, error) {
	raw := make([]byte, 0, len(seed)+len(pk))
	raw = append(raw, seed...)
	raw = append(raw, pk...)
	cborData, err := cbor.Encode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode VRF skey: %w", err)
	}
	return json.MarshalIndent(
		keyFileEnvelope{
			Type:        vrfKeyType,
			Description: vrfKeyDescription,
			CborHex:     hex.EncodeToString(cborData),
		},
		"",
		"    ",
	)
}
