// Copyright 2025 Tom Barlow
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

package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// LoadKeyPair decodes the EXECUTION_KEY/EXECUTION_PUB pair from
// their hex-encoded form into the Ed25519 key material Config signs and
// verifies with. pubHex alone is enough for a verify-only Config (executor
// binaries never issue tokens, only validate the ones the Run Builder
// minted).
func LoadKeyPair(privHex, pubHex string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	var priv ed25519.PrivateKey
	var pub ed25519.PublicKey

	if privHex != "" {
		raw, err := hex.DecodeString(privHex)
		if err != nil {
			return nil, nil, fmt.Errorf("auth: decode EXECUTION_KEY: %w", err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, nil, fmt.Errorf("auth: EXECUTION_KEY must decode to %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
		}
		priv = ed25519.PrivateKey(raw)
	}

	if pubHex != "" {
		raw, err := hex.DecodeString(pubHex)
		if err != nil {
			return nil, nil, fmt.Errorf("auth: decode EXECUTION_PUB: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, nil, fmt.Errorf("auth: EXECUTION_PUB must decode to %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		pub = ed25519.PublicKey(raw)
	} else if priv != nil {
		pub = priv.Public().(ed25519.PublicKey)
	}

	return priv, pub, nil
}
