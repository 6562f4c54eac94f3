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

// Package sink implements the Sink Registry: the persisted
// binding between an event and its trigger surface, including encryption of
// the PAT/OAuth tokens it carries.
package sink

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// EncryptionKey derives an AES-256-GCM key from SINK_TOKEN_ENCRYPTION_KEY.
//
// BLAKE3 has no presence anywhere in this module's dependency pack, so
// HKDF-SHA256 stands in (golang.org/x/crypto/hkdf is already a direct
// dependency) — see DESIGN.md.
type EncryptionKey struct {
	key []byte
}

// LoadEncryptionKey derives a 32-byte key from the process-wide seed.
func LoadEncryptionKey(seed string) (*EncryptionKey, error) {
	if seed == "" {
		return nil, nil
	}
	kdf := hkdf.New(sha256.New, []byte(seed), nil, []byte("flow-like-sink-token-key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("sink: derive encryption key: %w", err)
	}
	return &EncryptionKey{key: key}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM, returning base64-encoded
// ciphertext with the nonce prepended: [nonce(12) || ciphertext].
func (k *EncryptionKey) Encrypt(plaintext []byte) (string, error) {
	if k == nil {
		return "", fmt.Errorf("sink: encryption key is nil")
	}

	block, err := aes.NewCipher(k.key)
	if err != nil {
		return "", fmt.Errorf("sink: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("sink: create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("sink: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext produced by Encrypt. It returns
// a nil slice (no error) on any failure — tampering, wrong key, truncated
// input — per "decrypt returns None on any failure".
func (k *EncryptionKey) Decrypt(encoded string) []byte {
	if k == nil {
		return nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}

	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil
	}
	return plaintext
}
