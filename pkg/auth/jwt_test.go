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
	"crypto/rand"
	"testing"
	"time"
)

func testEdDSAConfig(t *testing.T) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return Config{PrivateKey: priv, PublicKey: pub, Issuer: "test-issuer", ClockSkew: 5 * time.Second}
}

func TestIssueAndVerifyExecutorJWT(t *testing.T) {
	cfg := testEdDSAConfig(t)

	token, err := IssueExecutorJWT(cfg, "run-1", "app-1", "board-1", "event-1", "https://callback.example/run-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := VerifyExecutor(token, cfg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.RunID != "run-1" || claims.AppID != "app-1" || claims.BoardID != "board-1" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.TokenType != TokenTypeExecutor {
		t.Errorf("token_type = %v, want Executor", claims.TokenType)
	}
}

func TestIssueAndVerifyUserJWT(t *testing.T) {
	cfg := testEdDSAConfig(t)

	token, err := IssueUserJWT(cfg, "run-1", "app-1", "board-1", "event-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Verify(token, cfg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.TokenType != TokenTypeUser {
		t.Errorf("token_type = %v, want User", claims.TokenType)
	}

	if _, err := VerifyExecutor(token, cfg); err == nil {
		t.Fatal("expected VerifyExecutor to reject a user token")
	}
}

func TestVerify_RejectsEmptyToken(t *testing.T) {
	cfg := testEdDSAConfig(t)
	if _, err := Verify("", cfg); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestVerify_RejectsWrongIssuer(t *testing.T) {
	cfg := testEdDSAConfig(t)
	token, err := IssueUserJWT(cfg, "run-1", "app-1", "board-1", "event-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := cfg
	other.Issuer = "different-issuer"
	if _, err := Verify(token, other); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	cfg := testEdDSAConfig(t)
	token, err := IssueUserJWT(cfg, "run-1", "app-1", "board-1", "event-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := testEdDSAConfig(t)
	if _, err := Verify(token, other); err == nil {
		t.Fatal("expected signature verification to fail under a different key")
	}
}

func TestSign_HS256Fallback(t *testing.T) {
	cfg := Config{Secret: []byte("shared-secret"), Issuer: "test-issuer"}

	token, err := IssueUserJWT(cfg, "run-1", "app-1", "board-1", "event-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Verify(token, cfg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.RunID != "run-1" {
		t.Errorf("run_id = %q, want run-1", claims.RunID)
	}
}

func TestSign_NoKeyConfigured(t *testing.T) {
	cfg := Config{Issuer: "test-issuer"}
	if _, err := IssueUserJWT(cfg, "run-1", "app-1", "board-1", "event-1"); err == nil {
		t.Fatal("expected error when no signing key is configured")
	}
}
