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

// Package auth issues and verifies the executor/user JWT pair minted by the
// Run Builder.
package auth

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	conductorerrors "github.com/flow-like/core/pkg/errors"
)

// TokenType distinguishes the executor callback token from the caller's
// polling token; both share the same claim shape but the executor token
// additionally authorizes callback writes.
type TokenType string

const (
	TokenTypeExecutor TokenType = "Executor"
	TokenTypeUser     TokenType = "User"

	// ExecutorTokenTTL is the executor JWT's lifetime.
	ExecutorTokenTTL = 24 * time.Hour
	// UserTokenTTL is the caller's polling JWT lifetime.
	UserTokenTTL = 1 * time.Hour
)

// Claims is the JWT payload shared by both token types.
type Claims struct {
	jwt.RegisteredClaims

	RunID       string    `json:"run_id"`
	AppID       string    `json:"app_id"`
	BoardID     string    `json:"board_id"`
	EventID     string    `json:"event_id,omitempty"`
	CallbackURL string    `json:"callback_url,omitempty"`
	TokenType   TokenType `json:"token_type"`
	Scopes      []string  `json:"scopes,omitempty"`
	LogLevel    int       `json:"log_level,omitempty"`
}

// Config carries the signing/verification material. Tokens are issued with
// EdDSA when PrivateKey is set (EXECUTION_KEY/EXECUTION_PUB as an Ed25519
// pair), otherwise with HS256 when Secret is set; verification accepts
// either algorithm, given the matching key.
type Config struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Secret     []byte
	Issuer     string
	ClockSkew  time.Duration
}

// IssueExecutorJWT mints the 24h-TTL token the executor uses to call back
// into the API.
func IssueExecutorJWT(cfg Config, runID, appID, boardID, eventID, callbackURL string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   runID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ExecutorTokenTTL)),
		},
		RunID:       runID,
		AppID:       appID,
		BoardID:     boardID,
		EventID:     eventID,
		CallbackURL: callbackURL,
		TokenType:   TokenTypeExecutor,
	}
	return sign(claims, cfg)
}

// IssueUserJWT mints the 1h-TTL token the caller uses to poll GET /runs/{id}.
func IssueUserJWT(cfg Config, runID, appID, boardID, eventID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   runID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(UserTokenTTL)),
		},
		RunID:     runID,
		AppID:     appID,
		BoardID:   boardID,
		EventID:   eventID,
		TokenType: TokenTypeUser,
	}
	return sign(claims, cfg)
}

func sign(claims Claims, cfg Config) (string, error) {
	if cfg.Issuer != "" {
		claims.Issuer = cfg.Issuer
	}

	var token *jwt.Token
	switch {
	case cfg.PrivateKey != nil:
		token = jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	case len(cfg.Secret) > 0:
		token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	default:
		return "", &conductorerrors.ConfigError{Key: "EXECUTION_KEY", Reason: "no JWT signing key configured"}
	}

	var signed string
	var err error
	if cfg.PrivateKey != nil {
		signed, err = token.SignedString(cfg.PrivateKey)
	} else {
		signed, err = token.SignedString(cfg.Secret)
	}
	if err != nil {
		return "", fmt.Errorf("auth: sign jwt: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its Claims.
func Verify(tokenString string, cfg Config) (*Claims, error) {
	if tokenString == "" {
		return nil, &conductorerrors.UnauthorizedError{Reason: "empty token"}
	}

	parser := jwt.NewParser(jwt.WithLeeway(cfg.ClockSkew))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case "HS256":
			if len(cfg.Secret) == 0 {
				return nil, fmt.Errorf("HS256 requires a secret")
			}
			return cfg.Secret, nil
		case "EdDSA":
			if cfg.PublicKey == nil {
				return nil, fmt.Errorf("EdDSA requires a public key")
			}
			return cfg.PublicKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
	})
	if err != nil {
		return nil, &conductorerrors.UnauthorizedError{Reason: fmt.Sprintf("invalid token: %v", err)}
	}
	if !token.Valid {
		return nil, &conductorerrors.UnauthorizedError{Reason: "token is invalid"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, &conductorerrors.UnauthorizedError{Reason: "unexpected claims type"}
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, &conductorerrors.UnauthorizedError{Reason: "issuer mismatch"}
	}
	return claims, nil
}

// VerifyExecutor additionally requires the Executor token type, rejecting a
// user polling token presented at the callback endpoint.
func VerifyExecutor(tokenString string, cfg Config) (*Claims, error) {
	claims, err := Verify(tokenString, cfg)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeExecutor {
		return nil, &conductorerrors.UnauthorizedError{Reason: "token is not an executor token"}
	}
	return claims, nil
}
