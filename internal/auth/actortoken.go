// SPDX-License-Identifier: MIT

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/larderhq/larder/internal/actor"
)

// Actor tokens are minted by the main app with the shared session secret and
// presented by clients on the websocket/API boundary. They carry the actor
// snapshot plus an expiry, signed with HMAC-SHA256:
//
//	base64url(claims JSON) "." base64url(HMAC-SHA256(secret, claims))
//
// The token proves the main app authorized this actor; it grants nothing on
// its own.

var (
	ErrSecretMissing  = errors.New("auth: actor token secret not configured")
	ErrTokenMalformed = errors.New("auth: malformed actor token")
	ErrTokenSignature = errors.New("auth: actor token signature mismatch")
	ErrTokenExpired   = errors.New("auth: actor token expired")
)

type actorClaims struct {
	Actor   actor.Context `json:"actor"`
	Expires int64         `json:"exp"`
}

// MintActorToken signs an actor snapshot valid for ttl.
func MintActorToken(secret []byte, a actor.Context, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrSecretMissing
	}
	payload, err := json.Marshal(actorClaims{Actor: a, Expires: time.Now().Add(ttl).Unix()})
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + signActorToken(secret, body), nil
}

// VerifyActorToken checks signature and expiry, returning the embedded actor.
func VerifyActorToken(secret []byte, token string) (actor.Context, error) {
	if len(secret) == 0 {
		return actor.Context{}, ErrSecretMissing
	}
	body, sig, ok := strings.Cut(token, ".")
	if !ok || body == "" || sig == "" {
		return actor.Context{}, ErrTokenMalformed
	}

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return actor.Context{}, ErrTokenMalformed
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(body))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return actor.Context{}, ErrTokenSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return actor.Context{}, ErrTokenMalformed
	}
	var claims actorClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return actor.Context{}, ErrTokenMalformed
	}
	if time.Now().Unix() >= claims.Expires {
		return actor.Context{}, ErrTokenExpired
	}
	if !claims.Actor.Valid() {
		return actor.Context{}, ErrTokenMalformed
	}
	return claims.Actor, nil
}

func signActorToken(secret []byte, body string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
