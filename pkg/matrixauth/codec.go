// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixauth implements the matrix-auth relation: the secret
// exchange between a Matrix homeserver charm (provider) and an appservice
// charm such as an IRC bridge (requirer).
//
// The provider publishes its homeserver URL plus two opaque platform-secret
// IDs: one holding the registration shared secret, one holding a symmetric
// encryption key. The requirer encrypts its appservice registration with
// that key before placing it in relation data, so plaintext registration
// content never crosses the relation boundary. In a cross-model relation
// the provider cannot read requirer-owned secrets, which is why the key
// travels provider-to-requirer rather than the content travelling as a
// secret of its own.
//
// Tokens use the Fernet format so either side of the relation can be
// implemented against any Fernet library.
package matrixauth

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// ErrInvalidToken is returned by Decrypt when the ciphertext is malformed
// or was not produced with the given key. Callers log it and treat the
// relation as not yet ready; the next relation-changed retries naturally.
var ErrInvalidToken = errors.New("invalid encryption token")

// GenerateKey returns a fresh base64-encoded Fernet key.
func GenerateKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("generating encryption key: %w", err)
	}
	return key.Encode(), nil
}

// Encrypt encrypts plaintext into a Fernet token using the encoded key.
func Encrypt(key, plaintext string) (string, error) {
	k, err := fernet.DecodeKey(key)
	if err != nil {
		return "", fmt.Errorf("decoding encryption key: %w", err)
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), k)
	if err != nil {
		return "", fmt.Errorf("encrypting relation payload: %w", err)
	}
	return string(tok), nil
}

// Decrypt reverses Encrypt. Tokens never expire: the registration content
// is valid for the whole lifetime of the relation.
func Decrypt(key, ciphertext string) (string, error) {
	k, err := fernet.DecodeKey(key)
	if err != nil {
		return "", fmt.Errorf("decoding encryption key: %w", err)
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{k})
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}
