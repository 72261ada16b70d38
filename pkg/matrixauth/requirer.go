// Copyright 2024-2026 Aiku AI

package matrixauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/irc-bridge-operator/pkg/juju"
)

// RequirerData is the requirer side of the exchange: the appservice
// registration content. It exists in plaintext only in memory; on the wire
// it is always a Fernet token under the provider-issued encryption key.
type RequirerData struct {
	Registration string
}

// encryptionKey resolves the relation's encryption key. The requirer finds
// the secret ID in the provider's databag; the provider itself owns the
// secret and resolves it by label instead.
func encryptionKey(ctx context.Context, model juju.Model, rel *juju.Relation) (string, error) {
	data, err := model.RemoteAppData(ctx, rel)
	if err != nil {
		return "", err
	}
	ref := juju.SecretRef{ID: data[encryptionKeySecretIDKey]}
	if ref.ID == "" {
		ref = juju.SecretRef{Label: EncryptionKeyLabel}
	}
	sec, err := model.Secret(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%w: encryption key unresolvable", ErrInvalidRelationData)
	}
	key := sec.Content[EncryptionKeyContentKey]
	if key == "" {
		return "", fmt.Errorf("%w: encryption key is empty", ErrInvalidRelationData)
	}
	return key, nil
}

// ToWire encrypts the registration content and returns the databag
// payload. Fails with ErrInvalidRelationData when no encryption key is
// resolvable yet.
func (d *RequirerData) ToWire(ctx context.Context, model juju.Model, rel *juju.Relation) (map[string]string, error) {
	key, err := encryptionKey(ctx, model, rel)
	if err != nil {
		return nil, err
	}
	token, err := Encrypt(key, d.Registration)
	if err != nil {
		return nil, err
	}
	return map[string]string{registrationSecretKey: token}, nil
}

// RequirerDataFromWire parses the requirer databag as seen by the provider.
// A missing key, missing registration_secret field, or undecryptable token
// is a not-yet-ready condition: it is logged and (nil, nil) is returned
// rather than an error, matching the no-retry drop semantics of the
// relation protocol.
func RequirerDataFromWire(ctx context.Context, log zerolog.Logger, model juju.Model, rel *juju.Relation) (*RequirerData, error) {
	key, err := encryptionKey(ctx, model, rel)
	if err != nil {
		if errors.Is(err, ErrInvalidRelationData) {
			log.Warn().Err(err).Stringer("relation", rel).Msg("Requirer data not ready")
			return nil, nil
		}
		return nil, err
	}
	data, err := model.RemoteAppData(ctx, rel)
	if err != nil {
		return nil, err
	}
	token := data[registrationSecretKey]
	if token == "" {
		log.Warn().Stringer("relation", rel).Msg("No registration_secret in relation data")
		return nil, nil
	}
	registration, err := Decrypt(key, token)
	if err != nil {
		log.Warn().Err(err).Stringer("relation", rel).Msg("Failed to decrypt registration")
		return nil, nil
	}
	return &RequirerData{Registration: registration}, nil
}
