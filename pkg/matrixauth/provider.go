// Copyright 2024-2026 Aiku AI

package matrixauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/aiku/irc-bridge-operator/pkg/juju"
)

// Secret labels and content keys shared by both relation sides. The labels
// address the owning side's secrets; the content keys index into the secret
// content map.
const (
	SharedSecretLabel         = "shared-secret"
	SharedSecretContentKey    = "shared-secret-content"
	EncryptionKeyLabel        = "encryption-key-secret"
	EncryptionKeyContentKey   = "encryption-key-content"
	AppRegistrationLabel      = "app-registration"
	AppRegistrationContentKey = "app-registration-content"
)

// Relation databag keys.
const (
	homeserverKey            = "homeserver"
	sharedSecretIDKey        = "shared_secret_id"
	encryptionKeySecretIDKey = "encryption_key_secret_id"
	registrationSecretKey    = "registration_secret"
)

// ErrInvalidRelationData means the remote side has not yet published a
// complete, resolvable databag. It is a not-ready condition, not a fault:
// reconciliation defers and the next relation-changed retries.
var ErrInvalidRelationData = errors.New("invalid relation data")

// ProviderData is the provider side of the matrix-auth exchange: the
// homeserver URL plus references to the two platform secrets. SharedSecret
// holds the local plaintext value on the provider and the resolved value on
// the requirer; it never enters relation data itself.
type ProviderData struct {
	Homeserver            string
	SharedSecret          string
	SharedSecretID        string
	EncryptionKeySecretID string
}

// ensureSharedSecret stores the shared secret as a platform secret the
// first time and grants the relation access. Subsequent calls for the same
// or other relations reuse the existing secret; the value must stay stable
// for the lifetime of the relation.
func (d *ProviderData) ensureSharedSecret(ctx context.Context, model juju.Model, rel *juju.Relation) error {
	sec, err := model.Secret(ctx, juju.SecretRef{Label: SharedSecretLabel})
	if errors.Is(err, juju.ErrSecretNotFound) {
		sec, err = model.AddSecret(ctx, SharedSecretLabel, map[string]string{
			SharedSecretContentKey: d.SharedSecret,
		})
	}
	if err != nil {
		return fmt.Errorf("ensuring shared secret: %w", err)
	}
	if err := model.GrantSecret(ctx, sec, rel); err != nil {
		return err
	}
	d.SharedSecretID = sec.ID
	return nil
}

// ensureEncryptionKey mirrors ensureSharedSecret for the encryption key,
// generating a fresh Fernet key only when no secret exists yet.
func (d *ProviderData) ensureEncryptionKey(ctx context.Context, model juju.Model, rel *juju.Relation) error {
	sec, err := model.Secret(ctx, juju.SecretRef{Label: EncryptionKeyLabel})
	if errors.Is(err, juju.ErrSecretNotFound) {
		var key string
		key, err = GenerateKey()
		if err != nil {
			return err
		}
		sec, err = model.AddSecret(ctx, EncryptionKeyLabel, map[string]string{
			EncryptionKeyContentKey: key,
		})
	}
	if err != nil {
		return fmt.Errorf("ensuring encryption key: %w", err)
	}
	if err := model.GrantSecret(ctx, sec, rel); err != nil {
		return err
	}
	d.EncryptionKeySecretID = sec.ID
	return nil
}

// ToWire materializes both secrets, grants the relation access, and returns
// the databag content: homeserver URL and the two opaque secret IDs. The
// secret values themselves never appear here.
func (d *ProviderData) ToWire(ctx context.Context, model juju.Model, rel *juju.Relation) (map[string]string, error) {
	if err := d.ensureSharedSecret(ctx, model, rel); err != nil {
		return nil, err
	}
	if err := d.ensureEncryptionKey(ctx, model, rel); err != nil {
		return nil, err
	}
	return map[string]string{
		homeserverKey:            d.Homeserver,
		sharedSecretIDKey:        d.SharedSecretID,
		encryptionKeySecretIDKey: d.EncryptionKeySecretID,
	}, nil
}

// ProviderDataFromWire parses the provider databag as seen by the requirer,
// resolving the shared secret through its opaque ID. A missing homeserver
// URL or unresolvable secret yields ErrInvalidRelationData.
func ProviderDataFromWire(ctx context.Context, model juju.Model, rel *juju.Relation) (*ProviderData, error) {
	data, err := model.RemoteAppData(ctx, rel)
	if err != nil {
		return nil, err
	}
	homeserver := data[homeserverKey]
	secretID := data[sharedSecretIDKey]
	if homeserver == "" || secretID == "" {
		return nil, fmt.Errorf("%w: missing homeserver or shared_secret_id", ErrInvalidRelationData)
	}
	sec, err := model.Secret(ctx, juju.SecretRef{ID: secretID})
	if err != nil {
		return nil, fmt.Errorf("%w: shared secret %s unresolvable", ErrInvalidRelationData, secretID)
	}
	sharedSecret := sec.Content[SharedSecretContentKey]
	if sharedSecret == "" {
		return nil, fmt.Errorf("%w: shared secret %s is empty", ErrInvalidRelationData, secretID)
	}
	return &ProviderData{
		Homeserver:            homeserver,
		SharedSecret:          sharedSecret,
		SharedSecretID:        secretID,
		EncryptionKeySecretID: data[encryptionKeySecretIDKey],
	}, nil
}
