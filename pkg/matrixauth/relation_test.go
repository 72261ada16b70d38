// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrixauth

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/irc-bridge-operator/pkg/juju"
)

// providerFixture wires a MemoryModel with a provider databag already
// published on a matrix-auth relation, the way a requirer unit sees it.
func providerFixture(t *testing.T) (*juju.MemoryModel, *juju.Relation, string) {
	t.Helper()
	model := juju.NewMemoryModel()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sharedSec, err := model.AddSecret(context.Background(), SharedSecretLabel,
		map[string]string{SharedSecretContentKey: "s3cret"})
	if err != nil {
		t.Fatalf("AddSecret: %v", err)
	}
	keySec, err := model.AddSecret(context.Background(), EncryptionKeyLabel,
		map[string]string{EncryptionKeyContentKey: key})
	if err != nil {
		t.Fatalf("AddSecret: %v", err)
	}
	rel := model.AddRelation(DefaultRelationName, "synapse", map[string]string{
		"homeserver":               "https://matrix.example.com",
		"shared_secret_id":         sharedSec.ID,
		"encryption_key_secret_id": keySec.ID,
	})
	return model, rel, key
}

func TestProviderDataFromWire(t *testing.T) {
	t.Parallel()
	model, rel, _ := providerFixture(t)
	got, err := ProviderDataFromWire(context.Background(), model, rel)
	if err != nil {
		t.Fatalf("ProviderDataFromWire: %v", err)
	}
	if got.Homeserver != "https://matrix.example.com" {
		t.Errorf("Homeserver: got %q", got.Homeserver)
	}
	if got.SharedSecret != "s3cret" {
		t.Errorf("SharedSecret: got %q, want %q", got.SharedSecret, "s3cret")
	}
}

func TestProviderDataFromWireInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data map[string]string
	}{
		{name: "empty databag", data: map[string]string{}},
		{name: "missing homeserver", data: map[string]string{"shared_secret_id": "secret:1"}},
		{name: "missing secret id", data: map[string]string{"homeserver": "https://m.example.com"}},
		{name: "dangling secret id", data: map[string]string{
			"homeserver":       "https://m.example.com",
			"shared_secret_id": "secret:999",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			model := juju.NewMemoryModel()
			rel := model.AddRelation(DefaultRelationName, "synapse", tt.data)
			_, err := ProviderDataFromWire(context.Background(), model, rel)
			if !errors.Is(err, ErrInvalidRelationData) {
				t.Errorf("got %v, want ErrInvalidRelationData", err)
			}
		})
	}
}

func TestProviderToWireSecretStability(t *testing.T) {
	t.Parallel()
	model := juju.NewMemoryModel()
	rel := model.AddRelation(DefaultRelationName, "irc-bridge", nil)
	data := &ProviderData{Homeserver: "https://matrix.example.com", SharedSecret: "s3cret"}

	first, err := data.ToWire(context.Background(), model, rel)
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	second, err := data.ToWire(context.Background(), model, rel)
	if err != nil {
		t.Fatalf("ToWire (second): %v", err)
	}
	if first["shared_secret_id"] != second["shared_secret_id"] {
		t.Errorf("shared_secret_id changed between calls: %q vs %q",
			first["shared_secret_id"], second["shared_secret_id"])
	}
	if first["encryption_key_secret_id"] != second["encryption_key_secret_id"] {
		t.Errorf("encryption_key_secret_id changed between calls: %q vs %q",
			first["encryption_key_secret_id"], second["encryption_key_secret_id"])
	}
	if len(model.Secrets) != 2 {
		t.Errorf("secret count: got %d, want 2 (no duplicates)", len(model.Secrets))
	}
	for k := range first {
		if k != "homeserver" && k != "shared_secret_id" && k != "encryption_key_secret_id" {
			t.Errorf("unexpected wire key %q", k)
		}
	}
}

func TestProviderToWireNeverLeaksSecretValues(t *testing.T) {
	t.Parallel()
	model := juju.NewMemoryModel()
	rel := model.AddRelation(DefaultRelationName, "irc-bridge", nil)
	data := &ProviderData{Homeserver: "https://matrix.example.com", SharedSecret: "s3cret"}
	wire, err := data.ToWire(context.Background(), model, rel)
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	for k, v := range wire {
		if v == "s3cret" {
			t.Errorf("shared secret value leaked into wire key %q", k)
		}
	}
}

func TestRequirerRoundTripOverRelation(t *testing.T) {
	t.Parallel()
	model, rel, _ := providerFixture(t)
	reg := "id: irc\nas_token: tok\n"

	wire, err := (&RequirerData{Registration: reg}).ToWire(context.Background(), model, rel)
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	token, ok := wire["registration_secret"]
	if !ok || token == "" {
		t.Fatal("wire data missing registration_secret")
	}
	if token == reg {
		t.Fatal("registration crossed the wire in plaintext")
	}

	// The provider reads the same databag back. In the fixture the remote
	// databag doubles as the transport, so inject the requirer payload there.
	remote, err := model.RemoteAppData(context.Background(), rel)
	if err != nil {
		t.Fatalf("RemoteAppData: %v", err)
	}
	remote["registration_secret"] = token

	got, err := RequirerDataFromWire(context.Background(), zerolog.Nop(), model, rel)
	if err != nil {
		t.Fatalf("RequirerDataFromWire: %v", err)
	}
	if got == nil || got.Registration != reg {
		t.Errorf("registration round trip: got %+v, want %q", got, reg)
	}
}

func TestRequirerFromWireSoftFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		setup func(t *testing.T) (*juju.MemoryModel, *juju.Relation)
	}{
		{
			name: "no encryption key",
			setup: func(t *testing.T) (*juju.MemoryModel, *juju.Relation) {
				model := juju.NewMemoryModel()
				rel := model.AddRelation(DefaultRelationName, "irc-bridge",
					map[string]string{"registration_secret": "gAAAAA"})
				return model, rel
			},
		},
		{
			name: "no registration_secret",
			setup: func(t *testing.T) (*juju.MemoryModel, *juju.Relation) {
				model, rel, _ := providerFixture(t)
				return model, rel
			},
		},
		{
			name: "bad token",
			setup: func(t *testing.T) (*juju.MemoryModel, *juju.Relation) {
				model, rel, _ := providerFixture(t)
				model.AppData[rel.String()]["registration_secret"] = "garbage"
				return model, rel
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			model, rel := tt.setup(t)
			got, err := RequirerDataFromWire(context.Background(), zerolog.Nop(), model, rel)
			if err != nil {
				t.Fatalf("RequirerDataFromWire should not error, got %v", err)
			}
			if got != nil {
				t.Errorf("got %+v, want nil", got)
			}
		})
	}
}

func TestProvidesUpdateRelationDataFirstWriteWins(t *testing.T) {
	t.Parallel()
	model := juju.NewMemoryModel()
	rel := model.AddRelation(DefaultRelationName, "irc-bridge", nil)
	p := &Provides{Model: model, Log: zerolog.Nop(), RelationName: DefaultRelationName}

	if err := p.UpdateRelationData(context.Background(), rel, &ProviderData{
		Homeserver:   "https://matrix.example.com",
		SharedSecret: "first",
	}); err != nil {
		t.Fatalf("UpdateRelationData: %v", err)
	}
	// The first-write guard reads the remote view of the relation, so it
	// only sees the published payload where the model mirrors it back.
	// Alias the bags to model that mirrored visibility explicitly.
	model.AppData[rel.String()] = model.LocalData[rel.String()]

	if err := p.UpdateRelationData(context.Background(), rel, &ProviderData{
		Homeserver:   "https://other.example.com",
		SharedSecret: "second",
	}); err != nil {
		t.Fatalf("UpdateRelationData (second): %v", err)
	}
	if got := model.LocalData[rel.String()]["homeserver"]; got != "https://matrix.example.com" {
		t.Errorf("homeserver overwritten: got %q", got)
	}
	if len(model.Secrets) != 2 {
		t.Errorf("secret count: got %d, want 2", len(model.Secrets))
	}
}

func TestRequiresUpdateRelationDataAlwaysRewrites(t *testing.T) {
	t.Parallel()
	model, rel, key := providerFixture(t)
	r := &Requires{Model: model, Log: zerolog.Nop(), RelationName: DefaultRelationName}

	if err := r.UpdateRelationData(context.Background(), rel, &RequirerData{Registration: "v1"}); err != nil {
		t.Fatalf("UpdateRelationData: %v", err)
	}
	first := model.LocalData[rel.String()]["registration_secret"]
	if err := r.UpdateRelationData(context.Background(), rel, &RequirerData{Registration: "v2"}); err != nil {
		t.Fatalf("UpdateRelationData (second): %v", err)
	}
	second := model.LocalData[rel.String()]["registration_secret"]
	if got, err := Decrypt(key, second); err != nil || got != "v2" {
		t.Errorf("second write: got %q (%v), want %q", got, err, "v2")
	}
	if first == second {
		t.Error("requirer data was not rewritten")
	}
}

func TestRequiresHandleRelationChanged(t *testing.T) {
	t.Parallel()
	model, rel, _ := providerFixture(t)
	var processed int
	r := &Requires{
		Model:        model,
		Log:          zerolog.Nop(),
		RelationName: DefaultRelationName,
		OnRequestProcessed: func(ctx context.Context, rel *juju.Relation) {
			processed++
		},
	}
	r.HandleRelationChanged(context.Background(), rel)
	if processed != 1 {
		t.Errorf("processed: got %d, want 1", processed)
	}

	// Break the databag: the event must be dropped, not retried.
	delete(model.AppData[rel.String()], "homeserver")
	r.HandleRelationChanged(context.Background(), rel)
	if processed != 1 {
		t.Errorf("processed after invalid data: got %d, want 1", processed)
	}

	// Invalid is not sticky: restoring the databag revalidates.
	model.AppData[rel.String()]["homeserver"] = "https://matrix.example.com"
	r.HandleRelationChanged(context.Background(), rel)
	if processed != 2 {
		t.Errorf("processed after recovery: got %d, want 2", processed)
	}
}

func TestProvidesHandleRelationChanged(t *testing.T) {
	t.Parallel()
	model, rel, key := providerFixture(t)
	token, err := Encrypt(key, "registration")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	model.AppData[rel.String()]["registration_secret"] = token

	var received int
	p := &Provides{
		Model:        model,
		Log:          zerolog.Nop(),
		RelationName: DefaultRelationName,
		OnRequestReceived: func(ctx context.Context, rel *juju.Relation) {
			received++
		},
	}
	p.HandleRelationChanged(context.Background(), rel)
	if received != 1 {
		t.Errorf("received: got %d, want 1", received)
	}

	model.AppData[rel.String()]["registration_secret"] = "garbage"
	p.HandleRelationChanged(context.Background(), rel)
	if received != 1 {
		t.Errorf("received after bad token: got %d, want 1", received)
	}
}
