// Copyright 2024-2026 Aiku AI

package juju

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryModelRelations(t *testing.T) {
	t.Parallel()
	model := NewMemoryModel()
	if rel, err := model.Relation(context.Background(), "database"); err != nil || rel != nil {
		t.Fatalf("empty endpoint: got %v, %v", rel, err)
	}
	rel := model.AddRelation("database", "postgresql", map[string]string{"username": "u"})
	got, err := model.Relation(context.Background(), "database")
	if err != nil || got != rel {
		t.Fatalf("Relation: got %v, %v", got, err)
	}
	data, err := model.RemoteAppData(context.Background(), rel)
	if err != nil || data["username"] != "u" {
		t.Errorf("RemoteAppData: got %v, %v", data, err)
	}
}

func TestMemoryModelUpdateAppDataMerges(t *testing.T) {
	t.Parallel()
	model := NewMemoryModel()
	rel := model.AddRelation("matrix-auth", "synapse", nil)
	if err := model.UpdateAppData(context.Background(), rel, map[string]string{"a": "1"}); err != nil {
		t.Fatalf("UpdateAppData: %v", err)
	}
	if err := model.UpdateAppData(context.Background(), rel, map[string]string{"b": "2"}); err != nil {
		t.Fatalf("UpdateAppData: %v", err)
	}
	bag := model.LocalData[rel.String()]
	if bag["a"] != "1" || bag["b"] != "2" {
		t.Errorf("databag: got %v", bag)
	}
}

func TestMemoryModelSecrets(t *testing.T) {
	t.Parallel()
	model := NewMemoryModel()
	if _, err := model.Secret(context.Background(), SecretRef{Label: "missing"}); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("got %v, want ErrSecretNotFound", err)
	}
	sec, err := model.AddSecret(context.Background(), "shared-secret", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("AddSecret: %v", err)
	}
	byLabel, err := model.Secret(context.Background(), SecretRef{Label: "shared-secret"})
	if err != nil || byLabel.ID != sec.ID {
		t.Errorf("by label: got %v, %v", byLabel, err)
	}
	byID, err := model.Secret(context.Background(), SecretRef{ID: sec.ID})
	if err != nil || byID.Content["k"] != "v" {
		t.Errorf("by ID: got %v, %v", byID, err)
	}

	rel := model.AddRelation("matrix-auth", "synapse", nil)
	if err := model.GrantSecret(context.Background(), sec, rel); err != nil {
		t.Fatalf("GrantSecret: %v", err)
	}
	if got := model.Grants[sec.ID]; len(got) != 1 || got[0] != rel.String() {
		t.Errorf("grants: got %v", got)
	}
}

func TestMemoryModelPortsAndStatus(t *testing.T) {
	t.Parallel()
	model := NewMemoryModel()
	if err := model.OpenPort(context.Background(), "tcp", 113); err != nil {
		t.Fatalf("OpenPort: %v", err)
	}
	if !model.OpenPorts["113/tcp"] {
		t.Error("port not recorded as open")
	}
	if err := model.ClosePort(context.Background(), "tcp", 113); err != nil {
		t.Fatalf("ClosePort: %v", err)
	}
	if model.OpenPorts["113/tcp"] {
		t.Error("port not recorded as closed")
	}
	if err := model.SetStatus(context.Background(), StatusBlocked, "no database"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if model.Status != StatusBlocked || model.StatusMessage != "no database" {
		t.Errorf("status: got %s %q", model.Status, model.StatusMessage)
	}
}
