// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"testing"

	"github.com/aiku/irc-bridge-operator/pkg/juju"
)

func TestFromRelation(t *testing.T) {
	t.Parallel()
	model := juju.NewMemoryModel()
	model.AddRelation(DefaultRelationName, "postgresql", map[string]string{
		"username":  "user1",
		"password":  "P",
		"endpoints": "host:5432",
		"database":  "ircbridge",
	})
	ds, err := FromRelation(context.Background(), model, DefaultRelationName)
	if err != nil {
		t.Fatalf("FromRelation: %v", err)
	}
	if ds == nil {
		t.Fatal("FromRelation returned nil datasource")
	}
	if ds.URI != "postgres://user1:P@host:5432/ircbridge" {
		t.Errorf("URI: got %q, want %q", ds.URI, "postgres://user1:P@host:5432/ircbridge")
	}
	if ds.Host != "host" || ds.Port != "5432" {
		t.Errorf("endpoint split: got %q:%q", ds.Host, ds.Port)
	}
}

func TestFromRelationMultipleEndpoints(t *testing.T) {
	t.Parallel()
	model := juju.NewMemoryModel()
	model.AddRelation(DefaultRelationName, "postgresql", map[string]string{
		"username":  "u",
		"password":  "p",
		"endpoints": "primary:5432,replica:5433",
		"database":  "ircbridge",
	})
	ds, err := FromRelation(context.Background(), model, DefaultRelationName)
	if err != nil {
		t.Fatalf("FromRelation: %v", err)
	}
	if ds.Host != "primary" {
		t.Errorf("Host: got %q, want primary endpoint", ds.Host)
	}
}

func TestFromRelationNotReady(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data map[string]string
	}{
		{name: "empty databag", data: map[string]string{}},
		{name: "missing password", data: map[string]string{
			"username": "u", "endpoints": "host:5432",
		}},
		{name: "malformed endpoint", data: map[string]string{
			"username": "u", "password": "p", "endpoints": "hostonly",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			model := juju.NewMemoryModel()
			model.AddRelation(DefaultRelationName, "postgresql", tt.data)
			ds, err := FromRelation(context.Background(), model, DefaultRelationName)
			if err != nil {
				t.Fatalf("FromRelation: %v", err)
			}
			if ds != nil {
				t.Errorf("got %+v, want nil", ds)
			}
		})
	}
}

func TestFromRelationNoRelation(t *testing.T) {
	t.Parallel()
	model := juju.NewMemoryModel()
	ds, err := FromRelation(context.Background(), model, DefaultRelationName)
	if err != nil {
		t.Fatalf("FromRelation: %v", err)
	}
	if ds != nil {
		t.Errorf("got %+v, want nil without relation", ds)
	}
}

func TestFromDatabagDefaultsDatabaseName(t *testing.T) {
	t.Parallel()
	ds := fromDatabag(map[string]string{
		"username":  "u",
		"password":  "p",
		"endpoints": "host:5432",
	})
	if ds == nil || ds.DB != Name {
		t.Errorf("DB: got %+v, want default %q", ds, Name)
	}
}
