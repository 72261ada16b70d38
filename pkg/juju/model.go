// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package juju abstracts the ambient Juju hook environment behind an
// explicit Model interface so the rest of the operator takes the model as
// an injected collaborator instead of reaching into global state.
//
// Two implementations exist: [HookModel], which shells out to the hook
// tools available inside a dispatched hook (relation-get, secret-add,
// status-set, ...), and [MemoryModel], an in-process store used by tests.
package juju

import (
	"context"
	"errors"
	"fmt"
)

// ErrSecretNotFound is returned by Model.Secret when no secret matches the
// given reference. Callers use it to decide between granting an existing
// secret and creating a fresh one.
var ErrSecretNotFound = errors.New("secret not found")

// Relation identifies one established relation on a charm endpoint.
type Relation struct {
	// Endpoint is the local relation/endpoint name, e.g. "matrix-auth".
	Endpoint string
	// ID is the Juju relation ID, unique per model.
	ID int
	// RemoteApp is the application on the other side of the relation.
	RemoteApp string
}

func (r *Relation) String() string {
	return fmt.Sprintf("%s:%d", r.Endpoint, r.ID)
}

// Secret is an orchestrator-held credential container. The owning side
// addresses it by Label, the remote side by the opaque ID placed in
// relation data.
type Secret struct {
	ID      string
	Label   string
	Content map[string]string
}

// SecretRef addresses a secret either by its opaque ID or by its label.
// Exactly one of the two fields should be set.
type SecretRef struct {
	ID    string
	Label string
}

// Status is a unit workload status value.
type Status string

const (
	StatusActive      Status = "active"
	StatusBlocked     Status = "blocked"
	StatusMaintenance Status = "maintenance"
	StatusWaiting     Status = "waiting"
)

// Model is the charm's view of the hosting Juju model. All methods are
// synchronous; the hook environment delivers one event at a time, so no
// locking discipline is required of implementations beyond being safe for
// serial use.
type Model interface {
	// Relation returns the first established relation on the endpoint, or
	// nil when the endpoint has no relations.
	Relation(ctx context.Context, endpoint string) (*Relation, error)
	// Relations returns all established relations on the endpoint.
	Relations(ctx context.Context, endpoint string) ([]*Relation, error)
	// RemoteAppData reads the remote application's databag on the relation.
	RemoteAppData(ctx context.Context, rel *Relation) (map[string]string, error)
	// UpdateAppData merges data into the local application's databag on the
	// relation. Only the leader unit may call this.
	UpdateAppData(ctx context.Context, rel *Relation, data map[string]string) error

	// Secret resolves a secret by ID or label. Returns ErrSecretNotFound
	// when nothing matches.
	Secret(ctx context.Context, ref SecretRef) (*Secret, error)
	// AddSecret creates an application-owned secret with the given label.
	AddSecret(ctx context.Context, label string, content map[string]string) (*Secret, error)
	// GrantSecret grants the remote application on the relation read access
	// to the secret.
	GrantSecret(ctx context.Context, sec *Secret, rel *Relation) error

	// Config returns the charm configuration as decoded by config-get.
	Config(ctx context.Context) (map[string]any, error)

	SetStatus(ctx context.Context, st Status, message string) error
	OpenPort(ctx context.Context, protocol string, port int) error
	ClosePort(ctx context.Context, protocol string, port int) error
	// PublicAddress returns the unit's public address.
	PublicAddress(ctx context.Context) (string, error)
}
