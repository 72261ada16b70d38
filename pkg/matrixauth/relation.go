// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrixauth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/aiku/irc-bridge-operator/pkg/juju"
)

// DefaultRelationName is the endpoint name both sides use unless overridden.
const DefaultRelationName = "matrix-auth"

// State is the validation state of one relation as seen from this side.
// Invalid is not sticky: every relation-changed event restarts the check
// from PendingValidation.
type State int

const (
	// StateNoData means the remote databag is empty.
	StateNoData State = iota
	// StatePendingValidation means a relation-changed is being processed.
	StatePendingValidation
	// StateValid means the remote databag parsed into usable data.
	StateValid
	// StateInvalid means parsing failed; the event is dropped and the next
	// relation-changed retries naturally.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateNoData:
		return "no-data"
	case StatePendingValidation:
		return "pending-validation"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	}
	return "unknown"
}

// Provides is the homeserver side of the matrix-auth relation. On each
// relation-changed it validates the requirer's databag and, when valid,
// invokes OnRequestReceived so the charm can reconcile.
type Provides struct {
	Model        juju.Model
	Log          zerolog.Logger
	RelationName string
	// OnRequestReceived is called with the relation whose requirer data
	// validated. Wired once at charm construction; no dynamic registration.
	OnRequestReceived func(ctx context.Context, rel *juju.Relation)
}

// validateRemote classifies the requirer databag on the relation.
func (p *Provides) validateRemote(ctx context.Context, rel *juju.Relation) State {
	data, err := p.Model.RemoteAppData(ctx, rel)
	if err != nil || len(data) == 0 {
		return StateNoData
	}
	parsed, err := RequirerDataFromWire(ctx, p.Log, p.Model, rel)
	if err != nil || parsed == nil {
		return StateInvalid
	}
	return StateValid
}

// HandleRelationChanged processes a relation-changed event on the provider
// side. Invalid remote data is dropped with a warning; no retry is
// scheduled because the next relation-changed retries naturally.
func (p *Provides) HandleRelationChanged(ctx context.Context, rel *juju.Relation) {
	state := p.validateRemote(ctx, rel)
	if state != StateValid {
		p.Log.Warn().Stringer("relation", rel).Stringer("state", state).
			Msg("matrix-auth relation-changed with unusable requirer data")
		return
	}
	if p.OnRequestReceived != nil {
		p.OnRequestReceived(ctx, rel)
	}
}

// GetRemoteRelationData returns the decrypted requirer data on the first
// established relation, or nil when there is none or it is not ready.
func (p *Provides) GetRemoteRelationData(ctx context.Context) (*RequirerData, error) {
	rel, err := p.Model.Relation(ctx, p.RelationName)
	if err != nil || rel == nil {
		return nil, err
	}
	return RequirerDataFromWire(ctx, p.Log, p.Model, rel)
}

// UpdateRelationData publishes provider data on the relation. First write
// wins: when the already-published data still parses as valid the update is
// skipped, because homeserver credentials must not churn while the relation
// exists.
//
// The guard re-parses through ProviderDataFromWire, which reads the remote
// view of the relation. It therefore only engages where the published
// payload is mirrored back into that view, matching the upstream charm
// library's from_relation check; where it is not, the write degrades to
// always-publish, which is safe because ToWire reuses the existing secrets
// and the databag content stays stable.
func (p *Provides) UpdateRelationData(ctx context.Context, rel *juju.Relation, data *ProviderData) error {
	if _, err := ProviderDataFromWire(ctx, p.Model, rel); err == nil {
		p.Log.Debug().Stringer("relation", rel).
			Msg("Provider relation data already set, skipping")
		return nil
	} else if !errors.Is(err, ErrInvalidRelationData) {
		return err
	}
	wire, err := data.ToWire(ctx, p.Model, rel)
	if err != nil {
		return err
	}
	return p.Model.UpdateAppData(ctx, rel, wire)
}

// Requires is the appservice side of the matrix-auth relation. On each
// relation-changed it validates the provider's databag and, when valid,
// invokes OnRequestProcessed so the charm can reconcile.
type Requires struct {
	Model        juju.Model
	Log          zerolog.Logger
	RelationName string
	// OnRequestProcessed is called with the relation whose provider data
	// validated.
	OnRequestProcessed func(ctx context.Context, rel *juju.Relation)
}

func (r *Requires) validateRemote(ctx context.Context, rel *juju.Relation) State {
	data, err := r.Model.RemoteAppData(ctx, rel)
	if err != nil || len(data) == 0 {
		return StateNoData
	}
	if _, err := ProviderDataFromWire(ctx, r.Model, rel); err != nil {
		return StateInvalid
	}
	return StateValid
}

// HandleRelationChanged processes a relation-changed event on the requirer
// side, mirroring the provider's drop-and-wait semantics.
func (r *Requires) HandleRelationChanged(ctx context.Context, rel *juju.Relation) {
	state := r.validateRemote(ctx, rel)
	if state != StateValid {
		r.Log.Warn().Stringer("relation", rel).Stringer("state", state).
			Msg("matrix-auth relation-changed with unusable provider data")
		return
	}
	if r.OnRequestProcessed != nil {
		r.OnRequestProcessed(ctx, rel)
	}
}

// GetRemoteRelationData returns the provider data on the first established
// relation. Returns (nil, nil) when the relation is absent; not-ready
// databags surface as ErrInvalidRelationData.
func (r *Requires) GetRemoteRelationData(ctx context.Context) (*ProviderData, error) {
	rel, err := r.Model.Relation(ctx, r.RelationName)
	if err != nil || rel == nil {
		return nil, err
	}
	return ProviderDataFromWire(ctx, r.Model, rel)
}

// UpdateRelationData publishes requirer data on the relation. Unlike the
// provider side this always rewrites: registration content legitimately
// changes over time.
func (r *Requires) UpdateRelationData(ctx context.Context, rel *juju.Relation, data *RequirerData) error {
	wire, err := data.ToWire(ctx, r.Model, rel)
	if err != nil {
		return err
	}
	return r.Model.UpdateAppData(ctx, rel, wire)
}
