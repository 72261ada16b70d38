// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package charm is the operator shell: it maps dispatched hook names to
// handlers and drives the bridge reconciler from the three external
// inputs (database relation, matrix-auth relation, charm configuration).
//
// Reconciliation recomputes the full desired state on every triggering
// event. Missing dependencies put the unit into a waiting or blocked
// status and never propagate as errors; operational failures of the
// managed service (install, reload, start, stop) do propagate, because no
// in-process remediation is possible — the next dispatched event is the
// only retry path.
package charm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/irc-bridge-operator/pkg/bridge"
	"github.com/aiku/irc-bridge-operator/pkg/database"
	"github.com/aiku/irc-bridge-operator/pkg/juju"
	"github.com/aiku/irc-bridge-operator/pkg/matrixauth"
)

// Charm wires the model, the matrix-auth requirer, and the bridge
// reconciler together.
type Charm struct {
	Model  juju.Model
	Log    zerolog.Logger
	Bridge *bridge.Service

	MatrixAuth       *matrixauth.Requires
	DatabaseRelation string
}

// New builds the charm and registers the matrix-auth callback.
func New(model juju.Model, log zerolog.Logger, svc *bridge.Service) *Charm {
	c := &Charm{
		Model:            model,
		Log:              log,
		Bridge:           svc,
		DatabaseRelation: database.DefaultRelationName,
	}
	c.MatrixAuth = &matrixauth.Requires{
		Model:        model,
		Log:          log,
		RelationName: matrixauth.DefaultRelationName,
		OnRequestProcessed: func(ctx context.Context, _ *juju.Relation) {
			if err := c.Reconcile(ctx); err != nil {
				c.Log.Error().Err(err).Msg("Reconcile failed")
			}
		},
	}
	return c
}

// Hooks is the explicit dispatch table: every hook this charm reacts to,
// mapped to its handler. Unknown hooks are ignored by Run.
func (c *Charm) Hooks() map[string]func(ctx context.Context) error {
	reconcile := c.Reconcile
	return map[string]func(ctx context.Context) error{
		"install":       c.onInstall,
		"upgrade-charm": c.onInstall,
		"start":         c.onStart,
		"stop":          c.onStop,

		"config-changed":                    reconcile,
		"database-relation-created":         reconcile,
		"database-relation-changed":         reconcile,
		"database-relation-broken":          reconcile,
		matrixauth.DefaultRelationName + "-relation-created": reconcile,
		matrixauth.DefaultRelationName + "-relation-changed": c.onMatrixAuthChanged,
		matrixauth.DefaultRelationName + "-relation-broken":  reconcile,
	}
}

// Run dispatches one hook by name.
func (c *Charm) Run(ctx context.Context, hook string) error {
	handler, ok := c.Hooks()[hook]
	if !ok {
		c.Log.Debug().Str("hook", hook).Msg("No handler for hook")
		return nil
	}
	c.Log.Info().Str("hook", hook).Msg("Dispatching hook")
	return handler(ctx)
}

func (c *Charm) onInstall(ctx context.Context) error {
	if err := c.Model.SetStatus(ctx, juju.StatusMaintenance, "preparing irc bridge"); err != nil {
		return err
	}
	if err := c.Bridge.Prepare(ctx); err != nil {
		return err
	}
	return c.Reconcile(ctx)
}

func (c *Charm) onStart(ctx context.Context) error {
	if err := c.Bridge.Start(ctx); err != nil {
		return err
	}
	return c.Model.SetStatus(ctx, juju.StatusActive, "")
}

func (c *Charm) onStop(ctx context.Context) error {
	return c.Bridge.Stop(ctx)
}

// onMatrixAuthChanged validates the provider databag; a valid payload
// triggers reconciliation through the registered callback.
func (c *Charm) onMatrixAuthChanged(ctx context.Context) error {
	rel, err := c.Model.Relation(ctx, c.MatrixAuth.RelationName)
	if err != nil || rel == nil {
		return err
	}
	c.MatrixAuth.HandleRelationChanged(ctx, rel)
	return nil
}

// Reconcile recomputes the bridge's desired state from current inputs.
func (c *Charm) Reconcile(ctx context.Context) error {
	raw, err := c.Model.Config(ctx)
	if err != nil {
		return err
	}
	cfg, err := ParseCharmConfig(raw)
	if err != nil {
		c.Log.Warn().Err(err).Msg("Invalid charm configuration")
		return c.Model.SetStatus(ctx, juju.StatusBlocked, fmt.Sprintf("invalid configuration: %v", err))
	}

	db, err := database.FromRelation(ctx, c.Model, c.DatabaseRelation)
	if err != nil {
		return err
	}
	if db == nil {
		return c.Model.SetStatus(ctx, juju.StatusWaiting, "waiting for database")
	}

	matrix, err := c.MatrixAuth.GetRemoteRelationData(ctx)
	if err != nil {
		if errors.Is(err, matrixauth.ErrInvalidRelationData) {
			c.Log.Warn().Err(err).Msg("matrix-auth relation not ready")
			return c.Model.SetStatus(ctx, juju.StatusWaiting, "waiting for matrix homeserver")
		}
		return err
	}
	if matrix == nil {
		return c.Model.SetStatus(ctx, juju.StatusWaiting, "waiting for matrix homeserver")
	}

	if err := c.Model.SetStatus(ctx, juju.StatusMaintenance, "configuring irc bridge"); err != nil {
		return err
	}
	if err := c.Bridge.Prepare(ctx); err != nil {
		return err
	}

	externalURL, mediaExternalURL, err := c.externalURLs(ctx, cfg)
	if err != nil {
		return err
	}
	err = c.Bridge.Configure(ctx, db, matrix.Homeserver, bridge.Config{
		IdentEnabled: cfg.IdentEnabled,
		BotNickname:  cfg.BotNickname,
		BridgeAdmins: cfg.BridgeAdmins,
	}, externalURL, mediaExternalURL)
	if err != nil {
		return err
	}

	if err := c.publishRegistration(ctx); err != nil {
		return err
	}
	if err := c.ensurePorts(ctx, cfg); err != nil {
		return err
	}
	if err := c.Bridge.Reload(ctx); err != nil {
		return err
	}
	return c.Model.SetStatus(ctx, juju.StatusActive, "")
}

// externalURLs resolves the advertised bridge and media URLs from the
// config override or the unit's public address.
func (c *Charm) externalURLs(ctx context.Context, cfg *CharmConfig) (string, string, error) {
	externalURL := cfg.ExternalURL
	mediaExternalURL := cfg.MediaExternalURL
	if externalURL == "" || mediaExternalURL == "" {
		addr, err := c.Model.PublicAddress(ctx)
		if err != nil {
			return "", "", fmt.Errorf("resolving external URL: %w", err)
		}
		if externalURL == "" {
			externalURL = fmt.Sprintf("http://%s:%d", addr, bridge.BridgePort)
		}
		if mediaExternalURL == "" {
			mediaExternalURL = fmt.Sprintf("http://%s:%d/media", addr, bridge.MediaProxyPort)
		}
	}
	return externalURL, mediaExternalURL, nil
}

// publishRegistration forwards the generated registration to the
// homeserver through the matrix-auth relation.
func (c *Charm) publishRegistration(ctx context.Context) error {
	rel, err := c.Model.Relation(ctx, c.MatrixAuth.RelationName)
	if err != nil || rel == nil {
		return err
	}
	registration, err := c.Bridge.GetRegistration()
	if err != nil {
		return err
	}
	return c.MatrixAuth.UpdateRelationData(ctx, rel, &matrixauth.RequirerData{
		Registration: registration,
	})
}

// ensurePorts opens the bridge's listeners. The ident port follows the
// config flag both ways so disabling ident closes 113 again.
func (c *Charm) ensurePorts(ctx context.Context, cfg *CharmConfig) error {
	for _, port := range []int{bridge.BridgePort, bridge.MediaProxyPort, bridge.HealthPort} {
		if err := c.Model.OpenPort(ctx, "tcp", port); err != nil {
			return err
		}
	}
	if cfg.IdentEnabled {
		return c.Model.OpenPort(ctx, "tcp", bridge.IdentPort)
	}
	return c.Model.ClosePort(ctx, "tcp", bridge.IdentPort)
}
