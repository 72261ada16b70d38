// Copyright 2024-2026 Aiku AI

package juju

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// HookModel implements Model by invoking the Juju hook tools that the
// dispatcher puts on PATH while a hook runs. Every call shells out; hook
// tools are cheap and the hook context guarantees serial execution.
type HookModel struct {
	log zerolog.Logger
}

// NewHookModel returns a Model backed by the hook tools of the current
// hook execution context.
func NewHookModel(log zerolog.Logger) *HookModel {
	return &HookModel{log: log}
}

var _ Model = (*HookModel)(nil)

// run executes a hook tool and returns its stdout.
func (m *HookModel) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %s", name, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// runJSON executes a hook tool with --format=json and decodes stdout into v.
func (m *HookModel) runJSON(ctx context.Context, v any, name string, args ...string) error {
	out, err := m.run(ctx, name, append(args, "--format=json")...)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(out)) == "" {
		return nil
	}
	return json.Unmarshal(out, v)
}

func (m *HookModel) Relation(ctx context.Context, endpoint string) (*Relation, error) {
	rels, err := m.Relations(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, nil
	}
	return rels[0], nil
}

func (m *HookModel) Relations(ctx context.Context, endpoint string) ([]*Relation, error) {
	var ids []string
	if err := m.runJSON(ctx, &ids, "relation-ids", endpoint); err != nil {
		return nil, fmt.Errorf("listing %s relations: %w", endpoint, err)
	}
	rels := make([]*Relation, 0, len(ids))
	for _, raw := range ids {
		// relation-ids emits "<endpoint>:<id>".
		_, idStr, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("malformed relation ID %q", raw)
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("malformed relation ID %q", raw)
		}
		app, err := m.remoteApp(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("resolving remote app of %s: %w", raw, err)
		}
		rels = append(rels, &Relation{Endpoint: endpoint, ID: id, RemoteApp: app})
	}
	return rels, nil
}

// remoteApp resolves the application on the far side of a relation.
// relation-list --app prints the name as a bare JSON string; older juju
// releases emitted a single-element list, so both shapes are accepted.
func (m *HookModel) remoteApp(ctx context.Context, relID string) (string, error) {
	out, err := m.run(ctx, "relation-list", "-r", relID, "--app", "--format=json")
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return "", nil
	}
	var app string
	if err := json.Unmarshal([]byte(trimmed), &app); err == nil {
		return app, nil
	}
	var apps []string
	if err := json.Unmarshal([]byte(trimmed), &apps); err == nil && len(apps) > 0 {
		return apps[0], nil
	}
	return "", fmt.Errorf("relation-list: unexpected output %q", trimmed)
}

func (m *HookModel) RemoteAppData(ctx context.Context, rel *Relation) (map[string]string, error) {
	data := map[string]string{}
	err := m.runJSON(ctx, &data, "relation-get",
		"-r", rel.String(), "--app", "-", rel.RemoteApp)
	if err != nil {
		return nil, fmt.Errorf("reading %s databag: %w", rel, err)
	}
	return data, nil
}

func (m *HookModel) UpdateAppData(ctx context.Context, rel *Relation, data map[string]string) error {
	args := []string{"-r", rel.String(), "--app"}
	for k, v := range data {
		args = append(args, k+"="+v)
	}
	if _, err := m.run(ctx, "relation-set", args...); err != nil {
		return fmt.Errorf("updating %s databag: %w", rel, err)
	}
	return nil
}

func (m *HookModel) Secret(ctx context.Context, ref SecretRef) (*Secret, error) {
	// --refresh tracks the latest revision; juju rejects combining it
	// with --peek, so exactly one flag goes on the wire.
	args := []string{"--refresh"}
	switch {
	case ref.ID != "":
		args = append([]string{ref.ID}, args...)
	case ref.Label != "":
		args = append([]string{"--label", ref.Label}, args...)
	default:
		return nil, fmt.Errorf("empty secret reference")
	}
	content := map[string]string{}
	if err := m.runJSON(ctx, &content, "secret-get", args...); err != nil {
		// secret-get reports both "not found" and "permission denied" on
		// stderr; either way the secret is unusable from here.
		m.log.Debug().Err(err).Str("id", ref.ID).Str("label", ref.Label).
			Msg("secret-get failed")
		return nil, ErrSecretNotFound
	}
	sec := &Secret{ID: ref.ID, Label: ref.Label, Content: content}
	if sec.ID == "" {
		var info map[string]struct {
			Label string `json:"label"`
		}
		if err := m.runJSON(ctx, &info, "secret-info-get", "--label", ref.Label); err == nil {
			for id, meta := range info {
				sec.ID = id
				sec.Label = meta.Label
			}
		}
	}
	return sec, nil
}

func (m *HookModel) AddSecret(ctx context.Context, label string, content map[string]string) (*Secret, error) {
	args := []string{"--label", label}
	for k, v := range content {
		args = append(args, k+"="+v)
	}
	out, err := m.run(ctx, "secret-add", args...)
	if err != nil {
		return nil, fmt.Errorf("adding secret %q: %w", label, err)
	}
	return &Secret{
		ID:      strings.TrimSpace(string(out)),
		Label:   label,
		Content: content,
	}, nil
}

func (m *HookModel) GrantSecret(ctx context.Context, sec *Secret, rel *Relation) error {
	if _, err := m.run(ctx, "secret-grant", sec.ID, "-r", rel.String()); err != nil {
		return fmt.Errorf("granting secret %q to %s: %w", sec.Label, rel, err)
	}
	return nil
}

func (m *HookModel) Config(ctx context.Context) (map[string]any, error) {
	cfg := map[string]any{}
	if err := m.runJSON(ctx, &cfg, "config-get"); err != nil {
		return nil, fmt.Errorf("reading charm config: %w", err)
	}
	return cfg, nil
}

func (m *HookModel) SetStatus(ctx context.Context, st Status, message string) error {
	if _, err := m.run(ctx, "status-set", string(st), message); err != nil {
		return fmt.Errorf("setting status: %w", err)
	}
	return nil
}

func (m *HookModel) OpenPort(ctx context.Context, protocol string, port int) error {
	if _, err := m.run(ctx, "open-port", fmt.Sprintf("%d/%s", port, protocol)); err != nil {
		return fmt.Errorf("opening port %d/%s: %w", port, protocol, err)
	}
	return nil
}

func (m *HookModel) ClosePort(ctx context.Context, protocol string, port int) error {
	if _, err := m.run(ctx, "close-port", fmt.Sprintf("%d/%s", port, protocol)); err != nil {
		return fmt.Errorf("closing port %d/%s: %w", port, protocol, err)
	}
	return nil
}

func (m *HookModel) PublicAddress(ctx context.Context) (string, error) {
	out, err := m.run(ctx, "unit-get", "public-address")
	if err != nil {
		return "", fmt.Errorf("reading public address: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
