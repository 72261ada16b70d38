// Copyright 2024-2026 Aiku AI

package juju

import (
	"context"
	"fmt"
)

// MemoryModel is an in-process Model used by tests in this repository and
// by charm integration harnesses. It records status transitions and port
// operations so assertions can inspect them.
type MemoryModel struct {
	Rels      map[string][]*Relation
	AppData   map[string]map[string]string // keyed by Relation.String(), remote databag
	LocalData map[string]map[string]string // keyed by Relation.String(), own databag
	Secrets   []*Secret
	Grants    map[string][]string // secret ID -> relation keys
	CharmCfg  map[string]any
	Address   string

	Status        Status
	StatusMessage string
	OpenPorts     map[string]bool // "113/tcp" -> open

	nextSecretID int
}

// NewMemoryModel returns an empty MemoryModel.
func NewMemoryModel() *MemoryModel {
	return &MemoryModel{
		Rels:      map[string][]*Relation{},
		AppData:   map[string]map[string]string{},
		LocalData: map[string]map[string]string{},
		Grants:    map[string][]string{},
		CharmCfg:  map[string]any{},
		OpenPorts: map[string]bool{},
	}
}

var _ Model = (*MemoryModel)(nil)

// AddRelation registers a relation on the endpoint and returns it.
func (m *MemoryModel) AddRelation(endpoint, remoteApp string, remoteData map[string]string) *Relation {
	rel := &Relation{Endpoint: endpoint, ID: len(m.Rels[endpoint]), RemoteApp: remoteApp}
	m.Rels[endpoint] = append(m.Rels[endpoint], rel)
	if remoteData == nil {
		remoteData = map[string]string{}
	}
	m.AppData[rel.String()] = remoteData
	m.LocalData[rel.String()] = map[string]string{}
	return rel
}

func (m *MemoryModel) Relation(ctx context.Context, endpoint string) (*Relation, error) {
	rels := m.Rels[endpoint]
	if len(rels) == 0 {
		return nil, nil
	}
	return rels[0], nil
}

func (m *MemoryModel) Relations(ctx context.Context, endpoint string) ([]*Relation, error) {
	return m.Rels[endpoint], nil
}

func (m *MemoryModel) RemoteAppData(ctx context.Context, rel *Relation) (map[string]string, error) {
	data, ok := m.AppData[rel.String()]
	if !ok {
		return nil, fmt.Errorf("unknown relation %s", rel)
	}
	return data, nil
}

func (m *MemoryModel) UpdateAppData(ctx context.Context, rel *Relation, data map[string]string) error {
	bag, ok := m.LocalData[rel.String()]
	if !ok {
		return fmt.Errorf("unknown relation %s", rel)
	}
	for k, v := range data {
		bag[k] = v
	}
	return nil
}

func (m *MemoryModel) Secret(ctx context.Context, ref SecretRef) (*Secret, error) {
	for _, sec := range m.Secrets {
		if (ref.ID != "" && sec.ID == ref.ID) || (ref.Label != "" && sec.Label == ref.Label) {
			return sec, nil
		}
	}
	return nil, ErrSecretNotFound
}

func (m *MemoryModel) AddSecret(ctx context.Context, label string, content map[string]string) (*Secret, error) {
	m.nextSecretID++
	sec := &Secret{
		ID:      fmt.Sprintf("secret:%d", m.nextSecretID),
		Label:   label,
		Content: content,
	}
	m.Secrets = append(m.Secrets, sec)
	return sec, nil
}

func (m *MemoryModel) GrantSecret(ctx context.Context, sec *Secret, rel *Relation) error {
	m.Grants[sec.ID] = append(m.Grants[sec.ID], rel.String())
	return nil
}

func (m *MemoryModel) Config(ctx context.Context) (map[string]any, error) {
	return m.CharmCfg, nil
}

func (m *MemoryModel) SetStatus(ctx context.Context, st Status, message string) error {
	m.Status = st
	m.StatusMessage = message
	return nil
}

func (m *MemoryModel) OpenPort(ctx context.Context, protocol string, port int) error {
	m.OpenPorts[fmt.Sprintf("%d/%s", port, protocol)] = true
	return nil
}

func (m *MemoryModel) ClosePort(ctx context.Context, protocol string, port int) error {
	m.OpenPorts[fmt.Sprintf("%d/%s", port, protocol)] = false
	return nil
}

func (m *MemoryModel) PublicAddress(ctx context.Context) (string, error) {
	if m.Address == "" {
		return "", fmt.Errorf("no public address")
	}
	return m.Address, nil
}
