// Copyright 2024-2026 Aiku AI

// Package database resolves the PostgreSQL datasource for the bridge from
// the database relation. The datasource is rebuilt from the relation databag
// on every reconcile and never persisted.
package database

import (
	"context"
	"net/url"
	"strings"

	"github.com/aiku/irc-bridge-operator/pkg/juju"
)

// Name is the database requested from the provider charm.
const Name = "ircbridge"

// DefaultRelationName is the charm endpoint for the database relation.
const DefaultRelationName = "database"

// DatasourcePostgreSQL is a resolved database connection.
type DatasourcePostgreSQL struct {
	User     string
	Password string
	Host     string
	Port     string
	DB       string
	URI      string
}

// FromRelation builds a datasource from the database relation databag
// published by the postgresql charm: username, password, endpoints
// ("host:port[,host:port...]") and database. The first endpoint is the
// primary. Returns nil when the relation is absent or the databag is still
// incomplete; that is a not-ready condition, not an error.
func FromRelation(ctx context.Context, model juju.Model, endpoint string) (*DatasourcePostgreSQL, error) {
	rel, err := model.Relation(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, nil
	}
	data, err := model.RemoteAppData(ctx, rel)
	if err != nil {
		return nil, err
	}
	return fromDatabag(data), nil
}

func fromDatabag(data map[string]string) *DatasourcePostgreSQL {
	user := data["username"]
	password := data["password"]
	endpoints := data["endpoints"]
	db := data["database"]
	if db == "" {
		db = Name
	}
	if user == "" || password == "" || endpoints == "" {
		return nil
	}
	primary, _, _ := strings.Cut(endpoints, ",")
	host, port, ok := strings.Cut(primary, ":")
	if !ok || host == "" || port == "" {
		return nil
	}
	uri := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   primary,
		Path:   "/" + db,
	}
	return &DatasourcePostgreSQL{
		User:     user,
		Password: password,
		Host:     host,
		Port:     port,
		DB:       db,
		URI:      uri.String(),
	}
}
