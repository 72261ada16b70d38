// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

// BaseConfig is the packaged config.yaml template copied into place when
// no configuration exists yet.
//
//go:embed base-config.yaml
var BaseConfig string

// loadConfig reads config.yaml into a generic map so keys this operator
// does not manage survive the read-modify-write cycle.
func loadConfig(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bridge configuration: %w", err)
	}
	var cfg map[string]any
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing bridge configuration: %w", err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

func saveConfig(path string, cfg map[string]any) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing bridge configuration: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing bridge configuration: %w", err)
	}
	return nil
}

// setKey writes value at the nested key path, creating intermediate maps
// as needed.
func setKey(cfg map[string]any, value any, path ...string) {
	for _, key := range path[:len(path)-1] {
		next, ok := cfg[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cfg[key] = next
		}
		cfg = next
	}
	cfg[path[len(path)-1]] = value
}

// getMap returns the nested map at the key path, or nil.
func getMap(cfg map[string]any, path ...string) map[string]any {
	for _, key := range path {
		next, ok := cfg[key].(map[string]any)
		if !ok {
			return nil
		}
		cfg = next
	}
	return cfg
}

// adminPermissions maps every bridge admin to the "admin" role. The result
// replaces the whole ircService.permissions map: entries added by hand are
// dropped on the next reconcile, an explicit last-write-wins policy.
func adminPermissions(admins []id.UserID) map[string]any {
	perms := make(map[string]any, len(admins))
	for _, admin := range admins {
		perms[string(admin)] = "admin"
	}
	return perms
}

// setBotNick sets the bot nickname on every configured IRC server stanza.
func setBotNick(cfg map[string]any, nick string) {
	if nick == "" {
		return
	}
	servers := getMap(cfg, "ircService", "servers")
	for _, server := range servers {
		stanza, ok := server.(map[string]any)
		if !ok {
			continue
		}
		setKey(stanza, nick, "botConfig", "nick")
	}
}
