// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command irc-bridge-operator is a Juju machine charm managing a
// matrix-appservice-irc deployment: it installs the bridge snap, derives
// its configuration from the database and matrix-auth relations plus the
// charm config, and supervises the systemd service. Juju dispatches it
// once per hook; the binary determines the hook name, runs the matching
// handler, and exits.
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aiku/irc-bridge-operator/pkg/bridge"
	"github.com/aiku/irc-bridge-operator/pkg/charm"
	"github.com/aiku/irc-bridge-operator/pkg/juju"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// hookName resolves the dispatched hook from the environment Juju sets up:
// JUJU_DISPATCH_PATH ("hooks/config-changed") on modern dispatch, the
// symlink name on legacy hook invocation.
func hookName() string {
	if path := os.Getenv("JUJU_DISPATCH_PATH"); path != "" {
		return filepath.Base(path)
	}
	if name := os.Getenv("JUJU_HOOK_NAME"); name != "" {
		return name
	}
	return filepath.Base(os.Args[0])
}

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	ctx := context.Background()
	hook := hookName()
	log.Debug().Str("tag", Tag).Str("commit", Commit).Str("build_time", BuildTime).Msg("irc-bridge-operator")

	systemd, err := bridge.NewSystemdManager(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to systemd")
	}
	defer systemd.Close()

	model := juju.NewHookModel(log)
	c := charm.New(model, log, bridge.NewService(log, systemd))
	if err := c.Run(ctx, hook); err != nil {
		log.Error().Err(err).Str("hook", hook).Msg("Hook failed")
		os.Exit(1)
	}
}
