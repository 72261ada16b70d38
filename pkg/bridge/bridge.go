// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge manages the lifecycle and configuration of a
// matrix-appservice-irc deployment: the snap package, its config.yaml, the
// appservice registration, the password encryption PEM key, the media
// proxy signing key, and the systemd service unit.
//
// The reconciler is idempotent and stateless between calls. Every call
// re-verifies its preconditions from scratch: Prepare converges the
// installed artifacts, Configure rewrites config.yaml from the current
// inputs, Reload bounces the service. A failed call may leave config.yaml
// partially updated; the next full reconcile converges it back. No
// rollback or in-process retry exists anywhere.
package bridge

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/irc-bridge-operator/pkg/database"
)

const (
	// SnapName is the snap distributing the bridge.
	SnapName = "matrix-appservice-irc"
	// SnapChannel is the tracked channel.
	SnapChannel = "edge"
	// ServiceUnit is the systemd unit supervising the bridge daemon.
	ServiceUnit = "snap.matrix-appservice-irc.matrix-appservice-irc.service"

	// BridgePort is the appservice listener the homeserver pushes events to.
	BridgePort = 8090
	// MediaProxyPort serves IRC-visible media URLs.
	MediaProxyPort = 11111
	// IdentPort is the IRC ident protocol port, opened only when ident is
	// enabled in the charm configuration.
	IdentPort = 113
	// HealthPort is the bridge's health check listener.
	HealthPort = 5446
)

// Paths locates every on-disk artifact the reconciler manages.
type Paths struct {
	ConfigDir       string
	Config          string
	Registration    string
	PrivateKey      string
	MediaSigningKey string
	EnvFile         string
	// SnapBin is the bridge binary, used for generate-registration.
	SnapBin string
	// SigningKeyBin emits a fresh media signing key on stdout.
	SigningKeyBin string
}

// DefaultPaths returns the production layout under /etc and /snap.
func DefaultPaths() Paths {
	const configDir = "/etc/matrix-appservice-irc"
	return Paths{
		ConfigDir:       configDir,
		Config:          filepath.Join(configDir, "config.yaml"),
		Registration:    filepath.Join(configDir, "appservice-registration-irc.yaml"),
		PrivateKey:      filepath.Join(configDir, "irc_passkey.pem"),
		MediaSigningKey: filepath.Join(configDir, "signingkey.jwk"),
		EnvFile:         "/etc/default/matrix-appservice-irc",
		SnapBin:         "/snap/bin/matrix-appservice-irc",
		SigningKeyBin:   "/snap/bin/matrix-appservice-irc.generate-signing-key",
	}
}

// Config is the operator-supplied part of the bridge configuration.
type Config struct {
	IdentEnabled bool
	BotNickname  string
	BridgeAdmins []id.UserID
}

// Service is the bridge reconciler.
type Service struct {
	Log     zerolog.Logger
	Runner  CommandRunner
	Snap    SnapManager
	Systemd ServiceManager
	HTTP    *http.Client
	Paths   Paths
}

// NewService assembles a production Service.
func NewService(log zerolog.Logger, systemd ServiceManager) *Service {
	runner := ExecRunner{}
	return &Service{
		Log:     log,
		Runner:  runner,
		Snap:    &CLISnap{Log: log, Runner: runner},
		Systemd: systemd,
		HTTP:    &http.Client{Timeout: serverNameTimeout},
		Paths:   DefaultPaths(),
	}
}

// envFileArgs is appended to the environment file when missing so the snap
// service starts the bridge with the operator-managed files.
func (s *Service) envFileArgs() string {
	return fmt.Sprintf("IRC_BRIDGE_ARGS=%q",
		fmt.Sprintf("--config %s --file %s --port %d", s.Paths.Config, s.Paths.Registration, BridgePort))
}

// Prepare converges the machine to the Prepared state: snap installed,
// config directory populated with the base configuration, media signing
// key present, environment file carrying the startup arguments. Every step
// is skip-if-present. Failures surface as InstallError.
func (s *Service) Prepare(ctx context.Context) error {
	present, err := s.Snap.Present(ctx, SnapName)
	if err != nil {
		return &InstallError{Err: err}
	}
	if !present {
		if err := s.Snap.EnsureLatest(ctx, SnapName, SnapChannel); err != nil {
			return &InstallError{Err: err}
		}
	}

	if err := os.MkdirAll(s.Paths.ConfigDir, 0o755); err != nil {
		return &InstallError{Err: err}
	}
	if _, err := os.Stat(s.Paths.Config); errors.Is(err, os.ErrNotExist) {
		s.Log.Info().Str("path", s.Paths.Config).Msg("Writing base bridge configuration")
		if err := os.WriteFile(s.Paths.Config, []byte(BaseConfig), 0o644); err != nil {
			return &InstallError{Err: err}
		}
	} else if err != nil {
		return &InstallError{Err: err}
	}

	if _, err := os.Stat(s.Paths.MediaSigningKey); errors.Is(err, os.ErrNotExist) {
		key, err := s.Runner.Run(ctx, s.Paths.SigningKeyBin)
		if err != nil {
			return &InstallError{Err: err}
		}
		if err := os.WriteFile(s.Paths.MediaSigningKey, key, 0o600); err != nil {
			return &InstallError{Err: err}
		}
	} else if err != nil {
		return &InstallError{Err: err}
	}

	if err := s.ensureEnvFile(); err != nil {
		return &InstallError{Err: err}
	}
	return nil
}

// ensureEnvFile appends the startup arguments to the environment file when
// they are not present yet.
func (s *Service) ensureEnvFile() error {
	args := s.envFileArgs()
	existing, err := os.ReadFile(s.Paths.EnvFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if strings.Contains(string(existing), args) {
		return nil
	}
	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += args + "\n"
	return os.WriteFile(s.Paths.EnvFile, []byte(content), 0o644)
}

// Configure converges the Configured state from the current inputs: PEM
// key and appservice registration generated once, config.yaml rewritten in
// full on every call.
func (s *Service) Configure(ctx context.Context, db *database.DatasourcePostgreSQL, homeserver string, cfg Config, externalURL, mediaExternalURL string) error {
	if err := s.ensurePrivateKey(); err != nil {
		return err
	}
	if err := s.ensureRegistration(ctx, cfg.BotNickname, externalURL); err != nil {
		return err
	}
	return s.rewriteConfig(ctx, db, homeserver, cfg, mediaExternalURL)
}

// ensurePrivateKey generates the RSA 2048 password encryption key once.
func (s *Service) ensurePrivateKey() error {
	if _, err := os.Stat(s.Paths.PrivateKey); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking PEM key: %w", err)
	}
	s.Log.Info().Str("path", s.Paths.PrivateKey).Msg("Generating password encryption key")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generating PEM key: %w", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	if err := os.WriteFile(s.Paths.PrivateKey, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("writing PEM key: %w", err)
	}
	return nil
}

// ensureRegistration generates the appservice registration once by running
// the bridge binary in generate-registration mode, writing to a temp path
// and atomically moving it into place. The registration embeds tokens the
// homeserver has already trusted, so it is never silently regenerated.
func (s *Service) ensureRegistration(ctx context.Context, botNick, externalURL string) error {
	if _, err := os.Stat(s.Paths.Registration); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking registration: %w", err)
	}
	if botNick == "" {
		botNick = "ircbridge"
	}
	tmp := filepath.Join(s.Paths.ConfigDir, ".registration."+random.String(8)+".yaml")
	defer os.Remove(tmp)
	s.Log.Info().Str("path", s.Paths.Registration).Msg("Generating appservice registration")
	_, err := s.Runner.Run(ctx, s.Paths.SnapBin,
		"--generate-registration",
		"--file", tmp,
		"--url", externalURL,
		"--config", s.Paths.Config,
		"--localpart", botNick,
	)
	if err != nil {
		return fmt.Errorf("generating registration: %w", err)
	}
	if err := os.Rename(tmp, s.Paths.Registration); err != nil {
		return fmt.Errorf("installing registration: %w", err)
	}
	return nil
}

// rewriteConfig reads config.yaml, applies every managed key, and writes
// it back whole. Unmanaged keys survive; the permissions map does not, by
// design.
func (s *Service) rewriteConfig(ctx context.Context, db *database.DatasourcePostgreSQL, homeserver string, cfg Config, mediaExternalURL string) error {
	conf, err := loadConfig(s.Paths.Config)
	if err != nil {
		return err
	}

	setKey(conf, db.URI, "database", "connectionString")
	setKey(conf, homeserver, "homeserver", "url")
	setKey(conf, resolveServerName(ctx, s.Log, s.HTTP, homeserver), "homeserver", "domain")
	setKey(conf, cfg.IdentEnabled, "ircService", "ident", "enabled")
	setKey(conf, adminPermissions(cfg.BridgeAdmins), "ircService", "permissions")
	setKey(conf, s.Paths.PrivateKey, "ircService", "passwordEncryptionKeyPath")
	setKey(conf, s.Paths.MediaSigningKey, "ircService", "mediaProxy", "signingKeyPath")
	setKey(conf, MediaProxyPort, "ircService", "mediaProxy", "bindPort")
	if mediaExternalURL != "" {
		setKey(conf, mediaExternalURL, "ircService", "mediaProxy", "publicUrl")
	}
	setBotNick(conf, cfg.BotNickname)

	return saveConfig(s.Paths.Config, conf)
}

// Reload daemon-reloads systemd, enables the unit, and restarts it. Any
// failure is a fatal ReloadError; the caller surfaces it and waits for the
// next event.
func (s *Service) Reload(ctx context.Context) error {
	if err := s.Systemd.DaemonReload(ctx); err != nil {
		return &ReloadError{Err: err}
	}
	if err := s.Systemd.Enable(ctx, ServiceUnit); err != nil {
		return &ReloadError{Err: err}
	}
	if err := s.Systemd.Restart(ctx, ServiceUnit); err != nil {
		return &ReloadError{Err: err}
	}
	return nil
}

// Start starts the service unit.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Systemd.Start(ctx, ServiceUnit); err != nil {
		return &StartError{Err: err}
	}
	return nil
}

// Stop stops the service unit.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.Systemd.Stop(ctx, ServiceUnit); err != nil {
		return &StopError{Err: err}
	}
	return nil
}

// GetRegistration reads back the generated registration for forwarding to
// the matrix-auth relation, validating it parses as an appservice
// registration first.
func (s *Service) GetRegistration() (string, error) {
	if _, err := appservice.LoadRegistration(s.Paths.Registration); err != nil {
		return "", fmt.Errorf("loading registration: %w", err)
	}
	raw, err := os.ReadFile(s.Paths.Registration)
	if err != nil {
		return "", fmt.Errorf("reading registration: %w", err)
	}
	return string(raw), nil
}
