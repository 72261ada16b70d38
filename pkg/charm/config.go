// Copyright 2024-2026 Aiku AI

package charm

import (
	"fmt"
	"regexp"
	"strings"

	"maunium.net/go/mautrix/id"
)

// userIDPattern is the accepted Matrix user ID grammar for bridge admins,
// per the Matrix spec appendix on user identifiers.
var userIDPattern = regexp.MustCompile(`^@[a-z0-9._=/+-]+:\w+(\.\w+)+$`)

// CharmConfig is the validated charm configuration. A validation failure
// of any field blocks reconciliation.
type CharmConfig struct {
	IdentEnabled bool
	BotNickname  string
	BridgeAdmins []id.UserID
	// ExternalURL and MediaExternalURL override the URLs advertised to the
	// homeserver; when empty they are derived from the unit address.
	ExternalURL      string
	MediaExternalURL string
}

// ParseCharmConfig validates the raw charm configuration as decoded by
// config-get.
func ParseCharmConfig(raw map[string]any) (*CharmConfig, error) {
	cfg := &CharmConfig{}
	if v, ok := raw["ident_enabled"].(bool); ok {
		cfg.IdentEnabled = v
	}
	if v, ok := raw["bot_nickname"].(string); ok {
		cfg.BotNickname = v
	}
	if v, ok := raw["external_url"].(string); ok {
		cfg.ExternalURL = v
	}
	if v, ok := raw["media_external_url"].(string); ok {
		cfg.MediaExternalURL = v
	}
	admins, ok := raw["bridge_admins"].(string)
	if !ok || strings.TrimSpace(admins) == "" {
		return cfg, nil
	}
	for _, entry := range strings.Split(admins, ",") {
		userID := id.UserID("@" + strings.TrimSpace(entry))
		if !userIDPattern.MatchString(string(userID)) {
			return nil, fmt.Errorf("invalid bridge admin user ID %q", userID)
		}
		cfg.BridgeAdmins = append(cfg.BridgeAdmins, userID)
	}
	return cfg, nil
}
