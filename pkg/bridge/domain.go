// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// serverNameTimeout bounds the federation key lookup. The reconcile runs
// synchronously, so this request must never block it for long.
const serverNameTimeout = 5 * time.Second

// resolveServerName determines the homeserver's federation domain by
// querying its /_matrix/key/v2/server endpoint. On any network, HTTP, or
// parsing failure it falls back to the URL's own host component. The
// fallback may differ from the true server_name when the homeserver is
// reached through a different hostname; that is accepted behavior, not a
// bug, so callers always get a usable domain.
func resolveServerName(ctx context.Context, log zerolog.Logger, client *http.Client, homeserver string) string {
	parsed, err := url.Parse(homeserver)
	if err != nil {
		log.Warn().Err(err).Str("homeserver", homeserver).Msg("Unparseable homeserver URL")
		return homeserver
	}
	fallback := parsed.Hostname()

	ctx, cancel := context.WithTimeout(ctx, serverNameTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		parsed.JoinPath("/_matrix/key/v2/server").String(), nil)
	if err != nil {
		return fallback
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("homeserver", homeserver).
			Msg("Federation key lookup failed, using URL host as domain")
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Str("homeserver", homeserver).
			Msg("Federation key lookup rejected, using URL host as domain")
		return fallback
	}
	var keyResponse struct {
		ServerName string `json:"server_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&keyResponse); err != nil || keyResponse.ServerName == "" {
		log.Debug().Err(err).Str("homeserver", homeserver).
			Msg("Federation key response unusable, using URL host as domain")
		return fallback
	}
	return keyResponse.ServerName
}
