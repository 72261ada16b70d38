// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"

	"github.com/rs/zerolog"
)

// SnapManager manages the bridge snap package. The semantics are
// "ensure latest if absent": EnsureLatest is only invoked when Present
// reports the snap missing, so an already-installed snap is never touched
// by a reconcile.
type SnapManager interface {
	Present(ctx context.Context, name string) (bool, error)
	EnsureLatest(ctx context.Context, name, channel string) error
}

// CLISnap implements SnapManager with the snap command line tool.
type CLISnap struct {
	Log    zerolog.Logger
	Runner CommandRunner
}

func (s *CLISnap) Present(ctx context.Context, name string) (bool, error) {
	// snap list exits non-zero for a snap that is not installed; there is
	// no distinct exit code for other failures, so any error means absent.
	if _, err := s.Runner.Run(ctx, "snap", "list", name); err != nil {
		s.Log.Debug().Err(err).Str("snap", name).Msg("Snap not present")
		return false, nil
	}
	return true, nil
}

func (s *CLISnap) EnsureLatest(ctx context.Context, name, channel string) error {
	s.Log.Info().Str("snap", name).Str("channel", channel).Msg("Installing snap")
	_, err := s.Runner.Run(ctx, "snap", "install", "--channel="+channel, name)
	return err
}
