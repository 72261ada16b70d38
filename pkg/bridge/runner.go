// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes one-shot external commands: snap operations, the
// bridge binary's generate-registration mode, and the media signing key
// generator. Tests inject a fake; production uses ExecRunner.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands through os/exec and returns their stdout.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %s", name, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
