// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"

	systemd "github.com/coreos/go-systemd/v22/dbus"
)

// ServiceManager supervises the bridge's systemd unit. Tests inject a
// fake; production uses SystemdManager over the system D-Bus.
type ServiceManager interface {
	DaemonReload(ctx context.Context) error
	Enable(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
}

// SystemdManager talks to systemd through its D-Bus API.
type SystemdManager struct {
	conn *systemd.Conn
}

// NewSystemdManager connects to the system bus.
func NewSystemdManager(ctx context.Context) (*SystemdManager, error) {
	conn, err := systemd.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to systemd: %w", err)
	}
	return &SystemdManager{conn: conn}, nil
}

// Close releases the D-Bus connection.
func (m *SystemdManager) Close() {
	m.conn.Close()
}

func (m *SystemdManager) DaemonReload(ctx context.Context) error {
	if err := m.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

func (m *SystemdManager) Enable(ctx context.Context, unit string) error {
	if _, _, err := m.conn.EnableUnitFilesContext(ctx, []string{unit}, false, true); err != nil {
		return fmt.Errorf("enabling %s: %w", unit, err)
	}
	return nil
}

// await blocks until the queued job finishes and checks its result.
func await(unit string, ch chan string) error {
	if result := <-ch; result != "done" {
		return fmt.Errorf("%s job finished with result %q", unit, result)
	}
	return nil
}

func (m *SystemdManager) Restart(ctx context.Context, unit string) error {
	ch := make(chan string, 1)
	if _, err := m.conn.RestartUnitContext(ctx, unit, "replace", ch); err != nil {
		return fmt.Errorf("restarting %s: %w", unit, err)
	}
	return await(unit, ch)
}

func (m *SystemdManager) Start(ctx context.Context, unit string) error {
	ch := make(chan string, 1)
	if _, err := m.conn.StartUnitContext(ctx, unit, "replace", ch); err != nil {
		return fmt.Errorf("starting %s: %w", unit, err)
	}
	return await(unit, ch)
}

func (m *SystemdManager) Stop(ctx context.Context, unit string) error {
	ch := make(chan string, 1)
	if _, err := m.conn.StopUnitContext(ctx, unit, "replace", ch); err != nil {
		return fmt.Errorf("stopping %s: %w", unit, err)
	}
	return await(unit, ch)
}
