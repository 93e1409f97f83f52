// Package service manages systemd units on a target host through its
// command runner.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gitlab.bluewillows.net/root/sftpjail/internal/hostinfo"
	"gitlab.bluewillows.net/root/sftpjail/internal/target"
)

// ErrServiceRestart indicates a systemd unit failed to restart. A failed SSH
// restart at the end of a run means the new configuration is not live.
var ErrServiceRestart = errors.New("service restart failed")

// SSHUnit returns the systemd unit name of the OpenSSH server for the
// given OS family. Debian ships it as "ssh", RHEL as "sshd".
func SSHUnit(family hostinfo.Family) string {
	if family == hostinfo.FamilyRHEL {
		return "sshd"
	}
	return "ssh"
}

// Manager drives systemctl on a target host.
type Manager struct {
	runner target.Runner
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for service operations.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a systemd unit manager backed by runner.
func NewManager(runner target.Runner, opts ...ManagerOption) *Manager {
	m := &Manager{
		runner: runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restart restarts the unit and fails with ErrServiceRestart when systemctl
// reports a problem.
func (m *Manager) Restart(ctx context.Context, unit string) error {
	m.logger.Debug("restarting unit", slog.String("unit", unit))

	result, err := m.runner.Run(ctx, "systemctl restart "+unit)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrServiceRestart, unit, err)
	}
	if !result.Success() {
		return fmt.Errorf("%w: %s: %s", ErrServiceRestart, unit, result.Detail())
	}
	return nil
}

// EnableNow enables the unit and starts it in one step.
func (m *Manager) EnableNow(ctx context.Context, unit string) error {
	m.logger.Debug("enabling unit", slog.String("unit", unit))

	result, err := m.runner.Run(ctx, "systemctl enable --now "+unit)
	if err != nil {
		return fmt.Errorf("enabling %s: %w", unit, err)
	}
	if !result.Success() {
		return fmt.Errorf("enabling %s: %s", unit, result.Detail())
	}
	return nil
}

// IsActive reports whether the unit is currently running.
func (m *Manager) IsActive(ctx context.Context, unit string) (bool, error) {
	result, err := m.runner.Run(ctx, "systemctl is-active --quiet "+unit)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", unit, err)
	}
	return result.Success(), nil
}
