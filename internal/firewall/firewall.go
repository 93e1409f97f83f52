// Package firewall reconciles the host firewall with the desired SSH
// port.
//
// Each OS family has its own reconciler: ufw on Debian-like hosts,
// firewall-cmd on RHEL-like ones. When a custom port is requested the
// reconcilers enforce a strict ordering guarantee: the new port must be
// verified open in the running firewall before the default SSH rule for
// port 22 is removed. A host is never left reachable on neither port.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gitlab.bluewillows.net/root/sftpjail/internal/hostinfo"
	"gitlab.bluewillows.net/root/sftpjail/internal/target"
)

const defaultSSHPort = 22

var (
	// ErrPortUnverified indicates the requested port did not show up in
	// the running firewall after the rule was added. The default SSH rule
	// is left in place so the host stays reachable.
	ErrPortUnverified = errors.New("new ssh port not verified open, keeping port 22")

	// ErrUnsupportedFamily indicates no firewall reconciler exists for
	// the OS family.
	ErrUnsupportedFamily = errors.New("no firewall reconciler for OS family")
)

// Reconciler brings the firewall into the desired state for one SSH port.
type Reconciler interface {
	// Reconcile ensures port/tcp is allowed and, for non-default ports,
	// removes the default SSH rule once the new port is verified open.
	// It reports whether any rule changed.
	Reconcile(ctx context.Context, port int) (bool, error)
}

// Option configures a reconciler built by ForFamily.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for firewall operations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// ForFamily returns the reconciler matching the detected OS family.
func ForFamily(family hostinfo.Family, runner target.Runner, opts ...Option) (Reconciler, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	switch family {
	case hostinfo.FamilyDebian:
		return &ufwReconciler{runner: runner, logger: o.logger}, nil
	case hostinfo.FamilyRHEL:
		return &firewalldReconciler{runner: runner, logger: o.logger}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFamily, family)
	}
}

// run executes one firewall command and fails on transport errors or a
// non-zero exit.
func run(ctx context.Context, runner target.Runner, command string) (*target.CommandResult, error) {
	result, err := runner.Run(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	if !result.Success() {
		return nil, fmt.Errorf("%s: %s", command, result.Detail())
	}
	return result, nil
}

// ufwReconciler drives ufw on Debian-like hosts.
type ufwReconciler struct {
	runner target.Runner
	logger *slog.Logger
}

func (r *ufwReconciler) Reconcile(ctx context.Context, port int) (bool, error) {
	changed := false
	rule := fmt.Sprintf("%d/tcp", port)

	status, err := run(ctx, r.runner, "ufw status")
	if err != nil {
		return changed, err
	}
	if strings.Contains(status.Stdout, "Status: inactive") {
		if _, err := run(ctx, r.runner, "ufw --force enable"); err != nil {
			return changed, err
		}
		r.logger.Info("enabled ufw")
		changed = true
	}

	if ufwAllows(status.Stdout, rule) {
		r.logger.Info("firewall rule already present", slog.String("rule", rule))
	} else {
		if _, err := run(ctx, r.runner, "ufw allow "+rule); err != nil {
			return changed, err
		}
		r.logger.Info("allowed port", slog.String("rule", rule))
		changed = true
	}

	if _, err := run(ctx, r.runner, "ufw reload"); err != nil {
		return changed, err
	}

	if port == defaultSSHPort {
		return changed, nil
	}

	// The default rule may only go once the new port answers in the
	// running firewall, not just in the rule store.
	verify, err := run(ctx, r.runner, "ufw status")
	if err != nil {
		return changed, err
	}
	if !ufwAllows(verify.Stdout, rule) {
		return changed, fmt.Errorf("%w: %s missing from ufw status", ErrPortUnverified, rule)
	}

	for _, command := range []string{"ufw delete allow OpenSSH", "ufw delete allow 22/tcp"} {
		result, err := run(ctx, r.runner, command)
		if err != nil {
			return changed, err
		}
		if strings.Contains(result.Stdout, "Could not delete non-existent rule") {
			continue
		}
		r.logger.Info("removed default ssh rule", slog.String("command", command))
		changed = true
	}

	return changed, nil
}

// ufwAllows reports whether the ufw status output carries an ALLOW entry
// for the rule. Matches both the v4 and the "(v6)" row.
func ufwAllows(statusOutput, rule string) bool {
	for _, line := range strings.Split(statusOutput, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != rule {
			continue
		}
		if strings.Contains(line, "ALLOW") {
			return true
		}
	}
	return false
}

// firewalldReconciler drives firewall-cmd on RHEL-like hosts.
type firewalldReconciler struct {
	runner target.Runner
	logger *slog.Logger
}

func (r *firewalldReconciler) Reconcile(ctx context.Context, port int) (bool, error) {
	changed := false
	rule := fmt.Sprintf("%d/tcp", port)

	present, err := r.queryPort(ctx, "firewall-cmd --permanent --query-port="+rule)
	if err != nil {
		return changed, err
	}
	if present {
		r.logger.Info("firewall rule already present", slog.String("rule", rule))
	} else {
		if _, err := run(ctx, r.runner, "firewall-cmd --permanent --add-port="+rule); err != nil {
			return changed, err
		}
		r.logger.Info("allowed port", slog.String("rule", rule))
		changed = true
	}

	if _, err := run(ctx, r.runner, "firewall-cmd --reload"); err != nil {
		return changed, err
	}

	if port == defaultSSHPort {
		return changed, nil
	}

	// Runtime query, not --permanent: the reload must have actually
	// opened the port before the ssh service rule goes away.
	open, err := r.queryPort(ctx, "firewall-cmd --query-port="+rule)
	if err != nil {
		return changed, err
	}
	if !open {
		return changed, fmt.Errorf("%w: %s not open in running firewall", ErrPortUnverified, rule)
	}

	removed, err := r.runner.Run(ctx, "firewall-cmd --permanent --remove-service=ssh")
	if err != nil {
		return changed, fmt.Errorf("removing ssh service rule: %w", err)
	}
	switch {
	case strings.Contains(removed.Stdout, "NOT_ENABLED") || strings.Contains(removed.Stderr, "NOT_ENABLED"):
		// Already removed on an earlier run.
	case removed.Success():
		if _, err := run(ctx, r.runner, "firewall-cmd --reload"); err != nil {
			return changed, err
		}
		r.logger.Info("removed default ssh rule")
		changed = true
	default:
		return changed, fmt.Errorf("removing ssh service rule: %s", removed.Detail())
	}

	return changed, nil
}

// queryPort runs a firewall-cmd query where exit 0 means present and a
// non-zero exit means absent rather than failure.
func (r *firewalldReconciler) queryPort(ctx context.Context, command string) (bool, error) {
	result, err := r.runner.Run(ctx, command)
	if err != nil {
		return false, fmt.Errorf("%s: %w", command, err)
	}
	return result.Success(), nil
}
