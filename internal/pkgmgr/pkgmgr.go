// Package pkgmgr installs the OpenSSH server and the family-native
// firewall on a target host.
//
// Each OS family gets its own installer behind a shared interface. An
// installer probes the package database first and only runs the install
// commands when something is missing; service enablement is reasserted
// on every run, which systemctl treats as a no-op when already enabled.
// Re-running an installer on a provisioned host therefore changes
// nothing.
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gitlab.bluewillows.net/root/sftpjail/internal/hostinfo"
	"gitlab.bluewillows.net/root/sftpjail/internal/service"
	"gitlab.bluewillows.net/root/sftpjail/internal/target"
)

var (
	// ErrPackageInstall indicates required packages could not be installed
	// or their services could not be enabled. Fatal for the run.
	ErrPackageInstall = errors.New("package installation failed")

	// ErrUnsupportedFamily indicates no installer exists for the OS family.
	ErrUnsupportedFamily = errors.New("no package installer for OS family")
)

// Installer installs the SSH server and firewall packages for one OS
// family and enables their services.
type Installer interface {
	// Install brings the required packages and services into place. It
	// reports whether any packages had to be installed; re-running on a
	// provisioned host only reasserts the service state and returns false.
	Install(ctx context.Context) (bool, error)
	// Packages lists the packages the installer manages.
	Packages() []string
}

// Option configures an installer built by ForFamily.
type Option func(*installer)

// WithLogger sets the logger for install operations.
func WithLogger(logger *slog.Logger) Option {
	return func(i *installer) {
		i.logger = logger
	}
}

// ForFamily returns the installer matching the detected OS family.
func ForFamily(family hostinfo.Family, runner target.Runner, opts ...Option) (Installer, error) {
	base := installer{
		runner:   runner,
		services: service.NewManager(runner),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&base)
	}
	base.services = service.NewManager(runner, service.WithLogger(base.logger))

	switch family {
	case hostinfo.FamilyDebian:
		base.packages = []string{"openssh-server", "ufw"}
		base.units = []string{"ssh", "ufw"}
		base.probe = "dpkg -s %s"
		base.commands = []string{
			"apt-get update -q",
			"DEBIAN_FRONTEND=noninteractive apt-get install -y openssh-server ufw",
		}
		base.post = []string{"ufw --force enable"}
		return &base, nil
	case hostinfo.FamilyRHEL:
		base.packages = []string{"openssh-server", "firewalld"}
		base.units = []string{"sshd", "firewalld"}
		base.probe = "rpm -q %s"
		base.commands = []string{
			"dnf install -y openssh-server firewalld",
		}
		return &base, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFamily, family)
	}
}

// installer probes for its packages, runs a fixed install sequence when
// any are missing, and enables the resulting services. Both family
// variants share this shape; only the probe, command and unit lists
// differ.
type installer struct {
	runner   target.Runner
	services *service.Manager
	logger   *slog.Logger

	packages []string
	units    []string
	probe    string
	commands []string
	post     []string
}

func (i *installer) Packages() []string {
	return i.packages
}

func (i *installer) Install(ctx context.Context) (bool, error) {
	missing, err := i.missingPackages(ctx)
	if err != nil {
		return false, err
	}

	if len(missing) > 0 {
		i.logger.Info("installing packages",
			slog.String("packages", strings.Join(missing, ", ")))
		for _, command := range i.commands {
			if err := i.run(ctx, command); err != nil {
				return false, err
			}
		}
	} else {
		i.logger.Info("packages already installed",
			slog.String("packages", strings.Join(i.packages, ", ")))
	}

	// Enabling is reasserted even when nothing was installed, so a unit
	// disabled between runs comes back.
	for _, unit := range i.units {
		if err := i.services.EnableNow(ctx, unit); err != nil {
			return false, fmt.Errorf("%w: %v", ErrPackageInstall, err)
		}
	}

	if len(missing) > 0 {
		for _, command := range i.post {
			if err := i.run(ctx, command); err != nil {
				return false, err
			}
		}
	}
	return len(missing) > 0, nil
}

func (i *installer) missingPackages(ctx context.Context) ([]string, error) {
	var missing []string
	for _, pkg := range i.packages {
		result, err := i.runner.Run(ctx, fmt.Sprintf(i.probe, pkg))
		if err != nil {
			return nil, fmt.Errorf("%w: checking %s: %v", ErrPackageInstall, pkg, err)
		}
		if !result.Success() {
			missing = append(missing, pkg)
		}
	}
	return missing, nil
}

func (i *installer) run(ctx context.Context, command string) error {
	result, err := i.runner.Run(ctx, command)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPackageInstall, command, err)
	}
	if !result.Success() {
		return fmt.Errorf("%w: %s: %s", ErrPackageInstall, command, result.Detail())
	}
	return nil
}
