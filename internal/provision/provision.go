package provision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gitlab.bluewillows.net/root/sftpjail/internal/dirtree"
	"gitlab.bluewillows.net/root/sftpjail/internal/firewall"
	"gitlab.bluewillows.net/root/sftpjail/internal/hostinfo"
	"gitlab.bluewillows.net/root/sftpjail/internal/identity"
	"gitlab.bluewillows.net/root/sftpjail/internal/metrics"
	"gitlab.bluewillows.net/root/sftpjail/internal/pathspec"
	"gitlab.bluewillows.net/root/sftpjail/internal/pkgmgr"
	"gitlab.bluewillows.net/root/sftpjail/internal/service"
	"gitlab.bluewillows.net/root/sftpjail/internal/sshdconf"
	"gitlab.bluewillows.net/root/sftpjail/internal/target"
)

// ErrAborted is returned when the operator declines the confirmation
// prompt. It is a clean cancel, not a failure; the command maps it to
// exit code 0.
var ErrAborted = errors.New("provisioning cancelled by operator")

// StepError wraps the error that stopped the pipeline together with the
// step it came from. Unwrap exposes the cause, so errors.Is reaches the
// step packages' sentinels through it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// RunConfig is the fully resolved configuration for one provisioning
// run. It is built once before Run and never mutated.
type RunConfig struct {
	// User is the SFTP username to provision.
	User string

	// Group is the SFTP group the sshd stanza matches on.
	Group string

	// Directory is the raw shared directory path; the pipeline validates
	// it and derives the chroot split.
	Directory string

	// Port is the SSH port the firewall must end up allowing.
	Port int

	// Password is the user's password in silent mode.
	Password string

	// Silent skips the confirmation prompt and sets the password from
	// Password instead of prompting.
	Silent bool

	// DryRun reports the would-be changes without touching the host.
	DryRun bool

	// SshdConfigPath overrides the sshd config location when non-empty.
	SshdConfigPath string
}

// Provisioner runs the provisioning pipeline against one target host.
//
// The unexported fields after the confirmation writer are construction
// seams: New binds them to the real step implementations, and tests in
// this package swap fakes in.
type Provisioner struct {
	host   target.Host
	config RunConfig
	logger *slog.Logger

	confirmIn  io.Reader
	confirmOut io.Writer

	detectOS     func(target.FileSystem) (*hostinfo.Profile, error)
	newInstaller func(hostinfo.Family, target.Runner) (pkgmgr.Installer, error)
	newIdentity  func(hostinfo.Family, target.Runner) identityProvisioner
	newDirTree   func(target.Runner, target.FileSystem) directoryEnsurer
	newSSHDConf  func(target.FileSystem, string) stanzaReconciler
	newFirewall  func(hostinfo.Family, target.Runner) (firewall.Reconciler, error)
	newService   func(target.Runner) serviceRestarter
}

type identityProvisioner interface {
	Provision(ctx context.Context, spec identity.Spec) (bool, error)
}

type directoryEnsurer interface {
	Ensure(ctx context.Context, spec pathspec.Spec, username, groupname string) (bool, error)
}

type stanzaReconciler interface {
	Ensure(spec pathspec.Spec, groupname string) (bool, error)
	Path() string
}

type serviceRestarter interface {
	Restart(ctx context.Context, unit string) error
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger for the run.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// WithConfig sets the run configuration.
func WithConfig(cfg RunConfig) Option {
	return func(p *Provisioner) {
		p.config = cfg
	}
}

// WithConfirmInput sets where the confirmation answer is read from.
// Defaults to standard input.
func WithConfirmInput(r io.Reader) Option {
	return func(p *Provisioner) {
		p.confirmIn = r
	}
}

// WithConfirmOutput sets where the confirmation summary and prompt are
// written. Defaults to standard error.
func WithConfirmOutput(w io.Writer) Option {
	return func(p *Provisioner) {
		p.confirmOut = w
	}
}

// New creates a Provisioner for the given host.
func New(host target.Host, opts ...Option) *Provisioner {
	p := &Provisioner{
		host:       host,
		logger:     slog.Default(),
		confirmIn:  os.Stdin,
		confirmOut: os.Stderr,
	}

	p.detectOS = hostinfo.Detect
	p.newInstaller = func(family hostinfo.Family, runner target.Runner) (pkgmgr.Installer, error) {
		return pkgmgr.ForFamily(family, runner, pkgmgr.WithLogger(p.logger))
	}
	p.newIdentity = func(family hostinfo.Family, runner target.Runner) identityProvisioner {
		return identity.NewProvisioner(runner, family, identity.WithLogger(p.logger))
	}
	p.newDirTree = func(runner target.Runner, fsys target.FileSystem) directoryEnsurer {
		return dirtree.NewProvisioner(runner, fsys, dirtree.WithLogger(p.logger))
	}
	p.newSSHDConf = func(fsys target.FileSystem, path string) stanzaReconciler {
		return sshdconf.NewReconciler(fsys, sshdconf.WithLogger(p.logger), sshdconf.WithPath(path))
	}
	p.newFirewall = func(family hostinfo.Family, runner target.Runner) (firewall.Reconciler, error) {
		return firewall.ForFamily(family, runner, firewall.WithLogger(p.logger))
	}
	p.newService = func(runner target.Runner) serviceRestarter {
		return service.NewManager(runner, service.WithLogger(p.logger))
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the provisioning pipeline.
//
// Steps run in Steps order and the first failure stops the run; already
// applied changes are never rolled back. The returned Result carries one
// entry per pipeline step, with never-run steps marked skipped. The
// error is nil on success, ErrAborted when the operator declined the
// confirmation prompt, and a *StepError wrapping the failing step's
// cause otherwise.
func (p *Provisioner) Run(ctx context.Context) (*Result, error) {
	result := NewResult(p.config.DryRun)

	p.logger.Info("starting provisioning run",
		slog.String("target", p.host.Name()),
		slog.String("user", p.config.User),
		slog.String("group", p.config.Group),
		slog.String("directory", p.config.Directory),
		slog.Int("port", p.config.Port),
		slog.Bool("dry_run", p.config.DryRun),
	)

	var profile *hostinfo.Profile
	err := p.runStep(result, StepDetectOS, func() (Status, string, error) {
		detected, err := p.detectOS(p.host)
		if err != nil {
			return "", "", err
		}
		profile = detected
		return StatusUnchanged, profile.String(), nil
	})
	if err != nil {
		return p.finish(result, err)
	}

	var spec pathspec.Spec
	err = p.runStep(result, StepValidatePath, func() (Status, string, error) {
		parsed, err := pathspec.Parse(p.config.Directory)
		if err != nil {
			return "", "", err
		}
		if err := pathspec.EnsureOutsideHome(parsed.FullPath, p.config.User); err != nil {
			return "", "", err
		}
		spec = parsed
		detail := fmt.Sprintf("chroot %s, session directory /%s", parsed.ParentPath, parsed.LeafName)
		return StatusUnchanged, detail, nil
	})
	if err != nil {
		return p.finish(result, err)
	}

	if !p.config.Silent && !p.config.DryRun {
		if err := p.confirm(profile); err != nil {
			return p.finish(result, err)
		}
	}

	err = p.runStep(result, StepInstallPackages, func() (Status, string, error) {
		installer, err := p.newInstaller(profile.Family, p.host)
		if err != nil {
			return "", "", err
		}
		packages := strings.Join(installer.Packages(), " ")
		if p.config.DryRun {
			return StatusApplied, "install " + packages, nil
		}
		changed, err := installer.Install(ctx)
		if err != nil {
			return "", "", err
		}
		if changed {
			return StatusApplied, "installed " + packages, nil
		}
		return StatusUnchanged, packages + " already installed", nil
	})
	if err != nil {
		return p.finish(result, err)
	}

	err = p.runStep(result, StepIdentity, func() (Status, string, error) {
		idSpec := identity.Spec{
			Username:       p.config.User,
			Groupname:      p.config.Group,
			HomeDir:        spec.FullPath,
			PasswordSource: identity.SourceInteractive,
		}
		if p.config.Silent {
			idSpec.PasswordSource = identity.SourceProvided
			idSpec.Secret = p.config.Password
		}

		if p.config.DryRun {
			// The silent-password invariant holds in a dry run too.
			if p.config.Silent && p.config.Password == "" {
				return "", "", identity.ErrMissingSilentPassword
			}
			return StatusApplied, fmt.Sprintf("create group %s and user %s", p.config.Group, p.config.User), nil
		}

		created, err := p.newIdentity(profile.Family, p.host).Provision(ctx, idSpec)
		if err != nil {
			return "", "", err
		}
		if created {
			return StatusApplied, fmt.Sprintf("created %s:%s", p.config.User, p.config.Group), nil
		}
		return StatusUnchanged, fmt.Sprintf("%s:%s already exist", p.config.User, p.config.Group), nil
	})
	if err != nil {
		return p.finish(result, err)
	}

	err = p.runStep(result, StepDirectories, func() (Status, string, error) {
		if p.config.DryRun {
			detail := fmt.Sprintf("create %s owned by %s:%s", spec.FullPath, p.config.User, p.config.Group)
			return StatusApplied, detail, nil
		}
		created, err := p.newDirTree(p.host, p.host).Ensure(ctx, spec, p.config.User, p.config.Group)
		if err != nil {
			return "", "", err
		}
		if created {
			return StatusApplied, "created " + spec.FullPath, nil
		}
		return StatusUnchanged, spec.FullPath + " already in place", nil
	})
	if err != nil {
		return p.finish(result, err)
	}

	err = p.runStep(result, StepSSHDConfig, func() (Status, string, error) {
		reconciler := p.newSSHDConf(p.host, p.config.SshdConfigPath)
		if p.config.DryRun {
			detail := fmt.Sprintf("append Match Group %s stanza to %s", p.config.Group, reconciler.Path())
			return StatusApplied, detail, nil
		}
		appended, err := reconciler.Ensure(spec, p.config.Group)
		if err != nil {
			return "", "", err
		}
		if appended {
			return StatusApplied, "appended Match Group stanza to " + reconciler.Path(), nil
		}
		return StatusUnchanged, "Match Group stanza already present", nil
	})
	if err != nil {
		return p.finish(result, err)
	}

	err = p.runStep(result, StepFirewall, func() (Status, string, error) {
		if p.config.DryRun {
			return StatusApplied, fmt.Sprintf("allow %d/tcp", p.config.Port), nil
		}
		reconciler, err := p.newFirewall(profile.Family, p.host)
		if err != nil {
			return "", "", err
		}
		changed, err := reconciler.Reconcile(ctx, p.config.Port)
		if err != nil {
			return "", "", err
		}
		if changed {
			return StatusApplied, fmt.Sprintf("opened %d/tcp", p.config.Port), nil
		}
		return StatusUnchanged, fmt.Sprintf("%d/tcp already allowed", p.config.Port), nil
	})
	if err != nil {
		return p.finish(result, err)
	}

	err = p.runStep(result, StepRestartSSH, func() (Status, string, error) {
		unit := service.SSHUnit(profile.Family)
		if p.config.DryRun {
			return StatusApplied, "restart " + unit, nil
		}
		if result.AppliedCount() == 0 {
			return StatusUnchanged, "nothing changed, restart not needed", nil
		}
		if err := p.newService(p.host).Restart(ctx, unit); err != nil {
			p.logger.Error("ssh service restart failed, inspect the sshd config manually",
				slog.String("unit", unit),
				slog.String("config", p.sshdPath()),
			)
			return "", "", err
		}
		return StatusApplied, "restarted " + unit, nil
	})
	if err != nil {
		return p.finish(result, err)
	}

	return p.finish(result, nil)
}

// runStep executes one pipeline step, records its outcome, and wraps a
// failure in a StepError.
func (p *Provisioner) runStep(result *Result, step Step, fn func() (Status, string, error)) error {
	start := time.Now()
	status, detail, err := fn()
	outcome := StepResult{
		Step:      step,
		Status:    status,
		Detail:    detail,
		StartTime: start,
		EndTime:   time.Now(),
	}

	if err != nil {
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		result.AddStep(outcome)
		p.logger.Error("step failed",
			slog.String("step", string(step)),
			slog.String("error", err.Error()),
		)
		return &StepError{Step: step, Err: err}
	}

	result.AddStep(outcome)
	p.logger.Info("step complete",
		slog.String("step", string(step)),
		slog.String("status", string(status)),
		slog.String("detail", detail),
	)
	return nil
}

// confirm displays the resolved run configuration and asks the operator
// to proceed. An empty answer or a case-insensitive y/yes continues;
// anything else returns ErrAborted.
func (p *Provisioner) confirm(profile *hostinfo.Profile) error {
	w := p.confirmOut
	fmt.Fprintf(w, "\nProvisioning chroot-jailed SFTP on %s\n", p.host.Name())
	fmt.Fprintf(w, "  host:        %s\n", profile)
	fmt.Fprintf(w, "  user:        %s\n", p.config.User)
	fmt.Fprintf(w, "  group:       %s\n", p.config.Group)
	fmt.Fprintf(w, "  directory:   %s\n", p.config.Directory)
	fmt.Fprintf(w, "  ssh port:    %d\n", p.config.Port)
	fmt.Fprintf(w, "  sshd config: %s\n", p.sshdPath())
	fmt.Fprint(w, "Proceed? [Y/n] ")

	line, err := bufio.NewReader(p.confirmIn).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return nil
	default:
		return ErrAborted
	}
}

// finish closes out the result, records run metrics, logs the outcome,
// and passes the run error through to the caller.
func (p *Provisioner) finish(result *Result, runErr error) (*Result, error) {
	if runErr != nil {
		reason := "previous step failed"
		if errors.Is(runErr, ErrAborted) {
			reason = "cancelled by operator"
		}
		result.SkipRemaining(reason)
	}
	result.Complete()

	status := "success"
	switch {
	case errors.Is(runErr, ErrAborted):
		status = "aborted"
	case runErr != nil:
		status = "error"
	}

	for _, s := range result.Steps {
		metrics.RecordStep(string(s.Step), string(s.Status))
	}
	metrics.RecordRun(status, result.Duration().Seconds())

	// Partial provisioning is accepted: nothing applied before a failure
	// or cancel is rolled back, the operator re-runs after fixing the
	// cause.
	if runErr != nil && result.AppliedCount() > 0 {
		p.logger.Warn("changes already applied in this run are left in place",
			slog.Int("applied", result.AppliedCount()),
		)
	}

	switch {
	case errors.Is(runErr, ErrAborted):
		p.logger.Info("provisioning cancelled by operator, no changes made")
	case runErr != nil:
		p.logger.Error("provisioning run failed",
			slog.String("error", runErr.Error()),
			slog.Duration("duration", result.Duration()),
		)
	default:
		p.logger.Info("provisioning run finished",
			slog.Int("applied", result.AppliedCount()),
			slog.Int("unchanged", result.UnchangedCount()),
			slog.Duration("duration", result.Duration()),
		)
	}

	return result, runErr
}

func (p *Provisioner) sshdPath() string {
	if p.config.SshdConfigPath != "" {
		return p.config.SshdConfigPath
	}
	return sshdconf.DefaultPath
}
