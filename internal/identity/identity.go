// Package identity provisions the jailed SFTP user and group on a target
// host.
//
// Creation is probe-then-create: getent and id answer whether the group or
// user already exist, and existing accounts are never modified beyond
// their password. The password travels exclusively over chpasswd's stdin,
// so it never appears in a command line, the process table, or the run
// log.
package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"gitlab.bluewillows.net/root/sftpjail/internal/hostinfo"
	"gitlab.bluewillows.net/root/sftpjail/internal/target"
)

var (
	// ErrMissingSilentPassword indicates silent mode was requested without
	// a password. Raised before any mutation.
	ErrMissingSilentPassword = errors.New("silent mode requires a non-empty password")

	// ErrPasswordMismatch indicates the two interactive password entries
	// did not match.
	ErrPasswordMismatch = errors.New("passwords do not match")

	// ErrEmptyPassword indicates an empty interactive password entry.
	ErrEmptyPassword = errors.New("password must not be empty")
)

// PasswordSource selects how the account password is obtained.
type PasswordSource int

const (
	// SourceInteractive prompts the operator twice without echo.
	SourceInteractive PasswordSource = iota
	// SourceProvided uses the secret carried in the Spec (silent mode).
	SourceProvided
)

// Spec describes the identity to provision. HomeDir is the shared
// directory; useradd records it without creating it.
type Spec struct {
	Username       string
	Groupname      string
	HomeDir        string
	PasswordSource PasswordSource
	Secret         string
}

// readPassword reads one password from the given file descriptor without
// echo. Swapped out in tests so no TTY is needed.
var readPassword = func(fd int) ([]byte, error) {
	return term.ReadPassword(fd)
}

// Provisioner creates the group and user and sets the password.
type Provisioner struct {
	runner  target.Runner
	family  hostinfo.Family
	logger  *slog.Logger
	promptW io.Writer
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger for identity operations.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// WithPromptWriter redirects interactive prompt text, which defaults to
// stderr.
func WithPromptWriter(w io.Writer) Option {
	return func(p *Provisioner) {
		p.promptW = w
	}
}

// NewProvisioner creates an identity provisioner for one target host. The
// OS family decides which nologin shell new users get.
func NewProvisioner(runner target.Runner, family hostinfo.Family, opts ...Option) *Provisioner {
	p := &Provisioner{
		runner:  runner,
		family:  family,
		logger:  slog.Default(),
		promptW: os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision ensures the group and user exist and sets the user's
// password. It reports whether the group or the user had to be created.
// The group is created before the user so useradd can reference it.
func (p *Provisioner) Provision(ctx context.Context, spec Spec) (bool, error) {
	if spec.PasswordSource == SourceProvided && spec.Secret == "" {
		return false, ErrMissingSilentPassword
	}

	groupCreated, err := p.ensureGroup(ctx, spec.Groupname)
	if err != nil {
		return false, err
	}

	userCreated, err := p.ensureUser(ctx, spec)
	if err != nil {
		return groupCreated, err
	}

	if err := p.setPassword(ctx, spec); err != nil {
		return groupCreated || userCreated, err
	}

	return groupCreated || userCreated, nil
}

func (p *Provisioner) ensureGroup(ctx context.Context, groupname string) (bool, error) {
	result, err := p.runner.Run(ctx, "getent group "+groupname)
	if err != nil {
		return false, fmt.Errorf("checking group %s: %w", groupname, err)
	}
	if result.Success() {
		p.logger.Info("group already exists", slog.String("group", groupname))
		return false, nil
	}

	result, err = p.runner.Run(ctx, "groupadd "+groupname)
	if err != nil {
		return false, fmt.Errorf("creating group %s: %w", groupname, err)
	}
	if !result.Success() {
		return false, fmt.Errorf("creating group %s: %s", groupname, result.Detail())
	}
	p.logger.Info("created group", slog.String("group", groupname))
	return true, nil
}

func (p *Provisioner) ensureUser(ctx context.Context, spec Spec) (bool, error) {
	result, err := p.runner.Run(ctx, "id -u "+spec.Username)
	if err != nil {
		return false, fmt.Errorf("checking user %s: %w", spec.Username, err)
	}
	if result.Success() {
		p.logger.Info("user already exists", slog.String("user", spec.Username))
		return false, nil
	}

	command := fmt.Sprintf("useradd -g %s -d %s -M -s %s %s",
		spec.Groupname, spec.HomeDir, p.nologinShell(), spec.Username)
	result, err = p.runner.Run(ctx, command)
	if err != nil {
		return false, fmt.Errorf("creating user %s: %w", spec.Username, err)
	}
	if !result.Success() {
		return false, fmt.Errorf("creating user %s: %s", spec.Username, result.Detail())
	}
	p.logger.Info("created user",
		slog.String("user", spec.Username),
		slog.String("group", spec.Groupname),
		slog.String("home", spec.HomeDir))
	return true, nil
}

// nologinShell returns the restricted shell path for the OS family.
func (p *Provisioner) nologinShell() string {
	if p.family == hostinfo.FamilyRHEL {
		return "/sbin/nologin"
	}
	return "/usr/sbin/nologin"
}

// setPassword feeds "user:secret" to chpasswd on stdin. In interactive
// mode the secret is collected from the operator first.
func (p *Provisioner) setPassword(ctx context.Context, spec Spec) error {
	secret := spec.Secret
	if spec.PasswordSource == SourceInteractive {
		entered, err := p.promptPassword(spec.Username)
		if err != nil {
			return err
		}
		secret = entered
	}

	input := []byte(spec.Username + ":" + secret + "\n")
	result, err := p.runner.RunWithInput(ctx, "chpasswd", input)
	if err != nil {
		return fmt.Errorf("setting password for %s: %w", spec.Username, err)
	}
	if !result.Success() {
		return fmt.Errorf("setting password for %s: %s", spec.Username, result.Detail())
	}
	p.logger.Info("password set", slog.String("user", spec.Username))
	return nil
}

// promptPassword asks for the password twice without echo and rejects
// mismatched or empty entries.
func (p *Provisioner) promptPassword(username string) (string, error) {
	fmt.Fprintf(p.promptW, "New password for %s: ", username)
	first, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(p.promptW)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(first) == 0 {
		return "", ErrEmptyPassword
	}

	fmt.Fprintf(p.promptW, "Retype password for %s: ", username)
	second, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(p.promptW)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if !bytes.Equal(first, second) {
		return "", ErrPasswordMismatch
	}
	return string(first), nil
}
