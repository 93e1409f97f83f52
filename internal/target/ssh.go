package target

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/sftpjail/pkg/sshutil"
)

// SchemeSSH is the target scheme for hosts reached over SSH.
const SchemeSSH = "ssh"

// SSHConfig holds the SSH settings that do not travel in the target URI.
type SSHConfig struct {
	// User is the login user when the target URI does not name one.
	User string

	// KeyFile is the path to the SSH private key file.
	KeyFile string

	// KeyData is the SSH private key content directly.
	KeyData string

	// KeyPassphrase is the passphrase for encrypted SSH keys.
	KeyPassphrase string

	// Password is the SSH login password.
	Password string

	// Sudo wraps remote commands in sudo. Ignored when the login user
	// is root.
	Sudo bool

	// SudoPassword is the password sudo prompts for on the remote host.
	// Empty means passwordless sudo.
	SudoPassword string

	// StrictHostKeyChecking enables host key verification against
	// KnownHostsFile.
	StrictHostKeyChecking bool

	// KnownHostsFile is the known_hosts file for host key verification.
	KnownHostsFile string

	// Timeout is the SSH connection timeout.
	Timeout time.Duration
}

// SSHHost is a Host reached over an SSH connection. Commands run in exec
// sessions, wrapped in sudo when the login user is not root; file access
// goes over an SFTP session on the same connection.
type SSHHost struct {
	name   string
	logger *slog.Logger
	client *sshutil.Client
	runner *sshutil.Runner
	fs     *sshutil.SFTPFileSystem

	mu     sync.Mutex
	closed bool
}

// SSHFactory returns a Factory that connects to ssh:// targets using the
// given settings.
func SSHFactory(cfg SSHConfig, logger *slog.Logger) Factory {
	return func(ctx context.Context, u URI) (Host, error) {
		return NewSSH(ctx, u, cfg, logger)
	}
}

// NewSSH connects to the host named by the URI and returns it as a Host.
func NewSSH(ctx context.Context, u URI, cfg SSHConfig, logger *slog.Logger) (*SSHHost, error) {
	if logger == nil {
		logger = slog.Default()
	}

	user := u.User
	if user == "" {
		user = cfg.User
	}

	clientCfg := &sshutil.Config{
		Host:                  u.Host,
		Port:                  u.Port,
		User:                  user,
		KeyFile:               cfg.KeyFile,
		KeyData:               cfg.KeyData,
		KeyPassphrase:         cfg.KeyPassphrase,
		Password:              cfg.Password,
		Timeout:               cfg.Timeout,
		StrictHostKeyChecking: cfg.StrictHostKeyChecking,
		KnownHostsFile:        cfg.KnownHostsFile,
	}

	client, err := sshutil.NewClient(clientCfg, sshutil.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("configuring SSH client for %s: %w", u.String(), err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", u.String(), err)
	}

	var runnerOpts []sshutil.RunnerOption
	runnerOpts = append(runnerOpts, sshutil.WithRunnerLogger(logger))
	if cfg.Sudo && user != "root" {
		runnerOpts = append(runnerOpts, sshutil.WithSudo(cfg.SudoPassword))
	}

	fs := sshutil.NewSFTPFileSystem(client, sshutil.WithSFTPLogger(logger))
	if err := fs.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("opening SFTP session to %s: %w", u.String(), err)
	}

	return &SSHHost{
		name:   u.String(),
		logger: logger,
		client: client,
		runner: sshutil.NewRunner(client, runnerOpts...),
		fs:     fs,
	}, nil
}

// Name returns the target URI this host was resolved from.
func (h *SSHHost) Name() string {
	return h.name
}

// Close tears down the SFTP session and the SSH connection.
// Safe to call multiple times.
func (h *SSHHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	fsErr := h.fs.Close()
	clientErr := h.client.Close()

	if fsErr != nil {
		return fsErr
	}
	return clientErr
}

func (h *SSHHost) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Run executes a command on the remote host.
func (h *SSHHost) Run(ctx context.Context, command string) (*CommandResult, error) {
	return h.RunWithInput(ctx, command, nil)
}

// RunWithInput executes a command with the given bytes on its standard input.
func (h *SSHHost) RunWithInput(ctx context.Context, command string, input []byte) (*CommandResult, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}

	res, err := h.runner.RunWithInput(ctx, command, input)
	if err != nil {
		return nil, err
	}

	return &CommandResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, nil
}

// ReadFile reads a file from the remote host.
func (h *SSHHost) ReadFile(path string) ([]byte, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}
	return h.fs.ReadFile(path)
}

// WriteFile writes a file on the remote host.
func (h *SSHHost) WriteFile(path string, data []byte, perm os.FileMode) error {
	if h.isClosed() {
		return ErrClosed
	}
	return h.fs.WriteFile(path, data, perm)
}

// Stat returns file info for a path on the remote host.
func (h *SSHHost) Stat(path string) (os.FileInfo, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}
	return h.fs.Stat(path)
}

// MkdirAll creates a directory and any missing parents on the remote host.
func (h *SSHHost) MkdirAll(path string, perm os.FileMode) error {
	if h.isClosed() {
		return ErrClosed
	}
	return h.fs.MkdirAll(path, perm)
}

// Chmod changes the mode of a path on the remote host.
func (h *SSHHost) Chmod(path string, mode os.FileMode) error {
	if h.isClosed() {
		return ErrClosed
	}
	return h.fs.Chmod(path, mode)
}

// Chown changes the numeric owner and group of a path on the remote host.
func (h *SSHHost) Chown(path string, uid, gid int) error {
	if h.isClosed() {
		return ErrClosed
	}
	return h.fs.Chown(path, uid, gid)
}
