package sshutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/ssh"
)

// CommandResult holds the result of a remote command execution.
type CommandResult struct {
	// ExitCode is the exit status of the command.
	ExitCode int

	// Stdout is the standard output of the command.
	Stdout string

	// Stderr is the standard error of the command.
	Stderr string
}

// Runner executes commands on the remote host over SSH exec sessions.
//
// Runs return a CommandResult with the exit code set and a nil error for
// commands that ran to completion; the error return is reserved for
// session/transport failures.
type Runner struct {
	client *Client
	logger *slog.Logger

	sudo         bool
	sudoPassword string
}

// RunnerOption is a functional option for configuring the Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets a custom logger for command execution.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSudo wraps every command in sudo. With an empty password sudo runs
// non-interactively (sudo -n) and fails fast when a password would be
// required; with a password, sudo -S reads it from the head of stdin.
func WithSudo(password string) RunnerOption {
	return func(r *Runner) {
		r.sudo = true
		r.sudoPassword = password
	}
}

// NewRunner creates an SSH-based command runner.
// The underlying SSH client must be connected before use.
func NewRunner(client *Client, opts ...RunnerOption) *Runner {
	r := &Runner{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run executes a command on the remote host.
func (r *Runner) Run(ctx context.Context, command string) (*CommandResult, error) {
	return r.RunWithInput(ctx, command, nil)
}

// RunWithInput executes a command with the given bytes on its standard input.
func (r *Runner) RunWithInput(ctx context.Context, command string, input []byte) (*CommandResult, error) {
	wrapped, stdin := r.wrapSudo(command, input)

	sshConn, err := r.client.GetConnection()
	if err != nil {
		return nil, fmt.Errorf("getting SSH connection: %w", err)
	}

	r.logger.Debug("executing command",
		slog.String("command", command),
		slog.Bool("sudo", r.sudo),
	)

	session, err := sshConn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating SSH session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if len(stdin) > 0 {
		session.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(wrapped)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case err := <-done:
		result := &CommandResult{
			ExitCode: 0,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}

		if err != nil {
			code, ok := exitCode(err)
			if !ok {
				return nil, fmt.Errorf("running command: %w", err)
			}
			result.ExitCode = code
		}

		r.logger.Debug("command completed",
			slog.String("command", command),
			slog.Int("exit_code", result.ExitCode),
		)

		return result, nil
	}
}

// wrapSudo rewrites the command and stdin for sudo execution when enabled.
// The command is re-quoted through sh -c so shell constructs survive the
// sudo boundary; with a sudo password, the password line is prepended to
// whatever stdin the command itself expects.
func (r *Runner) wrapSudo(command string, input []byte) (string, []byte) {
	if !r.sudo {
		return command, input
	}

	quoted := fmt.Sprintf("sh -c '%s'", escapeShellArg(command))

	if r.sudoPassword == "" {
		return "sudo -n " + quoted, input
	}

	stdin := make([]byte, 0, len(r.sudoPassword)+1+len(input))
	stdin = append(stdin, r.sudoPassword...)
	stdin = append(stdin, '\n')
	stdin = append(stdin, input...)

	return "sudo -S -p '' " + quoted, stdin
}

// exitCode extracts the exit status from a session error.
// Returns ok=false for transport failures where the command never produced
// an exit status.
func exitCode(err error) (int, bool) {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}

	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		// Remote closed without reporting a status; treat as failure.
		return 1, true
	}

	return 0, false
}

// escapeShellArg escapes a string for safe use inside single quotes.
func escapeShellArg(arg string) string {
	return strings.ReplaceAll(arg, "'", "'\"'\"'")
}
