package target

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// LocalHost runs commands and file operations on the machine sftpjail
// itself runs on. This is the default target.
type LocalHost struct {
	logger *slog.Logger
}

// LocalOption is a functional option for configuring the LocalHost.
type LocalOption func(*LocalHost)

// WithLocalLogger sets a custom logger for the local host.
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(h *LocalHost) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewLocal creates a host handle for the local machine.
func NewLocal(opts ...LocalOption) *LocalHost {
	h := &LocalHost{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// LocalFactory returns a Factory for the local scheme.
func LocalFactory(logger *slog.Logger) Factory {
	return func(context.Context, URI) (Host, error) {
		return NewLocal(WithLocalLogger(logger)), nil
	}
}

// Name identifies the target in logs.
func (h *LocalHost) Name() string { return SchemeLocal }

// Close is a no-op for the local host.
func (h *LocalHost) Close() error { return nil }

// Run executes a command through "sh -c" and captures its output.
func (h *LocalHost) Run(ctx context.Context, command string) (*CommandResult, error) {
	return h.RunWithInput(ctx, command, nil)
}

// RunWithInput executes a command with the given bytes on its standard input.
func (h *LocalHost) RunWithInput(ctx context.Context, command string, input []byte) (*CommandResult, error) {
	h.logger.Debug("executing command", slog.String("command", command))

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if len(input) > 0 {
		cmd.Stdin = bytes.NewReader(input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &CommandResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// The process never ran (sh missing, context canceled before start).
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("starting command: %w", err)
		}
	}

	h.logger.Debug("command completed",
		slog.String("command", command),
		slog.Int("exit_code", result.ExitCode),
	)

	return result, nil
}

// ReadFile reads a file from the local filesystem.
func (h *LocalHost) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes a file on the local filesystem.
func (h *LocalHost) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// Stat returns file info from the local filesystem.
func (h *LocalHost) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// MkdirAll creates a directory and any missing parents.
func (h *LocalHost) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Chmod changes the mode of a path.
func (h *LocalHost) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

// Chown changes the numeric owner and group of a path.
func (h *LocalHost) Chown(path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}
