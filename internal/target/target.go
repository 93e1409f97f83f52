// Package target provides host handles for the machines sftpjail provisions.
// A Host bundles shell command execution and file access behind narrow
// interfaces so the reconciliation steps run identically against the local
// machine, a remote host over SSH, or a running container, and so tests can
// substitute fakes.
package target

import (
	"context"
	"errors"
	"os"
	"strings"
)

// Sentinel errors for target resolution and operation.
var (
	// ErrUnknownScheme is returned when a target URI uses an unregistered scheme.
	ErrUnknownScheme = errors.New("unknown target scheme")

	// ErrInvalidTarget is returned when a target URI cannot be parsed.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrClosed is returned when an operation is attempted on a closed host.
	ErrClosed = errors.New("target host is closed")
)

// CommandResult holds the result of a command execution on a host.
// A non-zero ExitCode is not an error at this layer; callers inspect it.
type CommandResult struct {
	// ExitCode is the exit status of the command.
	ExitCode int

	// Stdout is the standard output of the command.
	Stdout string

	// Stderr is the standard error of the command.
	Stderr string
}

// Success reports whether the command exited with status zero.
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0
}

// Detail returns the most useful diagnostic text from the command output:
// trimmed stderr when present, trimmed stdout otherwise.
func (r *CommandResult) Detail() string {
	if msg := strings.TrimSpace(r.Stderr); msg != "" {
		return msg
	}
	return strings.TrimSpace(r.Stdout)
}

// Runner executes shell commands on a target host.
//
// Run returns a CommandResult with the exit code set and a nil error for
// commands that started and finished, regardless of their exit status.
// The error return is reserved for transport failures (broken SSH session,
// unreachable docker daemon, unspawnable process). RunWithInput feeds the
// given bytes to the command's standard input; password material always
// travels this way, never inside the command line.
type Runner interface {
	Run(ctx context.Context, command string) (*CommandResult, error)
	RunWithInput(ctx context.Context, command string, input []byte) (*CommandResult, error)
}

// FileSystem performs file operations on a target host.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	Chmod(path string, mode os.FileMode) error
	Chown(path string, uid, gid int) error
}

// Host is a provisioning target: one machine with command execution and
// file access. Close releases any transport resources; it is safe to call
// on the local host where it is a no-op.
type Host interface {
	Runner
	FileSystem

	// Name identifies the target in logs, e.g. "local" or "ssh://admin@files01:22".
	Name() string

	Close() error
}
