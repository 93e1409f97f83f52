// Package dirtree provisions the chroot directory pair for a jailed SFTP
// share.
//
// The parent directory becomes the sshd ChrootDirectory and must be owned
// by root with no group write access, or sshd rejects the chroot. The leaf
// directory inside it is where the jailed group actually reads and writes.
// Ownership and permissions are reasserted on every run so drift from
// manual changes is healed, not just initial creation.
package dirtree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"gitlab.bluewillows.net/root/sftpjail/internal/pathspec"
	"gitlab.bluewillows.net/root/sftpjail/internal/target"
)

const (
	parentMode = 0o755
	leafMode   = 0o775
)

// Provisioner creates and repairs the chroot directory pair.
type Provisioner struct {
	runner target.Runner
	fsys   target.FileSystem
	logger *slog.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger for directory operations.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// NewProvisioner creates a directory provisioner for one target host.
func NewProvisioner(runner target.Runner, fsys target.FileSystem, opts ...Option) *Provisioner {
	p := &Provisioner{
		runner: runner,
		fsys:   fsys,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure brings the directory pair described by spec into the desired
// state: parent root:root 0755, leaf owned by username:groupname 0775.
// It reports whether any directory had to be created. Ownership and mode
// are applied unconditionally.
func (p *Provisioner) Ensure(ctx context.Context, spec pathspec.Spec, username, groupname string) (bool, error) {
	created := false

	madeParent, err := p.ensureDir(spec.ParentPath, parentMode)
	if err != nil {
		return created, err
	}
	created = created || madeParent

	if err := p.fsys.Chown(spec.ParentPath, 0, 0); err != nil {
		return created, fmt.Errorf("setting owner of %s: %w", spec.ParentPath, err)
	}
	if err := p.fsys.Chmod(spec.ParentPath, parentMode); err != nil {
		return created, fmt.Errorf("setting mode of %s: %w", spec.ParentPath, err)
	}

	madeLeaf, err := p.ensureDir(spec.FullPath, leafMode)
	if err != nil {
		return created, err
	}
	created = created || madeLeaf

	uid, err := p.resolveUID(ctx, username)
	if err != nil {
		return created, err
	}
	gid, err := p.resolveGID(ctx, groupname)
	if err != nil {
		return created, err
	}

	if err := p.fsys.Chown(spec.FullPath, uid, gid); err != nil {
		return created, fmt.Errorf("setting owner of %s: %w", spec.FullPath, err)
	}
	if err := p.fsys.Chmod(spec.FullPath, leafMode); err != nil {
		return created, fmt.Errorf("setting mode of %s: %w", spec.FullPath, err)
	}

	p.logger.Info("directory tree ready",
		slog.String("parent", spec.ParentPath),
		slog.String("path", spec.FullPath),
		slog.String("owner", fmt.Sprintf("%s:%s", username, groupname)))
	return created, nil
}

// ensureDir creates path when absent and reports whether it did. An
// existing non-directory at path is an error.
func (p *Provisioner) ensureDir(path string, mode fs.FileMode) (bool, error) {
	info, err := p.fsys.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return false, fmt.Errorf("%s exists but is not a directory", path)
		}
		p.logger.Info("directory already exists", slog.String("path", path))
		return false, nil
	case errors.Is(err, fs.ErrNotExist):
		if err := p.fsys.MkdirAll(path, mode); err != nil {
			return false, fmt.Errorf("creating %s: %w", path, err)
		}
		p.logger.Info("created directory",
			slog.String("path", path),
			slog.String("mode", fmt.Sprintf("%04o", mode)))
		return true, nil
	default:
		return false, fmt.Errorf("checking %s: %w", path, err)
	}
}

// resolveUID looks up the numeric uid of username on the target.
func (p *Provisioner) resolveUID(ctx context.Context, username string) (int, error) {
	result, err := p.runner.Run(ctx, "id -u "+username)
	if err != nil {
		return 0, fmt.Errorf("resolving uid of %s: %w", username, err)
	}
	if !result.Success() {
		return 0, fmt.Errorf("resolving uid of %s: %s", username, result.Detail())
	}
	uid, err := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if err != nil {
		return 0, fmt.Errorf("parsing uid of %s from %q: %w", username, result.Stdout, err)
	}
	return uid, nil
}

// resolveGID looks up the numeric gid of groupname on the target. getent
// prints "name:x:gid:members".
func (p *Provisioner) resolveGID(ctx context.Context, groupname string) (int, error) {
	result, err := p.runner.Run(ctx, "getent group "+groupname)
	if err != nil {
		return 0, fmt.Errorf("resolving gid of %s: %w", groupname, err)
	}
	if !result.Success() {
		return 0, fmt.Errorf("resolving gid of %s: %s", groupname, result.Detail())
	}
	fields := strings.Split(strings.TrimSpace(result.Stdout), ":")
	if len(fields) < 3 {
		return 0, fmt.Errorf("parsing gid of %s from %q", groupname, result.Stdout)
	}
	gid, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, fmt.Errorf("parsing gid of %s from %q: %w", groupname, result.Stdout, err)
	}
	return gid, nil
}
