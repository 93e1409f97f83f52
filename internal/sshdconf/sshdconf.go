// Package sshdconf reconciles the sshd configuration with the jailed
// group's Match stanza.
//
// The reconciler only ever appends. When a Match Group stanza for the
// group already exists the file is left byte-for-byte untouched, whatever
// its body says, so manual tuning of an existing stanza survives re-runs.
// The config is never validated here; a broken file surfaces when sshd is
// restarted at the end of the pipeline.
package sshdconf

import (
	"fmt"
	"log/slog"
	"strings"

	"gitlab.bluewillows.net/root/sftpjail/internal/pathspec"
	"gitlab.bluewillows.net/root/sftpjail/internal/target"
)

// DefaultPath is where OpenSSH keeps its daemon configuration.
const DefaultPath = "/etc/ssh/sshd_config"

// Reconciler appends the chroot stanza for a group when it is missing.
type Reconciler struct {
	fsys   target.FileSystem
	path   string
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger for reconcile operations.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithPath overrides the sshd config location, mainly for hosts with a
// relocated config and for tests.
func WithPath(path string) Option {
	return func(r *Reconciler) {
		if path != "" {
			r.path = path
		}
	}
}

// NewReconciler creates a reconciler reading and writing through fsys.
func NewReconciler(fsys target.FileSystem, opts ...Option) *Reconciler {
	r := &Reconciler{
		fsys:   fsys,
		path:   DefaultPath,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the config file location the reconciler operates on.
func (r *Reconciler) Path() string {
	return r.path
}

// Ensure appends the Match Group stanza for groupname unless one already
// exists. It reports whether the file was modified.
func (r *Reconciler) Ensure(spec pathspec.Spec, groupname string) (bool, error) {
	content, err := r.fsys.ReadFile(r.path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", r.path, err)
	}

	if hasGroupStanza(string(content), groupname) {
		r.logger.Info("sshd config stanza already exists",
			slog.String("group", groupname),
			slog.String("path", r.path))
		return false, nil
	}

	updated := appendStanza(string(content), Stanza(spec, groupname))
	if err := r.fsys.WriteFile(r.path, []byte(updated), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", r.path, err)
	}

	r.logger.Info("appended sshd config stanza",
		slog.String("group", groupname),
		slog.String("chroot", spec.ParentPath),
		slog.String("path", r.path))
	return true, nil
}

// Stanza renders the Match Group block that confines groupname to the
// chroot described by spec.
func Stanza(spec pathspec.Spec, groupname string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Match Group %s\n", groupname)
	fmt.Fprintf(&b, "    ChrootDirectory %s\n", spec.ParentPath)
	fmt.Fprintf(&b, "    ForceCommand internal-sftp -d /%s\n", spec.LeafName)
	b.WriteString("    AllowTcpForwarding no\n")
	b.WriteString("    X11Forwarding no\n")
	b.WriteString("    PermitTunnel no\n")
	b.WriteString("    AllowAgentForwarding no\n")
	return b.String()
}

// hasGroupStanza reports whether any Match Group line names groupname.
// The Match and Group keywords are case-insensitive per sshd_config(5);
// the group name itself is compared exactly.
func hasGroupStanza(content, groupname string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if !strings.EqualFold(fields[0], "Match") || !strings.EqualFold(fields[1], "Group") {
			continue
		}
		for _, field := range fields[2:] {
			for _, name := range strings.Split(field, ",") {
				if name == groupname {
					return true
				}
			}
		}
	}
	return false
}

// appendStanza attaches the stanza after the existing content, separated
// by one blank line, normalizing a missing trailing newline first.
func appendStanza(content, stanza string) string {
	if content == "" {
		return stanza
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + stanza
}
