// Package pathspec validates the shared SFTP directory path and derives
// the chroot split from it. Pure string work; nothing here touches a
// target host.
package pathspec

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Sentinel errors for path validation. Both are fatal to a run.
var (
	// ErrInvalidDirectoryDepth is returned for paths without at least a
	// parent and a leaf level.
	ErrInvalidDirectoryDepth = errors.New("directory path needs at least two levels")

	// ErrDirectoryWithinHome is returned when the shared directory would
	// live inside the SFTP user's home directory.
	ErrDirectoryWithinHome = errors.New("directory must not be under the user's home")
)

// Spec is the validated split of the shared directory path.
//
// ParentPath becomes the sshd ChrootDirectory and must stay root-owned;
// LeafName is the directory an SFTP session lands in (ForceCommand
// internal-sftp -d /<LeafName>).
type Spec struct {
	FullPath   string
	ParentPath string
	LeafName   string
}

// Parse validates a raw directory path and derives the chroot split.
//
// The path must be absolute and contain at least two separators after
// cleaning, so a parent for the chroot and a leaf for the session
// directory both exist. "/srv/sftp/shared" parses into parent
// "/srv/sftp" and leaf "shared"; "/shared" fails.
func Parse(raw string) (Spec, error) {
	trimmed := strings.TrimSpace(raw)

	if !strings.HasPrefix(trimmed, "/") {
		return Spec{}, fmt.Errorf("%w: %q is not an absolute path", ErrInvalidDirectoryDepth, raw)
	}

	clean := path.Clean(trimmed)

	if strings.Count(clean, "/") < 2 {
		return Spec{}, fmt.Errorf("%w: %q has no parent to chroot into (want e.g. /srv/sftp/shared)",
			ErrInvalidDirectoryDepth, raw)
	}

	return Spec{
		FullPath:   clean,
		ParentPath: path.Dir(clean),
		LeafName:   path.Base(clean),
	}, nil
}

// WithinHome reports whether p lives inside /home/<username>. Containment
// is decided on path-segment boundaries: /home/alice2/files is not within
// /home/alice.
func WithinHome(p, username string) bool {
	home := "/home/" + username
	clean := path.Clean(strings.TrimSpace(p))
	return clean == home || strings.HasPrefix(clean, home+"/")
}

// EnsureOutsideHome returns ErrDirectoryWithinHome when the path lives
// inside the user's home directory. Chrooting into the home of the very
// user being jailed breaks sshd's ownership requirements.
func EnsureOutsideHome(p, username string) error {
	if WithinHome(p, username) {
		return fmt.Errorf("%w: %s is inside /home/%s", ErrDirectoryWithinHome, p, username)
	}
	return nil
}
