// Package hostinfo detects the operating system family of a target host.
//
// Detection reads /etc/os-release through the target's file system, so it
// works identically for local, SSH, and Docker targets. The resulting
// Profile drives every family-specific decision downstream: which package
// manager to call, which firewall to reconcile, and what the SSH service
// unit is called.
package hostinfo

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"gitlab.bluewillows.net/root/sftpjail/internal/target"
)

// ErrUnsupportedOS indicates the host could not be classified as either a
// Debian-like or RHEL-like distribution. Provisioning cannot continue on
// such a host.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// Family classifies a host distribution for provisioning decisions.
type Family string

const (
	// FamilyDebian covers Debian and its derivatives (apt, ufw, unit "ssh").
	FamilyDebian Family = "debian_like"
	// FamilyRHEL covers RHEL and its derivatives (dnf, firewalld, unit "sshd").
	FamilyRHEL Family = "rhel_like"
	// FamilyUnsupported means neither family matched.
	FamilyUnsupported Family = "unsupported"
)

// Profile describes the detected operating system of a target host.
type Profile struct {
	Family     Family
	Version    string
	PrettyName string
}

// String renders the profile for operator-facing output, preferring the
// distribution's own pretty name when available.
func (p *Profile) String() string {
	switch {
	case p.PrettyName != "":
		return fmt.Sprintf("%s (%s)", p.PrettyName, p.Family)
	case p.Version != "":
		return fmt.Sprintf("%s %s", p.Family, p.Version)
	default:
		return string(p.Family)
	}
}

const (
	osReleasePath     = "/etc/os-release"
	debianVersionPath = "/etc/debian_version"
	redhatReleasePath = "/etc/redhat-release"
)

var debianIDs = map[string]bool{
	"debian":    true,
	"ubuntu":    true,
	"raspbian":  true,
	"kali":      true,
	"linuxmint": true,
}

var rhelIDs = map[string]bool{
	"rhel":      true,
	"centos":    true,
	"fedora":    true,
	"rocky":     true,
	"almalinux": true,
	"ol":        true,
	"amzn":      true,
}

// Detect classifies the host behind fsys. It parses /etc/os-release and
// falls back to the legacy /etc/debian_version and /etc/redhat-release
// markers when os-release is missing. Hosts matching neither family return
// ErrUnsupportedOS.
func Detect(fsys target.FileSystem) (*Profile, error) {
	data, err := fsys.ReadFile(osReleasePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return detectLegacy(fsys)
		}
		return nil, fmt.Errorf("reading %s: %w", osReleasePath, err)
	}

	fields := parseOSRelease(string(data))
	family := classify(fields["ID"], fields["ID_LIKE"])
	if family == FamilyUnsupported {
		id := fields["ID"]
		if id == "" {
			id = "unknown"
		}
		return nil, fmt.Errorf("%w: %s is neither debian-like nor rhel-like", ErrUnsupportedOS, id)
	}

	return &Profile{
		Family:     family,
		Version:    fields["VERSION_ID"],
		PrettyName: fields["PRETTY_NAME"],
	}, nil
}

// detectLegacy probes the pre-os-release marker files used by older
// distributions.
func detectLegacy(fsys target.FileSystem) (*Profile, error) {
	if data, err := fsys.ReadFile(debianVersionPath); err == nil {
		return &Profile{
			Family:     FamilyDebian,
			Version:    strings.TrimSpace(string(data)),
			PrettyName: "Debian (legacy detection)",
		}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", debianVersionPath, err)
	}

	if data, err := fsys.ReadFile(redhatReleasePath); err == nil {
		return &Profile{
			Family:     FamilyRHEL,
			PrettyName: strings.TrimSpace(string(data)),
		}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", redhatReleasePath, err)
	}

	return nil, fmt.Errorf("%w: no os-release or legacy release file found", ErrUnsupportedOS)
}

// classify matches ID first, then each ID_LIKE token in order, so a
// derivative with ID_LIKE="ubuntu debian" lands in the Debian family even
// when its own ID is unknown.
func classify(id, idLike string) Family {
	candidates := make([]string, 0, 4)
	if id != "" {
		candidates = append(candidates, strings.ToLower(id))
	}
	candidates = append(candidates, strings.Fields(strings.ToLower(idLike))...)

	for _, candidate := range candidates {
		if debianIDs[candidate] {
			return FamilyDebian
		}
		if rhelIDs[candidate] {
			return FamilyRHEL
		}
	}
	return FamilyUnsupported
}

// parseOSRelease reads the KEY=value pairs of an os-release file. Values
// may be wrapped in single or double quotes; comments and malformed lines
// are skipped.
func parseOSRelease(content string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		fields[strings.TrimSpace(key)] = value
	}
	return fields
}
