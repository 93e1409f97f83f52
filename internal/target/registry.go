package target

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// SchemeLocal is the default target scheme.
const SchemeLocal = "local"

// URI is a parsed target locator.
//
// Accepted forms:
//
//	local                      the machine running sftpjail (also the empty string)
//	ssh://user@host[:port]     a remote host reached over SSH
//	docker://container-name    a running container reached via the docker daemon
type URI struct {
	// Scheme is "local", "ssh" or "docker".
	Scheme string

	// User is the login user for ssh targets.
	User string

	// Host is the remote hostname for ssh targets.
	Host string

	// Port is the SSH port for ssh targets (0 means the default).
	Port int

	// Container is the container name or ID for docker targets.
	Container string

	raw string
}

// String returns the original target string, or reconstructs one when
// the URI was built from fields.
func (u URI) String() string {
	if u.raw != "" {
		return u.raw
	}
	switch u.Scheme {
	case "ssh":
		host := u.Host
		if u.Port != 0 {
			host = fmt.Sprintf("%s:%d", u.Host, u.Port)
		}
		if u.User != "" {
			return fmt.Sprintf("ssh://%s@%s", u.User, host)
		}
		return "ssh://" + host
	case "docker":
		return "docker://" + u.Container
	default:
		return SchemeLocal
	}
}

// ParseURI parses a target string into a URI.
func ParseURI(raw string) (URI, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == SchemeLocal {
		return URI{Scheme: SchemeLocal, raw: SchemeLocal}, nil
	}

	if !strings.Contains(trimmed, "://") {
		return URI{}, fmt.Errorf("%w: %q (want local, ssh://user@host or docker://name)", ErrInvalidTarget, raw)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, raw, err)
	}

	u := URI{Scheme: strings.ToLower(parsed.Scheme), raw: trimmed}

	switch u.Scheme {
	case "ssh":
		u.Host = parsed.Hostname()
		if u.Host == "" {
			return URI{}, fmt.Errorf("%w: %q: missing host", ErrInvalidTarget, raw)
		}
		if parsed.User != nil {
			u.User = parsed.User.Username()
		}
		if portStr := parsed.Port(); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil || port < 1 || port > 65535 {
				return URI{}, fmt.Errorf("%w: %q: invalid port %q", ErrInvalidTarget, raw, portStr)
			}
			u.Port = port
		}
	case "docker":
		u.Container = parsed.Host
		if u.Container == "" {
			// docker:///name form puts the name in the path.
			u.Container = strings.TrimPrefix(parsed.Path, "/")
		}
		if u.Container == "" {
			return URI{}, fmt.Errorf("%w: %q: missing container name", ErrInvalidTarget, raw)
		}
	case SchemeLocal:
		// local:// is accepted as a verbose spelling of "local".
	default:
		// Scheme validity is decided by the registry so callers see the
		// registered scheme list in the error.
	}

	return u, nil
}

// Factory creates a Host for a parsed target URI.
type Factory func(ctx context.Context, u URI) (Host, error)

// Registry maps target schemes to host factories.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty target registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}
}

// Register registers a factory for a target scheme.
func (r *Registry) Register(scheme string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(scheme)] = factory
}

// Schemes returns the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.factories))
	for s := range r.factories {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Resolve parses a target string and creates the Host for it.
func (r *Registry) Resolve(ctx context.Context, raw string) (Host, error) {
	u, err := ParseURI(raw)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	factory, ok := r.factories[u.Scheme]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)",
			ErrUnknownScheme, u.Scheme, strings.Join(r.Schemes(), ", "))
	}

	r.logger.Debug("resolving target",
		slog.String("scheme", u.Scheme),
		slog.String("target", u.String()),
	)

	host, err := factory(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("creating %s target: %w", u.Scheme, err)
	}

	return host, nil
}
