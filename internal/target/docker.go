package target

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// SchemeDocker is the target scheme for containers reached over the Docker API.
const SchemeDocker = "docker"

// DockerHost is a Host backed by a running container. Commands run as root
// through exec sessions; file access goes through the archive copy API, so
// no agent is needed inside the container.
type DockerHost struct {
	name      string
	container string
	logger    *slog.Logger
	cli       *client.Client

	mu     sync.Mutex
	closed bool
}

// DockerFactory returns a Factory that resolves docker:// targets through
// the local Docker daemon.
func DockerFactory(logger *slog.Logger) Factory {
	return func(ctx context.Context, u URI) (Host, error) {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("creating Docker client: %w", err)
		}
		return NewDocker(ctx, u.Container, cli, logger)
	}
}

// NewDocker wraps a container as a Host and verifies it is reachable.
func NewDocker(ctx context.Context, containerName string, cli *client.Client, logger *slog.Logger) (*DockerHost, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := &DockerHost{
		name:      SchemeDocker + "://" + containerName,
		container: containerName,
		logger:    logger,
		cli:       cli,
	}

	// Cheap probe that fails early when the daemon is down or the
	// container does not exist.
	if _, err := cli.ContainerStatPath(ctx, containerName, "/"); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("container %s not reachable: %w", containerName, err)
	}

	logger.Debug("docker target resolved", slog.String("container", containerName))

	return h, nil
}

// Name returns the target URI this host was resolved from.
func (h *DockerHost) Name() string {
	return h.name
}

// Close releases the Docker client. Safe to call multiple times.
func (h *DockerHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	return h.cli.Close()
}

func (h *DockerHost) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Run executes a command inside the container.
func (h *DockerHost) Run(ctx context.Context, command string) (*CommandResult, error) {
	return h.RunWithInput(ctx, command, nil)
}

// RunWithInput executes a command with the given bytes on its standard input.
// Commands run as root regardless of the image's default user.
func (h *DockerHost) RunWithInput(ctx context.Context, command string, input []byte) (*CommandResult, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}

	h.logger.Debug("executing command in container",
		slog.String("container", h.container),
		slog.String("command", command),
	)

	execOpts := container.ExecOptions{
		User:         "root",
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  len(input) > 0,
	}

	created, err := h.cli.ContainerExecCreate(ctx, h.container, execOpts)
	if err != nil {
		return nil, fmt.Errorf("creating exec in container %s: %w", h.container, err)
	}

	attach, err := h.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching to exec in container %s: %w", h.container, err)
	}
	defer attach.Close()

	if len(input) > 0 {
		if _, err := attach.Conn.Write(input); err != nil {
			return nil, fmt.Errorf("writing stdin to exec: %w", err)
		}
		if err := attach.CloseWrite(); err != nil {
			return nil, fmt.Errorf("closing exec stdin: %w", err)
		}
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := h.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec: %w", err)
	}

	result := &CommandResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	h.logger.Debug("container command completed",
		slog.String("container", h.container),
		slog.Int("exit_code", result.ExitCode),
	)

	return result, nil
}

// ReadFile reads a file from the container via the archive API.
func (h *DockerHost) ReadFile(p string) ([]byte, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}

	reader, stat, err := h.cli.CopyFromContainer(context.Background(), h.container, p)
	if err != nil {
		return nil, wrapDockerPathError("reading", p, err)
	}
	defer func() { _ = reader.Close() }()

	if stat.Mode.IsDir() {
		return nil, fmt.Errorf("reading %s: is a directory", p)
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive for %s: %w", p, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("reading %s from archive: %w", p, err)
			}
			return data, nil
		}
	}

	return nil, fmt.Errorf("no file content in archive for %s", p)
}

// WriteFile writes a file into the container via the archive API.
// The parent directory must already exist.
func (h *DockerHost) WriteFile(p string, data []byte, perm os.FileMode) error {
	if h.isClosed() {
		return ErrClosed
	}

	archive, err := fileArchive(path.Base(p), data, perm)
	if err != nil {
		return fmt.Errorf("building archive for %s: %w", p, err)
	}

	opts := container.CopyToContainerOptions{}
	if err := h.cli.CopyToContainer(context.Background(), h.container, path.Dir(p), archive, opts); err != nil {
		return wrapDockerPathError("writing", p, err)
	}

	return nil
}

// Stat returns file info for a path inside the container.
func (h *DockerHost) Stat(p string) (os.FileInfo, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}

	stat, err := h.cli.ContainerStatPath(context.Background(), h.container, p)
	if err != nil {
		return nil, wrapDockerPathError("stat", p, err)
	}

	return &dockerFileInfo{
		name:    stat.Name,
		size:    stat.Size,
		mode:    stat.Mode,
		modTime: stat.Mtime,
	}, nil
}

// MkdirAll creates a directory and any missing parents inside the container.
func (h *DockerHost) MkdirAll(p string, perm os.FileMode) error {
	return h.runFileOp(fmt.Sprintf("mkdir -p -m %04o %s", perm.Perm(), shellQuote(p)))
}

// Chmod changes the mode of a path inside the container.
func (h *DockerHost) Chmod(p string, mode os.FileMode) error {
	return h.runFileOp(fmt.Sprintf("chmod %04o %s", mode.Perm(), shellQuote(p)))
}

// Chown changes the numeric owner and group of a path inside the container.
func (h *DockerHost) Chown(p string, uid, gid int) error {
	return h.runFileOp(fmt.Sprintf("chown %d:%d %s", uid, gid, shellQuote(p)))
}

// runFileOp runs a shell command for a file operation that has no direct
// Docker API equivalent.
func (h *DockerHost) runFileOp(command string) error {
	result, err := h.RunWithInput(context.Background(), command, nil)
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("%s: %s", command, result.Detail())
	}
	return nil
}

// wrapDockerPathError maps Docker not-found errors onto fs.ErrNotExist so
// callers can use errors.Is regardless of the target kind.
func wrapDockerPathError(op, p string, err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, p, iofs.ErrNotExist)
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}

// fileArchive packs a single file into an in-memory tar stream for
// CopyToContainer.
func fileArchive(name string, data []byte, perm os.FileMode) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(perm.Perm()),
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	return &buf, nil
}

// dockerFileInfo adapts a container path stat to os.FileInfo.
type dockerFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *dockerFileInfo) Name() string       { return fi.name }
func (fi *dockerFileInfo) Size() int64        { return fi.size }
func (fi *dockerFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *dockerFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *dockerFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *dockerFileInfo) Sys() any           { return nil }

// shellQuote wraps a string in single quotes for safe use in sh -c commands.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
