package target

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalHost_Run(t *testing.T) {
	host := NewLocal(WithLocalLogger(quietLogger()))

	t.Run("captures stdout", func(t *testing.T) {
		result, err := host.Run(context.Background(), "echo hello")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.ExitCode != 0 {
			t.Errorf("ExitCode = %d, want 0", result.ExitCode)
		}
		if result.Stdout != "hello\n" {
			t.Errorf("Stdout = %q, want %q", result.Stdout, "hello\n")
		}
	})

	t.Run("captures stderr", func(t *testing.T) {
		result, err := host.Run(context.Background(), "echo oops 1>&2")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.Stderr != "oops\n" {
			t.Errorf("Stderr = %q, want %q", result.Stderr, "oops\n")
		}
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		result, err := host.Run(context.Background(), "exit 5")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.ExitCode != 5 {
			t.Errorf("ExitCode = %d, want 5", result.ExitCode)
		}
		if result.Success() {
			t.Error("Success() = true for exit 5")
		}
	})

	t.Run("stdin is forwarded", func(t *testing.T) {
		result, err := host.RunWithInput(context.Background(), "cat", []byte("line1\nline2\n"))
		if err != nil {
			t.Fatalf("RunWithInput() error = %v", err)
		}
		if result.Stdout != "line1\nline2\n" {
			t.Errorf("Stdout = %q, want %q", result.Stdout, "line1\nline2\n")
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := host.Run(ctx, "echo hello")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want %v", err, context.Canceled)
		}
	})
}

func TestLocalHost_FileSystem(t *testing.T) {
	host := NewLocal(WithLocalLogger(quietLogger()))
	dir := t.TempDir()

	nested := filepath.Join(dir, "srv", "sftp", "uploads")
	if err := host.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	file := filepath.Join(nested, "note.txt")
	if err := host.WriteFile(file, []byte("content"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := host.ReadFile(file)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "content" {
		t.Errorf("ReadFile() = %q, want %q", data, "content")
	}

	if err := host.Chmod(file, 0o600); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}

	info, err := host.Stat(file)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want %v", info.Mode().Perm(), os.FileMode(0o600))
	}

	if err := host.Chown(file, os.Getuid(), os.Getgid()); err != nil {
		t.Fatalf("Chown() error = %v", err)
	}

	if _, err := host.Stat(filepath.Join(dir, "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Stat() on missing path error = %v, want not-exist", err)
	}
}

func TestLocalHost_Name(t *testing.T) {
	host := NewLocal()
	if host.Name() != "local" {
		t.Errorf("Name() = %q, want %q", host.Name(), "local")
	}
	if err := host.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCommandResult(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r := &CommandResult{ExitCode: 0}
		if !r.Success() {
			t.Error("Success() = false for exit 0")
		}
	})

	t.Run("failure", func(t *testing.T) {
		r := &CommandResult{ExitCode: 1}
		if r.Success() {
			t.Error("Success() = true for exit 1")
		}
	})

	t.Run("detail prefers stderr", func(t *testing.T) {
		r := &CommandResult{ExitCode: 1, Stdout: "partial output", Stderr: "  permission denied\n"}
		if got := r.Detail(); got != "permission denied" {
			t.Errorf("Detail() = %q, want %q", got, "permission denied")
		}
	})

	t.Run("detail falls back to stdout", func(t *testing.T) {
		r := &CommandResult{ExitCode: 1, Stdout: "nothing to do\n"}
		if got := r.Detail(); got != "nothing to do" {
			t.Errorf("Detail() = %q, want %q", got, "nothing to do")
		}
	})

	t.Run("detail empty when silent", func(t *testing.T) {
		r := &CommandResult{ExitCode: 1}
		if got := r.Detail(); got != "" {
			t.Errorf("Detail() = %q, want empty", got)
		}
	})
}
