package identity

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"gitlab.bluewillows.net/root/sftpjail/internal/hostinfo"
	"gitlab.bluewillows.net/root/sftpjail/internal/target"
)

// mockRunner implements target.Runner and records commands and stdin.
type mockRunner struct {
	commands []string
	inputs   map[string][]byte
	results  map[string]*target.CommandResult
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		inputs:  make(map[string][]byte),
		results: make(map[string]*target.CommandResult),
	}
}

func (m *mockRunner) Run(ctx context.Context, command string) (*target.CommandResult, error) {
	return m.RunWithInput(ctx, command, nil)
}

func (m *mockRunner) RunWithInput(ctx context.Context, command string, input []byte) (*target.CommandResult, error) {
	m.commands = append(m.commands, command)
	if input != nil {
		m.inputs[command] = input
	}
	if result, ok := m.results[command]; ok {
		return result, nil
	}
	return &target.CommandResult{ExitCode: 0}, nil
}

func notFound(detail string) *target.CommandResult {
	return &target.CommandResult{ExitCode: 2, Stderr: detail}
}

func testSpec() Spec {
	return Spec{
		Username:       "sftpuser",
		Groupname:      "sftpusers",
		HomeDir:        "/srv/sftp/shared",
		PasswordSource: SourceProvided,
		Secret:         "hunter2",
	}
}

// stubPasswords replaces the terminal reader with a canned sequence.
func stubPasswords(t *testing.T, entries ...string) {
	t.Helper()
	orig := readPassword
	i := 0
	readPassword = func(fd int) ([]byte, error) {
		if i >= len(entries) {
			return nil, io.EOF
		}
		entry := entries[i]
		i++
		return []byte(entry), nil
	}
	t.Cleanup(func() { readPassword = orig })
}

func TestProvision_FreshHost(t *testing.T) {
	runner := newMockRunner()
	runner.results["getent group sftpusers"] = notFound("")
	runner.results["id -u sftpuser"] = notFound("id: no such user")
	p := NewProvisioner(runner, hostinfo.FamilyDebian)

	created, err := p.Provision(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if !created {
		t.Error("Provision() created = false, want true on fresh host")
	}

	want := []string{
		"getent group sftpusers",
		"groupadd sftpusers",
		"id -u sftpuser",
		"useradd -g sftpusers -d /srv/sftp/shared -M -s /usr/sbin/nologin sftpuser",
		"chpasswd",
	}
	if len(runner.commands) != len(want) {
		t.Fatalf("ran %d commands, want %d: %v", len(runner.commands), len(want), runner.commands)
	}
	for i, cmd := range want {
		if runner.commands[i] != cmd {
			t.Errorf("command[%d] = %q, want %q", i, runner.commands[i], cmd)
		}
	}

	if got := string(runner.inputs["chpasswd"]); got != "sftpuser:hunter2\n" {
		t.Errorf("chpasswd stdin = %q, want %q", got, "sftpuser:hunter2\n")
	}
}

func TestProvision_RHELShell(t *testing.T) {
	runner := newMockRunner()
	runner.results["getent group sftpusers"] = notFound("")
	runner.results["id -u sftpuser"] = notFound("")
	p := NewProvisioner(runner, hostinfo.FamilyRHEL)

	if _, err := p.Provision(context.Background(), testSpec()); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	found := false
	for _, cmd := range runner.commands {
		if strings.HasPrefix(cmd, "useradd ") {
			found = true
			if !strings.Contains(cmd, "-s /sbin/nologin") {
				t.Errorf("useradd = %q, want /sbin/nologin shell", cmd)
			}
		}
	}
	if !found {
		t.Fatal("useradd was never run")
	}
}

func TestProvision_ExistingIdentity(t *testing.T) {
	runner := newMockRunner()
	p := NewProvisioner(runner, hostinfo.FamilyDebian)

	created, err := p.Provision(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if created {
		t.Error("Provision() created = true, want false when group and user exist")
	}

	for _, cmd := range runner.commands {
		if strings.HasPrefix(cmd, "groupadd") || strings.HasPrefix(cmd, "useradd") {
			t.Errorf("existing identity must not be recreated, ran %q", cmd)
		}
	}

	// The password is still (re)set on every run.
	if _, ok := runner.inputs["chpasswd"]; !ok {
		t.Error("chpasswd was not run for the existing user")
	}
}

func TestProvision_MissingSilentPassword(t *testing.T) {
	runner := newMockRunner()
	p := NewProvisioner(runner, hostinfo.FamilyDebian)

	spec := testSpec()
	spec.Secret = ""

	_, err := p.Provision(context.Background(), spec)
	if !errors.Is(err, ErrMissingSilentPassword) {
		t.Fatalf("Provision() error = %v, want ErrMissingSilentPassword", err)
	}
	if len(runner.commands) != 0 {
		t.Errorf("no command may run before the silent password check, ran %v", runner.commands)
	}
}

func TestProvision_GroupBeforeUser(t *testing.T) {
	runner := newMockRunner()
	runner.results["getent group sftpusers"] = notFound("")
	runner.results["id -u sftpuser"] = notFound("")
	p := NewProvisioner(runner, hostinfo.FamilyDebian)

	if _, err := p.Provision(context.Background(), testSpec()); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	groupIdx, userIdx := -1, -1
	for i, cmd := range runner.commands {
		if strings.HasPrefix(cmd, "groupadd") {
			groupIdx = i
		}
		if strings.HasPrefix(cmd, "useradd") {
			userIdx = i
		}
	}
	if groupIdx == -1 || userIdx == -1 || groupIdx > userIdx {
		t.Errorf("group must be created before the user, commands = %v", runner.commands)
	}
}

func TestProvision_GroupaddFails(t *testing.T) {
	runner := newMockRunner()
	runner.results["getent group sftpusers"] = notFound("")
	runner.results["groupadd sftpusers"] = &target.CommandResult{
		ExitCode: 10,
		Stderr:   "groupadd: cannot lock /etc/group",
	}
	p := NewProvisioner(runner, hostinfo.FamilyDebian)

	_, err := p.Provision(context.Background(), testSpec())
	if err == nil {
		t.Fatal("Provision() expected error")
	}
	if !strings.Contains(err.Error(), "cannot lock") {
		t.Errorf("error should carry stderr detail, got %v", err)
	}
}

func TestProvision_Interactive(t *testing.T) {
	t.Run("matching entries", func(t *testing.T) {
		stubPasswords(t, "s3cret", "s3cret")
		runner := newMockRunner()
		var prompts bytes.Buffer
		p := NewProvisioner(runner, hostinfo.FamilyDebian, WithPromptWriter(&prompts))

		spec := testSpec()
		spec.PasswordSource = SourceInteractive
		spec.Secret = ""

		if _, err := p.Provision(context.Background(), spec); err != nil {
			t.Fatalf("Provision() error = %v", err)
		}
		if got := string(runner.inputs["chpasswd"]); got != "sftpuser:s3cret\n" {
			t.Errorf("chpasswd stdin = %q", got)
		}
		if !strings.Contains(prompts.String(), "New password for sftpuser") {
			t.Errorf("prompt output = %q", prompts.String())
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		stubPasswords(t, "first", "second")
		runner := newMockRunner()
		p := NewProvisioner(runner, hostinfo.FamilyDebian, WithPromptWriter(io.Discard))

		spec := testSpec()
		spec.PasswordSource = SourceInteractive
		spec.Secret = ""

		_, err := p.Provision(context.Background(), spec)
		if !errors.Is(err, ErrPasswordMismatch) {
			t.Fatalf("Provision() error = %v, want ErrPasswordMismatch", err)
		}
		if _, ok := runner.inputs["chpasswd"]; ok {
			t.Error("chpasswd must not run after a mismatch")
		}
	})

	t.Run("empty entry", func(t *testing.T) {
		stubPasswords(t, "")
		runner := newMockRunner()
		p := NewProvisioner(runner, hostinfo.FamilyDebian, WithPromptWriter(io.Discard))

		spec := testSpec()
		spec.PasswordSource = SourceInteractive
		spec.Secret = ""

		_, err := p.Provision(context.Background(), spec)
		if !errors.Is(err, ErrEmptyPassword) {
			t.Fatalf("Provision() error = %v, want ErrEmptyPassword", err)
		}
	})
}

func TestProvision_PasswordNeverInCommand(t *testing.T) {
	runner := newMockRunner()
	p := NewProvisioner(runner, hostinfo.FamilyDebian)

	if _, err := p.Provision(context.Background(), testSpec()); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	for _, cmd := range runner.commands {
		if strings.Contains(cmd, "hunter2") {
			t.Errorf("password leaked into command line: %q", cmd)
		}
	}
}
