package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeConfigFile(t, "sftpjail.yaml", `
user: uploads
group: uploaders
directory: /data/uploads/incoming
port: 2222
target: ssh://admin@files01
logging:
  level: debug
  file: /var/log/sftpjail.log
ssh:
  key_file: /root/.ssh/id_ed25519
  sudo: true
metrics:
  pushgateway_url: "http://push:9091"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.User != "uploads" {
		t.Errorf("User = %q", cfg.User)
	}
	if cfg.Port != 2222 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.Target != "ssh://admin@files01" {
		t.Errorf("Target = %q", cfg.Target)
	}
	if cfg.Logging == nil || cfg.Logging.Level != "debug" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.SSH == nil || cfg.SSH.KeyFile != "/root/.ssh/id_ed25519" {
		t.Errorf("SSH = %+v", cfg.SSH)
	}
	if cfg.SSH.Sudo == nil || !*cfg.SSH.Sudo {
		t.Error("SSH.Sudo should be true")
	}
	if cfg.Metrics == nil || cfg.Metrics.PushgatewayURL != "http://push:9091" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoadFile_TOML(t *testing.T) {
	path := writeConfigFile(t, "sftpjail.toml", `
user = "uploads"
port = 2222
dry_run = true

[logging]
level = "warn"

[ssh]
sudo = false
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.User != "uploads" {
		t.Errorf("User = %q", cfg.User)
	}
	if cfg.Port != 2222 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.DryRun == nil || !*cfg.DryRun {
		t.Error("DryRun should be true")
	}
	if cfg.Logging == nil || cfg.Logging.Level != "warn" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.SSH == nil || cfg.SSH.Sudo == nil || *cfg.SSH.Sudo {
		t.Errorf("SSH.Sudo should be false, got %+v", cfg.SSH)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile("/nonexistent/sftpjail.yaml")
	if err == nil {
		t.Fatal("LoadFile() expected error for missing file")
	}
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "bad.yaml", "user: [unclosed")

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("LoadFile() expected error for invalid YAML")
	}
}

func TestInterpolateEnvVars(t *testing.T) {
	os.Setenv("TEST_SFTPJAIL_DIR", "/mnt/data")
	defer os.Unsetenv("TEST_SFTPJAIL_DIR")
	os.Unsetenv("TEST_SFTPJAIL_UNSET")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set variable", input: "${TEST_SFTPJAIL_DIR}/sftp", want: "/mnt/data/sftp"},
		{name: "unset variable", input: "${TEST_SFTPJAIL_UNSET}", want: ""},
		{name: "unset with default", input: "${TEST_SFTPJAIL_UNSET:-/srv}", want: "/srv"},
		{name: "set ignores default", input: "${TEST_SFTPJAIL_DIR:-/srv}", want: "/mnt/data"},
		{name: "no pattern", input: "/plain/path", want: "/plain/path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InterpolateEnvVars(tt.input); got != tt.want {
				t.Errorf("InterpolateEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadFile_Interpolation(t *testing.T) {
	os.Setenv("TEST_SFTPJAIL_TARGET_HOST", "files02")
	defer os.Unsetenv("TEST_SFTPJAIL_TARGET_HOST")

	path := writeConfigFile(t, "sftpjail.yaml", `
directory: "${TEST_SFTPJAIL_BASE:-/srv/sftp}/shared"
target: "ssh://root@${TEST_SFTPJAIL_TARGET_HOST}"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Directory != "/srv/sftp/shared" {
		t.Errorf("Directory = %q", cfg.Directory)
	}
	if cfg.Target != "ssh://root@files02" {
		t.Errorf("Target = %q", cfg.Target)
	}
}

func TestFileConfig_Apply(t *testing.T) {
	cfg := Defaults()

	dryRun := true
	sudo := false
	file := &FileConfig{
		User:   "uploads",
		Port:   2222,
		DryRun: &dryRun,
		SSH:    &FileSSHConfig{Sudo: &sudo, SudoPassword: "secret"},
	}
	file.apply(cfg)

	if cfg.User != "uploads" {
		t.Errorf("User = %q", cfg.User)
	}
	if cfg.Port != 2222 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if !cfg.DryRun {
		t.Error("DryRun should be true")
	}
	if cfg.SSH.Sudo {
		t.Error("SSH.Sudo should be overridden to false")
	}
	if cfg.SSH.SudoPassword != "secret" {
		t.Errorf("SSH.SudoPassword = %q", cfg.SSH.SudoPassword)
	}

	// Unset fields keep their defaults.
	if cfg.Group != DefaultGroup {
		t.Errorf("Group = %q, want default", cfg.Group)
	}
	if cfg.Directory != DefaultDirectory {
		t.Errorf("Directory = %q, want default", cfg.Directory)
	}
}

func TestFileConfig_ApplyPasswordEnablesSilent(t *testing.T) {
	cfg := Defaults()

	file := &FileConfig{Password: "hunter2"}
	file.apply(cfg)

	if !cfg.Silent {
		t.Error("a file password must enable silent mode")
	}
	if cfg.Password != "hunter2" {
		t.Errorf("Password = %q", cfg.Password)
	}
}
