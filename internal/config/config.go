// Package config handles loading and validation of sftpjail configuration
// from defaults, an optional config file, and environment variables.
//
// Precedence, lowest to highest: built-in defaults, config file, SFTPJAIL_*
// environment variables, command-line flags. The flag layer lives in the
// command; everything below it is resolved here.
package config

import (
	"log/slog"
	"os"
)

// Configuration defaults.
const (
	DefaultUser      = "sftpuser"
	DefaultGroup     = "sftpusers"
	DefaultDirectory = "/srv/sftp/shared"
	DefaultPort      = 22
	DefaultTarget    = "local"
	DefaultLogFile   = "sftpjail.log"
	DefaultLogLevel  = "info"
	DefaultSshdPath  = "/etc/ssh/sshd_config"
)

// Config holds the fully resolved run configuration.
type Config struct {
	// Jail identity and layout
	User      string
	Group     string
	Directory string
	Port      int

	// Password carries the silent-mode secret. Silent is tracked
	// separately so an explicitly supplied empty password is still
	// recognized as a (failing) silent run.
	Password string
	Silent   bool

	DryRun bool

	// Target selects the host to provision: local, ssh://user@host[:port],
	// or docker://container.
	Target string

	// SshdConfigPath overrides where the sshd config lives.
	SshdConfigPath string

	// Logging
	LogFile  string
	LogLevel string

	// PushgatewayURL enables metrics delivery when non-empty.
	PushgatewayURL string

	// SSH carries credentials for ssh:// targets.
	SSH SSHSettings
}

// SSHSettings holds authentication material for the ssh target. Exactly
// one of KeyFile, KeyData, or Password must be set when the target scheme
// is ssh.
type SSHSettings struct {
	User          string
	KeyFile       string
	KeyData       string
	KeyPassphrase string
	Password      string

	// Sudo wraps remote commands in sudo when the connecting user is not
	// root. Defaults to true; a root login never uses it.
	Sudo         bool
	SudoPassword string

	StrictHostKeyChecking bool
	KnownHostsFile        string
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() *Config {
	return &Config{
		User:           DefaultUser,
		Group:          DefaultGroup,
		Directory:      DefaultDirectory,
		Port:           DefaultPort,
		Target:         DefaultTarget,
		SshdConfigPath: DefaultSshdPath,
		LogFile:        DefaultLogFile,
		LogLevel:       DefaultLogLevel,
		SSH:            SSHSettings{Sudo: true},
	}
}

// Load resolves the configuration from defaults, the config file at path
// (skipped when empty), and environment variables. Validation failures
// are collected into a single ValidationError.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	var errs []string
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, &ValidationError{Errors: []string{"config file: " + err.Error()}}
		}
		fileCfg.apply(cfg)
		slog.Debug("loaded configuration from file", slog.String("path", path))
	}

	errs = append(errs, applyEnv(cfg)...)
	errs = append(errs, validate(cfg)...)
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return cfg, nil
}

// FilePath returns the config file location from the environment. The
// --config flag, resolved in the command, takes precedence over this.
func FilePath() string {
	return os.Getenv("SFTPJAIL_CONFIG")
}

// SlogLevel maps the configured log level onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
