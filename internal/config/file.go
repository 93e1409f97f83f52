package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the configuration file structure. The same struct
// serves YAML and TOML files; the loader picks the decoder by extension.
type FileConfig struct {
	User      string `yaml:"user,omitempty" toml:"user"`
	Group     string `yaml:"group,omitempty" toml:"group"`
	Directory string `yaml:"directory,omitempty" toml:"directory"`
	Port      int    `yaml:"port,omitempty" toml:"port"`
	Password  string `yaml:"password,omitempty" toml:"password"`
	DryRun    *bool  `yaml:"dry_run,omitempty" toml:"dry_run"`
	Target    string `yaml:"target,omitempty" toml:"target"`

	SshdConfig string `yaml:"sshd_config,omitempty" toml:"sshd_config"`

	Logging *FileLoggingConfig `yaml:"logging,omitempty" toml:"logging"`
	SSH     *FileSSHConfig     `yaml:"ssh,omitempty" toml:"ssh"`
	Metrics *FileMetricsConfig `yaml:"metrics,omitempty" toml:"metrics"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Level string `yaml:"level,omitempty" toml:"level"` // debug, info, warn, error
	File  string `yaml:"file,omitempty" toml:"file"`
}

// FileSSHConfig holds credentials for the ssh target.
type FileSSHConfig struct {
	User                  string `yaml:"user,omitempty" toml:"user"`
	KeyFile               string `yaml:"key_file,omitempty" toml:"key_file"`
	KeyData               string `yaml:"key_data,omitempty" toml:"key_data"`
	KeyPassphrase         string `yaml:"key_passphrase,omitempty" toml:"key_passphrase"`
	Password              string `yaml:"password,omitempty" toml:"password"`
	Sudo                  *bool  `yaml:"sudo,omitempty" toml:"sudo"`
	SudoPassword          string `yaml:"sudo_password,omitempty" toml:"sudo_password"`
	StrictHostKeyChecking *bool  `yaml:"strict_host_key_checking,omitempty" toml:"strict_host_key_checking"`
	KnownHostsFile        string `yaml:"known_hosts_file,omitempty" toml:"known_hosts_file"`
}

// FileMetricsConfig holds metrics delivery settings.
type FileMetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url,omitempty" toml:"pushgateway_url"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable
// values. Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 3 {
			defaultValue = groups[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// interpolateEnvVars runs interpolation over every string field.
func (c *FileConfig) interpolateEnvVars() {
	c.User = InterpolateEnvVars(c.User)
	c.Group = InterpolateEnvVars(c.Group)
	c.Directory = InterpolateEnvVars(c.Directory)
	c.Password = InterpolateEnvVars(c.Password)
	c.Target = InterpolateEnvVars(c.Target)
	c.SshdConfig = InterpolateEnvVars(c.SshdConfig)

	if c.Logging != nil {
		c.Logging.Level = InterpolateEnvVars(c.Logging.Level)
		c.Logging.File = InterpolateEnvVars(c.Logging.File)
	}

	if c.SSH != nil {
		c.SSH.User = InterpolateEnvVars(c.SSH.User)
		c.SSH.KeyFile = InterpolateEnvVars(c.SSH.KeyFile)
		c.SSH.KeyData = InterpolateEnvVars(c.SSH.KeyData)
		c.SSH.KeyPassphrase = InterpolateEnvVars(c.SSH.KeyPassphrase)
		c.SSH.Password = InterpolateEnvVars(c.SSH.Password)
		c.SSH.SudoPassword = InterpolateEnvVars(c.SSH.SudoPassword)
		c.SSH.KnownHostsFile = InterpolateEnvVars(c.SSH.KnownHostsFile)
	}

	if c.Metrics != nil {
		c.Metrics.PushgatewayURL = InterpolateEnvVars(c.Metrics.PushgatewayURL)
	}
}

// LoadFile reads and parses a configuration file. The decoder is chosen
// by extension: .toml uses TOML, everything else is treated as YAML.
// Environment variables in ${VAR} format are interpolated afterwards.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}

	cfg.interpolateEnvVars()

	return &cfg, nil
}

// apply overlays the file values onto cfg. Unset fields leave cfg alone.
func (c *FileConfig) apply(cfg *Config) {
	if c.User != "" {
		cfg.User = c.User
	}
	if c.Group != "" {
		cfg.Group = c.Group
	}
	if c.Directory != "" {
		cfg.Directory = c.Directory
	}
	if c.Port > 0 {
		cfg.Port = c.Port
	}
	if c.Password != "" {
		cfg.Password = c.Password
		cfg.Silent = true
	}
	if c.DryRun != nil {
		cfg.DryRun = *c.DryRun
	}
	if c.Target != "" {
		cfg.Target = c.Target
	}
	if c.SshdConfig != "" {
		cfg.SshdConfigPath = c.SshdConfig
	}

	if c.Logging != nil {
		if c.Logging.Level != "" {
			cfg.LogLevel = strings.ToLower(c.Logging.Level)
		}
		if c.Logging.File != "" {
			cfg.LogFile = c.Logging.File
		}
	}

	if c.SSH != nil {
		if c.SSH.User != "" {
			cfg.SSH.User = c.SSH.User
		}
		if c.SSH.KeyFile != "" {
			cfg.SSH.KeyFile = c.SSH.KeyFile
		}
		if c.SSH.KeyData != "" {
			cfg.SSH.KeyData = c.SSH.KeyData
		}
		if c.SSH.KeyPassphrase != "" {
			cfg.SSH.KeyPassphrase = c.SSH.KeyPassphrase
		}
		if c.SSH.Password != "" {
			cfg.SSH.Password = c.SSH.Password
		}
		if c.SSH.Sudo != nil {
			cfg.SSH.Sudo = *c.SSH.Sudo
		}
		if c.SSH.SudoPassword != "" {
			cfg.SSH.SudoPassword = c.SSH.SudoPassword
		}
		if c.SSH.StrictHostKeyChecking != nil {
			cfg.SSH.StrictHostKeyChecking = *c.SSH.StrictHostKeyChecking
		}
		if c.SSH.KnownHostsFile != "" {
			cfg.SSH.KnownHostsFile = c.SSH.KnownHostsFile
		}
	}

	if c.Metrics != nil && c.Metrics.PushgatewayURL != "" {
		cfg.PushgatewayURL = c.Metrics.PushgatewayURL
	}
}
