package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// applyEnv overlays SFTPJAIL_* environment variables onto cfg and returns
// any parse errors. Unset variables leave cfg untouched.
func applyEnv(cfg *Config) []string {
	var errs []string

	if v := getEnv("SFTPJAIL_USER"); v != "" {
		cfg.User = v
	}
	if v := getEnv("SFTPJAIL_GROUP"); v != "" {
		cfg.Group = v
	}
	if v := getEnv("SFTPJAIL_DIRECTORY"); v != "" {
		cfg.Directory = v
	}

	if v := getEnv("SFTPJAIL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("SFTPJAIL_PORT: invalid integer %q", v))
		} else {
			cfg.Port = port
		}
	}

	// A password variable that is set but empty still selects silent
	// mode; the empty secret is rejected by validation later.
	if _, ok := os.LookupEnv("SFTPJAIL_PASSWORD"); ok {
		cfg.Silent = true
	}
	if _, ok := os.LookupEnv("SFTPJAIL_PASSWORD_FILE"); ok {
		cfg.Silent = true
	}
	if v := getEnvOrFile("SFTPJAIL_PASSWORD", "SFTPJAIL_PASSWORD_FILE"); v != "" {
		cfg.Password = v
	}

	if v := getEnv("SFTPJAIL_DRY_RUN"); v != "" {
		cfg.DryRun = parseBool(v, cfg.DryRun)
	}
	if v := getEnv("SFTPJAIL_TARGET"); v != "" {
		cfg.Target = v
	}
	if v := getEnv("SFTPJAIL_SSHD_CONFIG"); v != "" {
		cfg.SshdConfigPath = v
	}
	if v := getEnv("SFTPJAIL_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := getEnv("SFTPJAIL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getEnv("SFTPJAIL_PUSHGATEWAY_URL"); v != "" {
		cfg.PushgatewayURL = v
	}

	if v := getEnv("SFTPJAIL_SSH_USER"); v != "" {
		cfg.SSH.User = v
	}
	if v := getEnvOrFile("SFTPJAIL_SSH_KEY_FILE", "SFTPJAIL_SSH_KEY_FILE_FILE"); v != "" {
		cfg.SSH.KeyFile = v
	}
	if v := getEnvOrFile("SFTPJAIL_SSH_KEY_DATA", "SFTPJAIL_SSH_KEY_DATA_FILE"); v != "" {
		cfg.SSH.KeyData = v
	}
	if v := getEnvOrFile("SFTPJAIL_SSH_KEY_PASSPHRASE", "SFTPJAIL_SSH_KEY_PASSPHRASE_FILE"); v != "" {
		cfg.SSH.KeyPassphrase = v
	}
	if v := getEnvOrFile("SFTPJAIL_SSH_PASSWORD", "SFTPJAIL_SSH_PASSWORD_FILE"); v != "" {
		cfg.SSH.Password = v
	}
	if v := getEnv("SFTPJAIL_SSH_SUDO"); v != "" {
		cfg.SSH.Sudo = parseBool(v, cfg.SSH.Sudo)
	}
	if v := getEnvOrFile("SFTPJAIL_SSH_SUDO_PASSWORD", "SFTPJAIL_SSH_SUDO_PASSWORD_FILE"); v != "" {
		cfg.SSH.SudoPassword = v
	}
	if v := getEnv("SFTPJAIL_SSH_KNOWN_HOSTS_FILE"); v != "" {
		cfg.SSH.KnownHostsFile = v
	}
	if v := getEnv("SFTPJAIL_SSH_STRICT_HOST_KEY_CHECKING"); v != "" {
		cfg.SSH.StrictHostKeyChecking = parseBool(v, cfg.SSH.StrictHostKeyChecking)
	}

	return errs
}
