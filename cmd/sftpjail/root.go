package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gitlab.bluewillows.net/root/sftpjail/internal/config"
	"gitlab.bluewillows.net/root/sftpjail/internal/metrics"
	"gitlab.bluewillows.net/root/sftpjail/internal/provision"
	"gitlab.bluewillows.net/root/sftpjail/internal/runlog"
	"gitlab.bluewillows.net/root/sftpjail/internal/target"
	"gitlab.bluewillows.net/root/sftpjail/pkg/httputil"
)

// rootOptions holds the flag values of the root command. Flags overlay
// the config only when explicitly set, so the precedence stays
// defaults < file < environment < flags.
type rootOptions struct {
	user       string
	group      string
	directory  string
	port       int
	password   string
	dryRun     bool
	target     string
	configFile string
	logFile    string
}

func newRootCommand() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sftpjail",
		Short: "Provision a chroot-jailed SFTP share on a Linux host",
		Long: `sftpjail sets up a locked-down SFTP share: a dedicated group and a
no-login user jailed into a root-owned chroot directory, served by sshd
through a Match Group stanza, with the SSH port opened in the host
firewall. The run is idempotent; repeating it on a provisioned host
reports every step as unchanged.

The host to provision is selected with --target: the local machine, a
remote host over SSH, or a running container via the docker daemon.`,
		Example: `  sftpjail -s 'secret'
  sftpjail -u deploy -g deploys -d /srv/sftp/drop -p 2222
  sftpjail --target ssh://admin@files01 --dry-run`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildDate),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runProvision(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.user, "user", "u", config.DefaultUser, "SFTP username to provision")
	flags.StringVarP(&opts.group, "group", "g", config.DefaultGroup, "group the sshd Match stanza applies to")
	flags.StringVarP(&opts.directory, "directory", "d", config.DefaultDirectory, "shared directory, at least two path levels deep")
	flags.IntVarP(&opts.port, "port", "p", config.DefaultPort, "SSH port the firewall must allow")
	flags.StringVarP(&opts.password, "password", "s", "", "password for the SFTP user; enables silent mode")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "report the would-be changes without applying them")
	flags.StringVar(&opts.target, "target", "", "host to provision: local, ssh://user@host[:port] or docker://name")
	flags.StringVar(&opts.configFile, "config", "", "config file (YAML or TOML)")
	flags.StringVar(&opts.logFile, "log-file", config.DefaultLogFile, "append-only run log path")

	return cmd, opts
}

// resolveConfig loads the layered configuration and overlays the flags
// that were explicitly set.
func (o *rootOptions) resolveConfig(flags *pflag.FlagSet) (*config.Config, error) {
	path := o.configFile
	if path == "" {
		path = config.FilePath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("user") {
		cfg.User = o.user
	}
	if flags.Changed("group") {
		cfg.Group = o.group
	}
	if flags.Changed("directory") {
		cfg.Directory = o.directory
	}
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("password") {
		cfg.Password = o.password
		cfg.Silent = true
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = o.dryRun
	}
	if flags.Changed("target") {
		cfg.Target = o.target
	}
	if flags.Changed("log-file") {
		cfg.LogFile = o.logFile
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *rootOptions) runProvision(cmd *cobra.Command) error {
	cfg, err := o.resolveConfig(cmd.Flags())
	if err != nil {
		return err
	}

	logger, closeLog, err := runlog.Open(cmd.ErrOrStderr(), cfg.LogFile, cfg.SlogLevel())
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, runtime.Version())

	logger.Info("sftpjail starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.String("target", cfg.Target),
		slog.Bool("dry_run", cfg.DryRun),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := resolveTarget(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("resolving target %q: %w", cfg.Target, err)
	}
	defer func() { _ = host.Close() }()

	prov := provision.New(host,
		provision.WithLogger(logger),
		provision.WithConfig(provision.RunConfig{
			User:           cfg.User,
			Group:          cfg.Group,
			Directory:      cfg.Directory,
			Port:           cfg.Port,
			Password:       cfg.Password,
			Silent:         cfg.Silent,
			DryRun:         cfg.DryRun,
			SshdConfigPath: cfg.SshdConfigPath,
		}),
		provision.WithConfirmInput(cmd.InOrStdin()),
		provision.WithConfirmOutput(cmd.ErrOrStderr()),
	)

	result, runErr := prov.Run(ctx)
	if result != nil && !errors.Is(runErr, provision.ErrAborted) {
		fmt.Fprint(cmd.OutOrStdout(), result.Summary())
	}

	if cfg.PushgatewayURL != "" {
		pushMetrics(cfg.PushgatewayURL, host.Name(), logger)
	}

	return runErr
}

// resolveTarget builds the target registry and resolves the configured
// target string into a live host.
func resolveTarget(ctx context.Context, cfg *config.Config, logger *slog.Logger) (target.Host, error) {
	registry := target.NewRegistry(logger)
	registry.Register(target.SchemeLocal, target.LocalFactory(logger))
	registry.Register(target.SchemeSSH, target.SSHFactory(target.SSHConfig{
		User:                  cfg.SSH.User,
		KeyFile:               cfg.SSH.KeyFile,
		KeyData:               cfg.SSH.KeyData,
		KeyPassphrase:         cfg.SSH.KeyPassphrase,
		Password:              cfg.SSH.Password,
		Sudo:                  cfg.SSH.Sudo,
		SudoPassword:          cfg.SSH.SudoPassword,
		StrictHostKeyChecking: cfg.SSH.StrictHostKeyChecking,
		KnownHostsFile:        cfg.SSH.KnownHostsFile,
		Timeout:               15 * time.Second,
	}, logger))
	registry.Register(target.SchemeDocker, target.DockerFactory(logger))

	return registry.Resolve(ctx, cfg.Target)
}

// pushMetrics ships the run's metrics to the Pushgateway. Failures are
// logged and do not change the exit code; the provisioning outcome
// already stands.
func pushMetrics(url, targetName string, logger *slog.Logger) {
	client := httputil.NewClient(&httputil.ClientConfig{
		Timeout: 10 * time.Second,
		Logger:  logger,
	})
	if err := metrics.Push(url, targetName, client); err != nil {
		logger.Warn("pushing metrics failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("metrics pushed", slog.String("url", url))
}
