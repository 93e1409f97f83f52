// sftpjail provisions a chroot-jailed SFTP service on a Linux host.
// It detects the OS family, installs the SSH server and firewall packages,
// creates the service group and user, builds the root-owned chroot
// directory tree, appends a Match Group stanza to sshd_config, opens the
// SSH port in the firewall, and restarts the SSH service. Every step is
// idempotent: re-running against a provisioned host applies nothing.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gitlab.bluewillows.net/root/sftpjail/internal/provision"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-08-25"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the root command and maps its outcome to an exit code:
// 0 for success and operator cancel, 1 for any failure, usage output, or
// bad flags.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root, _ := newRootCommand()
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	helpShown := false
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(c *cobra.Command, helpArgs []string) {
		helpShown = true
		defaultHelp(c, helpArgs)
	})

	err := root.Execute()
	switch {
	case errors.Is(err, provision.ErrAborted):
		return 0
	case err != nil:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	case helpShown:
		// Usage was printed instead of provisioning anything.
		return 1
	default:
		return 0
	}
}
