// Package sshutil provides the SSH/SFTP plumbing for provisioning remote
// hosts.
//
// It pairs an SSH connection ([Client]) with an exec-based command runner
// ([Runner]) and an SFTP-backed file access layer ([SFTPFileSystem]). The
// runner can feed standard input to remote commands, which is how password
// material reaches tools like chpasswd without appearing on a command line,
// and can wrap commands in sudo for hosts where the login user is not root.
//
// # Basic Usage
//
//	config := &sshutil.Config{
//		Host:    "files01.internal",
//		Port:    22,
//		User:    "admin",
//		KeyFile: "/home/admin/.ssh/id_ed25519",
//	}
//
//	client, err := sshutil.NewClient(config)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//
//	runner := sshutil.NewRunner(client, sshutil.WithSudo(""))
//	result, err := runner.Run(ctx, "systemctl restart ssh")
//
//	fs := sshutil.NewSFTPFileSystem(client)
//	if err := fs.Connect(ctx); err != nil {
//		return err
//	}
//	defer fs.Close()
//
//	data, err := fs.ReadFile("/etc/ssh/sshd_config")
//
// # Security Considerations
//
// By default strict host key checking is disabled, which suits first-contact
// provisioning on internal networks. Set StrictHostKeyChecking together with
// KnownHostsFile to verify the remote host key.
//
// Key-based authentication is recommended over password authentication.
package sshutil
