// Package provision orchestrates the pipeline that turns a target host
// into a chroot-jailed SFTP server: OS detection, path validation, the
// confirmation gate, package installation, identity and directory
// provisioning, sshd config and firewall reconciliation, and the final
// service restart.
package provision

import (
	"fmt"
	"strings"
	"time"
)

// Step identifies one stage of the provisioning pipeline.
type Step string

const (
	// StepDetectOS classifies the host's OS family.
	StepDetectOS Step = "detect_os"
	// StepValidatePath validates the shared directory path and derives
	// the chroot split.
	StepValidatePath Step = "validate_path"
	// StepInstallPackages installs the SSH server and firewall packages.
	StepInstallPackages Step = "install_packages"
	// StepIdentity ensures the SFTP group, user, and password.
	StepIdentity Step = "provision_identity"
	// StepDirectories ensures the chroot directory tree and its ownership.
	StepDirectories Step = "provision_directories"
	// StepSSHDConfig reconciles the sshd Match Group stanza.
	StepSSHDConfig Step = "sshd_config"
	// StepFirewall reconciles the firewall rules for the SSH port.
	StepFirewall Step = "firewall"
	// StepRestartSSH restarts the SSH service to pick up config changes.
	StepRestartSSH Step = "restart_ssh"
)

// Steps lists the pipeline steps in execution order. Identity runs
// before the directory tree so the ownership reassert can resolve the
// user's uid and the group's gid on a fresh host.
var Steps = []Step{
	StepDetectOS,
	StepValidatePath,
	StepInstallPackages,
	StepIdentity,
	StepDirectories,
	StepSSHDConfig,
	StepFirewall,
	StepRestartSSH,
}

// Status is the outcome of a pipeline step.
type Status string

const (
	// StatusApplied means the step changed host state, or would have in
	// a dry run.
	StatusApplied Status = "applied"
	// StatusUnchanged means the step found its desired state already in
	// place and changed nothing.
	StatusUnchanged Status = "unchanged"
	// StatusFailed means the step errored and stopped the run.
	StatusFailed Status = "failed"
	// StatusSkipped means the step never ran because an earlier step
	// failed or the operator cancelled.
	StatusSkipped Status = "skipped"
)

// StepResult records the outcome of a single pipeline step.
type StepResult struct {
	// Step names the pipeline stage.
	Step Step

	// Status is the outcome of the step.
	Status Status

	// Detail is a short note on what the step did or found.
	Detail string

	// Error holds the failure message when Status is StatusFailed.
	Error string

	// StartTime and EndTime bound the step's execution. Both are zero
	// for skipped steps.
	StartTime time.Time
	EndTime   time.Time

	// DryRun marks a step that reported what it would do without
	// touching the host.
	DryRun bool
}

// Duration returns how long the step ran.
func (s StepResult) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// String returns a human-readable representation of the step result.
func (s StepResult) String() string {
	status := string(s.Status)
	if s.DryRun && s.Status == StatusApplied {
		status = "would apply"
	}

	if s.Error != "" {
		return fmt.Sprintf("[%s] %s: %s", status, s.Step, s.Error)
	}
	if s.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", status, s.Step, s.Detail)
	}
	return fmt.Sprintf("[%s] %s", status, s.Step)
}

// Result holds the complete outcome of a provisioning run.
type Result struct {
	// StartTime is when the run started.
	StartTime time.Time

	// EndTime is when the run completed.
	EndTime time.Time

	// Steps contains one entry per pipeline step, in execution order.
	// Steps that never ran are recorded as skipped.
	Steps []StepResult

	// DryRun indicates no changes were applied to the host.
	DryRun bool
}

// NewResult creates a Result with the start time set to now.
func NewResult(dryRun bool) *Result {
	return &Result{
		StartTime: time.Now(),
		Steps:     make([]StepResult, 0, len(Steps)),
		DryRun:    dryRun,
	}
}

// Complete marks the result as complete with the end time set to now.
func (r *Result) Complete() {
	r.EndTime = time.Now()
}

// Duration returns the total run duration.
func (r *Result) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// AddStep appends a step outcome to the result.
func (r *Result) AddStep(step StepResult) {
	step.DryRun = r.DryRun
	r.Steps = append(r.Steps, step)
}

// SkipRemaining appends a skipped entry for every pipeline step not yet
// recorded, in pipeline order, so the result always accounts for the
// whole pipeline.
func (r *Result) SkipRemaining(reason string) {
	recorded := make(map[Step]bool, len(r.Steps))
	for _, s := range r.Steps {
		recorded[s.Step] = true
	}
	for _, step := range Steps {
		if !recorded[step] {
			r.AddStep(StepResult{Step: step, Status: StatusSkipped, Detail: reason})
		}
	}
}

// Applied returns the steps that changed host state.
func (r *Result) Applied() []StepResult { return r.stepsWith(StatusApplied) }

// Unchanged returns the steps that found their desired state in place.
func (r *Result) Unchanged() []StepResult { return r.stepsWith(StatusUnchanged) }

// Failed returns the steps that errored.
func (r *Result) Failed() []StepResult { return r.stepsWith(StatusFailed) }

// Skipped returns the steps that never ran.
func (r *Result) Skipped() []StepResult { return r.stepsWith(StatusSkipped) }

func (r *Result) stepsWith(status Status) []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// AppliedCount returns the number of steps that changed host state.
func (r *Result) AppliedCount() int { return len(r.Applied()) }

// UnchangedCount returns the number of steps that changed nothing.
func (r *Result) UnchangedCount() int { return len(r.Unchanged()) }

// FailedCount returns the number of failed steps.
func (r *Result) FailedCount() int { return len(r.Failed()) }

// SkippedCount returns the number of steps that never ran.
func (r *Result) SkippedCount() int { return len(r.Skipped()) }

// HasErrors reports whether any step failed.
func (r *Result) HasErrors() bool {
	return r.FailedCount() > 0
}

// Summary returns a human-readable summary of the run.
func (r *Result) Summary() string {
	var sb strings.Builder

	outcome := "complete"
	if r.HasErrors() {
		outcome = "failed"
	}
	mode := "applied"
	if r.DryRun {
		mode = "dry-run"
	}

	fmt.Fprintf(&sb, "Provisioning %s (%s) in %s\n",
		outcome, mode, r.Duration().Round(time.Millisecond))
	for _, s := range r.Steps {
		fmt.Fprintf(&sb, "  %s\n", s.String())
	}
	fmt.Fprintf(&sb, "  applied: %d  unchanged: %d  failed: %d  skipped: %d\n",
		r.AppliedCount(), r.UnchangedCount(), r.FailedCount(), r.SkippedCount())

	return sb.String()
}
