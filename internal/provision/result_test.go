package provision

import (
	"strings"
	"testing"
	"time"
)

func TestResult_Counts(t *testing.T) {
	result := NewResult(false)
	result.AddStep(StepResult{Step: StepDetectOS, Status: StatusUnchanged})
	result.AddStep(StepResult{Step: StepValidatePath, Status: StatusUnchanged})
	result.AddStep(StepResult{Step: StepInstallPackages, Status: StatusApplied})
	result.AddStep(StepResult{Step: StepIdentity, Status: StatusApplied})
	result.AddStep(StepResult{Step: StepDirectories, Status: StatusFailed, Error: "mkdir exploded"})
	result.SkipRemaining("previous step failed")
	result.Complete()

	if got := result.AppliedCount(); got != 2 {
		t.Errorf("AppliedCount() = %d, want 2", got)
	}
	if got := result.UnchangedCount(); got != 2 {
		t.Errorf("UnchangedCount() = %d, want 2", got)
	}
	if got := result.FailedCount(); got != 1 {
		t.Errorf("FailedCount() = %d, want 1", got)
	}
	if got := result.SkippedCount(); got != 3 {
		t.Errorf("SkippedCount() = %d, want 3", got)
	}
	if !result.HasErrors() {
		t.Error("HasErrors() = false with a failed step")
	}
	if len(result.Steps) != len(Steps) {
		t.Errorf("Steps length = %d, want every pipeline step accounted for", len(result.Steps))
	}
}

func TestResult_SkipRemainingKeepsPipelineOrder(t *testing.T) {
	result := NewResult(false)
	result.AddStep(StepResult{Step: StepDetectOS, Status: StatusUnchanged})
	result.AddStep(StepResult{Step: StepValidatePath, Status: StatusFailed, Error: "bad path"})
	result.SkipRemaining("previous step failed")

	for i, step := range Steps {
		if result.Steps[i].Step != step {
			t.Fatalf("Steps[%d] = %s, want %s", i, result.Steps[i].Step, step)
		}
	}
	for _, s := range result.Skipped() {
		if s.Detail != "previous step failed" {
			t.Errorf("skipped step %s detail = %q", s.Step, s.Detail)
		}
	}

	// A second call must not duplicate entries.
	result.SkipRemaining("again")
	if len(result.Steps) != len(Steps) {
		t.Errorf("Steps length = %d after repeated SkipRemaining, want %d", len(result.Steps), len(Steps))
	}
}

func TestResult_AddStepPropagatesDryRun(t *testing.T) {
	result := NewResult(true)
	result.AddStep(StepResult{Step: StepFirewall, Status: StatusApplied})

	if !result.Steps[0].DryRun {
		t.Error("AddStep did not mark the step as dry-run")
	}
}

func TestStepResult_String(t *testing.T) {
	tests := []struct {
		name string
		step StepResult
		want string
	}{
		{
			name: "applied with detail",
			step: StepResult{Step: StepFirewall, Status: StatusApplied, Detail: "opened 22/tcp"},
			want: "[applied] firewall: opened 22/tcp",
		},
		{
			name: "dry-run applied",
			step: StepResult{Step: StepIdentity, Status: StatusApplied, Detail: "create group sftpusers and user sftpuser", DryRun: true},
			want: "[would apply] provision_identity: create group sftpusers and user sftpuser",
		},
		{
			name: "failure shows the error",
			step: StepResult{Step: StepRestartSSH, Status: StatusFailed, Detail: "restarted ssh", Error: "systemctl restart ssh exited 1"},
			want: "[failed] restart_ssh: systemctl restart ssh exited 1",
		},
		{
			name: "bare status",
			step: StepResult{Step: StepDetectOS, Status: StatusUnchanged},
			want: "[unchanged] detect_os",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStepResult_Duration(t *testing.T) {
	start := time.Now()
	step := StepResult{StartTime: start, EndTime: start.Add(250 * time.Millisecond)}
	if got := step.Duration(); got != 250*time.Millisecond {
		t.Errorf("Duration() = %v, want 250ms", got)
	}

	if got := (StepResult{}).Duration(); got != 0 {
		t.Errorf("Duration() = %v for an unstarted step, want 0", got)
	}
}

func TestResult_Summary(t *testing.T) {
	t.Run("successful run", func(t *testing.T) {
		result := NewResult(false)
		result.AddStep(StepResult{Step: StepDetectOS, Status: StatusUnchanged, Detail: "Ubuntu 24.04.1 LTS (debian_like)"})
		result.AddStep(StepResult{Step: StepFirewall, Status: StatusApplied, Detail: "opened 22/tcp"})
		result.Complete()

		summary := result.Summary()
		for _, want := range []string{
			"Provisioning complete (applied)",
			"[unchanged] detect_os: Ubuntu 24.04.1 LTS (debian_like)",
			"[applied] firewall: opened 22/tcp",
			"applied: 1  unchanged: 1  failed: 0  skipped: 0",
		} {
			if !strings.Contains(summary, want) {
				t.Errorf("Summary() missing %q:\n%s", want, summary)
			}
		}
	})

	t.Run("dry run", func(t *testing.T) {
		result := NewResult(true)
		result.AddStep(StepResult{Step: StepInstallPackages, Status: StatusApplied, Detail: "install openssh-server ufw"})
		result.Complete()

		summary := result.Summary()
		if !strings.Contains(summary, "Provisioning complete (dry-run)") {
			t.Errorf("Summary() missing the dry-run mode:\n%s", summary)
		}
		if !strings.Contains(summary, "[would apply] install_packages") {
			t.Errorf("Summary() missing the would-apply rendering:\n%s", summary)
		}
	})

	t.Run("failed run", func(t *testing.T) {
		result := NewResult(false)
		result.AddStep(StepResult{Step: StepDetectOS, Status: StatusFailed, Error: "unsupported operating system"})
		result.SkipRemaining("previous step failed")
		result.Complete()

		if !strings.Contains(result.Summary(), "Provisioning failed") {
			t.Errorf("Summary() missing the failed outcome:\n%s", result.Summary())
		}
	})
}
