// Package runtime probes the container runtime backing dynamic analysis
// tools. The coordinator consults it before dispatching tools that need a
// running application instance.
package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ProbeResult reports whether the runtime is usable for a given target.
type ProbeResult struct {
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// Provisioner answers whether the runtime for a generated application is up.
type Provisioner interface {
	Probe(ctx context.Context, model string, app int) ProbeResult
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// ComposeProvisioner checks docker compose for a running container named
// after the (model, app) pair.
type ComposeProvisioner struct {
	cmd CommandRunner
}

// NewComposeProvisioner creates a ComposeProvisioner. Pass nil to shell out
// directly.
func NewComposeProvisioner(cmd CommandRunner) *ComposeProvisioner {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	return &ComposeProvisioner{cmd: cmd}
}

// Probe looks for a running compose project for the target application.
// Any execution failure reports the runtime as unavailable rather than
// erroring, since the caller only needs a go/no-go answer.
func (p *ComposeProvisioner) Probe(ctx context.Context, model string, app int) ProbeResult {
	project := ProjectName(model, app)
	command := fmt.Sprintf("docker compose -p %s ps --status running --quiet", project)

	stdout, stderr, exitCode, err := p.cmd.Run(ctx, command)
	if err != nil {
		return ProbeResult{Available: false, Detail: fmt.Sprintf("probe failed: %v", err)}
	}
	if exitCode != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = fmt.Sprintf("compose exited %d", exitCode)
		}
		return ProbeResult{Available: false, Detail: detail}
	}
	if strings.TrimSpace(stdout) == "" {
		return ProbeResult{Available: false, Detail: fmt.Sprintf("no running containers for %s", project)}
	}
	return ProbeResult{Available: true}
}

// ProjectName derives the compose project name for a generated application.
func ProjectName(model string, app int) string {
	name := strings.ToLower(model)
	name = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '-'
	}, name)
	return fmt.Sprintf("%s-app%d", strings.Trim(name, "-"), app)
}

// StaticProvisioner always answers with a fixed result. Used when dynamic
// analysis is disabled outright and in tests.
type StaticProvisioner struct {
	Result ProbeResult
}

func (s StaticProvisioner) Probe(context.Context, string, int) ProbeResult {
	return s.Result
}
