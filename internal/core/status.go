package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

// Executor runs a blocking remote command.
type Executor interface {
	ExecuteOneshot(ctx context.Context, target api.ConnectionTarget, command string) (api.CommandResult, error)
}

// ErrStatusUnknown is returned when the hypervisor does not report a state.
var ErrStatusUnknown = errors.New("vm status unknown")

var vmStatusPattern = regexp.MustCompile(`status:\s*(\w+)`)

// VMStatus asks the hypervisor for the run state of a VM, e.g. "running".
func VMStatus(ctx context.Context, exec Executor, target api.ConnectionTarget, vmid int) (string, error) {
	res, err := exec.ExecuteOneshot(ctx, target, fmt.Sprintf("qm status %d", vmid))
	if err != nil {
		return "", fmt.Errorf("query vm %d: %w", vmid, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%w: qm exited %d", ErrStatusUnknown, res.ExitCode)
	}
	m := vmStatusPattern.FindStringSubmatch(res.Stdout)
	if m == nil {
		return "", ErrStatusUnknown
	}
	return m[1], nil
}

// UpdateCommands are run in order by UpdateNode.
var UpdateCommands = []string{
	"sudo apt update",
	"sudo apt upgrade -y",
	"sudo apt autoremove -y",
}

// StepResult is the result of one update command.
type StepResult struct {
	Command string
	Result  api.CommandResult
}

// UpdateNode upgrades the packages of a deployed node. It stops at the first
// command that fails and returns the results gathered so far.
func UpdateNode(ctx context.Context, exec Executor, target api.ConnectionTarget) ([]StepResult, error) {
	var steps []StepResult
	for _, cmd := range UpdateCommands {
		res, err := exec.ExecuteOneshot(ctx, target, cmd)
		steps = append(steps, StepResult{Command: cmd, Result: res})
		if err != nil {
			return steps, fmt.Errorf("%s: %w", cmd, err)
		}
		if res.ExitCode != 0 {
			return steps, fmt.Errorf("%s: exit status %d", cmd, res.ExitCode)
		}
	}
	return steps, nil
}
