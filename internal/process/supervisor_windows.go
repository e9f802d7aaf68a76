//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Signal is a portable stand-in; windows only supports termination.
type Signal int

const DefaultSignal Signal = 0

func (s Signal) String() string { return "terminate" }

// ParseSignal accepts only the termination spellings on windows.
func ParseSignal(name string) (Signal, error) {
	switch name {
	case "", "sigterm", "SIGTERM", "term", "sigkill", "SIGKILL", "kill", "9", "15":
		return DefaultSignal, nil
	}
	return 0, fmt.Errorf("signal %q is not supported on windows", name)
}

func newShellCommand(command string) *exec.Cmd {
	return exec.Command("cmd.exe", "/C", command)
}

func setProcessGroup(cmd *exec.Cmd) {}

// signalGroup can only terminate on windows; any signal kills the child.
func signalGroup(cmd *exec.Cmd, _ Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

func suspendGroup(cmd *exec.Cmd) error {
	return errors.New("suspending tasks is not supported on windows")
}

func resumeGroup(cmd *exec.Cmd) error {
	return errors.New("resuming tasks is not supported on windows")
}

func exitStatus(ps *os.ProcessState) (int, bool) {
	if ps == nil {
		return -1, false
	}
	return ps.ExitCode(), false
}
