//go:build !windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Signal is an OS signal deliverable to a child's process group.
type Signal = syscall.Signal

// DefaultSignal is used when a kill request names no signal.
const DefaultSignal = unix.SIGTERM

var signalsByName = map[string]Signal{
	"sighup":  unix.SIGHUP,
	"sigint":  unix.SIGINT,
	"sigquit": unix.SIGQUIT,
	"sigkill": unix.SIGKILL,
	"sigusr1": unix.SIGUSR1,
	"sigusr2": unix.SIGUSR2,
	"sigterm": unix.SIGTERM,
	"sigcont": unix.SIGCONT,
	"sigstop": unix.SIGSTOP,
}

// ParseSignal accepts names ("SIGTERM", "term") and numbers ("15").
// An empty string yields the default termination signal.
func ParseSignal(name string) (Signal, error) {
	if name == "" {
		return DefaultSignal, nil
	}
	lower := strings.ToLower(name)
	if !strings.HasPrefix(lower, "sig") {
		lower = "sig" + lower
	}
	if sig, ok := signalsByName[lower]; ok {
		return sig, nil
	}
	if num, err := strconv.Atoi(name); err == nil && num > 0 && num < 65 {
		return Signal(num), nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

// newShellCommand wraps a command line for execution by the user's shell.
func newShellCommand(command string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", command)
}

// setProcessGroup isolates the child in its own process group so signals
// reach all of its descendants.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers a signal to the child's whole process group.
// ESRCH means the group is already gone, which is not an error here.
func signalGroup(cmd *exec.Cmd, sig Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if err == unix.ESRCH {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to signal process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

func suspendGroup(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGSTOP)
}

func resumeGroup(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGCONT)
}

// exitStatus translates a wait status into an exit code and whether the
// child was terminated by a signal.
func exitStatus(ps *os.ProcessState) (int, bool) {
	if ps == nil {
		return -1, false
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return int(ws.Signal()), true
	}
	return ps.ExitCode(), false
}
