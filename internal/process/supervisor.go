package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/veyh/pueue/internal/logfiles"
	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/task"
)

// Exit reports one reaped child.
type Exit struct {
	TaskID   int
	ExitCode int
	Signaled bool
}

// child tracks one spawned process and its output sinks.
type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File
}

// Supervisor owns every child process the daemon spawns. The scheduler
// refers to children by task id only; process handles never leave this
// package.
type Supervisor struct {
	logDir string

	mu       sync.Mutex
	children map[int]*child
	finished []Exit
}

func New(logDir string) *Supervisor {
	return &Supervisor{
		logDir:   logDir,
		children: make(map[int]*child),
	}
}

// Spawn executes the task's command through the platform shell in its own
// process group, with stdout/stderr redirected to the task's log files.
// The returned error is a spawn failure; it never kills the daemon.
func (s *Supervisor) Spawn(t *task.Task) error {
	if t.Path != "" {
		info, err := os.Stat(t.Path)
		if err != nil {
			return fmt.Errorf("working directory %q is not accessible: %w", t.Path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("working directory %q is not a directory", t.Path)
		}
	}

	stdout, stderr, err := logfiles.CreateSinks(s.logDir, t.ID)
	if err != nil {
		return err
	}

	cmd := newShellCommand(t.Command)
	cmd.Dir = t.Path
	cmd.Env = os.Environ()
	for key, value := range t.Envs {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start command: %w", err)
	}

	c := &child{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}
	s.mu.Lock()
	s.children[t.ID] = c
	s.mu.Unlock()

	go s.reap(t.ID, c)

	logger.WithTask(t.ID).Debug().
		Int("pid", cmd.Process.Pid).
		Str("command", t.Command).
		Msg("child spawned")
	return nil
}

// reap waits for one child, records its exit, and closes the sinks.
func (s *Supervisor) reap(taskID int, c *child) {
	err := c.cmd.Wait()
	code, signaled := exitStatus(c.cmd.ProcessState)

	c.stdin.Close()
	c.stdout.Close()
	c.stderr.Close()

	s.mu.Lock()
	delete(s.children, taskID)
	s.finished = append(s.finished, Exit{TaskID: taskID, ExitCode: code, Signaled: signaled})
	s.mu.Unlock()

	log := logger.WithTask(taskID)
	if err != nil && !signaled {
		log.Debug().Err(err).Int("exit_code", code).Msg("child finished")
		return
	}
	log.Debug().Int("exit_code", code).Bool("signaled", signaled).Msg("child finished")
}

// PollFinished returns every child reaped since the previous call.
func (s *Supervisor) PollFinished() []Exit {
	s.mu.Lock()
	defer s.mu.Unlock()
	finished := s.finished
	s.finished = nil
	return finished
}

// Signal delivers a signal to the whole process group of a task's child.
// An absent child is a no-op: races with reap are expected.
func (s *Supervisor) Signal(taskID int, sig Signal) error {
	s.mu.Lock()
	c, ok := s.children[taskID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return signalGroup(c.cmd, sig)
}

// Suspend stops every process in the task's group.
func (s *Supervisor) Suspend(taskID int) error {
	s.mu.Lock()
	c, ok := s.children[taskID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return suspendGroup(c.cmd)
}

// Resume continues a previously suspended process group.
func (s *Supervisor) Resume(taskID int) error {
	s.mu.Lock()
	c, ok := s.children[taskID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return resumeGroup(c.cmd)
}

// SendStdin forwards bytes to a running child's stdin.
func (s *Supervisor) SendStdin(taskID int, input []byte) error {
	s.mu.Lock()
	c, ok := s.children[taskID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no running child for task %d", taskID)
	}
	if _, err := c.stdin.Write(input); err != nil {
		return fmt.Errorf("failed to write to stdin: %w", err)
	}
	return nil
}

// HasChild reports whether a child for the task is still alive.
func (s *Supervisor) HasChild(taskID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.children[taskID]
	return ok
}

// RunningIDs returns the task ids of all live children, ascending.
func (s *Supervisor) RunningIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.children))
	for id := range s.children {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// RunDetached fires a one-shot shell command that is never tracked or
// reaped into task state. Used for completion callbacks.
func RunDetached(command string) error {
	cmd := newShellCommand(command)
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start callback: %w", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Warn().Err(err).Str("command", command).Msg("callback failed")
		}
	}()
	return nil
}
