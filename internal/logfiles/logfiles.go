package logfiles

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultTailBytes is the per-stream read limit used when a client does
// not specify one.
const DefaultTailBytes = 15 * 1024

// StdoutPath returns the stdout sink path of a task.
func StdoutPath(logDir string, taskID int) string {
	return filepath.Join(logDir, fmt.Sprintf("stdout-%d", taskID))
}

// StderrPath returns the stderr sink path of a task.
func StderrPath(logDir string, taskID int) string {
	return filepath.Join(logDir, fmt.Sprintf("stderr-%d", taskID))
}

// CreateSinks opens (truncating) the stdout and stderr files of a task.
// Truncation gives a restarted task a clean log.
func CreateSinks(logDir string, taskID int) (stdout, stderr *os.File, err error) {
	stdout, err = os.OpenFile(StdoutPath(logDir, taskID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout log: %w", err)
	}
	stderr, err = os.OpenFile(StderrPath(logDir, taskID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		stdout.Close()
		return nil, nil, fmt.Errorf("failed to create stderr log: %w", err)
	}
	return stdout, stderr, nil
}

// Tail returns up to limit trailing bytes of both streams of a task.
// Missing files read as empty, since a task may not have run yet.
func Tail(logDir string, taskID int, limit int64) (stdout, stderr []byte, err error) {
	if limit <= 0 {
		limit = DefaultTailBytes
	}
	stdout, err = tailFile(StdoutPath(logDir, taskID), limit)
	if err != nil {
		return nil, nil, err
	}
	stderr, err = tailFile(StderrPath(logDir, taskID), limit)
	if err != nil {
		return nil, nil, err
	}
	return stdout, stderr, nil
}

func tailFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() > limit {
		if _, err := f.Seek(-limit, io.SeekEnd); err != nil {
			return nil, fmt.Errorf("failed to seek log file: %w", err)
		}
	}
	return io.ReadAll(f)
}

// Remove deletes both log files of a task. Missing files are fine; the
// task may never have spawned.
func Remove(logDir string, taskID int) error {
	for _, path := range []string{StdoutPath(logDir, taskID), StderrPath(logDir, taskID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove log file: %w", err)
		}
	}
	return nil
}
