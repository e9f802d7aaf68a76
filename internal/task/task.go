package task

import (
	"time"
)

// Task represents one shell command managed by the daemon.
type Task struct {
	ID           int               `json:"id"`
	Command      string            `json:"command"`
	Path         string            `json:"path"`
	Envs         map[string]string `json:"envs,omitempty"`
	Group        string            `json:"group"`
	Dependencies []int             `json:"dependencies,omitempty"`
	Label        string            `json:"label,omitempty"`

	Status Status `json:"status"`
	// PrevStatus holds the status a task had before it was locked for
	// editing, so EditRestore can put it back.
	PrevStatus Status     `json:"prev_status"`
	EnqueueAt  *time.Time `json:"enqueue_at,omitempty"`

	// Result fields are only meaningful once Status == StatusDone.
	Result     *Result `json:"result,omitempty"`
	ExitCode   *int    `json:"exit_code,omitempty"`
	SpawnError string  `json:"spawn_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a task in the given pre-run status.
func New(command, path string, envs map[string]string, group string, status Status, dependencies []int, label string) *Task {
	if envs == nil {
		envs = make(map[string]string)
	}
	return &Task{
		Command:      command,
		Path:         path,
		Envs:         envs,
		Group:        group,
		Dependencies: dependencies,
		Label:        label,
		Status:       status,
		PrevStatus:   status,
		CreatedAt:    time.Now().UTC(),
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := *t
	clone.Envs = make(map[string]string, len(t.Envs))
	for k, v := range t.Envs {
		clone.Envs[k] = v
	}
	clone.Dependencies = append([]int(nil), t.Dependencies...)
	if t.EnqueueAt != nil {
		at := *t.EnqueueAt
		clone.EnqueueAt = &at
	}
	if t.Result != nil {
		r := *t.Result
		clone.Result = &r
	}
	if t.ExitCode != nil {
		c := *t.ExitCode
		clone.ExitCode = &c
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		clone.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		clone.CompletedAt = &at
	}
	return &clone
}

// Start marks the task as running.
func (t *Task) Start() {
	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
}

// Finish marks the task as done with the given result.
func (t *Task) Finish(result Result) {
	now := time.Now().UTC()
	t.Status = StatusDone
	t.Result = &result
	t.CompletedAt = &now
}

// FinishWithExit marks the task as done recording the child's exit code.
func (t *Task) FinishWithExit(result Result, exitCode int) {
	t.Finish(result)
	t.ExitCode = &exitCode
}

// FailedToSpawn marks the task as done with a spawn failure reason.
func (t *Task) FailedToSpawn(reason string) {
	t.Finish(ResultFailedToSpawn)
	t.SpawnError = reason
}

// ResetRunState clears every runtime field so the task can run again.
func (t *Task) ResetRunState() {
	t.Result = nil
	t.ExitCode = nil
	t.SpawnError = ""
	t.StartedAt = nil
	t.CompletedAt = nil
}

// Succeeded returns true if the task finished with a success result.
func (t *Task) Succeeded() bool {
	return t.Status == StatusDone && t.Result != nil && *t.Result == ResultSuccess
}
