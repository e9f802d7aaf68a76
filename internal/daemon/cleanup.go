package daemon

import (
	"github.com/veyh/pueue/internal/logfiles"
	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/protocol"
	"github.com/veyh/pueue/internal/task"
)

// clean removes finished tasks and their logs, optionally scoped to one
// group or to successful tasks only.
func (d *Dispatcher) clean(msg *protocol.CleanRequest) any {
	d.state.Lock()
	defer d.state.Unlock()

	if msg.Group != "" {
		if _, ok := d.state.Groups[msg.Group]; !ok {
			return protocol.Failure("Group %q does not exist.", msg.Group)
		}
	}

	ids := d.state.FilterTasks(func(t *task.Task) bool {
		if !t.Status.IsDone() {
			return false
		}
		if msg.Group != "" && t.Group != msg.Group {
			return false
		}
		if msg.SuccessfulOnly && !t.Succeeded() {
			return false
		}
		return true
	})

	for _, id := range ids {
		d.state.RemoveTask(id)
		if err := logfiles.Remove(d.cfg.Shared.LogDir(), id); err != nil {
			logger.WithTask(id).Warn().Err(err).Msg("failed to remove logs")
		}
	}

	if err := d.persist(); err != nil {
		return persistFailure()
	}
	return protocol.Success("Removed %d finished tasks.", len(ids))
}

// remove deletes arbitrary non-running tasks and their logs.
func (d *Dispatcher) remove(msg *protocol.RemoveRequest) any {
	d.state.Lock()
	defer d.state.Unlock()

	for _, id := range msg.TaskIDs {
		t, ok := d.state.Tasks[id]
		if !ok {
			return protocol.Failure("Task %d does not exist.", id)
		}
		if t.Status.IsActive() {
			return protocol.Failure("Task %d is %s; kill it before removing.", id, t.Status)
		}
	}
	for _, id := range msg.TaskIDs {
		d.state.RemoveTask(id)
		if err := logfiles.Remove(d.cfg.Shared.LogDir(), id); err != nil {
			logger.WithTask(id).Warn().Err(err).Msg("failed to remove logs")
		}
	}

	if err := d.persist(); err != nil {
		return persistFailure()
	}
	return protocol.Success("Tasks removed (ids %v).", msg.TaskIDs)
}

// switchTasks swaps the queue positions of two pending tasks. Tasks that
// are running or locked for editing cannot be switched.
func (d *Dispatcher) switchTasks(msg *protocol.SwitchRequest) any {
	if msg.TaskID1 == msg.TaskID2 {
		return protocol.Failure("Cannot switch a task with itself.")
	}

	d.state.Lock()
	defer d.state.Unlock()

	for _, id := range []int{msg.TaskID1, msg.TaskID2} {
		t, ok := d.state.Tasks[id]
		if !ok {
			return protocol.Failure("Task %d does not exist.", id)
		}
		if t.Status.IsActive() || t.Status.IsDone() {
			return protocol.Failure("Task %d is %s and cannot be switched.", id, t.Status)
		}
		if t.Status == task.StatusEditing {
			return protocol.Failure("Task %d is locked for editing and cannot be switched.", id)
		}
	}

	if err := d.state.SwitchTasks(msg.TaskID1, msg.TaskID2); err != nil {
		return protocol.Failure("%s", err)
	}
	if err := d.persist(); err != nil {
		return persistFailure()
	}
	return protocol.Success("Tasks %d and %d have switched places.", msg.TaskID1, msg.TaskID2)
}

// status returns a deep copy of the whole state.
func (d *Dispatcher) status() any {
	d.state.Lock()
	clone := d.state.Clone()
	d.state.Unlock()
	return &protocol.StatusResponse{State: clone}
}

// log returns a bounded tail of the requested tasks' output files. File
// reads happen outside the state lock.
func (d *Dispatcher) log(msg *protocol.LogRequest) any {
	d.state.Lock()
	ids := msg.TaskIDs
	if len(ids) == 0 {
		ids = d.state.TaskIDs()
	} else {
		for _, id := range ids {
			if _, ok := d.state.Tasks[id]; !ok {
				d.state.Unlock()
				return protocol.Failure("Task %d does not exist.", id)
			}
		}
	}
	d.state.Unlock()

	response := &protocol.LogResponse{Tasks: make(map[int]protocol.TaskLog, len(ids))}
	for _, id := range ids {
		stdout, stderr, err := logfiles.Tail(d.cfg.Shared.LogDir(), id, msg.Limit)
		if err != nil {
			return protocol.Failure("Failed to read logs of task %d: %s", id, err)
		}
		response.Tasks[id] = protocol.TaskLog{Stdout: stdout, Stderr: stderr}
	}
	return response
}
