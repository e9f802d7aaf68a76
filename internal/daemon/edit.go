package daemon

import (
	"github.com/veyh/pueue/internal/protocol"
	"github.com/veyh/pueue/internal/task"
)

// editOpen locks a pending task for editing and returns its fields.
// While a task is editing the scheduler will not spawn it.
func (d *Dispatcher) editOpen(msg *protocol.EditOpenRequest) any {
	d.state.Lock()
	defer d.state.Unlock()

	t, ok := d.state.Tasks[msg.TaskID]
	if !ok {
		return protocol.Failure("Task %d does not exist.", msg.TaskID)
	}
	switch t.Status {
	case task.StatusQueued, task.StatusStashed, task.StatusLocked:
	default:
		return protocol.Failure("Task %d is %s and cannot be edited.", msg.TaskID, t.Status)
	}

	t.PrevStatus = t.Status
	t.Status = task.StatusEditing

	if err := d.persist(); err != nil {
		return persistFailure()
	}
	return &protocol.EditResponse{
		TaskID:  t.ID,
		Command: t.Command,
		Path:    t.Path,
		Label:   t.Label,
	}
}

// edit commits new fields to a task locked for editing and unlocks it.
func (d *Dispatcher) edit(msg *protocol.EditRequest) any {
	d.state.Lock()
	defer d.state.Unlock()

	t, ok := d.state.Tasks[msg.TaskID]
	if !ok {
		return protocol.Failure("Task %d does not exist.", msg.TaskID)
	}
	if t.Status != task.StatusEditing {
		return protocol.Failure("Task %d is not locked for editing.", msg.TaskID)
	}
	if msg.Command == "" {
		return protocol.Failure("Cannot set an empty command.")
	}

	t.Command = msg.Command
	if msg.Path != "" {
		t.Path = msg.Path
	}
	if msg.Label != "" {
		t.Label = msg.Label
	}
	t.Status = t.PrevStatus

	if err := d.persist(); err != nil {
		return persistFailure()
	}
	return protocol.Success("Task %d has been updated.", msg.TaskID)
}

// editRestore cancels editing without applying changes.
func (d *Dispatcher) editRestore(msg *protocol.EditRestoreRequest) any {
	d.state.Lock()
	defer d.state.Unlock()

	t, ok := d.state.Tasks[msg.TaskID]
	if !ok {
		return protocol.Failure("Task %d does not exist.", msg.TaskID)
	}
	if t.Status != task.StatusEditing {
		return protocol.Failure("Task %d is not locked for editing.", msg.TaskID)
	}

	t.Status = t.PrevStatus

	if err := d.persist(); err != nil {
		return persistFailure()
	}
	return protocol.Success("Editing of task %d has been cancelled.", msg.TaskID)
}
