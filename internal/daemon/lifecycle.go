package daemon

import (
	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/process"
	"github.com/veyh/pueue/internal/protocol"
	"github.com/veyh/pueue/internal/scheduler"
	"github.com/veyh/pueue/internal/task"
)

// enqueue releases stashed (and, per flag, locked) tasks. With an
// enqueue time the tasks stay stashed until the scheduler promotes them.
func (d *Dispatcher) enqueue(msg *protocol.EnqueueRequest) any {
	d.state.Lock()
	defer d.state.Unlock()

	for _, id := range msg.TaskIDs {
		t, ok := d.state.Tasks[id]
		if !ok {
			return protocol.Failure("Task %d does not exist.", id)
		}
		eligible := t.Status == task.StatusStashed ||
			(msg.IncludeLocked && t.Status == task.StatusLocked)
		if !eligible {
			return protocol.Failure("Task %d is %s and cannot be enqueued.", id, t.Status)
		}

		if msg.EnqueueAt != nil {
			at := *msg.EnqueueAt
			t.Status = task.StatusStashed
			t.EnqueueAt = &at
			continue
		}
		t.EnqueueAt = nil
		if len(t.Dependencies) > 0 {
			t.Status = task.StatusLocked
		} else {
			t.Status = task.StatusQueued
		}
	}

	if err := d.persist(); err != nil {
		return persistFailure()
	}
	if msg.EnqueueAt != nil {
		return protocol.Success("Tasks will be enqueued at %s.", msg.EnqueueAt.Format("2006-01-02 15:04:05"))
	}
	return protocol.Success("Tasks are enqueued.")
}

// stash puts queued or locked tasks on explicit hold.
func (d *Dispatcher) stash(msg *protocol.StashRequest) any {
	d.state.Lock()
	defer d.state.Unlock()

	for _, id := range msg.TaskIDs {
		t, ok := d.state.Tasks[id]
		if !ok {
			return protocol.Failure("Task %d does not exist.", id)
		}
		if t.Status != task.StatusQueued && t.Status != task.StatusLocked {
			return protocol.Failure("Task %d is %s and cannot be stashed.", id, t.Status)
		}
		t.Status = task.StatusStashed
		t.EnqueueAt = nil
	}

	if err := d.persist(); err != nil {
		return persistFailure()
	}
	return protocol.Success("Tasks are stashed.")
}

// start forwards a start command to the scheduler. Single-task starts
// work regardless of group state.
func (d *Dispatcher) start(msg *protocol.StartRequest) any {
	if response := d.checkGroup(msg.Group); response != nil {
		return response
	}
	d.sched.Push(scheduler.Start{TaskIDs: msg.TaskIDs, Group: msg.Group, All: msg.All})
	if len(msg.TaskIDs) > 0 {
		return protocol.Success("Tasks are being started.")
	}
	return protocol.Success("Group is being resumed.")
}

// pause forwards a pause command to the scheduler.
func (d *Dispatcher) pause(msg *protocol.PauseRequest) any {
	if response := d.checkGroup(msg.Group); response != nil {
		return response
	}
	d.sched.Push(scheduler.Pause{TaskIDs: msg.TaskIDs, Group: msg.Group, All: msg.All})
	if len(msg.TaskIDs) > 0 {
		return protocol.Success("Tasks are being paused.")
	}
	return protocol.Success("Group is being paused.")
}

// kill forwards a kill command with the requested (or default) signal.
func (d *Dispatcher) kill(msg *protocol.KillRequest) any {
	if response := d.checkGroup(msg.Group); response != nil {
		return response
	}
	signal, err := process.ParseSignal(msg.Signal)
	if err != nil {
		return protocol.Failure("%s", err)
	}
	d.sched.Push(scheduler.Kill{TaskIDs: msg.TaskIDs, Group: msg.Group, All: msg.All, Signal: signal})
	return protocol.Success("Tasks are being killed.")
}

// restart clones finished tasks. In-place restart reuses the id and row;
// otherwise a new task is added. Dependencies are re-armed either way.
func (d *Dispatcher) restart(msg *protocol.RestartRequest) any {
	d.state.Lock()
	defer d.state.Unlock()

	var restarted []int
	for _, id := range msg.TaskIDs {
		t, ok := d.state.Tasks[id]
		if !ok {
			return protocol.Failure("Task %d does not exist.", id)
		}
		if !t.Status.IsDone() {
			return protocol.Failure("Task %d is %s; only finished tasks can be restarted.", id, t.Status)
		}

		if msg.InPlace {
			t.ResetRunState()
			if len(t.Dependencies) > 0 {
				t.Status = task.StatusLocked
			} else {
				t.Status = task.StatusQueued
			}
			t.PrevStatus = t.Status
			restarted = append(restarted, id)
			continue
		}

		status := task.StatusQueued
		if len(t.Dependencies) > 0 {
			status = task.StatusLocked
		}
		envs := make(map[string]string, len(t.Envs))
		for key, value := range t.Envs {
			envs[key] = value
		}
		clone := task.New(t.Command, t.Path, envs, t.Group, status, append([]int(nil), t.Dependencies...), t.Label)
		restarted = append(restarted, d.state.AddTask(clone))
	}

	if err := d.persist(); err != nil {
		return persistFailure()
	}
	logger.Info().Ints("task_ids", restarted).Msg("tasks restarted")
	return protocol.Success("Tasks restarted (ids %v).", restarted)
}

// send forwards stdin bytes to a running task.
func (d *Dispatcher) send(msg *protocol.SendRequest) any {
	d.state.Lock()
	t, ok := d.state.Tasks[msg.TaskID]
	running := ok && t.Status == task.StatusRunning
	d.state.Unlock()

	if !ok {
		return protocol.Failure("Task %d does not exist.", msg.TaskID)
	}
	if !running {
		return protocol.Failure("Task %d is not running.", msg.TaskID)
	}
	d.sched.Push(scheduler.Send{TaskID: msg.TaskID, Input: msg.Input})
	return protocol.Success("Input is being sent to task %d.", msg.TaskID)
}

// reset forwards to the scheduler, which kills everything and clears the
// task list once the children are reaped.
func (d *Dispatcher) reset() any {
	d.sched.Push(scheduler.Reset{})
	return protocol.Success("Everything is being reset.")
}

// checkGroup validates a group selector before it reaches the scheduler.
func (d *Dispatcher) checkGroup(group string) any {
	if group == "" {
		return nil
	}
	d.state.Lock()
	defer d.state.Unlock()
	if _, ok := d.state.Groups[group]; !ok {
		return protocol.Failure("Group %q does not exist.", group)
	}
	return nil
}
