package daemon

import (
	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/metrics"
	"github.com/veyh/pueue/internal/protocol"
	"github.com/veyh/pueue/internal/scheduler"
	"github.com/veyh/pueue/internal/state"
	"github.com/veyh/pueue/internal/task"
)

// add validates and inserts a new task. The initial status follows from
// the inputs: stashed (optionally with an enqueue time), locked behind
// dependencies, or plain queued.
func (d *Dispatcher) add(msg *protocol.AddRequest) any {
	if msg.Command == "" {
		return protocol.Failure("Cannot add a task with an empty command.")
	}

	group := msg.Group
	if group == "" {
		group = state.DefaultGroup
	}

	d.state.Lock()
	defer d.state.Unlock()

	if _, ok := d.state.Groups[group]; !ok {
		return protocol.Failure("Group %q does not exist.", group)
	}
	if response := d.validateDependencies(msg.Dependencies); response != nil {
		return response
	}

	status := task.StatusQueued
	switch {
	case msg.Stashed || msg.EnqueueAt != nil:
		status = task.StatusStashed
	case len(msg.Dependencies) > 0:
		status = task.StatusLocked
	}

	t := task.New(msg.Command, msg.Path, msg.Envs, group, status, msg.Dependencies, msg.Label)
	t.EnqueueAt = msg.EnqueueAt
	id := d.state.AddTask(t)

	if err := d.persist(); err != nil {
		return persistFailure()
	}
	metrics.TasksAdded.WithLabelValues(group).Inc()
	logger.WithTask(id).Info().
		Str("group", group).
		Str("status", status.String()).
		Msg("task added")

	if msg.StartImmediately {
		d.sched.Push(scheduler.Start{TaskIDs: []int{id}})
	}
	return protocol.Success("New task added (id %d).", id)
}

// validateDependencies checks that every dependency exists and that the
// dependency graph stays acyclic. Returns a failure response or nil.
func (d *Dispatcher) validateDependencies(deps []int) any {
	for _, dep := range deps {
		if _, ok := d.state.Tasks[dep]; !ok {
			return protocol.Failure("Dependency %d does not exist.", dep)
		}
	}
	if hasCycle(d.state, deps) {
		return protocol.Failure("The dependencies would form a cycle.")
	}
	return nil
}

// hasCycle walks the dependency graph reachable from roots by DFS. The id
// space already indexes tasks, so a visited set over ids suffices.
func hasCycle(st *state.State, roots []int) bool {
	const (
		visiting = 1
		done     = 2
	)
	marks := make(map[int]int)

	var visit func(id int) bool
	visit = func(id int) bool {
		switch marks[id] {
		case visiting:
			return true
		case done:
			return false
		}
		marks[id] = visiting
		if t, ok := st.Tasks[id]; ok {
			for _, dep := range t.Dependencies {
				if visit(dep) {
					return true
				}
			}
		}
		marks[id] = done
		return false
	}

	for _, root := range roots {
		if visit(root) {
			return true
		}
	}
	return false
}
