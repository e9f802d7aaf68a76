package daemon

import (
	"errors"

	"github.com/veyh/pueue/internal/protocol"
	"github.com/veyh/pueue/internal/state"
	"github.com/veyh/pueue/internal/task"
)

// group handles add/remove/list of groups.
func (d *Dispatcher) group(msg *protocol.GroupRequest) any {
	d.state.Lock()
	defer d.state.Unlock()

	switch msg.Action {
	case "add":
		parallel := msg.Parallel
		if parallel == 0 {
			parallel = 1
		}
		if err := d.state.AddGroup(msg.Name, parallel); err != nil {
			return protocol.Failure("Failed to add group %q: %s", msg.Name, err)
		}
		if err := d.persist(); err != nil {
			return persistFailure()
		}
		return protocol.Success("Group %q created.", msg.Name)

	case "remove":
		if err := d.state.RemoveGroup(msg.Name); err != nil {
			switch {
			case errors.Is(err, state.ErrGroupNotEmpty):
				return protocol.Failure("Group %q still contains tasks.", msg.Name)
			case errors.Is(err, task.ErrGroupNotFound):
				return protocol.Failure("Group %q does not exist.", msg.Name)
			default:
				return protocol.Failure("Failed to remove group %q: %s", msg.Name, err)
			}
		}
		if err := d.persist(); err != nil {
			return persistFailure()
		}
		return protocol.Success("Group %q removed.", msg.Name)

	case "list", "":
		groups := make(map[string]state.Group, len(d.state.Groups))
		for name, g := range d.state.Groups {
			groups[name] = *g
		}
		return &protocol.GroupListResponse{Groups: groups}

	default:
		return protocol.Failure("Unknown group action %q.", msg.Action)
	}
}

// parallel sets a group's slot limit. The new limit applies on the next
// scheduler tick; running tasks above the limit finish by attrition.
func (d *Dispatcher) parallel(msg *protocol.ParallelRequest) any {
	group := msg.Group
	if group == "" {
		group = state.DefaultGroup
	}

	d.state.Lock()
	defer d.state.Unlock()

	if err := d.state.SetParallel(group, msg.Parallel); err != nil {
		if errors.Is(err, state.ErrInvalidParallel) {
			return protocol.Failure("Parallel limit must be at least 1.")
		}
		return protocol.Failure("Group %q does not exist.", group)
	}
	if err := d.persist(); err != nil {
		return persistFailure()
	}
	return protocol.Success("Group %q now runs %d parallel tasks.", group, msg.Parallel)
}
