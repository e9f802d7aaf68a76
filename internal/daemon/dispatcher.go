package daemon

import (
	"github.com/veyh/pueue/internal/config"
	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/protocol"
	"github.com/veyh/pueue/internal/scheduler"
	"github.com/veyh/pueue/internal/state"
)

// Dispatcher routes one decoded request to its handler. Handlers mutate
// state under the state lock, persist, and build the response; commands
// touching children are forwarded to the scheduler's mailbox.
type Dispatcher struct {
	state *state.State
	sched *scheduler.Scheduler
	cfg   *config.Config
}

func NewDispatcher(st *state.State, sched *scheduler.Scheduler, cfg *config.Config) *Dispatcher {
	return &Dispatcher{state: st, sched: sched, cfg: cfg}
}

// Dispatch maps each request type to exactly one handler.
func (d *Dispatcher) Dispatch(request any) any {
	switch msg := request.(type) {
	case *protocol.AddRequest:
		return d.add(msg)
	case *protocol.EnqueueRequest:
		return d.enqueue(msg)
	case *protocol.StashRequest:
		return d.stash(msg)
	case *protocol.StartRequest:
		return d.start(msg)
	case *protocol.PauseRequest:
		return d.pause(msg)
	case *protocol.KillRequest:
		return d.kill(msg)
	case *protocol.RestartRequest:
		return d.restart(msg)
	case *protocol.EditOpenRequest:
		return d.editOpen(msg)
	case *protocol.EditRequest:
		return d.edit(msg)
	case *protocol.EditRestoreRequest:
		return d.editRestore(msg)
	case *protocol.GroupRequest:
		return d.group(msg)
	case *protocol.ParallelRequest:
		return d.parallel(msg)
	case *protocol.CleanRequest:
		return d.clean(msg)
	case *protocol.RemoveRequest:
		return d.remove(msg)
	case *protocol.SwitchRequest:
		return d.switchTasks(msg)
	case *protocol.SendRequest:
		return d.send(msg)
	case *protocol.StatusRequest:
		return d.status()
	case *protocol.LogRequest:
		return d.log(msg)
	case *protocol.ResetRequest:
		return d.reset()
	default:
		return protocol.Failure("unsupported request type")
	}
}

// persist saves the state after a successful mutation; callers hold the
// state lock. The mutation stays in memory even if the save fails.
func (d *Dispatcher) persist() error {
	if err := d.state.Save(d.cfg.Shared.PueueDirectory); err != nil {
		logger.Error().Err(err).Msg("failed to save state")
		return err
	}
	return nil
}

// persistFailure is the uniform client response for snapshot failures.
func persistFailure() *protocol.FailureResponse {
	return protocol.Failure("Failed to save state. This is a bug.")
}
