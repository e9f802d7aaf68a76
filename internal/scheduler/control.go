package scheduler

import (
	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/process"
	"github.com/veyh/pueue/internal/state"
	"github.com/veyh/pueue/internal/task"
)

// handleMessage applies one control message. Caller holds the state lock.
// Returns true if state changed.
func (s *Scheduler) handleMessage(m Message) bool {
	switch msg := m.(type) {
	case Start:
		return s.handleStart(msg)
	case Pause:
		return s.handlePause(msg)
	case Kill:
		return s.handleKill(msg)
	case Send:
		if err := s.sup.SendStdin(msg.TaskID, msg.Input); err != nil {
			logger.WithTask(msg.TaskID).Warn().Err(err).Msg("failed to forward stdin")
		}
		return false
	case Reset:
		return s.handleReset()
	default:
		s.log.Warn().Msg("unknown control message")
		return false
	}
}

// handleStart resumes paused work or force-spawns specific queued or
// stashed tasks; locked and editing tasks named by id are left as they are.
// Explicitly started tasks bypass their group's parallel limit: they run
// as a temporary extra slot without changing the limit.
func (s *Scheduler) handleStart(msg Start) bool {
	changed := false

	if len(msg.TaskIDs) > 0 {
		for _, id := range msg.TaskIDs {
			t, ok := s.state.Tasks[id]
			if !ok {
				continue
			}
			switch t.Status {
			case task.StatusPaused:
				if err := s.sup.Resume(id); err != nil {
					logger.WithTask(id).Warn().Err(err).Msg("failed to resume task")
					continue
				}
				t.Status = task.StatusRunning
				changed = true
			case task.StatusQueued, task.StatusStashed:
				t.EnqueueAt = nil
				s.spawn(t)
				changed = true
			}
		}
		return changed
	}

	for _, name := range s.targetGroups(msg.Group, msg.All) {
		if s.state.Groups[name].Status != state.GroupRunning {
			s.state.Groups[name].Status = state.GroupRunning
			changed = true
		}
		for _, id := range s.state.TaskIDs() {
			t := s.state.Tasks[id]
			if t.Group != name || t.Status != task.StatusPaused {
				continue
			}
			if err := s.sup.Resume(id); err != nil {
				logger.WithTask(id).Warn().Err(err).Msg("failed to resume task")
				continue
			}
			t.Status = task.StatusRunning
			changed = true
		}
	}
	return changed
}

// handlePause suspends running children. Pausing a group also stops it
// from spawning; pausing single tasks leaves the group running but keeps
// their slots occupied.
func (s *Scheduler) handlePause(msg Pause) bool {
	changed := false

	if len(msg.TaskIDs) > 0 {
		for _, id := range msg.TaskIDs {
			if s.pauseTask(id) {
				changed = true
			}
		}
		return changed
	}

	for _, name := range s.targetGroups(msg.Group, msg.All) {
		if s.state.Groups[name].Status != state.GroupPaused {
			s.state.Groups[name].Status = state.GroupPaused
			changed = true
		}
		for _, id := range s.state.TaskIDs() {
			t := s.state.Tasks[id]
			if t.Group == name && t.Status == task.StatusRunning {
				if s.pauseTask(id) {
					changed = true
				}
			}
		}
	}
	return changed
}

func (s *Scheduler) pauseTask(id int) bool {
	t, ok := s.state.Tasks[id]
	if !ok || t.Status != task.StatusRunning {
		return false
	}
	if err := s.sup.Suspend(id); err != nil {
		logger.WithTask(id).Warn().Err(err).Msg("failed to suspend task")
		return false
	}
	t.Status = task.StatusPaused
	return true
}

// handleKill signals children. Status changes happen at reap time, when
// the terminated child is actually observed.
func (s *Scheduler) handleKill(msg Kill) bool {
	var ids []int
	switch {
	case len(msg.TaskIDs) > 0:
		ids = msg.TaskIDs
	case msg.All:
		ids = s.state.FilterTasks(func(t *task.Task) bool { return t.Status.IsActive() })
	case msg.Group != "":
		ids = s.state.FilterTasks(func(t *task.Task) bool {
			return t.Group == msg.Group && t.Status.IsActive()
		})
	}

	for _, id := range ids {
		t, ok := s.state.Tasks[id]
		if !ok {
			continue
		}
		if err := s.sup.Signal(id, msg.Signal); err != nil {
			logger.WithTask(id).Warn().Err(err).Msg("failed to signal task")
			continue
		}
		// A stopped process only sees the signal once continued.
		if t.Status == task.StatusPaused {
			_ = s.sup.Resume(id)
		}
		logger.WithTask(id).Info().Str("signal", msg.Signal.String()).Msg("task signaled")
	}
	return false
}

// handleReset kills everything; the task list is cleared by finishReset
// once the children are gone.
func (s *Scheduler) handleReset() bool {
	s.resetting = true
	for _, id := range s.sup.RunningIDs() {
		if t, ok := s.state.Tasks[id]; ok && t.Status == task.StatusPaused {
			_ = s.sup.Resume(id)
		}
		if err := s.sup.Signal(id, process.DefaultSignal); err != nil {
			logger.WithTask(id).Warn().Err(err).Msg("failed to signal child during reset")
		}
	}
	s.log.Info().Msg("reset requested")
	return false
}

// targetGroups resolves a group selector into existing group names.
func (s *Scheduler) targetGroups(group string, all bool) []string {
	if all {
		names := make([]string, 0, len(s.state.Groups))
		for name := range s.state.Groups {
			names = append(names, name)
		}
		return names
	}
	if group == "" {
		group = state.DefaultGroup
	}
	if _, ok := s.state.Groups[group]; !ok {
		return nil
	}
	return []string{group}
}
