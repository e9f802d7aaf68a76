package scheduler

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veyh/pueue/internal/config"
	"github.com/veyh/pueue/internal/logfiles"
	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/metrics"
	"github.com/veyh/pueue/internal/process"
	"github.com/veyh/pueue/internal/state"
	"github.com/veyh/pueue/internal/task"
)

const (
	// tickInterval is the scheduler's cooperative loop period.
	tickInterval = 200 * time.Millisecond

	// shutdownGrace bounds how long shutdown waits for killed children
	// to be reaped.
	shutdownGrace = 2 * time.Second
)

// Scheduler is the single loop that starts eligible tasks, reaps
// children, and applies control messages. All state access happens under
// the state lock within one tick.
type Scheduler struct {
	state *state.State
	sup   *process.Supervisor
	cfg   *config.Config
	log   zerolog.Logger

	mailboxMu sync.Mutex
	mailbox   []Message

	// resetting is set by a Reset message; the task list is cleared once
	// every child has been reaped.
	resetting bool
}

func New(st *state.State, sup *process.Supervisor, cfg *config.Config) *Scheduler {
	return &Scheduler{
		state: st,
		sup:   sup,
		cfg:   cfg,
		log:   logger.WithComponent("scheduler"),
	}
}

// Run drives the tick loop until the context is cancelled, then performs
// a graceful shutdown: kill all children, wait briefly for reaps, persist.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.log.Info().Dur("tick", tickInterval).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one scheduler iteration under the state lock.
func (s *Scheduler) tick() {
	started := time.Now()

	s.state.Lock()
	defer s.state.Unlock()

	changed := false
	for _, m := range s.drain() {
		if s.handleMessage(m) {
			changed = true
		}
	}
	if s.enqueueDueTasks() {
		changed = true
	}
	if s.resolveDependencies() {
		changed = true
	}
	if s.spawnEligible() {
		changed = true
	}
	if s.reapFinished() {
		changed = true
	}
	if s.finishReset() {
		changed = true
	}

	if changed {
		s.persist()
	}
	s.updateGauges()
	metrics.TickDuration.Observe(time.Since(started).Seconds())
}

// enqueueDueTasks promotes stashed tasks whose enqueue time has passed.
func (s *Scheduler) enqueueDueTasks() bool {
	changed := false
	now := time.Now()
	for _, id := range s.state.TaskIDs() {
		t := s.state.Tasks[id]
		if t.Status != task.StatusStashed || t.EnqueueAt == nil {
			continue
		}
		if now.Before(*t.EnqueueAt) {
			continue
		}
		// Tasks with dependencies go back behind the dependency gate.
		if len(t.Dependencies) > 0 {
			t.Status = task.StatusLocked
		} else {
			t.Status = task.StatusQueued
		}
		t.EnqueueAt = nil
		changed = true
		logger.WithTask(id).Info().Msg("stashed task is due, enqueueing")
	}
	return changed
}

// resolveDependencies promotes locked tasks whose dependencies all
// succeeded and fails those with a failed or removed dependency.
func (s *Scheduler) resolveDependencies() bool {
	changed := false
	for _, id := range s.state.TaskIDs() {
		t := s.state.Tasks[id]
		if t.Status != task.StatusLocked {
			continue
		}

		ready := true
		failed := false
		for _, depID := range t.Dependencies {
			dep, ok := s.state.Tasks[depID]
			if !ok {
				failed = true
				break
			}
			if !dep.Status.IsDone() {
				ready = false
				continue
			}
			if !dep.Succeeded() {
				failed = true
				break
			}
		}

		switch {
		case failed:
			s.finishTask(t, task.ResultDependencyFailed, nil)
			changed = true
		case ready:
			t.Status = task.StatusQueued
			changed = true
		}
	}
	return changed
}

// spawnEligible fills each running group's free slots with its queued
// tasks in ascending id order.
func (s *Scheduler) spawnEligible() bool {
	changed := false

	groups := make([]string, 0, len(s.state.Groups))
	for name := range s.state.Groups {
		groups = append(groups, name)
	}
	sort.Strings(groups)

	for _, name := range groups {
		group := s.state.Groups[name]
		if group.Status != state.GroupRunning {
			continue
		}
		free := group.Parallel - s.state.ActiveInGroup(name)
		if free <= 0 {
			continue
		}
		for _, id := range s.state.TaskIDs() {
			if free == 0 {
				break
			}
			t := s.state.Tasks[id]
			if t.Group != name || t.Status != task.StatusQueued {
				continue
			}
			s.spawn(t)
			free--
			changed = true
		}
	}
	return changed
}

// spawn hands one task to the supervisor and records the outcome.
func (s *Scheduler) spawn(t *task.Task) {
	if err := s.sup.Spawn(t); err != nil {
		logger.WithTask(t.ID).Warn().Err(err).Msg("failed to spawn task")
		t.FailedToSpawn(err.Error())
		s.notifyFinished(t)
		return
	}
	t.Start()
	metrics.SpawnedTasks.Inc()
	logger.WithTask(t.ID).Info().Str("group", t.Group).Msg("task started")
}

// reapFinished folds supervisor exits back into task state.
func (s *Scheduler) reapFinished() bool {
	changed := false
	for _, exit := range s.sup.PollFinished() {
		t, ok := s.state.Tasks[exit.TaskID]
		if !ok || !t.Status.IsActive() {
			// The row is gone (reset/remove) or was already rewritten.
			continue
		}
		switch {
		case exit.Signaled:
			s.finishTask(t, task.ResultKilled, &exit.ExitCode)
		case exit.ExitCode == 0:
			s.finishTask(t, task.ResultSuccess, &exit.ExitCode)
		default:
			s.finishTask(t, task.ResultFailed, &exit.ExitCode)
		}
		changed = true
	}
	return changed
}

// finishTask transitions a task to done, updates metrics, and fires the
// completion callback.
func (s *Scheduler) finishTask(t *task.Task, result task.Result, exitCode *int) {
	if exitCode != nil {
		t.FinishWithExit(result, *exitCode)
	} else {
		t.Finish(result)
	}
	s.notifyFinished(t)
	logger.WithTask(t.ID).Info().
		Str("result", result.String()).
		Msg("task finished")
}

func (s *Scheduler) notifyFinished(t *task.Task) {
	metrics.TasksCompleted.WithLabelValues(t.Group, t.Result.String()).Inc()
	s.runCallback(t)
}

// runCallback spawns the configured completion callback, if any, as a
// fire-and-forget child.
func (s *Scheduler) runCallback(t *task.Task) {
	template := s.cfg.Daemon.Callback
	if template == "" {
		return
	}
	exitCode := ""
	if t.ExitCode != nil {
		exitCode = strconv.Itoa(*t.ExitCode)
	}
	command := strings.NewReplacer(
		"{id}", strconv.Itoa(t.ID),
		"{command}", t.Command,
		"{group}", t.Group,
		"{result_code}", t.Result.String(),
		"{exit_code}", exitCode,
	).Replace(template)

	if err := process.RunDetached(command); err != nil {
		logger.WithTask(t.ID).Warn().Err(err).Msg("failed to start callback")
	}
}

// finishReset clears the task list once a reset has no children left.
func (s *Scheduler) finishReset() bool {
	if !s.resetting {
		return false
	}
	if len(s.sup.RunningIDs()) > 0 {
		return false
	}
	for _, id := range s.state.TaskIDs() {
		if err := logfiles.Remove(s.cfg.Shared.LogDir(), id); err != nil {
			logger.WithTask(id).Warn().Err(err).Msg("failed to remove logs during reset")
		}
	}
	s.state.Tasks = make(map[int]*task.Task)
	s.resetting = false
	s.log.Info().Msg("reset complete")
	return true
}

// persist saves a snapshot; failures are logged and otherwise ignored.
func (s *Scheduler) persist() {
	if err := s.state.Save(s.cfg.Shared.PueueDirectory); err != nil {
		s.log.Error().Err(err).Msg("failed to save state")
	}
}

func (s *Scheduler) updateGauges() {
	for name := range s.state.Groups {
		running := 0
		for _, t := range s.state.Tasks {
			if t.Group == name && t.Status == task.StatusRunning {
				running++
			}
		}
		metrics.RunningTasks.WithLabelValues(name).Set(float64(running))
	}
}

// shutdown terminates all children, waits briefly for reaps, and writes
// a final snapshot.
func (s *Scheduler) shutdown() {
	s.log.Info().Msg("shutting down, killing children")

	s.state.Lock()
	for _, id := range s.sup.RunningIDs() {
		if t, ok := s.state.Tasks[id]; ok && t.Status == task.StatusPaused {
			_ = s.sup.Resume(id)
		}
		if err := s.sup.Signal(id, process.DefaultSignal); err != nil {
			logger.WithTask(id).Warn().Err(err).Msg("failed to signal child on shutdown")
		}
	}
	s.state.Unlock()

	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) && len(s.sup.RunningIDs()) > 0 {
		time.Sleep(50 * time.Millisecond)
	}

	s.state.Lock()
	s.reapFinished()
	s.persist()
	s.state.Unlock()
	s.log.Info().Msg("scheduler stopped")
}
