//go:build !windows

package scheduler

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyh/pueue/internal/config"
	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/process"
	"github.com/veyh/pueue/internal/state"
	"github.com/veyh/pueue/internal/task"
)

func init() {
	logger.Init("error", false)
}

func newTestScheduler(t *testing.T, defaultParallel int) (*Scheduler, *state.State) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Shared.PueueDirectory = t.TempDir()
	cfg.Daemon.DefaultParallelTasks = defaultParallel
	require.NoError(t, cfg.Shared.EnsureDirectories())

	st := state.New(defaultParallel)
	sup := process.New(cfg.Shared.LogDir())
	return New(st, sup, cfg), st
}

func addTask(st *state.State, command string, status task.Status, deps ...int) int {
	st.Lock()
	defer st.Unlock()
	return st.AddTask(task.New(command, "", nil, state.DefaultGroup, status, deps, ""))
}

// advance ticks the scheduler until the condition holds (under the state
// lock) or the deadline passes.
func advance(t *testing.T, s *Scheduler, st *state.State, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.tick()
		st.Lock()
		ok := cond()
		st.Unlock()
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition was not reached in time")
}

func statusOf(st *state.State, id int) task.Status {
	st.Lock()
	defer st.Unlock()
	return st.Tasks[id].Status
}

func resultOf(st *state.State, id int) *task.Result {
	st.Lock()
	defer st.Unlock()
	return st.Tasks[id].Result
}

func allDone(st *state.State, ids ...int) func() bool {
	return func() bool {
		for _, id := range ids {
			if !st.Tasks[id].Status.IsDone() {
				return false
			}
		}
		return true
	}
}

func TestScheduler_FIFOWithinGroup(t *testing.T) {
	s, st := newTestScheduler(t, 2)
	a := addTask(st, "sleep 0.3", task.StatusQueued)
	b := addTask(st, "sleep 0.3", task.StatusQueued)
	c := addTask(st, "sleep 0.3", task.StatusQueued)

	// The two free slots go to the lowest ids; the third task waits.
	s.tick()
	assert.Equal(t, task.StatusRunning, statusOf(st, a))
	assert.Equal(t, task.StatusRunning, statusOf(st, b))
	assert.Equal(t, task.StatusQueued, statusOf(st, c))

	advance(t, s, st, allDone(st, a, b, c))
	for _, id := range []int{a, b, c} {
		result := resultOf(st, id)
		require.NotNil(t, result)
		assert.Equal(t, task.ResultSuccess, *result)
	}
}

func TestScheduler_DependencySuccess(t *testing.T) {
	s, st := newTestScheduler(t, 2)
	x := addTask(st, "true", task.StatusQueued)
	y := addTask(st, "true", task.StatusLocked, x)

	advance(t, s, st, allDone(st, x, y))
	assert.Equal(t, task.ResultSuccess, *resultOf(st, y))

	// The dependent only started after its dependency finished.
	st.Lock()
	defer st.Unlock()
	require.NotNil(t, st.Tasks[y].StartedAt)
	assert.False(t, st.Tasks[y].StartedAt.Before(*st.Tasks[x].CompletedAt))
}

func TestScheduler_DependencyFailurePropagates(t *testing.T) {
	s, st := newTestScheduler(t, 2)
	x := addTask(st, "false", task.StatusQueued)
	y := addTask(st, "true", task.StatusLocked, x)

	advance(t, s, st, allDone(st, x, y))
	assert.Equal(t, task.ResultFailed, *resultOf(st, x))
	assert.Equal(t, task.ResultDependencyFailed, *resultOf(st, y))

	// The dependent never spawned.
	st.Lock()
	defer st.Unlock()
	assert.Nil(t, st.Tasks[y].StartedAt)
}

func TestScheduler_DependencyOnRemovedTask(t *testing.T) {
	s, st := newTestScheduler(t, 1)
	y := addTask(st, "true", task.StatusLocked, 42)

	advance(t, s, st, allDone(st, y))
	assert.Equal(t, task.ResultDependencyFailed, *resultOf(st, y))
}

func TestScheduler_ScheduledStart(t *testing.T) {
	s, st := newTestScheduler(t, 1)
	id := addTask(st, "true", task.StatusStashed)
	at := time.Now().Add(250 * time.Millisecond)
	st.Lock()
	st.Tasks[id].EnqueueAt = &at
	st.Unlock()

	// Before the enqueue time the task stays stashed.
	s.tick()
	assert.Equal(t, task.StatusStashed, statusOf(st, id))

	advance(t, s, st, allDone(st, id))
	assert.Equal(t, task.ResultSuccess, *resultOf(st, id))
	assert.False(t, time.Now().Before(at))
}

func TestScheduler_ParallelLimitChange(t *testing.T) {
	s, st := newTestScheduler(t, 1)
	ids := []int{
		addTask(st, "sleep 60", task.StatusQueued),
		addTask(st, "sleep 60", task.StatusQueued),
		addTask(st, "sleep 60", task.StatusQueued),
	}

	s.tick()
	assert.Equal(t, task.StatusRunning, statusOf(st, ids[0]))
	assert.Equal(t, task.StatusQueued, statusOf(st, ids[1]))

	st.Lock()
	require.NoError(t, st.SetParallel(state.DefaultGroup, 3))
	st.Unlock()

	// One tick is enough to fill the new slots.
	s.tick()
	for _, id := range ids {
		assert.Equal(t, task.StatusRunning, statusOf(st, id))
	}

	s.Push(Kill{All: true, Signal: process.DefaultSignal})
	advance(t, s, st, allDone(st, ids...))
}

func TestScheduler_PauseAndKill(t *testing.T) {
	s, st := newTestScheduler(t, 1)
	id := addTask(st, "sleep 60", task.StatusQueued)

	advance(t, s, st, func() bool { return st.Tasks[id].Status == task.StatusRunning })

	s.Push(Pause{Group: state.DefaultGroup})
	s.tick()
	assert.Equal(t, task.StatusPaused, statusOf(st, id))
	st.Lock()
	assert.Equal(t, state.GroupPaused, st.Groups[state.DefaultGroup].Status)
	st.Unlock()

	// Killing a paused task resumes it so the signal is delivered.
	s.Push(Kill{TaskIDs: []int{id}, Signal: process.DefaultSignal})
	advance(t, s, st, allDone(st, id))
	assert.Equal(t, task.ResultKilled, *resultOf(st, id))
}

func TestScheduler_PausedGroupBlocksSpawns(t *testing.T) {
	s, st := newTestScheduler(t, 2)
	st.Lock()
	require.NoError(t, st.SetGroupStatus(state.DefaultGroup, state.GroupPaused))
	st.Unlock()

	id := addTask(st, "true", task.StatusQueued)
	for i := 0; i < 3; i++ {
		s.tick()
	}
	assert.Equal(t, task.StatusQueued, statusOf(st, id))

	// Resuming the group lets it spawn.
	s.Push(Start{Group: state.DefaultGroup})
	advance(t, s, st, allDone(st, id))
}

func TestScheduler_StartImmediatelyBypassesLimit(t *testing.T) {
	s, st := newTestScheduler(t, 1)
	first := addTask(st, "sleep 60", task.StatusQueued)
	second := addTask(st, "sleep 60", task.StatusQueued)

	s.tick()
	assert.Equal(t, task.StatusRunning, statusOf(st, first))
	assert.Equal(t, task.StatusQueued, statusOf(st, second))

	// An explicit start grants a temporary extra slot; the limit itself
	// is unchanged.
	s.Push(Start{TaskIDs: []int{second}})
	s.tick()
	assert.Equal(t, task.StatusRunning, statusOf(st, second))
	st.Lock()
	assert.Equal(t, 1, st.Groups[state.DefaultGroup].Parallel)
	assert.Equal(t, 2, st.ActiveInGroup(state.DefaultGroup))
	st.Unlock()

	s.Push(Kill{All: true, Signal: process.DefaultSignal})
	advance(t, s, st, allDone(st, first, second))
}

func TestScheduler_EditingTaskIsNotSpawned(t *testing.T) {
	s, st := newTestScheduler(t, 2)
	id := addTask(st, "true", task.StatusQueued)
	st.Lock()
	st.Tasks[id].PrevStatus = task.StatusQueued
	st.Tasks[id].Status = task.StatusEditing
	st.Unlock()

	for i := 0; i < 3; i++ {
		s.tick()
	}
	assert.Equal(t, task.StatusEditing, statusOf(st, id))
	st.Lock()
	assert.Nil(t, st.Tasks[id].StartedAt)
	st.Unlock()
}

func TestScheduler_FailedSpawn(t *testing.T) {
	s, st := newTestScheduler(t, 1)
	st.Lock()
	id := st.AddTask(task.New("true", "/does/not/exist", nil, state.DefaultGroup, task.StatusQueued, nil, ""))
	st.Unlock()

	advance(t, s, st, allDone(st, id))
	result := resultOf(st, id)
	assert.Equal(t, task.ResultFailedToSpawn, *result)
	st.Lock()
	assert.NotEmpty(t, st.Tasks[id].SpawnError)
	st.Unlock()
}

func TestScheduler_Reset(t *testing.T) {
	s, st := newTestScheduler(t, 2)
	addTask(st, "sleep 60", task.StatusQueued)
	addTask(st, "sleep 60", task.StatusQueued)
	addTask(st, "true", task.StatusStashed)

	advance(t, s, st, func() bool { return st.ActiveInGroup(state.DefaultGroup) == 2 })

	s.Push(Reset{})
	advance(t, s, st, func() bool { return len(st.Tasks) == 0 })

	// Groups and their limits survive a reset.
	st.Lock()
	defer st.Unlock()
	assert.Contains(t, st.Groups, state.DefaultGroup)
	assert.Equal(t, 2, st.Groups[state.DefaultGroup].Parallel)
}

func TestScheduler_SnapshotNeverContainsRunning(t *testing.T) {
	s, st := newTestScheduler(t, 1)
	id := addTask(st, "sleep 60", task.StatusQueued)

	advance(t, s, st, func() bool { return st.Tasks[id].Status == task.StatusRunning })

	// The snapshot written by the scheduler demotes the running task, so
	// a crashed daemon re-enqueues it on restart.
	restored, err := state.Restore(s.cfg.Shared.PueueDirectory, 1)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, restored.Tasks[id].Status)

	s.Push(Kill{All: true, Signal: process.DefaultSignal})
	advance(t, s, st, allDone(st, id))
}

func TestScheduler_Callback(t *testing.T) {
	s, st := newTestScheduler(t, 1)
	marker := t.TempDir() + "/callback-out"
	s.cfg.Daemon.Callback = fmt.Sprintf("echo {id}:{result_code}:{exit_code} > %s", marker)

	id := addTask(st, "true", task.StatusQueued)
	advance(t, s, st, allDone(st, id))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(marker); err == nil {
			assert.Equal(t, fmt.Sprintf("%d:success:0\n", id), string(data))
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("callback never wrote its marker file")
}

func TestScheduler_SendStdin(t *testing.T) {
	s, st := newTestScheduler(t, 1)
	id := addTask(st, "read line; echo \"$line\"", task.StatusQueued)

	advance(t, s, st, func() bool { return st.Tasks[id].Status == task.StatusRunning })

	s.Push(Send{TaskID: id, Input: []byte("hello\n")})
	advance(t, s, st, allDone(st, id))
	assert.Equal(t, task.ResultSuccess, *resultOf(st, id))
}
