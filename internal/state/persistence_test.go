package state

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/task"
)

func TestRestore_MissingFile(t *testing.T) {
	st, err := Restore(t.TempDir(), 3)
	require.NoError(t, err)
	assert.Empty(t, st.Tasks)
	assert.Equal(t, 3, st.Groups[DefaultGroup].Parallel)
}

func TestSaveRestore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := New(2)
	require.NoError(t, st.AddGroup("build", 4))

	queued := newTask("echo queued", task.StatusQueued)
	st.AddTask(queued)

	done := newTask("true", task.StatusQueued)
	done.Start()
	done.FinishWithExit(task.ResultSuccess, 0)
	st.AddTask(done)

	stashed := newTask("echo later", task.StatusStashed)
	at := time.Now().Add(time.Hour).UTC()
	stashed.EnqueueAt = &at
	st.AddTask(stashed)

	require.NoError(t, st.Save(dir))

	restored, err := Restore(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, st.NextID, restored.NextID)
	assert.Len(t, restored.Tasks, 3)
	assert.Equal(t, 4, restored.Groups["build"].Parallel)

	assert.Equal(t, task.StatusQueued, restored.Tasks[0].Status)
	assert.True(t, restored.Tasks[1].Succeeded())
	require.NotNil(t, restored.Tasks[2].EnqueueAt)
	assert.True(t, at.Equal(*restored.Tasks[2].EnqueueAt))
}

func TestSave_DemotesRunningAndPaused(t *testing.T) {
	dir := t.TempDir()
	st := New(2)

	running := newTask("sleep 60", task.StatusQueued)
	running.Start()
	st.AddTask(running)

	paused := newTask("sleep 60", task.StatusQueued)
	paused.Start()
	paused.Status = task.StatusPaused
	st.AddTask(paused)

	require.NoError(t, st.Save(dir))

	// In-memory statuses are untouched.
	assert.Equal(t, task.StatusRunning, st.Tasks[0].Status)
	assert.Equal(t, task.StatusPaused, st.Tasks[1].Status)

	restored, err := Restore(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, restored.Tasks[0].Status)
	assert.Equal(t, task.StatusQueued, restored.Tasks[1].Status)
	// Runtime fields survive the demotion.
	assert.NotNil(t, restored.Tasks[0].StartedAt)
}

func TestSave_EditingRevertsToPreviousStatus(t *testing.T) {
	dir := t.TempDir()
	st := New(1)

	editing := newTask("echo wip", task.StatusStashed)
	editing.PrevStatus = editing.Status
	editing.Status = task.StatusEditing
	st.AddTask(editing)

	require.NoError(t, st.Save(dir))
	restored, err := Restore(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, task.StatusStashed, restored.Tasks[0].Status)
}

func TestSave_NoTemporaryFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	st := New(1)
	require.NoError(t, st.Save(dir))

	_, err := os.Stat(StateFile(dir))
	require.NoError(t, err)
	_, err = os.Stat(StateFile(dir) + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSave_SnapshotNeverContainsActiveStatus(t *testing.T) {
	dir := t.TempDir()
	st := New(4)
	for i := 0; i < 4; i++ {
		tk := newTask("sleep 60", task.StatusQueued)
		if i%2 == 0 {
			tk.Start()
		}
		st.AddTask(tk)
	}
	require.NoError(t, st.Save(dir))

	data, err := os.ReadFile(StateFile(dir))
	require.NoError(t, err)

	var snap struct {
		Version int `json:"version"`
		Tasks   map[string]struct {
			Status task.Status `json:"status"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 1, snap.Version)
	for id, row := range snap.Tasks {
		assert.False(t, row.Status.IsActive(), "task %s persisted as %s", id, row.Status)
	}
}

func TestRestore_UnknownVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(StateFile(dir), []byte(`{"version": 99}`), 0o644))

	_, err := Restore(dir, 1)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func init() {
	logger.Init("error", false)
}
