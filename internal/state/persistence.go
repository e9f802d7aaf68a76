package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/task"
)

const (
	// snapshotVersion tags the on-disk schema. Bump on incompatible
	// changes to the serialized layout.
	snapshotVersion = 1

	stateFileName = "state.json"
)

var ErrUnknownVersion = errors.New("unknown state file version")

// snapshot is the on-disk representation of State.
type snapshot struct {
	Version int                `json:"version"`
	NextID  int                `json:"next_id"`
	Groups  map[string]*Group  `json:"groups"`
	Tasks   map[int]*task.Task `json:"tasks"`
}

// StateFile returns the snapshot path under the pueue directory.
func StateFile(dir string) string {
	return filepath.Join(dir, stateFileName)
}

// Save writes a snapshot of the state to dir atomically via a temp file
// and rename. Running and paused tasks are serialized as queued so a
// restart after a crash re-enqueues in-flight work; editing tasks revert
// to their previous status. The caller must hold the state lock.
func (s *State) Save(dir string) error {
	snap := snapshot{
		Version: snapshotVersion,
		NextID:  s.NextID,
		Groups:  make(map[string]*Group, len(s.Groups)),
		Tasks:   make(map[int]*task.Task, len(s.Tasks)),
	}
	for name, g := range s.Groups {
		group := *g
		snap.Groups[name] = &group
	}
	for id, t := range s.Tasks {
		clone := t.Clone()
		switch clone.Status {
		case task.StatusRunning, task.StatusPaused:
			clone.Status = task.StatusQueued
		case task.StatusEditing:
			clone.Status = clone.PrevStatus
		}
		snap.Tasks[id] = clone
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	path := StateFile(dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Restore reads the most recent snapshot from dir. A missing file yields
// a fresh state. The default group is (re)created with defaultParallel if
// the snapshot lacks it.
func Restore(dir string, defaultParallel int) (*State, error) {
	data, err := os.ReadFile(StateFile(dir))
	if os.IsNotExist(err) {
		logger.Info().Str("dir", dir).Msg("no previous state found, starting fresh")
		return New(defaultParallel), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, snap.Version)
	}

	st := &State{
		Tasks:  snap.Tasks,
		Groups: snap.Groups,
		NextID: snap.NextID,
	}
	if st.Tasks == nil {
		st.Tasks = make(map[int]*task.Task)
	}
	if st.Groups == nil {
		st.Groups = make(map[string]*Group)
	}
	if _, ok := st.Groups[DefaultGroup]; !ok {
		st.Groups[DefaultGroup] = &Group{Parallel: defaultParallel, Status: GroupRunning}
	}

	// Snapshots never contain running or paused tasks, but guard against
	// hand-edited files.
	for _, t := range st.Tasks {
		if t.Status.IsActive() {
			t.Status = task.StatusQueued
		}
	}

	logger.Info().
		Int("tasks", len(st.Tasks)).
		Int("groups", len(st.Groups)).
		Msg("state restored")
	return st, nil
}
