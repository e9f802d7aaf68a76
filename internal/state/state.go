package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/veyh/pueue/internal/task"
)

// DefaultGroup is created on first start and cannot be removed.
const DefaultGroup = "default"

// GroupStatus is the run state of a whole group.
type GroupStatus int

const (
	GroupRunning GroupStatus = iota
	GroupPaused
)

func (s GroupStatus) String() string {
	switch s {
	case GroupRunning:
		return "running"
	case GroupPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Group is a named bucket of tasks sharing one parallelism limit.
type Group struct {
	Parallel int         `json:"parallel"`
	Status   GroupStatus `json:"status"`
}

// Error definitions
var (
	ErrGroupExists     = errors.New("group already exists")
	ErrGroupNotEmpty   = errors.New("group still contains tasks")
	ErrDefaultGroup    = errors.New("the default group cannot be removed")
	ErrInvalidParallel = errors.New("parallel limit must be at least 1")
)

// State is the daemon's single authoritative view of all tasks and groups.
// The embedded mutex guards every field; all methods assume the caller
// holds the lock unless noted otherwise.
type State struct {
	sync.Mutex `json:"-"`

	Tasks  map[int]*task.Task `json:"tasks"`
	Groups map[string]*Group  `json:"groups"`
	NextID int                `json:"next_id"`
}

// New creates an empty state containing only the default group.
func New(defaultParallel int) *State {
	if defaultParallel < 1 {
		defaultParallel = 1
	}
	return &State{
		Tasks: make(map[int]*task.Task),
		Groups: map[string]*Group{
			DefaultGroup: {Parallel: defaultParallel, Status: GroupRunning},
		},
	}
}

// AddTask assigns the next id to the task and inserts it.
func (s *State) AddTask(t *task.Task) int {
	t.ID = s.NextID
	s.NextID++
	s.Tasks[t.ID] = t
	return t.ID
}

// RemoveTask deletes the task row. The id counter is not reused.
func (s *State) RemoveTask(id int) (*task.Task, bool) {
	t, ok := s.Tasks[id]
	if !ok {
		return nil, false
	}
	delete(s.Tasks, id)
	return t, true
}

// AddGroup registers a new group.
func (s *State) AddGroup(name string, parallel int) error {
	if parallel < 1 {
		return ErrInvalidParallel
	}
	if _, ok := s.Groups[name]; ok {
		return ErrGroupExists
	}
	s.Groups[name] = &Group{Parallel: parallel, Status: GroupRunning}
	return nil
}

// RemoveGroup deletes a group. Groups that still contain tasks and the
// default group are rejected.
func (s *State) RemoveGroup(name string) error {
	if name == DefaultGroup {
		return ErrDefaultGroup
	}
	if _, ok := s.Groups[name]; !ok {
		return task.ErrGroupNotFound
	}
	for _, t := range s.Tasks {
		if t.Group == name {
			return ErrGroupNotEmpty
		}
	}
	delete(s.Groups, name)
	return nil
}

// SetGroupStatus flips a group between running and paused.
func (s *State) SetGroupStatus(name string, status GroupStatus) error {
	group, ok := s.Groups[name]
	if !ok {
		return task.ErrGroupNotFound
	}
	group.Status = status
	return nil
}

// SetParallel changes a group's parallel limit.
func (s *State) SetParallel(name string, parallel int) error {
	if parallel < 1 {
		return ErrInvalidParallel
	}
	group, ok := s.Groups[name]
	if !ok {
		return task.ErrGroupNotFound
	}
	group.Parallel = parallel
	return nil
}

// TaskIDs returns all task ids in ascending order for deterministic
// iteration.
func (s *State) TaskIDs() []int {
	ids := make([]int, 0, len(s.Tasks))
	for id := range s.Tasks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ActiveInGroup counts the tasks occupying slots in a group.
func (s *State) ActiveInGroup(group string) int {
	count := 0
	for _, t := range s.Tasks {
		if t.Group == group && t.Status.IsActive() {
			count++
		}
	}
	return count
}

// FilterTasks returns the ids (ascending) of all tasks matching the
// predicate.
func (s *State) FilterTasks(matches func(*task.Task) bool) []int {
	var ids []int
	for _, id := range s.TaskIDs() {
		if matches(s.Tasks[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clone returns a deep copy of the state, detached from the lock.
func (s *State) Clone() *State {
	clone := &State{
		Tasks:  make(map[int]*task.Task, len(s.Tasks)),
		Groups: make(map[string]*Group, len(s.Groups)),
		NextID: s.NextID,
	}
	for id, t := range s.Tasks {
		clone.Tasks[id] = t.Clone()
	}
	for name, g := range s.Groups {
		group := *g
		clone.Groups[name] = &group
	}
	return clone
}

// SwitchTasks swaps the rows of two tasks, patching dependency lists that
// reference either id.
func (s *State) SwitchTasks(first, second int) error {
	a, ok := s.Tasks[first]
	if !ok {
		return fmt.Errorf("%w: %d", task.ErrTaskNotFound, first)
	}
	b, ok := s.Tasks[second]
	if !ok {
		return fmt.Errorf("%w: %d", task.ErrTaskNotFound, second)
	}

	a.ID, b.ID = second, first
	s.Tasks[first], s.Tasks[second] = b, a

	for _, t := range s.Tasks {
		for i, dep := range t.Dependencies {
			switch dep {
			case first:
				t.Dependencies[i] = second
			case second:
				t.Dependencies[i] = first
			}
		}
	}
	return nil
}
