package scheduler

import "github.com/veyh/pueue/internal/process"

// Message is a control command forwarded by the dispatcher. The mailbox
// is drained at the start of every tick, before spawn decisions, so new
// pauses and limits apply in the same tick.
type Message interface {
	isMessage()
}

// Start resumes paused tasks or groups and force-spawns queued or stashed
// tasks named by id, bypassing their group's parallel limit.
type Start struct {
	TaskIDs []int
	Group   string
	All     bool
}

// Pause suspends running tasks or whole groups.
type Pause struct {
	TaskIDs []int
	Group   string
	All     bool
}

// Kill signals running tasks, a group's tasks, or everything.
type Kill struct {
	TaskIDs []int
	Group   string
	All     bool
	Signal  process.Signal
}

// Send forwards stdin bytes to one running task.
type Send struct {
	TaskID int
	Input  []byte
}

// Reset kills every child and clears the task list once all children
// are reaped.
type Reset struct{}

func (Start) isMessage() {}
func (Pause) isMessage() {}
func (Kill) isMessage()  {}
func (Send) isMessage()  {}
func (Reset) isMessage() {}

// Push appends a message to the scheduler's unbounded mailbox.
func (s *Scheduler) Push(m Message) {
	s.mailboxMu.Lock()
	s.mailbox = append(s.mailbox, m)
	s.mailboxMu.Unlock()
}

func (s *Scheduler) drain() []Message {
	s.mailboxMu.Lock()
	defer s.mailboxMu.Unlock()
	msgs := s.mailbox
	s.mailbox = nil
	return msgs
}
