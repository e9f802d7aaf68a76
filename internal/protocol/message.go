package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/veyh/pueue/internal/state"
)

// Version tags the wire schema. Peers with a different version are
// rejected during decode.
const Version = 1

// envelope is the self-describing wrapper around every message.
type envelope struct {
	Version int             `json:"version"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Requests

type AddRequest struct {
	Command          string            `json:"command"`
	Path             string            `json:"path"`
	Envs             map[string]string `json:"envs,omitempty"`
	Group            string            `json:"group"`
	Dependencies     []int             `json:"dependencies,omitempty"`
	Label            string            `json:"label,omitempty"`
	Stashed          bool              `json:"stashed,omitempty"`
	EnqueueAt        *time.Time        `json:"enqueue_at,omitempty"`
	StartImmediately bool              `json:"start_immediately,omitempty"`
}

type EnqueueRequest struct {
	TaskIDs       []int      `json:"task_ids"`
	EnqueueAt     *time.Time `json:"enqueue_at,omitempty"`
	IncludeLocked bool       `json:"include_locked,omitempty"`
}

type StashRequest struct {
	TaskIDs []int `json:"task_ids"`
}

type StartRequest struct {
	TaskIDs []int  `json:"task_ids,omitempty"`
	Group   string `json:"group,omitempty"`
	All     bool   `json:"all,omitempty"`
}

type PauseRequest struct {
	TaskIDs []int  `json:"task_ids,omitempty"`
	Group   string `json:"group,omitempty"`
	All     bool   `json:"all,omitempty"`
}

type KillRequest struct {
	TaskIDs []int  `json:"task_ids,omitempty"`
	Group   string `json:"group,omitempty"`
	All     bool   `json:"all,omitempty"`
	Signal  string `json:"signal,omitempty"`
}

type RestartRequest struct {
	TaskIDs []int `json:"task_ids"`
	InPlace bool  `json:"in_place,omitempty"`
}

// EditOpenRequest locks a task for editing and returns its command.
type EditOpenRequest struct {
	TaskID int `json:"task_id"`
}

// EditRequest commits new fields to a task locked for editing.
type EditRequest struct {
	TaskID  int    `json:"task_id"`
	Command string `json:"command"`
	Path    string `json:"path,omitempty"`
	Label   string `json:"label,omitempty"`
}

// EditRestoreRequest cancels editing and restores the previous status.
type EditRestoreRequest struct {
	TaskID int `json:"task_id"`
}

type GroupRequest struct {
	Action   string `json:"action"` // add | remove | list
	Name     string `json:"name,omitempty"`
	Parallel int    `json:"parallel,omitempty"`
}

type ParallelRequest struct {
	Group    string `json:"group"`
	Parallel int    `json:"parallel"`
}

type CleanRequest struct {
	Group          string `json:"group,omitempty"`
	SuccessfulOnly bool   `json:"successful_only,omitempty"`
}

type RemoveRequest struct {
	TaskIDs []int `json:"task_ids"`
}

type SwitchRequest struct {
	TaskID1 int `json:"task_id_1"`
	TaskID2 int `json:"task_id_2"`
}

type SendRequest struct {
	TaskID int    `json:"task_id"`
	Input  []byte `json:"input"`
}

type StatusRequest struct{}

type LogRequest struct {
	TaskIDs []int `json:"task_ids,omitempty"`
	// Limit bounds the returned bytes per stream; 0 means the default.
	Limit int64 `json:"limit,omitempty"`
}

type ResetRequest struct{}

// Responses

type SuccessResponse struct {
	Message string `json:"message"`
}

type FailureResponse struct {
	Message string `json:"message"`
}

type StatusResponse struct {
	State *state.State `json:"state"`
}

type TaskLog struct {
	Stdout []byte `json:"stdout,omitempty"`
	Stderr []byte `json:"stderr,omitempty"`
}

type LogResponse struct {
	Tasks map[int]TaskLog `json:"tasks"`
}

type EditResponse struct {
	TaskID  int    `json:"task_id"`
	Command string `json:"command"`
	Path    string `json:"path"`
	Label   string `json:"label"`
}

type GroupListResponse struct {
	Groups map[string]state.Group `json:"groups"`
}

func messageTag(msg any) (string, error) {
	switch msg.(type) {
	case *AddRequest:
		return "add", nil
	case *EnqueueRequest:
		return "enqueue", nil
	case *StashRequest:
		return "stash", nil
	case *StartRequest:
		return "start", nil
	case *PauseRequest:
		return "pause", nil
	case *KillRequest:
		return "kill", nil
	case *RestartRequest:
		return "restart", nil
	case *EditOpenRequest:
		return "edit_request", nil
	case *EditRequest:
		return "edit", nil
	case *EditRestoreRequest:
		return "edit_restore", nil
	case *GroupRequest:
		return "group", nil
	case *ParallelRequest:
		return "parallel", nil
	case *CleanRequest:
		return "clean", nil
	case *RemoveRequest:
		return "remove", nil
	case *SwitchRequest:
		return "switch", nil
	case *SendRequest:
		return "send", nil
	case *StatusRequest:
		return "status", nil
	case *LogRequest:
		return "log", nil
	case *ResetRequest:
		return "reset", nil
	case *SuccessResponse:
		return "success", nil
	case *FailureResponse:
		return "failure", nil
	case *StatusResponse:
		return "status_response", nil
	case *LogResponse:
		return "log_response", nil
	case *EditResponse:
		return "edit_response", nil
	case *GroupListResponse:
		return "group_list_response", nil
	default:
		return "", fmt.Errorf("unknown message type %T", msg)
	}
}

func newMessage(tag string) (any, error) {
	switch tag {
	case "add":
		return &AddRequest{}, nil
	case "enqueue":
		return &EnqueueRequest{}, nil
	case "stash":
		return &StashRequest{}, nil
	case "start":
		return &StartRequest{}, nil
	case "pause":
		return &PauseRequest{}, nil
	case "kill":
		return &KillRequest{}, nil
	case "restart":
		return &RestartRequest{}, nil
	case "edit_request":
		return &EditOpenRequest{}, nil
	case "edit":
		return &EditRequest{}, nil
	case "edit_restore":
		return &EditRestoreRequest{}, nil
	case "group":
		return &GroupRequest{}, nil
	case "parallel":
		return &ParallelRequest{}, nil
	case "clean":
		return &CleanRequest{}, nil
	case "remove":
		return &RemoveRequest{}, nil
	case "switch":
		return &SwitchRequest{}, nil
	case "send":
		return &SendRequest{}, nil
	case "status":
		return &StatusRequest{}, nil
	case "log":
		return &LogRequest{}, nil
	case "reset":
		return &ResetRequest{}, nil
	case "success":
		return &SuccessResponse{}, nil
	case "failure":
		return &FailureResponse{}, nil
	case "status_response":
		return &StatusResponse{}, nil
	case "log_response":
		return &LogResponse{}, nil
	case "edit_response":
		return &EditResponse{}, nil
	case "group_list_response":
		return &GroupListResponse{}, nil
	default:
		return nil, fmt.Errorf("unknown message tag %q", tag)
	}
}

// Encode serializes a message into its envelope.
func Encode(msg any) ([]byte, error) {
	tag, err := messageTag(msg)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s message: %w", tag, err)
	}
	return json.Marshal(&envelope{Version: Version, Type: tag, Payload: payload})
}

// Decode parses an envelope back into a typed message.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse message envelope: %w", err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("unsupported protocol version %d", env.Version)
	}
	msg, err := newMessage(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("failed to parse %s message: %w", env.Type, err)
		}
	}
	return msg, nil
}

// Success builds a success response.
func Success(format string, args ...any) *SuccessResponse {
	return &SuccessResponse{Message: fmt.Sprintf(format, args...)}
}

// Failure builds a failure response.
func Failure(format string, args ...any) *FailureResponse {
	return &FailureResponse{Message: fmt.Sprintf(format, args...)}
}
