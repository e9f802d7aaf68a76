// Package client implements a programmatic client for the pueue daemon.
// Each request opens one connection, authenticates, sends a single
// framed message, and reads the single framed response.
package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/veyh/pueue/internal/config"
	"github.com/veyh/pueue/internal/protocol"
	"github.com/veyh/pueue/internal/state"
)

// Client talks to a pueue daemon over its local socket.
type Client struct {
	shared *config.SharedConfig
	secret []byte
}

// New creates a client from the shared settings section. The shared
// secret is read from the configured secret file.
func New(shared *config.SharedConfig) (*Client, error) {
	secret, err := os.ReadFile(shared.SecretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}
	return &Client{shared: shared, secret: secret}, nil
}

// dial opens and authenticates one connection.
func (c *Client) dial() (net.Conn, error) {
	var conn net.Conn
	var err error

	if c.shared.UseUnixSocket {
		conn, err = net.Dial("unix", c.shared.SocketPath())
	} else {
		addr := net.JoinHostPort(c.shared.Host, fmt.Sprintf("%d", c.shared.Port))
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	if c.shared.TLSCaPath != "" {
		ca, err := os.ReadFile(c.shared.TLSCaPath)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to read TLS CA: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(ca)
		conn = tls.Client(conn, &tls.Config{RootCAs: pool, ServerName: c.shared.Host})
	}

	if err := protocol.Authenticate(conn, c.secret); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Do sends one request and returns the decoded response.
func (c *Client) Do(request any) (any, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	payload, err := protocol.Encode(request)
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(frame)
}

// doSimple runs a request expecting a plain success/failure reply.
func (c *Client) doSimple(request any) (string, error) {
	response, err := c.Do(request)
	if err != nil {
		return "", err
	}
	switch msg := response.(type) {
	case *protocol.SuccessResponse:
		return msg.Message, nil
	case *protocol.FailureResponse:
		return "", fmt.Errorf("%s", msg.Message)
	default:
		return "", fmt.Errorf("unexpected response type %T", response)
	}
}

// Helper methods that provide a cleaner interface

func (c *Client) Add(req *protocol.AddRequest) (string, error) {
	return c.doSimple(req)
}

func (c *Client) Enqueue(req *protocol.EnqueueRequest) (string, error) {
	return c.doSimple(req)
}

func (c *Client) Stash(taskIDs []int) (string, error) {
	return c.doSimple(&protocol.StashRequest{TaskIDs: taskIDs})
}

func (c *Client) Start(req *protocol.StartRequest) (string, error) {
	return c.doSimple(req)
}

func (c *Client) Pause(req *protocol.PauseRequest) (string, error) {
	return c.doSimple(req)
}

func (c *Client) Kill(req *protocol.KillRequest) (string, error) {
	return c.doSimple(req)
}

func (c *Client) Restart(req *protocol.RestartRequest) (string, error) {
	return c.doSimple(req)
}

func (c *Client) Clean(req *protocol.CleanRequest) (string, error) {
	return c.doSimple(req)
}

func (c *Client) Remove(taskIDs []int) (string, error) {
	return c.doSimple(&protocol.RemoveRequest{TaskIDs: taskIDs})
}

func (c *Client) Switch(first, second int) (string, error) {
	return c.doSimple(&protocol.SwitchRequest{TaskID1: first, TaskID2: second})
}

func (c *Client) Send(taskID int, input []byte) (string, error) {
	return c.doSimple(&protocol.SendRequest{TaskID: taskID, Input: input})
}

func (c *Client) Parallel(group string, parallel int) (string, error) {
	return c.doSimple(&protocol.ParallelRequest{Group: group, Parallel: parallel})
}

func (c *Client) Reset() (string, error) {
	return c.doSimple(&protocol.ResetRequest{})
}

// Status fetches a deep copy of the daemon's state.
func (c *Client) Status() (*state.State, error) {
	response, err := c.Do(&protocol.StatusRequest{})
	if err != nil {
		return nil, err
	}
	switch msg := response.(type) {
	case *protocol.StatusResponse:
		return msg.State, nil
	case *protocol.FailureResponse:
		return nil, fmt.Errorf("%s", msg.Message)
	default:
		return nil, fmt.Errorf("unexpected response type %T", response)
	}
}

// Log fetches bounded output tails for the given tasks (all if empty).
func (c *Client) Log(taskIDs []int, limit int64) (map[int]protocol.TaskLog, error) {
	response, err := c.Do(&protocol.LogRequest{TaskIDs: taskIDs, Limit: limit})
	if err != nil {
		return nil, err
	}
	switch msg := response.(type) {
	case *protocol.LogResponse:
		return msg.Tasks, nil
	case *protocol.FailureResponse:
		return nil, fmt.Errorf("%s", msg.Message)
	default:
		return nil, fmt.Errorf("unexpected response type %T", response)
	}
}

// Groups lists the daemon's groups.
func (c *Client) Groups() (map[string]state.Group, error) {
	response, err := c.Do(&protocol.GroupRequest{Action: "list"})
	if err != nil {
		return nil, err
	}
	switch msg := response.(type) {
	case *protocol.GroupListResponse:
		return msg.Groups, nil
	case *protocol.FailureResponse:
		return nil, fmt.Errorf("%s", msg.Message)
	default:
		return nil, fmt.Errorf("unexpected response type %T", response)
	}
}

// GroupAdd creates a group.
func (c *Client) GroupAdd(name string, parallel int) (string, error) {
	return c.doSimple(&protocol.GroupRequest{Action: "add", Name: name, Parallel: parallel})
}

// GroupRemove deletes an empty group.
func (c *Client) GroupRemove(name string) (string, error) {
	return c.doSimple(&protocol.GroupRequest{Action: "remove", Name: name})
}

// EditOpen locks a task for editing and returns its current fields.
func (c *Client) EditOpen(taskID int) (*protocol.EditResponse, error) {
	response, err := c.Do(&protocol.EditOpenRequest{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	switch msg := response.(type) {
	case *protocol.EditResponse:
		return msg, nil
	case *protocol.FailureResponse:
		return nil, fmt.Errorf("%s", msg.Message)
	default:
		return nil, fmt.Errorf("unexpected response type %T", response)
	}
}

// Edit commits new fields to a task previously opened for editing.
func (c *Client) Edit(req *protocol.EditRequest) (string, error) {
	return c.doSimple(req)
}

// EditRestore cancels an edit without applying changes.
func (c *Client) EditRestore(taskID int) (string, error) {
	return c.doSimple(&protocol.EditRestoreRequest{TaskID: taskID})
}
