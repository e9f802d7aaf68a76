package protocol

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello pueue")

	require.NoError(t, WriteFrame(&buf, payload))
	read, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, read)
}

func TestFrame_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))
	read, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, read)
}

func TestReadFrame_RejectsOversizedFrames(t *testing.T) {
	var buf bytes.Buffer
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], MaxFrameSize+1)
	buf.Write(header[:])

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		message any
	}{
		{"add", &AddRequest{
			Command:      "echo hello",
			Path:         "/tmp",
			Group:        "default",
			Dependencies: []int{1, 2},
			EnqueueAt:    &at,
		}},
		{"kill", &KillRequest{TaskIDs: []int{3}, Signal: "sigterm"}},
		{"status", &StatusRequest{}},
		{"send", &SendRequest{TaskID: 1, Input: []byte("y\n")}},
		{"success", Success("done")},
		{"failure", Failure("task %d does not exist", 9)},
		{"log_response", &LogResponse{Tasks: map[int]TaskLog{0: {Stdout: []byte("out")}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.message)
			require.NoError(t, err)
			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.message, decoded)
		})
	}
}

func TestDecode_UnknownTag(t *testing.T) {
	_, err := Decode([]byte(`{"version": 1, "type": "bogus"}`))
	assert.Error(t, err)
}

func TestDecode_WrongVersion(t *testing.T) {
	_, err := Decode([]byte(`{"version": 99, "type": "status"}`))
	assert.Error(t, err)
}

func TestEncode_UnknownType(t *testing.T) {
	_, err := Encode(struct{}{})
	assert.Error(t, err)
}

func TestHandshake_Success(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	secret := []byte("super-secret")
	errCh := make(chan error, 1)
	go func() {
		errCh <- VerifyPeer(server, secret)
	}()

	require.NoError(t, Authenticate(client, secret))
	require.NoError(t, <-errCh)
}

func TestHandshake_Mismatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() {
		err := VerifyPeer(server, []byte("right"))
		// The daemon closes without replying on mismatch.
		server.Close()
		errCh <- err
	}()

	assert.Error(t, Authenticate(client, []byte("wrong")))
	assert.ErrorIs(t, <-errCh, ErrHandshakeFailed)
}
