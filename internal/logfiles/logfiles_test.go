package logfiles

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSinks_TruncatesPreviousOutput(t *testing.T) {
	dir := t.TempDir()

	stdout, stderr, err := CreateSinks(dir, 0)
	require.NoError(t, err)
	_, err = stdout.WriteString("first run\n")
	require.NoError(t, err)
	stdout.Close()
	stderr.Close()

	// Opening the sinks again simulates a task restart.
	stdout, stderr, err = CreateSinks(dir, 0)
	require.NoError(t, err)
	_, err = stdout.WriteString("second run\n")
	require.NoError(t, err)
	stdout.Close()
	stderr.Close()

	out, _, err := Tail(dir, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "second run\n", string(out))
}

func TestTail_BoundsTheRead(t *testing.T) {
	dir := t.TempDir()

	stdout, stderr, err := CreateSinks(dir, 3)
	require.NoError(t, err)
	defer stderr.Close()
	_, err = stdout.Write(bytes.Repeat([]byte("x"), 1000))
	require.NoError(t, err)
	_, err = stdout.WriteString("tail")
	require.NoError(t, err)
	stdout.Close()

	out, _, err := Tail(dir, 3, 10)
	require.NoError(t, err)
	assert.Len(t, out, 10)
	assert.Equal(t, "xxxxxxtail", string(out))
}

func TestTail_MissingFilesReadEmpty(t *testing.T) {
	out, errOut, err := Tail(t.TempDir(), 42, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, errOut)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()

	stdout, stderr, err := CreateSinks(dir, 1)
	require.NoError(t, err)
	stdout.Close()
	stderr.Close()

	require.NoError(t, Remove(dir, 1))
	_, err = os.Stat(StdoutPath(dir, 1))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(StderrPath(dir, 1))
	assert.True(t, os.IsNotExist(err))

	// Removing twice is fine.
	assert.NoError(t, Remove(dir, 1))
}
