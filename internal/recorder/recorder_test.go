package recorder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderWritesFrames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	r := NewRecorder(dir)

	assert.False(t, r.SendFrame([]byte("ignored")))

	path, err := r.Start()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "recording_"))
	assert.True(t, strings.HasSuffix(path, ".mjpeg"))
	assert.True(t, r.IsRecording())

	_, err = r.Start()
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	frames := [][]byte{{0xFF, 0xD8, 1, 0xFF, 0xD9}, {0xFF, 0xD8, 2, 0xFF, 0xD9}}
	for _, f := range frames {
		require.True(t, r.SendFrame(f))
	}

	stopped, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, path, stopped)
	assert.False(t, r.IsRecording())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, frames[0]...), frames[1]...), data)

	status := r.GetStatus()
	assert.False(t, status.Recording)
	assert.Equal(t, uint64(2), status.FrameCount)
	assert.Equal(t, uint64(len(data)), status.BytesWritten)
	assert.Equal(t, path, status.Filename)
}

func TestRecorderStopWhenIdle(t *testing.T) {
	r := NewRecorder(t.TempDir())
	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.NoError(t, r.Close())
}

func TestRecorderCloseStopsRecording(t *testing.T) {
	r := NewRecorder(t.TempDir())
	_, err := r.Start()
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.False(t, r.IsRecording())
}
