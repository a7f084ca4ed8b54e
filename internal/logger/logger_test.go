package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"none":    SILENT,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Pipeline", "frame %d", 1)
	assert.Empty(t, buf.String())

	l.Warn("Pipeline", "slow frame %d", 2)
	out := buf.String()
	assert.Contains(t, out, "slow frame 2")
	assert.Contains(t, out, "module=Pipeline")
}

func TestLoggerSilent(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	l.Error("Store", "boom")
	assert.Empty(t, buf.String())
	assert.Equal(t, SILENT, l.GetLevel())

	l.SetLevel(DEBUG)
	assert.Equal(t, DEBUG, l.GetLevel())
	l.Debug("Store", "visible")
	assert.Contains(t, buf.String(), "visible")
}
