package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTone(t *testing.T) {
	assert.Equal(t, 750.0, DefaultTone.Frequency)
	assert.Equal(t, 300*time.Millisecond, DefaultTone.Duration)
}

func TestToneSinkPublishesAndBlocks(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	var bell bytes.Buffer
	sink := NewToneSink(b, WithBell(&bell))

	var slept time.Duration
	sink.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	ev := Event{UID: 7, Class: "NO-Hardhat", Confidence: 0.9, Workshop: "def", OccurredAt: time.Now()}
	require.NoError(t, sink.Alert(context.Background(), ev))

	assert.Equal(t, 300*time.Millisecond, slept)
	assert.Equal(t, "\a", bell.String())

	select {
	case data := <-ch:
		var payload map[string]any
		require.NoError(t, json.Unmarshal(data, &payload))
		assert.Equal(t, float64(7), payload["uid"])
		assert.Equal(t, "NO-Hardhat", payload["violation_name"])
		assert.Equal(t, float64(750), payload["frequency_hz"])
		assert.Equal(t, float64(300), payload["duration_ms"])
	default:
		t.Fatal("expected alert event")
	}
}

func TestToneSinkWaitsForToneDuration(t *testing.T) {
	sink := NewToneSink(nil, WithTone(Tone{Frequency: 750, Duration: 20 * time.Millisecond}))
	start := time.Now()
	require.NoError(t, sink.Alert(context.Background(), Event{Class: "NO-Mask"}))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestToneSinkCancelled(t *testing.T) {
	sink := NewToneSink(nil, WithTone(Tone{Frequency: 750, Duration: time.Hour}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sink.Alert(ctx, Event{Class: "NO-Mask"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBroadcasterDropsForSlowClients(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe()
	for i := 0; i < 10; i++ {
		b.Publish([]byte{byte(i)})
	}
	assert.Len(t, ch, cap(ch))
	assert.Equal(t, 1, b.Clients())
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	_, late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	assert.Equal(t, 0, b.Clients())
}

func TestSinkFunc(t *testing.T) {
	var got Event
	var s Sink = SinkFunc(func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})
	require.NoError(t, s.Alert(context.Background(), Event{UID: 3}))
	assert.Equal(t, int64(3), got.UID)
}
