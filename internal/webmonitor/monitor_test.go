package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/ppe-safety-monitor/internal/detector"
	"github.com/dj-oyu/ppe-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/ppe-safety-monitor/internal/store"
	"github.com/dj-oyu/ppe-safety-monitor/internal/violation"
)

func report(n uint64, dets []detector.Detection, uids ...int64) pipeline.FrameReport {
	rep := pipeline.FrameReport{
		Number:     n,
		Timestamp:  time.Unix(1700000000, 0),
		Width:      64,
		Height:     48,
		Detections: dets,
	}
	for _, uid := range uids {
		rep.Violations = append(rep.Violations, store.Violation{UID: uid, Class: "NO-Hardhat"})
	}
	return rep
}

func hardhat(conf float64) detector.Detection {
	return detector.Detection{
		Box:        image.Rect(10, 20, 40, 60),
		ClassID:    2,
		Class:      "NO-Hardhat",
		Confidence: conf,
	}
}

func TestMonitorObserveFrame(t *testing.T) {
	m := NewMonitor(violation.DefaultClassifier())

	m.ObserveFrame(report(1, nil))
	m.ObserveFrame(report(2, []detector.Detection{hardhat(0.9), hardhat(0.3)}, 11))

	stats, latest, history := m.Snapshot()
	assert.Equal(t, uint64(2), stats.FramesProcessed)
	assert.Equal(t, uint64(1), stats.ViolationCount)
	assert.Equal(t, 2, stats.DetectionCount)

	require.NotNil(t, latest)
	assert.Equal(t, uint64(2), latest.FrameNumber)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, []int64{11}, latest.ViolationUIDs)
	require.Len(t, latest.Detections, 2)
	assert.True(t, latest.Detections[0].Violation)
	assert.False(t, latest.Detections[1].Violation)
	assert.Equal(t, BoundingBox{X: 10, Y: 20, W: 30, H: 40}, latest.Detections[0].BBox)

	// frames without detections stay out of the history
	require.Len(t, history, 1)
	assert.Equal(t, uint64(2), history[0].FrameNumber)
}

func TestMonitorHistoryIsCapped(t *testing.T) {
	m := NewMonitor(violation.DefaultClassifier())
	for i := 1; i <= historySize+3; i++ {
		m.ObserveFrame(report(uint64(i), []detector.Detection{hardhat(0.8)}))
	}

	_, _, history := m.Snapshot()
	require.Len(t, history, historySize)
	assert.Equal(t, uint64(historySize+3), history[0].FrameNumber)
}

func TestMonitorFPS(t *testing.T) {
	m := NewMonitor(violation.DefaultClassifier())
	now := time.Unix(0, 0)
	m.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		m.ObserveFrame(report(uint64(i+1), nil))
		now = now.Add(100 * time.Millisecond)
	}
	m.ObserveFrame(report(11, nil))

	stats, _, _ := m.Snapshot()
	assert.InDelta(t, 11.0, stats.CurrentFPS, 0.01)
}

func TestDetectionBroadcasterEncodesBothFormats(t *testing.T) {
	b := NewDetectionBroadcaster(violation.DefaultClassifier())
	defer b.Stop()

	// no subscribers, nothing serialized
	b.ObserveFrame(report(1, []detector.Detection{hardhat(0.9)}, 5))

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	b.ObserveFrame(report(2, nil))
	b.ObserveFrame(report(3, []detector.Detection{hardhat(0.9)}, 5))

	var ev *SerializedEvent
	select {
	case ev = <-ch:
	case <-time.After(time.Second):
		t.Fatal("no detection event")
	}

	var payload map[string]any
	require.NoError(t, json.Unmarshal(ev.JSONData, &payload))
	assert.Equal(t, float64(3), payload["frame_number"])
	assert.Equal(t, []any{float64(5)}, payload["violation_uids"])

	raw, err := base64.StdEncoding.DecodeString(string(ev.ProtobufData))
	require.NoError(t, err)
	st := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(raw, st))
	assert.Equal(t, float64(3), st.Fields["frame_number"].GetNumberValue())
	dets := st.Fields["detections"].GetListValue().GetValues()
	require.Len(t, dets, 1)
	assert.Equal(t, "NO-Hardhat", dets[0].GetStructValue().Fields["class_name"].GetStringValue())

	select {
	case extra := <-ch:
		t.Fatalf("unexpected event: %s", extra.JSONData)
	default:
	}
}

func TestFrameBroadcasterReplaysLatest(t *testing.T) {
	fb := NewFrameBroadcaster()
	defer fb.Stop()

	// nothing published yet, nothing replayed
	_, empty := fb.Subscribe()
	assert.Len(t, empty, 0)

	fb.Publish([]byte("frame-1"))
	assert.Equal(t, []byte("frame-1"), <-empty)

	id, ch := fb.Subscribe()
	assert.Equal(t, 2, fb.Clients())
	assert.Equal(t, []byte("frame-1"), <-ch)

	fb.Publish([]byte("frame-2"))
	assert.Equal(t, []byte("frame-2"), <-ch)

	fb.Unsubscribe(id)
	assert.Equal(t, 1, fb.Clients())
	_, open := <-ch
	assert.False(t, open)
}

func TestStatusBroadcasterTicks(t *testing.T) {
	sb := NewStatusBroadcaster(func() any { return map[string]any{"ok": true} }, 10*time.Millisecond)
	id, ch := sb.Subscribe()
	sb.Start()
	defer sb.Stop()
	defer sb.Unsubscribe(id)

	select {
	case ev := <-ch:
		assert.JSONEq(t, `{"ok":true}`, string(ev.JSONData))
	case <-time.After(2 * time.Second):
		t.Fatal("no status event")
	}
}
