package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/ppe-safety-monitor/internal/fanout"
	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
	"github.com/dj-oyu/ppe-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/ppe-safety-monitor/internal/violation"
)

// FrameBroadcaster fans annotated JPEG frames out to MJPEG clients.
type FrameBroadcaster struct {
	hub *fanout.Hub[[]byte]

	mu     sync.Mutex
	latest []byte
}

// NewFrameBroadcaster creates an empty frame broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{hub: fanout.New[[]byte]("FrameBroadcaster", 2)}
}

// Subscribe adds a client. The most recent frame, if any, is queued at once.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	latest := fb.latest
	fb.mu.Unlock()
	if latest == nil {
		return fb.hub.Subscribe()
	}
	return fb.hub.Subscribe(latest)
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) { fb.hub.Unsubscribe(id) }

// Publish sends a frame to all clients.
func (fb *FrameBroadcaster) Publish(jpeg []byte) {
	fb.mu.Lock()
	fb.latest = jpeg
	fb.mu.Unlock()
	fb.hub.Broadcast(jpeg)
}

// Clients returns the number of connected clients.
func (fb *FrameBroadcaster) Clients() int { return fb.hub.Clients() }

// Stop disconnects all clients.
func (fb *FrameBroadcaster) Stop() { fb.hub.Close() }

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// serializeEvent encodes payload as JSON and as a protobuf Struct.
func serializeEvent(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	st := &structpb.Struct{}
	if err := protojson.Unmarshal(jsonData, st); err != nil {
		return nil, fmt.Errorf("struct conversion: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// DetectionBroadcaster fans detection events out to SSE clients. It is a
// pipeline observer; frames without detections are not sent.
type DetectionBroadcaster struct {
	hub        *fanout.Hub[*SerializedEvent]
	classifier violation.Classifier
}

// NewDetectionBroadcaster creates a broadcaster for detection events.
func NewDetectionBroadcaster(classifier violation.Classifier) *DetectionBroadcaster {
	return &DetectionBroadcaster{
		hub:        fanout.New[*SerializedEvent]("DetectionBroadcaster", 2),
		classifier: classifier,
	}
}

// Subscribe adds a new client and returns a channel for receiving detection events.
func (db *DetectionBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	return db.hub.Subscribe()
}

// Unsubscribe removes a client.
func (db *DetectionBroadcaster) Unsubscribe(id int) { db.hub.Unsubscribe(id) }

// Clients returns the number of connected clients.
func (db *DetectionBroadcaster) Clients() int { return db.hub.Clients() }

// Stop disconnects all clients.
func (db *DetectionBroadcaster) Stop() { db.hub.Close() }

// ObserveFrame broadcasts the detections of a processed frame.
func (db *DetectionBroadcaster) ObserveFrame(rep pipeline.FrameReport) {
	if len(rep.Detections) == 0 || db.hub.Clients() == 0 {
		return
	}
	result := resultFromReport(rep, db.classifier)
	event, err := serializeEvent(map[string]any{
		"frame_number":   result.FrameNumber,
		"timestamp":      result.Timestamp,
		"detections":     result.Detections,
		"violation_uids": result.ViolationUIDs,
	})
	if err != nil {
		logger.Error("DetectionBroadcaster", "Serialize error: %v", err)
		return
	}
	db.hub.Broadcast(event)
}

// StatusBroadcaster periodically fans status snapshots out to SSE clients.
type StatusBroadcaster struct {
	hub      *fanout.Hub[*SerializedEvent]
	snapshot func() any
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStatusBroadcaster creates a broadcaster sending snapshot() every interval.
func NewStatusBroadcaster(snapshot func() any, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		hub:      fanout.New[*SerializedEvent]("StatusBroadcaster", 2),
		snapshot: snapshot,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving status events.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	return sb.hub.Subscribe()
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) { sb.hub.Unsubscribe(id) }

// Clients returns the number of connected clients.
func (sb *StatusBroadcaster) Clients() int { return sb.hub.Clients() }

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the loop and disconnects all clients.
func (sb *StatusBroadcaster) Stop() {
	sb.stopOnce.Do(func() {
		close(sb.stop)
		sb.hub.Close()
	})
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			if sb.hub.Clients() == 0 {
				continue
			}
			event, err := serializeEvent(sb.snapshot())
			if err != nil {
				logger.Error("StatusBroadcaster", "Serialize error: %v", err)
				continue
			}
			sb.hub.Broadcast(event)
		}
	}
}
