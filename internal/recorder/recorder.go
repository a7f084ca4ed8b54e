// Package recorder writes annotated frames to disk as a motion-JPEG file.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder records annotated JPEG frames to file
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	dropped      atomic.Uint64
	startTime    time.Time
	stopTime     time.Time
	frameChan    chan []byte
	done         chan struct{}
	wg           sync.WaitGroup
}

// NewRecorder creates a new recorder
func NewRecorder(basePath string) *Recorder {
	return &Recorder{
		basePath:  basePath,
		frameChan: make(chan []byte, 30), // Buffer ~3 seconds at 10 fps
	}
}

// Start starts recording to a new file and returns its path
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recordings dir: %w", err)
	}

	// Generate filename with timestamp
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("recording_%s.mjpeg", timestamp)
	path := filepath.Join(r.basePath, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	// Initialize state
	r.file = file
	r.filename = path
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped.Store(0)
	r.startTime = time.Now()
	r.stopTime = time.Time{}
	r.done = make(chan struct{})

	// Start recorder goroutine
	r.wg.Add(1)
	go r.writeFrames(r.done)

	logger.Info("Recorder", "Recording to %s", path)
	return path, nil
}

// Stop stops recording and returns the path of the finished file
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	r.stopTime = time.Now()
	close(r.done)
	r.mu.Unlock()

	// Wait for write goroutine to drain
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.filename
	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			return path, fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return path, fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
	}

	logger.Info("Recorder", "Stopped %s (%d frames, %d bytes, %d dropped)", path, r.frameCount, r.bytesWritten, r.dropped.Load())
	return path, nil
}

// SendFrame queues a JPEG frame (non-blocking). It returns false when not
// recording or when the queue is full.
func (r *Recorder) SendFrame(jpeg []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}

	select {
	case r.frameChan <- jpeg:
		return true
	default:
		// Channel full, drop frame
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) writeFrames(done <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case frame := <-r.frameChan:
			r.writeFrame(frame)
		case <-done:
			// Drain remaining frames
			for {
				select {
				case frame := <-r.frameChan:
					r.writeFrame(frame)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}

	n, err := r.file.Write(frame)
	r.bytesWritten += uint64(n)
	if err != nil {
		logger.Warn("Recorder", "Write failed: %v", err)
		return
	}
	r.frameCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	switch {
	case r.recording:
		duration = time.Since(r.startTime)
	case !r.stopTime.IsZero():
		duration = r.stopTime.Sub(r.startTime)
	}

	return RecordingStatus{
		Recording:     r.recording,
		Filename:      r.filename,
		FrameCount:    r.frameCount,
		BytesWritten:  r.bytesWritten,
		FramesDropped: r.dropped.Load(),
		DurationMs:    duration.Milliseconds(),
		StartTime:     r.startTime,
	}
}

// Close stops an active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording     bool      `json:"recording"`
	Filename      string    `json:"filename"`
	FrameCount    uint64    `json:"frame_count"`
	BytesWritten  uint64    `json:"bytes_written"`
	FramesDropped uint64    `json:"frames_dropped"`
	DurationMs    int64     `json:"duration_ms"`
	StartTime     time.Time `json:"start_time"`
}
