package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/ppe-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/ppe-safety-monitor/internal/violation"
)

const historySize = 8

// Monitor aggregates pipeline statistics for the status API.
type Monitor struct {
	classifier violation.Classifier
	now        func() time.Time

	mu               sync.Mutex
	framesProcessed  uint64
	violations       uint64
	detectionVersion int
	latestDetection  *DetectionResult
	detectionHistory []DetectionResult

	fpsWindowStart time.Time
	fpsWindowCount int
	currentFPS     float64
}

// NewMonitor creates an empty Monitor. classifier marks which reported
// detections are violations.
func NewMonitor(classifier violation.Classifier) *Monitor {
	return &Monitor{
		classifier: classifier,
		now:        time.Now,
	}
}

// ObserveFrame records one processed frame.
func (m *Monitor) ObserveFrame(rep pipeline.FrameReport) {
	result := resultFromReport(rep, m.classifier)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.framesProcessed++
	m.violations += uint64(len(rep.Violations))
	m.updateFPSLocked()

	m.detectionVersion++
	result.Version = m.detectionVersion
	m.latestDetection = &result
	if result.NumDetections > 0 {
		m.detectionHistory = append([]DetectionResult{result}, m.detectionHistory...)
		if len(m.detectionHistory) > historySize {
			m.detectionHistory = m.detectionHistory[:historySize]
		}
	}
}

// updateFPSLocked measures throughput over one-second windows.
func (m *Monitor) updateFPSLocked() {
	now := m.now()
	if m.fpsWindowStart.IsZero() {
		m.fpsWindowStart = now
	}
	m.fpsWindowCount++
	if elapsed := now.Sub(m.fpsWindowStart); elapsed >= time.Second {
		m.currentFPS = float64(m.fpsWindowCount) / elapsed.Seconds()
		m.fpsWindowStart = now
		m.fpsWindowCount = 0
	}
}

// Snapshot returns the current stats, latest detection and history (newest first).
func (m *Monitor) Snapshot() (MonitorStats, *DetectionResult, []DetectionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesProcessed: m.framesProcessed,
		CurrentFPS:      m.currentFPS,
		ViolationCount:  m.violations,
	}

	var latest *DetectionResult
	if m.latestDetection != nil {
		copied := *m.latestDetection
		latest = &copied
		stats.DetectionCount = copied.NumDetections
	}

	historyCopy := make([]DetectionResult, len(m.detectionHistory))
	copy(historyCopy, m.detectionHistory)

	return stats, latest, historyCopy
}
