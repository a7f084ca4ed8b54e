package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesRead            atomic.Uint64
	FramesProcessed       atomic.Uint64
	StreamFramesSent      atomic.Uint64
	RecorderFramesSent    atomic.Uint64
	RecorderFramesDropped atomic.Uint64

	// Detection counters
	Detections atomic.Uint64
	Violations atomic.Uint64
	Alerts     atomic.Uint64

	// Error counters
	ReadErrors    atomic.Uint64
	DetectErrors  atomic.Uint64
	ProcessErrors atomic.Uint64 // store, alert and encode failures

	// Latency tracking
	FrameLatencyMs   atomic.Uint64 // Capture to publish latency of the last frame
	ProcessLatencyMs atomic.Uint64 // Detect + record + annotate time of the last frame

	// Run state
	RunActive       atomic.Uint64 // 0 = idle, 1 = detection running
	RunsStarted     atomic.Uint64
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active

	violationsByClass *prometheus.CounterVec
	detectDuration    prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		violationsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safety_violations_by_class_total",
				Help: "Violations recorded per detection class",
			},
			[]string{"class"},
		),
		detectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "safety_detect_duration_seconds",
			Help:    "Round trip time of detection requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name  string
		help  string
		value *atomic.Uint64
	}{
		{"safety_frames_read_total", "Total frames read from the frame source", &m.FramesRead},
		{"safety_frames_processed_total", "Total frames run through detection", &m.FramesProcessed},
		{"safety_stream_frames_sent_total", "Total annotated frames published to the MJPEG stream", &m.StreamFramesSent},
		{"safety_recorder_frames_sent_total", "Total frames queued for recording", &m.RecorderFramesSent},
		{"safety_recorder_frames_dropped_total", "Total frames dropped by the recorder", &m.RecorderFramesDropped},
		{"safety_detections_total", "Total boxes returned by the detector", &m.Detections},
		{"safety_violations_total", "Total violations recorded", &m.Violations},
		{"safety_alerts_total", "Total alerts raised", &m.Alerts},
		{"safety_read_errors_total", "Total frame source errors", &m.ReadErrors},
		{"safety_detect_errors_total", "Total detector errors", &m.DetectErrors},
		{"safety_process_errors_total", "Total violation recording and alert errors", &m.ProcessErrors},
		{"safety_frame_latency_ms", "Frame latency from capture to publish in milliseconds", &m.FrameLatencyMs},
		{"safety_process_latency_ms", "Frame processing latency in milliseconds", &m.ProcessLatencyMs},
		{"safety_run_active", "Detection run active (0=idle, 1=running)", &m.RunActive},
		{"safety_runs_started_total", "Total detection runs started", &m.RunsStarted},
		{"safety_recording_active", "Recording active (0=inactive, 1=active)", &m.RecordingActive},
	}

	for _, g := range gauges {
		value := g.value
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(value.Load()) },
		))
	}

	m.registry.MustRegister(m.violationsByClass, m.detectDuration)
}

// ObserveViolation counts a recorded violation of the given class
func (m *Metrics) ObserveViolation(class string) {
	m.Violations.Add(1)
	m.violationsByClass.WithLabelValues(class).Inc()
}

// ObserveDetect records the duration of one detector call
func (m *Metrics) ObserveDetect(d time.Duration) {
	m.detectDuration.Observe(d.Seconds())
}

// UpdateFrameLatency updates the frame latency
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	latency := time.Since(captureTime).Milliseconds()
	m.FrameLatencyMs.Store(uint64(latency))
}

// UpdateProcessLatency updates the processing latency
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// SetFlag stores 1 for true and 0 for false
func SetFlag(v *atomic.Uint64, on bool) {
	if on {
		v.Store(1)
		return
	}
	v.Store(0)
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
