package webmonitor

import (
	"github.com/dj-oyu/ppe-safety-monitor/internal/detector"
	"github.com/dj-oyu/ppe-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/ppe-safety-monitor/internal/violation"
)

// BoundingBox is the JSON shape of a detection box.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is the JSON shape of one model detection.
type Detection struct {
	ClassName  string      `json:"class_name"`
	ClassID    int         `json:"class_id"`
	Confidence float64     `json:"confidence"`
	Violation  bool        `json:"violation"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionResult is one frame's detections as reported by /api/status.
type DetectionResult struct {
	FrameNumber   uint64      `json:"frame_number"`
	Timestamp     float64     `json:"timestamp"`
	NumDetections int         `json:"num_detections"`
	NumViolations int         `json:"num_violations"`
	Version       int         `json:"version"`
	Detections    []Detection `json:"detections"`
	ViolationUIDs []int64     `json:"violation_uids"`
}

// MonitorStats summarizes pipeline throughput.
type MonitorStats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	CurrentFPS      float64 `json:"current_fps"`
	DetectionCount  int     `json:"detection_count"`
	ViolationCount  uint64  `json:"violation_count"`
}

func convertDetections(dets []detector.Detection, classifier violation.Classifier) []Detection {
	out := make([]Detection, len(dets))
	for i, d := range dets {
		out[i] = Detection{
			ClassName:  d.Class,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			Violation:  classifier.Qualifies(d),
			BBox: BoundingBox{
				X: d.Box.Min.X,
				Y: d.Box.Min.Y,
				W: d.Box.Dx(),
				H: d.Box.Dy(),
			},
		}
	}
	return out
}

func resultFromReport(rep pipeline.FrameReport, classifier violation.Classifier) DetectionResult {
	uids := make([]int64, len(rep.Violations))
	for i, v := range rep.Violations {
		uids[i] = v.UID
	}
	return DetectionResult{
		FrameNumber:   rep.Number,
		Timestamp:     float64(rep.Timestamp.UnixNano()) / 1e9,
		NumDetections: len(rep.Detections),
		NumViolations: len(rep.Violations),
		Detections:    convertDetections(rep.Detections, classifier),
		ViolationUIDs: uids,
	}
}
