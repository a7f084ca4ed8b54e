// Package violation decides which detections are safety violations and
// records them.
package violation

import "github.com/dj-oyu/ppe-safety-monitor/internal/detector"

// DefaultThreshold is the confidence a detection must exceed to count.
const DefaultThreshold = 0.5

// Classifier selects violating detections.
type Classifier struct {
	Threshold float64
	Classes   map[string]struct{}
}

// DefaultClassifier flags missing hardhats, masks and vests above 0.5.
func DefaultClassifier() Classifier {
	return NewClassifier(DefaultThreshold, detector.ViolationClasses...)
}

// NewClassifier builds a classifier for the given class labels.
func NewClassifier(threshold float64, classes ...string) Classifier {
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	return Classifier{Threshold: threshold, Classes: set}
}

// Qualifies reports whether d is a violation. The threshold is exclusive.
func (c Classifier) Qualifies(d detector.Detection) bool {
	if d.Confidence <= c.Threshold {
		return false
	}
	_, ok := c.Classes[d.Class]
	return ok
}

// Filter returns the qualifying detections in their original order.
func (c Classifier) Filter(dets []detector.Detection) []detector.Detection {
	var out []detector.Detection
	for _, d := range dets {
		if c.Qualifies(d) {
			out = append(out, d)
		}
	}
	return out
}
