// Package detector wraps the pre-trained PPE object-detection model.
//
// The model itself is opaque: it runs behind an HTTP inference service and
// this package only encodes frames for it and decodes its boxes.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// ErrUnknownClass is returned when the model reports a class id outside the label table.
var ErrUnknownClass = errors.New("unknown detection class")

// Detection is one bounding box returned by the model for a frame.
type Detection struct {
	Box        image.Rectangle
	ClassID    int
	Class      string
	Confidence float64
}

// Detector runs object detection on a single frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Config configures the HTTP inference client.
type Config struct {
	Endpoint    string
	Timeout     time.Duration
	JPEGQuality int
}

// DefaultConfig returns the settings used by the bundled YOLO service.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "http://localhost:8081",
		Timeout:     5 * time.Second,
		JPEGQuality: 90,
	}
}

// HTTPDetector posts JPEG frames to a YOLO inference service.
type HTTPDetector struct {
	cfg    Config
	client *http.Client
}

// NewHTTPDetector creates a detector client for the given service.
func NewHTTPDetector(cfg Config) *HTTPDetector {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	return &HTTPDetector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type wireDetection struct {
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"` // x1, y1, x2, y2
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

// Detect sends the frame to the inference service and returns its boxes.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: d.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	url := strings.TrimRight(d.cfg.Endpoint, "/") + "/detect"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}

	return decodeDetections(payload.Detections)
}

func decodeDetections(raw []wireDetection) ([]Detection, error) {
	detections := make([]Detection, 0, len(raw))
	for i, w := range raw {
		name, ok := ClassName(w.ClassID)
		if !ok {
			return nil, fmt.Errorf("detection %d: class id %d: %w", i, w.ClassID, ErrUnknownClass)
		}
		if len(w.Box) != 4 {
			return nil, fmt.Errorf("detection %d: box has %d coordinates, want 4", i, len(w.Box))
		}
		detections = append(detections, Detection{
			Box:        image.Rect(int(w.Box[0]), int(w.Box[1]), int(w.Box[2]), int(w.Box[3])),
			ClassID:    w.ClassID,
			Class:      name,
			Confidence: RoundConfidence(w.Confidence),
		})
	}
	return detections, nil
}

// RoundConfidence rounds a score up to two decimals, the precision the
// violation threshold is applied at.
func RoundConfidence(conf float64) float64 {
	return math.Ceil(conf*100) / 100
}
