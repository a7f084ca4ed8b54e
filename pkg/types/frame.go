package types

import (
	"image"
	"image/draw"
	"time"
)

// Frame represents one decoded raster frame with metadata
type Frame struct {
	Image     *image.RGBA // Decoded pixels; owned by the receiver
	Timestamp time.Time   // Frame capture timestamp
	Number    uint64      // Sequential frame number, starting at 1
	Width     int         // Frame width
	Height    int         // Frame height
}

// NewFrame wraps a decoded image, converting it to RGBA when needed.
func NewFrame(img image.Image, number uint64, ts time.Time) *Frame {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	b := rgba.Bounds()
	return &Frame{
		Image:     rgba,
		Timestamp: ts,
		Number:    number,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
}

// SourceKind selects where frames come from
type SourceKind string

const (
	SourceCamera SourceKind = "camera"
	SourceFile   SourceKind = "file"
)

// StreamConfig holds configuration for frame acquisition
type StreamConfig struct {
	FFmpegPath  string // ffmpeg binary used to decode cameras and uploads
	DeviceIndex int    // Camera index, 0 maps to /dev/video0
	FPS         int    // Camera capture frame rate (0 keeps the device default)
	Width       int    // Camera capture width
	Height      int    // Camera capture height
	Quality     int    // ffmpeg -q:v for the intermediate MJPEG
}
