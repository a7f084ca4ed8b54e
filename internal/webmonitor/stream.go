package webmonitor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
)

const (
	mjpegIdleInterval = 5 * time.Second
	sseKeepalive      = 30 * time.Second
)

// blankJPEG renders the placeholder shown while no run is producing frames.
func blankJPEG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))

	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := 640 / len(colors)
	for i, c := range colors {
		bar := image.Rect(i*barWidth, 0, (i+1)*barWidth, 480)
		draw.Draw(img, bar, image.NewUniform(c), image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// streamMJPEGFromChannel streams MJPEG from a channel (fanout pattern).
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte, blank []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	idle := time.NewTimer(0)
	defer idle.Stop()

	for {
		var jpegData []byte
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				// Channel closed, client should disconnect
				return
			}
			jpegData = data
		case <-idle.C:
			// No frame for a while, send blank to keep connection alive
			jpegData = blank
		}
		idle.Reset(mjpegIdleInterval)

		// Write frame with error checking - if client disconnected, exit immediately
		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}

// streamEventsFromChannel streams pre-serialized events to an SSE client.
// Data is already serialized in both formats by the broadcaster.
func streamEventsFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, useProtobuf bool) {
	format := "application/json"
	if useProtobuf {
		format = "application/protobuf"
	}
	streamSSE(ctx, w, format, eventCh, func(event *SerializedEvent) []byte {
		if useProtobuf {
			return event.ProtobufData
		}
		return event.JSONData
	})
}

// streamSSE writes every value received on ch as one SSE event, with
// keepalive comments in between. It returns when ch is closed, the client
// goes away or ctx is done.
func streamSSE[T any](ctx context.Context, w http.ResponseWriter, format string, ch <-chan T, encode func(T) []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Format", format)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				// Channel closed, client should disconnect
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", encode(v)); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			// Send keepalive comment to prevent timeout
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
