package detector

import (
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassTable(t *testing.T) {
	assert.Len(t, ClassNames, 25)

	name, ok := ClassName(5)
	require.True(t, ok)
	assert.Equal(t, ClassMissingHardhat, name)

	name, ok = ClassName(7)
	require.True(t, ok)
	assert.Equal(t, ClassMissingVest, name)

	_, ok = ClassName(25)
	assert.False(t, ok)
	_, ok = ClassName(-1)
	assert.False(t, ok)
}

func TestRoundConfidence(t *testing.T) {
	assert.Equal(t, 0.51, RoundConfidence(0.501))
	assert.Equal(t, 0.5, RoundConfidence(0.5))
	assert.Equal(t, 0.9, RoundConfidence(0.9))
}

func TestHTTPDetectorDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))

		img, err := jpeg.Decode(r.Body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, 64, img.Bounds().Dx())

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"class_id": 5, "confidence": 0.873, "box": []float64{10, 12, 30, 40}},
				{"class_id": 8, "confidence": 0.4, "box": []float64{0, 0, 5, 5}},
			},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(Config{Endpoint: srv.URL + "/"})
	dets, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 48)))
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, ClassMissingHardhat, dets[0].Class)
	assert.Equal(t, 0.88, dets[0].Confidence)
	assert.Equal(t, image.Rect(10, 12, 30, 40), dets[0].Box)
	assert.Equal(t, "Person", dets[1].Class)
}

func TestHTTPDetectorUnknownClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"detections":[{"class_id":99,"confidence":0.9,"box":[0,0,1,1]}]}`))
	}))
	defer srv.Close()

	d := NewHTTPDetector(Config{Endpoint: srv.URL})
	_, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestHTTPDetectorServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDetector(Config{Endpoint: srv.URL})
	_, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}
