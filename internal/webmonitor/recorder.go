package webmonitor

import (
	"errors"
	"net/http"

	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
	"github.com/dj-oyu/ppe-safety-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-safety-monitor/internal/recorder"
)

// recordingPayload is the JSON body of the recording endpoints.
func recordingPayload(st recorder.RecordingStatus) map[string]any {
	var filename any
	if st.Filename != "" {
		filename = st.Filename
	}
	return map[string]any{
		"recording":      st.Recording,
		"filename":       filename,
		"frame_count":    st.FrameCount,
		"bytes_written":  st.BytesWritten,
		"frames_dropped": st.FramesDropped,
		"duration_ms":    st.DurationMs,
	}
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.Recorder.Start()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			status = http.StatusConflict
		} else {
			logger.Error("Server", "Start recording: %v", err)
		}
		s.respondAction(w, r, status, nil, err)
		return
	}
	metrics.SetFlag(&s.deps.Metrics.RecordingActive, true)
	logger.Info("Server", "Recording started: %s", path)

	payload := recordingPayload(s.deps.Recorder.GetStatus())
	payload["status"] = "recording"
	s.respondAction(w, r, http.StatusOK, payload, nil)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.Recorder.Stop()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrNotRecording) {
			status = http.StatusConflict
		} else {
			logger.Error("Server", "Stop recording: %v", err)
		}
		s.respondAction(w, r, status, nil, err)
		return
	}
	metrics.SetFlag(&s.deps.Metrics.RecordingActive, false)
	logger.Info("Server", "Recording stopped: %s", path)

	payload := recordingPayload(s.deps.Recorder.GetStatus())
	payload["status"] = "stopped"
	payload["filename"] = path
	s.respondAction(w, r, http.StatusOK, payload, nil)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, recordingPayload(s.deps.Recorder.GetStatus()))
}
