// Package webmonitor serves the safety dashboard: the live annotated
// stream, run controls, the violation log and its detail views.
package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dj-oyu/ppe-safety-monitor/internal/alert"
	"github.com/dj-oyu/ppe-safety-monitor/internal/capture"
	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
	"github.com/dj-oyu/ppe-safety-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/ppe-safety-monitor/internal/recorder"
	"github.com/dj-oyu/ppe-safety-monitor/internal/store"
	"github.com/dj-oyu/ppe-safety-monitor/internal/violation"
	"github.com/dj-oyu/ppe-safety-monitor/pkg/types"
)

// LogStore is the read side of the violation store.
type LogStore interface {
	Recent(ctx context.Context, limit int) ([]store.Violation, error)
	Count(ctx context.Context) (int, error)
	Get(ctx context.Context, uid int64) (store.Violation, error)
}

// RunController starts and stops detection runs.
type RunController interface {
	Start(ctx context.Context, spec capture.Spec) error
	Stop() error
	Status() pipeline.RunStatus
}

// Deps are the components the server presents.
type Deps struct {
	Store      LogStore
	Controller RunController
	Recorder   *recorder.Recorder
	Metrics    *metrics.Metrics
	Monitor    *Monitor
	Frames     *FrameBroadcaster
	Detections *DetectionBroadcaster
	Alerts     *alert.Broadcaster

	// BaseContext bounds detection runs started over HTTP. Defaults to context.Background.
	BaseContext context.Context
	// CameraDevice is the camera index used for source=camera when the request names none.
	CameraDevice int
}

// Server serves the dashboard endpoints.
type Server struct {
	cfg    Config
	deps   Deps
	status *StatusBroadcaster
	blank  []byte
}

// NewServer returns a configured dashboard server. Close releases its
// background broadcasters.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	cfg = cfg.withDefaults()
	if deps.Store == nil || deps.Controller == nil {
		return nil, errors.New("webmonitor: store and controller are required")
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewRecorder(cfg.RecordingOutputPath)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Monitor == nil {
		deps.Monitor = NewMonitor(violation.DefaultClassifier())
	}
	if deps.Frames == nil {
		deps.Frames = NewFrameBroadcaster()
	}
	if deps.Detections == nil {
		deps.Detections = NewDetectionBroadcaster(violation.DefaultClassifier())
	}
	if deps.Alerts == nil {
		deps.Alerts = alert.NewBroadcaster()
	}

	blank, err := blankJPEG()
	if err != nil {
		return nil, fmt.Errorf("render placeholder frame: %w", err)
	}

	s := &Server{cfg: cfg, deps: deps, blank: blank}
	s.status = NewStatusBroadcaster(func() any { return s.statusPayload() }, cfg.StatusInterval)
	s.status.Start()
	return s, nil
}

// Close stops the broadcasters and disconnects streaming clients.
func (s *Server) Close() {
	s.status.Stop()
	s.deps.Frames.Stop()
	s.deps.Detections.Stop()
	s.deps.Alerts.Close()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Handle("/assets/*", http.StripPrefix("/assets/", newAssetHandler()))
	r.Get("/stream", s.handleStream)
	r.Get("/violations/{uid}/image", s.handleViolationImage)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/detection/start", s.handleDetectionStart)
		r.Post("/detection/stop", s.handleDetectionStop)
		r.Get("/status", s.handleStatus)
		r.Get("/status/stream", s.handleStatusStream)
		r.Get("/detections/stream", s.handleDetectionsStream)
		r.Get("/alerts/stream", s.handleAlertsStream)
		r.Get("/violations", s.handleViolations)
		r.Get("/violations/{uid}", s.handleViolation)
		r.Post("/recording/start", s.handleRecordingStart)
		r.Post("/recording/stop", s.handleRecordingStop)
		r.Get("/recording/status", s.handleRecordingStatus)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Debug("HTTP", "%s %s -> %d (%d bytes, %s) [%s]",
				r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start), middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state, err := ParseViewState(query)
	if err != nil {
		s.renderDetail(w, http.StatusBadRequest, detailPage{
			Title:   s.cfg.Title,
			Message: "Invalid log id.",
			BackURL: state.URL(query),
		})
		return
	}

	switch state.Kind {
	case DetailView:
		s.renderViolationDetail(w, r, state, query)
	default:
		s.renderLogList(w, r, query)
	}
}

func (s *Server) renderLogList(w http.ResponseWriter, r *http.Request, query url.Values) {
	ctx := r.Context()
	recent, err := s.deps.Store.Recent(ctx, s.cfg.LogPageSize)
	if err != nil {
		logger.Error("Server", "List violations: %v", err)
		http.Error(w, "failed to load logs", http.StatusInternalServerError)
		return
	}
	total, err := s.deps.Store.Count(ctx)
	if err != nil {
		logger.Error("Server", "Count violations: %v", err)
		http.Error(w, "failed to load logs", http.StatusInternalServerError)
		return
	}

	list := ViewState{Kind: ListView}
	rows := make([]logRow, len(recent))
	for i, v := range recent {
		rows[i] = toLogRow(v)
		rows[i].ViewURL = list.Apply(SelectLog{ID: v.UID}).URL(withoutNotice(query))
	}

	page := listPage{
		Title:     s.cfg.Title,
		Notice:    query.Get("notice"),
		Logs:      rows,
		Total:     total,
		PageSize:  s.cfg.LogPageSize,
		Run:       s.deps.Controller.Status(),
		Recording: s.deps.Recorder.GetStatus(),
	}

	var buf bytes.Buffer
	if err := renderList(&buf, page); err != nil {
		logger.Error("Server", "Render list: %v", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) renderViolationDetail(w http.ResponseWriter, r *http.Request, state ViewState, query url.Values) {
	page := detailPage{
		Title:   s.cfg.Title,
		BackURL: state.Apply(Back{}).URL(query),
	}

	v, err := s.deps.Store.Get(r.Context(), state.LogID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		page.Message = "Violation log not found."
		s.renderDetail(w, http.StatusNotFound, page)
		return
	case err != nil:
		logger.Error("Server", "Get violation %d: %v", state.LogID, err)
		http.Error(w, "failed to load log", http.StatusInternalServerError)
		return
	}

	page.Found = true
	page.Record = toLogRow(v)
	page.ImageURL = fmt.Sprintf("/violations/%d/image", v.UID)
	s.renderDetail(w, http.StatusOK, page)
}

func (s *Server) renderDetail(w http.ResponseWriter, status int, page detailPage) {
	var buf bytes.Buffer
	if err := renderDetail(&buf, page); err != nil {
		logger.Error("Server", "Render detail: %v", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func toLogRow(v store.Violation) logRow {
	return logRow{
		UID:      v.UID,
		Time:     v.OccurredAt.Local().Format(timeLayout),
		Class:    v.Class,
		Workshop: v.Workshop,
	}
}

func withoutNotice(q url.Values) url.Values {
	out := url.Values{}
	for k, v := range q {
		if k != "notice" {
			out[k] = v
		}
	}
	return out
}

func (s *Server) handleViolationImage(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "uid"), 10, 64)
	if err != nil {
		http.Error(w, ErrInvalidLogID.Error(), http.StatusBadRequest)
		return
	}
	v, err := s.deps.Store.Get(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) || (err == nil && len(v.Image) == 0) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logger.Error("Server", "Get violation image %d: %v", uid, err)
		http.Error(w, "failed to load image", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(v.Image)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = w.Write(v.Image)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.deps.Frames.Subscribe()
	defer s.deps.Frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh, s.blank)
}

func (s *Server) handleDetectionStart(w http.ResponseWriter, r *http.Request) {
	spec, err := s.parseSourceSpec(w, r)
	if err != nil {
		s.respondAction(w, r, http.StatusBadRequest, nil, err)
		return
	}

	err = s.deps.Controller.Start(s.deps.BaseContext, spec)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		s.respondAction(w, r, http.StatusConflict, nil, err)
	case errors.Is(err, capture.ErrEmptyUpload):
		s.respondAction(w, r, http.StatusBadRequest, nil, err)
	case err != nil:
		logger.Error("Server", "Start detection: %v", err)
		s.respondAction(w, r, http.StatusInternalServerError, nil, err)
	default:
		s.respondAction(w, r, http.StatusOK, map[string]any{
			"status": "started",
			"run":    s.deps.Controller.Status(),
		}, nil)
	}
}

func (s *Server) handleDetectionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Controller.Stop(); err != nil {
		s.respondAction(w, r, http.StatusConflict, nil, err)
		return
	}
	s.respondAction(w, r, http.StatusOK, map[string]any{
		"status": "stopped",
		"run":    s.deps.Controller.Status(),
	}, nil)
}

// parseSourceSpec reads source=camera|file, an optional device index and
// the multipart "video" upload.
func (s *Server) parseSourceSpec(w http.ResponseWriter, r *http.Request) (capture.Spec, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return capture.Spec{}, fmt.Errorf("parse upload: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return capture.Spec{}, fmt.Errorf("parse form: %w", err)
	}

	spec := capture.Spec{DeviceIndex: s.deps.CameraDevice}
	switch strings.ToLower(r.FormValue("source")) {
	case "", string(types.SourceCamera):
		spec.Kind = types.SourceCamera
		if raw := r.FormValue("device"); raw != "" {
			idx, err := strconv.Atoi(raw)
			if err != nil {
				return capture.Spec{}, fmt.Errorf("invalid device %q", raw)
			}
			spec.DeviceIndex = idx
		}
	case string(types.SourceFile):
		spec.Kind = types.SourceFile
		file, header, err := r.FormFile("video")
		if err != nil {
			return capture.Spec{}, capture.ErrEmptyUpload
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return capture.Spec{}, fmt.Errorf("read upload: %w", err)
		}
		spec.Upload = data
		spec.Name = header.Filename
	default:
		return capture.Spec{}, fmt.Errorf("unknown source %q", r.FormValue("source"))
	}
	return spec, spec.Validate()
}

// respondAction answers a control request with JSON for API clients and a
// redirect back to the dashboard for form posts.
func (s *Server) respondAction(w http.ResponseWriter, r *http.Request, status int, payload map[string]any, err error) {
	if wantsJSON(r) {
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
			return
		}
		writeJSONWithStatus(w, payload, status)
		return
	}

	target := "/"
	if err != nil {
		target = "/?" + url.Values{"notice": {err.Error()}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return true
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/json"
}

func (s *Server) statusPayload() map[string]any {
	monitorStats, latest, history := s.deps.Monitor.Snapshot()
	return map[string]any{
		"monitor":           monitorStats,
		"latest_detection":  latest,
		"detection_history": history,
		"run":               s.deps.Controller.Status(),
		"recording":         s.deps.Recorder.GetStatus(),
		"stream_clients":    s.deps.Frames.Clients(),
		"timestamp":         float64(time.Now().Unix()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)
	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r))
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.deps.Detections.Subscribe()
	defer s.deps.Detections.Unsubscribe(id)
	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r))
}

func (s *Server) handleAlertsStream(w http.ResponseWriter, r *http.Request) {
	id, ch := s.deps.Alerts.Subscribe()
	defer s.deps.Alerts.Unsubscribe(id)
	streamSSE(r.Context(), w, "application/json", ch, func(b []byte) []byte { return b })
}

// wantsProtobuf negotiates the SSE payload format from the Accept header.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.LogPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "limit must be a positive integer"}, http.StatusBadRequest)
			return
		}
		limit = min(n, s.cfg.MaxLogLimit)
	}

	recent, err := s.deps.Store.Recent(r.Context(), limit)
	if err != nil {
		logger.Error("Server", "List violations: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "failed to list violations"}, http.StatusInternalServerError)
		return
	}
	total, err := s.deps.Store.Count(r.Context())
	if err != nil {
		logger.Error("Server", "Count violations: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "failed to count violations"}, http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"violations": recent,
		"total":      total,
		"limit":      limit,
	})
}

func (s *Server) handleViolation(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "uid"), 10, 64)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": ErrInvalidLogID.Error()}, http.StatusBadRequest)
		return
	}
	v, err := s.deps.Store.Get(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("Server", "Get violation %d: %v", uid, err)
		writeJSONWithStatus(w, map[string]any{"error": "failed to load violation"}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, v)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
