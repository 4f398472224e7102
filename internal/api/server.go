// Package api exposes the classifier over HTTP: predictions, feedback,
// learning statistics, health and manual checkpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"

	"gender-classifier/internal/checkpoint"
	"gender-classifier/internal/ledger"
	"gender-classifier/internal/metrics"
	"gender-classifier/internal/ml"
	"gender-classifier/internal/online"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	feedbackMessage = "Model learned from your feedback instantly! (No data saved)"
	saveMessage     = "Model saved successfully!"
)

// Service is the part of online.Service the API needs.
type Service interface {
	Predict(ctx context.Context, image []byte) (ml.PredictionResult, error)
	Feedback(ctx context.Context, req online.FeedbackRequest) (online.FeedbackResult, error)
	Stats(ctx context.Context) (ledger.Stats, error)
	SaveModel(ctx context.Context) (checkpoint.Result, error)
	Checkpoints() []checkpoint.Entry
	ModelLoaded() bool
}

// Options configures the API.
type Options struct {
	// MaxUploadMB caps the multipart body size.
	MaxUploadMB int
	// CORSOrigin is sent as Access-Control-Allow-Origin; empty disables CORS.
	CORSOrigin string
	// Metrics records per-route request metrics when set.
	Metrics *metrics.Metrics
}

// Server holds the handlers.
type Server struct {
	svc      Service
	maxBytes int64
	cors     bool
}

// PredictResponse is returned by POST /api/predict.
type PredictResponse struct {
	Gender     string  `json:"gender"`
	Confidence float64 `json:"confidence"`
	Success    bool    `json:"success"`
}

// FeedbackResponse is returned by POST /api/feedback.
type FeedbackResponse struct {
	Success         bool               `json:"success"`
	Message         string             `json:"message"`
	TotalFeedback   int                `json:"total_feedback"`
	TrainingLoss    float64            `json:"training_loss"`
	PrivacySafe     bool               `json:"privacy_safe"`
	Checkpoint      *checkpoint.Result `json:"checkpoint,omitempty"`
	CheckpointError string             `json:"checkpoint_error,omitempty"`
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	ledger.Stats
	PrivacySafe bool `json:"privacy_safe"`
	DataStored  bool `json:"data_stored"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// SaveResponse is returned by POST /api/save-model.
type SaveResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	BackupCreated *string `json:"backup_created"`
}

// CheckpointsResponse is returned by GET /api/checkpoints.
type CheckpointsResponse struct {
	Checkpoints []checkpoint.Entry `json:"checkpoints"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

func NewServer(svc Service, opts Options) *Server {
	maxMB := opts.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 10
	}
	return &Server{
		svc:      svc,
		maxBytes: int64(maxMB) << 20,
		cors:     opts.CORSOrigin != "",
	}
}

// NewRouter builds a router with the API routes and middleware installed.
// Callers may register further routes on it.
func NewRouter(svc Service, opts Options) *mux.Router {
	s := NewServer(svc, opts)

	r := mux.NewRouter()
	r.Use(requestIDMiddleware, loggingMiddleware, metricsMiddleware(opts.Metrics))
	if opts.CORSOrigin != "" {
		r.Use(corsMiddleware(opts.CORSOrigin))
	}
	s.Register(r)
	return r
}

// Register adds the API routes to r.
func (s *Server) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/predict", s.handlePredict).Methods(s.methods(http.MethodPost)...)
	api.HandleFunc("/feedback", s.handleFeedback).Methods(s.methods(http.MethodPost)...)
	api.HandleFunc("/stats", s.handleStats).Methods(s.methods(http.MethodGet)...)
	api.HandleFunc("/health", s.handleHealth).Methods(s.methods(http.MethodGet)...)
	api.HandleFunc("/save-model", s.handleSaveModel).Methods(s.methods(http.MethodPost)...)
	api.HandleFunc("/checkpoints", s.handleCheckpoints).Methods(s.methods(http.MethodGet)...)
}

// methods adds OPTIONS so preflight requests reach the CORS middleware.
func (s *Server) methods(m string) []string {
	if s.cors {
		return []string{m, http.MethodOptions}
	}
	return []string{m}
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	img, err := s.readImage(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.svc.Predict(r.Context(), img)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		Gender:     res.Label.String(),
		Confidence: round2(res.ConfidencePercent),
		Success:    true,
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	img, err := s.readImage(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.svc.Feedback(r.Context(), online.FeedbackRequest{
		Image:              img,
		Label:              r.FormValue("correctGender"),
		PreviousPrediction: r.FormValue("prediction"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := FeedbackResponse{
		Success:       true,
		Message:       feedbackMessage,
		TotalFeedback: res.TotalFeedback,
		TrainingLoss:  res.TrainingLoss,
		PrivacySafe:   true,
		Checkpoint:    res.Checkpoint,
	}
	if res.CheckpointErr != nil {
		resp.CheckpointError = res.CheckpointErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatsResponse(st))
}

// NewStatsResponse rounds accuracy and adds the privacy flags.
func NewStatsResponse(st ledger.Stats) StatsResponse {
	st.Accuracy = round2(st.Accuracy)
	return StatsResponse{Stats: st, PrivacySafe: true, DataStored: false}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", ModelLoaded: s.svc.ModelLoaded()})
}

func (s *Server) handleSaveModel(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.SaveModel(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := SaveResponse{Success: true, Message: saveMessage}
	if res.Backup != "" {
		name := filepath.Base(res.Backup)
		resp.BackupCreated = &name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	entries := s.svc.Checkpoints()
	if entries == nil {
		entries = []checkpoint.Entry{}
	}
	writeJSON(w, http.StatusOK, CheckpointsResponse{Checkpoints: entries})
}

// readImage returns the bytes of the multipart "image" field.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	if err := r.ParseMultipartForm(s.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: image larger than %d bytes", ml.ErrInvalidInput, s.maxBytes)
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, fmt.Errorf("%w: No image provided", ml.ErrInvalidInput)
		}
		return nil, fmt.Errorf("%w: %v", ml.ErrInvalidInput, err)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("%w: No image provided", ml.ErrInvalidInput)
	}
	defer file.Close()

	if header.Filename == "" {
		return nil, fmt.Errorf("%w: No image selected", ml.ErrInvalidInput)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", ml.ErrInvalidInput, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: No image provided", ml.ErrInvalidInput)
	}
	return data, nil
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ml.ErrInvalidInput), errors.Is(err, ml.ErrInvalidLabel):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if errors.Is(err, ml.ErrInvalidLabel) {
		msg = "Invalid gender label"
	}

	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("request_id", RequestIDFrom(r.Context())).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Request failed")

	writeJSON(w, status, ErrorResponse{Error: msg, Success: false})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
