package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mlops/inference"
)

const serviceName = "MLOps Model Inference API"

// PredictionResponse is the body of every /predict reply, including errors
// reported in band.
type PredictionResponse struct {
	Prediction  int     `json:"prediction"`
	Probability float64 `json:"probability"`
	Message     string  `json:"message"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
}

type rootResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

type endpointDoc struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Summary string `json:"summary"`
}

type docsResponse struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Version        string            `json:"version"`
	Endpoints      []endpointDoc     `json:"endpoints"`
	PredictExample inference.Request `json:"predict_example"`
}

// Handler serves the prediction API from a State fixed at construction time.
type Handler struct {
	State *inference.State
	// Observer is told about every successful prediction; may be nil.
	Observer inference.Observer
	// Stream serves the websocket event feed; the route is omitted when nil.
	Stream http.Handler
	Logger *zap.Logger
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /docs", h.handleDocs)
	if h.Stream != nil {
		mux.Handle("GET /ws/predictions", h.Stream)
	}
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, rootResponse{
		Name:    serviceName,
		Version: inference.Version,
		Endpoints: map[string]string{
			"health":  "/health",
			"predict": "/predict",
			"docs":    "/docs",
		},
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		ModelLoaded: h.State.Loaded(),
		Version:     inference.Version,
	})
}

func (h *Handler) handleDocs(w http.ResponseWriter, r *http.Request) {
	endpoints := []endpointDoc{
		{Method: http.MethodGet, Path: "/", Summary: "API information"},
		{Method: http.MethodGet, Path: "/health", Summary: "Service status and whether the model is loaded"},
		{Method: http.MethodPost, Path: "/predict", Summary: "Predict the class of one row of four features"},
		{Method: http.MethodGet, Path: "/docs", Summary: "This document"},
	}
	if h.Stream != nil {
		endpoints = append(endpoints, endpointDoc{Method: http.MethodGet, Path: "/ws/predictions", Summary: "Websocket feed of predictions"})
	}
	respondJSON(w, http.StatusOK, docsResponse{
		Title:          "MLOps Model API",
		Description:    "ML Model Inference API for predictions",
		Version:        inference.Version,
		Endpoints:      endpoints,
		PredictExample: inference.ExampleRequest(),
	})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	req, problems := decodePredictionRequest(r.Body)
	if len(problems) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, validationErrorResponse{Detail: problems})
		return
	}

	if !h.State.Loaded() {
		respondJSON(w, http.StatusOK, PredictionResponse{Prediction: -1, Probability: 0.0, Message: "Model not loaded"})
		return
	}

	requestID := GetRequestID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}

	result := h.State.Predict(req.Vector())
	if !result.OK() {
		h.Logger.Error("error during prediction", zap.String("request_id", requestID), zap.Error(result.Err))
		respondJSON(w, http.StatusOK, PredictionResponse{
			Prediction:  -1,
			Probability: 0.0,
			Message:     fmt.Sprintf("Error: %v", result.Err),
		})
		return
	}

	h.Logger.Info("prediction made",
		zap.String("request_id", requestID),
		zap.Int("prediction", result.Label),
		zap.Float64("probability", result.Probability))

	if h.Observer != nil {
		h.Observer.ObservePrediction(inference.Event{
			RequestID:   requestID,
			Request:     req,
			Prediction:  result.Label,
			Probability: result.Probability,
			Timestamp:   time.Now(),
		})
	}

	respondJSON(w, http.StatusOK, PredictionResponse{
		Prediction:  result.Label,
		Probability: result.Probability,
		Message:     fmt.Sprintf("Successfully predicted class %d", result.Label),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
