package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/PayRpc/translate-engine/internal/dispatch"
	"github.com/PayRpc/translate-engine/internal/imagesrc"
	"github.com/PayRpc/translate-engine/internal/metrics"
	"github.com/PayRpc/translate-engine/internal/taskqueue"
	"github.com/PayRpc/translate-engine/internal/taskstore"
)

// unaryRequest is the body of POST /v1/tasks and /v1/tasks/stream: an
// image given as a URL, a data URI, or raw base64 bytes, plus a nested
// config object. Raw bytes arrive base64-encoded like any other JSON
// string body would require; imagesrc.Decode treats a data-URI and a
// bare base64 payload identically via the same string path.
type unaryRequest struct {
	Image  string         `json:"image"`
	Config map[string]any `json:"config"`
}

// batchRequest is the body of POST /v1/tasks/batch.
type batchRequest struct {
	Images    []string       `json:"images"`
	Config    map[string]any `json:"config"`
	BatchSize int            `json:"batch_size"`
}

// requestLiveness adapts an in-flight *http.Request into a
// taskqueue.Liveness: its own context is cancelled the moment the
// underlying connection goes away.
type requestLiveness struct{ r *http.Request }

func (l requestLiveness) Disconnected(context.Context) bool {
	select {
	case <-l.r.Context().Done():
		return true
	default:
		return false
	}
}

func (s *Server) handleTranslateUnary(w http.ResponseWriter, r *http.Request) {
	var req unaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	img, err := imagesrc.Decode(req.Image)
	if err != nil {
		jsonError(w, s.logger, http.StatusUnprocessableEntity, err.Error())
		return
	}

	userID := resolveUserID(r)
	taskID := uuid.New().String()
	meta := map[string]any{"stream": false}

	if err := s.store.Create(r.Context(), taskID, userID, taskstore.ModeSingle, req.Config, meta); err != nil {
		jsonError(w, s.logger, http.StatusInternalServerError, "failed to create task")
		s.logger.Error("create task failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	item := &taskqueue.Item{TaskID: taskID, UserID: userID, Conn: requestLiveness{r}, Meta: meta}
	s.queue.Enqueue(item)
	metrics.TasksAdmitted.WithLabelValues(string(taskstore.ModeSingle)).Inc()

	result, err := s.loop.RunUnary(r.Context(), item, []image.Image{img}, req.Config)
	if err != nil {
		s.writeUnaryError(w, err)
		return
	}

	w.Header().Set("X-Task-Id", taskID)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

func (s *Server) handleTranslateStream(w http.ResponseWriter, r *http.Request) {
	var req unaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	img, err := imagesrc.Decode(req.Image)
	if err != nil {
		jsonError(w, s.logger, http.StatusUnprocessableEntity, err.Error())
		return
	}

	userID := resolveUserID(r)
	taskID := uuid.New().String()
	meta := map[string]any{"stream": true}

	if err := s.store.Create(r.Context(), taskID, userID, taskstore.ModeStream, req.Config, meta); err != nil {
		jsonError(w, s.logger, http.StatusInternalServerError, "failed to create task")
		s.logger.Error("create task failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	item := &taskqueue.Item{TaskID: taskID, UserID: userID, Conn: requestLiveness{r}, Meta: meta}
	s.queue.Enqueue(item)
	metrics.TasksAdmitted.WithLabelValues(string(taskstore.ModeStream)).Inc()

	w.Header().Set("X-Task-Id", taskID)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	emit := func(b []byte) {
		w.Write(b)
		if canFlush {
			flusher.Flush()
		}
		if s.hub != nil {
			s.hub.Publish(taskID, b)
		}
	}

	if err := s.loop.RunStreaming(r.Context(), item, []image.Image{img}, req.Config, emit); err != nil {
		s.logger.Error("streaming dispatch failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (s *Server) handleTranslateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = s.cfg.DefaultBatchSize
	}

	srcs := make([]any, len(req.Images))
	for i, im := range req.Images {
		srcs[i] = im
	}
	images, err := imagesrc.DecodeAll(srcs)
	if err != nil {
		jsonError(w, s.logger, http.StatusUnprocessableEntity, err.Error())
		return
	}

	userID := resolveUserID(r)
	taskID := uuid.New().String()
	meta := map[string]any{
		"stream":       false,
		"total_images": len(images),
		"batch_size":   req.BatchSize,
	}

	if err := s.store.Create(r.Context(), taskID, userID, taskstore.ModeBatch, req.Config, meta); err != nil {
		jsonError(w, s.logger, http.StatusInternalServerError, "failed to create task")
		s.logger.Error("create task failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	item := &taskqueue.Item{
		TaskID: taskID, UserID: userID, Conn: requestLiveness{r}, Meta: meta,
		Batch: &taskqueue.BatchInfo{ImageCount: len(images), BatchSize: req.BatchSize},
	}
	s.queue.Enqueue(item)
	metrics.TasksAdmitted.WithLabelValues(string(taskstore.ModeBatch)).Inc()

	result, err := s.loop.RunUnary(r.Context(), item, images, req.Config)
	if err != nil {
		s.writeUnaryError(w, err)
		return
	}

	w.Header().Set("X-Task-Id", taskID)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

func (s *Server) writeUnaryError(w http.ResponseWriter, err error) {
	if errors.Is(err, dispatch.ErrClientGone) {
		jsonError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	var failErr *dispatch.FailureError
	if errors.As(err, &failErr) {
		jsonError(w, s.logger, http.StatusBadGateway, failErr.Message)
		return
	}
	jsonError(w, s.logger, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	userID := resolveUserID(r)

	rec, err := s.store.Get(r.Context(), userID, taskID)
	if err != nil {
		jsonError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		jsonError(w, s.logger, http.StatusNotFound, "task not found")
		return
	}
	jsonResponse(w, s.logger, http.StatusOK, rec)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r)
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := s.store.List(r.Context(), userID, limit)
	if err != nil {
		jsonError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, s.logger, http.StatusOK, recs)
}
