package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/theerud/taskcore/internal/control"
	"github.com/theerud/taskcore/internal/core"
)

// createBatchRequest is the POST /v1/batches request body: a task
// batch (§3) plus whether the scheduler should run it in async mode.
type createBatchRequest struct {
	Batch core.TaskBatch `json:"batch"`
	Async bool           `json:"async"`
}

// createBatchResponse is returned immediately; the batch keeps running
// in the background and its outcome is fetched via GET.
type createBatchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handleCreateBatch starts a batch running and returns its id right
// away; the caller polls GET /v1/batches/{id} for the result.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Batch.Agent == "" {
		respondError(w, http.StatusBadRequest, "batch.agent is required")
		return
	}

	id := newBatchID()
	token := control.NewToken()
	rec := &batchRecord{id: id, status: "running", token: token, submittedAt: time.Now().UTC()}

	s.mu.Lock()
	s.batches[id] = rec
	s.mu.Unlock()

	go s.runBatch(id, req.Batch, req.Async, token)

	respondJSON(w, http.StatusAccepted, createBatchResponse{ID: id, Status: rec.status})
}

// runBatch drives the scheduler for one batch and records its terminal
// result, independent of the HTTP request that created it.
func (s *Server) runBatch(id string, batch core.TaskBatch, async bool, token *control.Token) {
	result := s.scheduler.Execute(context.Background(), batch, async, token, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.batches[id]
	if !ok {
		return
	}
	rec.status = "completed"
	rec.result = &result
}

// getBatchResponse is the GET /v1/batches/{id} response: the batch's
// current status plus its result once status is "completed".
type getBatchResponse struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Result *core.BatchResult `json:"result,omitempty"`
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")

	s.mu.RLock()
	rec, ok := s.batches[id]
	s.mu.RUnlock()
	if !ok {
		respondError(w, http.StatusNotFound, "unknown batch id")
		return
	}

	respondJSON(w, http.StatusOK, getBatchResponse{ID: rec.id, Status: rec.status, Result: rec.result})
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")

	s.mu.RLock()
	rec, ok := s.batches[id]
	s.mu.RUnlock()
	if !ok {
		respondError(w, http.StatusNotFound, "unknown batch id")
		return
	}

	rec.token.Cancel()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
