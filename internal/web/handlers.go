package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/service"
)

// maxRequestBody bounds task creation payloads.
const maxRequestBody = 1 << 20

// TaskResponse is the JSON view of a ledger row.
type TaskResponse struct {
	ID           string          `json:"id"`
	Stage        string          `json:"stage"`
	Mode         string          `json:"mode"`
	Prompt       string          `json:"prompt"`
	MaxSubtopics int             `json:"max_subtopics,omitempty"`
	Source       string          `json:"source,omitempty"`
	FileRefs     []string        `json:"file_refs,omitempty"`
	Subtopics    []core.Subtopic `json:"subtopics,omitempty"`
	// SubtopicsRaw is only set when the stored list cannot be parsed.
	SubtopicsRaw string    `json:"subtopics_raw,omitempty"`
	OutputRef    string    `json:"output_ref,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Notes        []string  `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toTaskResponse(t *core.Task) TaskResponse {
	resp := TaskResponse{
		ID:           string(t.ID),
		Stage:        string(t.Stage),
		Mode:         string(t.Mode),
		Prompt:       t.Prompt,
		MaxSubtopics: t.MaxSubtopics,
		Source:       t.Source,
		FileRefs:     t.FileRefs,
		OutputRef:    t.OutputRef,
		ErrorMessage: t.ErrorMessage,
		Notes:        t.Notes,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if subs, err := t.Subtopics(); err != nil {
		resp.SubtopicsRaw = t.SubtopicsRaw
	} else {
		resp.Subtopics = subs
	}
	return resp
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps err to a status code and sends it.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	respondError(w, status, err.Error())
}

// httpStatusForDomainError returns the status for a DomainError, or false
// if err is not one.
func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	if domErr.Code == "TASK_EXISTS" {
		return http.StatusConflict, true
	}
	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatState:
		return http.StatusConflict, true
	case core.ErrCatAuth:
		return http.StatusUnauthorized, true
	case core.ErrCatRateLimit:
		return http.StatusTooManyRequests, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	default:
		return http.StatusInternalServerError, true
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAPIRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": "v1", "name": "docforge-api"})
}

// handleInvoke runs one invocation of a phase and returns its report. A
// busy lock is a successful no-op with outcome "locked".
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	phase := core.Phase(chi.URLParam(r, "phase"))
	if !core.ValidPhase(phase) {
		respondError(w, http.StatusNotFound, "unknown phase: "+string(phase))
		return
	}

	// The slice runs to its own budget even if the caller disconnects.
	rep, err := s.pipeline.Invoke(context.WithoutCancel(r.Context()), phase)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.ledger.Scan(r.Context())
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	stage := r.URL.Query().Get("stage")
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		if stage != "" && string(t.Stage) != stage {
			continue
		}
		out = append(out, toTaskResponse(t))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req service.TaskRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	task, err := service.CreateTask(r.Context(), s.ledger, req)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.logger.Info("task created", slog.String("task_id", string(task.ID)))
	respondJSON(w, http.StatusCreated, toTaskResponse(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.ledger.Get(r.Context(), core.TaskID(chi.URLParam(r, "id")))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	s.operate(w, r, s.pipeline.Cancel)
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	s.operate(w, r, s.pipeline.Retry)
}

func (s *Server) operate(w http.ResponseWriter, r *http.Request, op func(context.Context, core.TaskID) (*core.Task, error)) {
	task, err := op(r.Context(), core.TaskID(chi.URLParam(r, "id")))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTaskResponse(task))
}
