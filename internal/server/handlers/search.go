package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/lagsearch/internal/errors"
	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/search"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 64 << 20

// StartResponse is returned by POST /search/start.
type StartResponse struct {
	JobID       string `json:"jobId"`
	TotalModels int    `json:"totalModels"`
}

// StatusResponse is returned by pause and stop.
type StatusResponse struct {
	JobID  string               `json:"jobId"`
	Status jobregistry.JobState `json:"status"`
}

// JobsResponse is returned by GET /search/jobs.
type JobsResponse struct {
	Jobs []jobregistry.Summary `json:"jobs"`
}

// PauseRequest is the body of POST /search/pause/{jobId}.
type PauseRequest struct {
	Pause *bool `json:"pause"`
}

// Search serves the job lifecycle endpoints.
type Search struct {
	controller *search.Controller
	logger     *zap.Logger
}

func NewSearch(controller *search.Controller, logger *zap.Logger) *Search {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Search{controller: controller, logger: logger}
}

// Routes mounts the search and decomposition endpoints on r.
func (h *Search) Routes(r chi.Router) {
	r.Route("/search", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/plan", h.Plan)
		r.Get("/jobs", h.Jobs)
		r.Get("/progress/{jobId}", h.Progress)
		r.Post("/pause/{jobId}", h.Pause)
		r.Post("/stop/{jobId}", h.Stop)
	})
	r.Post("/decomposition/{jobId}/{modelId}", h.Decompose)
}

func (h *Search) Start(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	job, err := h.controller.Start(req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{JobID: job.ID(), TotalModels: len(job.Specifications())})
}

func (h *Search) Plan(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	plan, err := h.controller.Plan(req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Search) Jobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: h.controller.List()})
}

// Progress returns the job snapshot. ?results=false omits the results map.
func (h *Search) Progress(w http.ResponseWriter, r *http.Request) {
	include := true
	if raw := r.URL.Query().Get("results"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, r, apperrors.BadRequest(fmt.Sprintf("invalid results flag %q", raw), err))
			return
		}
		include = v
	}
	snap, err := h.controller.Progress(chi.URLParam(r, "jobId"), include)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Search) Pause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.Pause == nil {
		respondWithError(w, r, apperrors.BadRequest("pause flag is required", nil))
		return
	}
	jobID := chi.URLParam(r, "jobId")
	st, err := h.controller.Pause(jobID, *req.Pause)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{JobID: jobID, Status: st})
}

func (h *Search) Stop(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	st, err := h.controller.Stop(jobID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{JobID: jobID, Status: st})
}

// Decompose accepts {"modelSpecification": {...}} or a bare specification.
func (h *Search) Decompose(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ModelSpecification *json.RawMessage `json:"modelSpecification"`
	}
	raw, err := readBody(w, r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		respondWithError(w, r, apperrors.BadRequest("malformed JSON body", err))
		return
	}
	specRaw := json.RawMessage(raw)
	if body.ModelSpecification != nil {
		specRaw = *body.ModelSpecification
	}
	var spec modelspace.Specification
	if err := json.Unmarshal(specRaw, &spec); err != nil {
		respondWithError(w, r, apperrors.BadRequest("malformed model specification: "+err.Error(), err))
		return
	}

	jobID, modelID := chi.URLParam(r, "jobId"), chi.URLParam(r, "modelId")
	dec, err := h.controller.Decompose(jobID, modelID, spec)
	if err != nil {
		h.logger.Debug("decomposition rejected", zap.String("job_id", jobID), zap.String("model_id", modelID), zap.Error(err))
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.BadRequest(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil)
		}
		return nil, apperrors.BadRequest("read request body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperrors.BadRequest("request body is empty", nil)
	}
	return data, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.BadRequest("malformed JSON body: "+err.Error(), err)
	}
	return nil
}
