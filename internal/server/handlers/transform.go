package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/lagsearch/internal/errors"
	"github.com/3leaps/lagsearch/pkg/series"
)

// TransformResponse is returned by POST /series/transform.
type TransformResponse struct {
	ResultData series.Series `json:"result_data"`
}

// TransformHandler applies a stateless series transform.
func TransformHandler(w http.ResponseWriter, r *http.Request) {
	var req series.TransformRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	out, err := series.Apply(req)
	if err != nil {
		respondWithError(w, r, apperrors.BadRequest(err.Error(), err))
		return
	}
	writeJSON(w, http.StatusOK, TransformResponse{ResultData: out})
}
