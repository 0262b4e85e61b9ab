// Package errors maps application errors onto HTTP error envelopes.
//
// Envelopes are built with gofulmen's error envelope type and rendered as
// {"error": {"code", "message", "details", "request_id"}}.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/search"
	"github.com/3leaps/lagsearch/pkg/series"
)

// Error codes used in HTTP responses.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under the "error" key.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// Error is an application error with an HTTP status attached.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func BadRequest(message string, err error) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

func NotFound(message string, err error) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: message, Err: err}
}

func Conflict(message string, err error) *Error {
	return &Error{Status: http.StatusConflict, Code: CodeConflict, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

func ServiceUnavailable(message string, details map[string]any) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// Classify maps err onto an Error. Errors that are already *Error pass
// through; known sentinels get their status; anything else is internal.
func Classify(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, jobregistry.ErrJobNotFound):
		return NotFound(err.Error(), nil)
	case stderrors.Is(err, jobregistry.ErrInvalidTransition),
		stderrors.Is(err, jobregistry.ErrInvalidJobID):
		return BadRequest(err.Error(), nil)
	case stderrors.Is(err, jobregistry.ErrAlreadyAttached):
		return Conflict(err.Error(), nil)
	case stderrors.Is(err, search.ErrInvalidConfig),
		stderrors.Is(err, search.ErrInvalidSpecification),
		stderrors.Is(err, modelspace.ErrUnknownPolicy),
		stderrors.Is(err, series.ErrEmpty),
		stderrors.Is(err, series.ErrBadPoint),
		stderrors.Is(err, series.ErrUnknownTransform):
		return BadRequest(err.Error(), nil)
	default:
		return Internal("internal server error", err)
	}
}

// NewEnvelope builds a gofulmen envelope for e, tagged with the request id.
func NewEnvelope(e *Error, requestID string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(e.Details) > 0 {
		if withCtx, err := env.WithContext(e.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// FromEnvelope flattens a gofulmen envelope into the response body.
// Envelope context becomes details.
func FromEnvelope(env *gferrors.ErrorEnvelope) HTTPError {
	var wire struct {
		Code          string         `json:"code"`
		Message       string         `json:"message"`
		Details       map[string]any `json:"details"`
		Context       map[string]any `json:"context"`
		CorrelationID string         `json:"correlation_id"`
	}
	if env == nil {
		return HTTPError{Code: CodeInternal, Message: "internal server error"}
	}
	data, err := json.Marshal(env)
	if err != nil || json.Unmarshal(data, &wire) != nil {
		return HTTPError{Code: CodeInternal, Message: "internal server error"}
	}

	out := HTTPError{Code: wire.Code, Message: wire.Message, RequestID: wire.CorrelationID}
	if len(wire.Details) > 0 || len(wire.Context) > 0 {
		out.Details = make(map[string]any, len(wire.Details)+len(wire.Context))
		for k, v := range wire.Details {
			out.Details[k] = v
		}
		for k, v := range wire.Context {
			out.Details[k] = v
		}
	}
	return out
}

// WriteEnvelope writes env as a JSON error response with the given status.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	writeJSON(w, FromEnvelope(env), status)
}

func writeJSON(w http.ResponseWriter, body HTTPError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}

// RespondWithError classifies err and writes the matching response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	e := Classify(err)
	body := FromEnvelope(NewEnvelope(e, RequestIDFromContext(r.Context())))
	for k, v := range e.Details {
		if body.Details == nil {
			body.Details = make(map[string]any, len(e.Details))
		}
		if _, ok := body.Details[k]; !ok {
			body.Details[k] = v
		}
	}
	writeJSON(w, body, e.Status)
}

type requestIDKey struct{}

// WithRequestID stores a request id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
