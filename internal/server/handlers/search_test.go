package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/lagsearch/internal/errors"
	"github.com/3leaps/lagsearch/pkg/executor"
	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/search"
)

func seriesJSON(values []float64) string {
	points := make([]string, len(values))
	for i, v := range values {
		ts := time.Date(2024, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		points[i] = fmt.Sprintf(`["%s", %g]`, ts, v)
	}
	return "[" + strings.Join(points, ",") + "]"
}

func startBody(config string) string {
	a := []float64{1, 3, 2, 5, 4, 6, 8, 7, 9, 11, 10, 12}
	b := []float64{5, 3, 4, 4, 6, 2, 3, 5, 4, 3, 6, 5}
	y := make([]float64, len(a))
	for i := range a {
		y[i] = 1 + 0.5*a[i] - 0.2*b[i] + 0.01*float64(i%3)
	}
	return fmt.Sprintf(`{"dependentVariable":{"name":"sales","data":%s},"regressors":{"a":%s,"b":%s},"config":%s}`,
		seriesJSON(y), seriesJSON(a), seriesJSON(b), config)
}

func newSearchRouter(t *testing.T) (http.Handler, *search.Controller) {
	t.Helper()
	c := search.New(jobregistry.NewStore(), executor.NewNative(), search.Options{Workers: 2})
	t.Cleanup(func() { c.Wait() })
	return searchRouter(c), c
}

func searchRouter(c *search.Controller) http.Handler {
	r := chi.NewRouter()
	NewSearch(c, nil).Routes(r)
	r.Post("/series/transform", TransformHandler)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPError {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func startJob(t *testing.T, h http.Handler, config string) StartResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/search/start", startBody(config))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp StartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.JobID)
	return resp
}

func waitFinished(t *testing.T, c *search.Controller, jobID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := c.Progress(jobID, false)
		return err == nil && snap.Status == jobregistry.JobStateFinished
	}, 10*time.Second, 10*time.Millisecond)
}

func TestSearch_StartAndProgress(t *testing.T) {
	h, c := newSearchRouter(t)

	started := startJob(t, h, `{"constantStatus":"include","maxLagDepth":1}`)
	assert.Equal(t, 9, started.TotalModels)
	waitFinished(t, c, started.JobID)

	rec := do(t, h, http.MethodGet, "/search/progress/"+started.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap jobregistry.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, jobregistry.JobStateFinished, snap.Status)
	assert.Equal(t, 9, snap.Progress)
	assert.Equal(t, 9, snap.TotalModels)
	assert.Len(t, snap.Results, 9)
	assert.Nil(t, snap.Error)
	assert.JSONEq(t, `{"constantStatus":"include","maxLagDepth":1}`, string(snap.Config))

	rec = do(t, h, http.MethodGet, "/search/progress/"+started.JobID+"?results=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap = jobregistry.Snapshot{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Empty(t, snap.Results)
	assert.Equal(t, 9, snap.Progress)
}

func TestSearch_StartRejectsBadInput(t *testing.T) {
	h, _ := newSearchRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed json", `{"dependentVariable":`},
		{"unknown policy", startBody(`{"constantStatus":"sometimes"}`)},
		{"negative lag", startBody(`{"maxLagDepth":-1}`)},
		{"everything excluded", startBody(`{"constantStatus":"exclude","exclude":["*"]}`)},
		{"missing dependent", `{"regressors":{"a":[["2024-01-01",1]]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/search/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, apperrors.CodeBadRequest, decodeError(t, rec).Code)
		})
	}
}

func TestSearch_Plan(t *testing.T) {
	h, _ := newSearchRouter(t)

	rec := do(t, h, http.MethodPost, "/search/plan", startBody(`{"constantStatus":"test","maxLagDepth":"2","exclude":["b"]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var plan search.Plan
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&plan))
	assert.Equal(t, int64(7), plan.TotalModels)
	assert.Equal(t, []string{"a"}, plan.Regressors)
	assert.Equal(t, 2, plan.MaxLagDepth)

	rec = do(t, h, http.MethodGet, "/search/jobs", "")
	var jobs JobsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobs))
	assert.Empty(t, jobs.Jobs, "planning never creates a job")
}

func TestSearch_PauseAndStop(t *testing.T) {
	h, c := newSearchRouter(t)
	started := startJob(t, h, `{"maxLagDepth":0}`)
	waitFinished(t, c, started.JobID)

	rec := do(t, h, http.MethodPost, "/search/pause/"+started.JobID, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/search/pause/"+started.JobID, `{"pause":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "finished jobs cannot be paused")

	rec = do(t, h, http.MethodPost, "/search/pause/missing", `{"pause":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for i := 0; i < 2; i++ {
		rec = do(t, h, http.MethodPost, "/search/stop/"+started.JobID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var st StatusResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
		assert.Equal(t, jobregistry.JobStateFinished, st.Status)
	}

	rec = do(t, h, http.MethodPost, "/search/stop/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Code)

	rec = do(t, h, http.MethodGet, "/search/progress/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/search/progress/%20", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "blank job id")
	assert.Equal(t, apperrors.CodeBadRequest, decodeError(t, rec).Code)
}

func TestSearch_Jobs(t *testing.T) {
	h, c := newSearchRouter(t)
	first := startJob(t, h, `{"maxLagDepth":0}`)
	waitFinished(t, c, first.JobID)
	second := startJob(t, h, `{"maxLagDepth":0}`)
	waitFinished(t, c, second.JobID)

	rec := do(t, h, http.MethodGet, "/search/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs JobsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobs))
	require.Len(t, jobs.Jobs, 2)
	ids := []string{jobs.Jobs[0].JobID, jobs.Jobs[1].JobID}
	assert.ElementsMatch(t, []string{first.JobID, second.JobID}, ids)
}

func TestSearch_Decompose(t *testing.T) {
	h, c := newSearchRouter(t)
	started := startJob(t, h, `{"maxLagDepth":1}`)
	waitFinished(t, c, started.JobID)

	path := "/decomposition/" + started.JobID + "/m_4"
	spec := `{"regressors_with_lags":{"a":0,"b":1},"include_constant":true}`

	for _, body := range []string{`{"modelSpecification":` + spec + `}`, spec} {
		rec := do(t, h, http.MethodPost, path, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var dec map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&dec))
		assert.Contains(t, dec, "actual_y")
		assert.Contains(t, dec, "predicted_y")
		assert.Contains(t, dec, "contributions")
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown job", "/decomposition/missing/m_1", spec, http.StatusNotFound},
		{"malformed body", path, `not json`, http.StatusBadRequest},
		{"unknown regressor", path, `{"regressors_with_lags":{"zzz":0}}`, http.StatusBadRequest},
		{"lag too deep", path, `{"regressors_with_lags":{"a":5}}`, http.StatusBadRequest},
		{"lags not an object", path, `{"regressors_with_lags":[1,2]}`, http.StatusBadRequest},
		{"empty object", path, `{}`, http.StatusBadRequest},
		{"unrelated fields", path, `{"foo":1}`, http.StatusBadRequest},
		{"null model specification", path, `{"modelSpecification":null}`, http.StatusBadRequest},
		{"constant without regressors", path, `{"modelSpecification":{"include_constant":true}}`, http.StatusBadRequest},
		{"null regressors", path, `{"regressors_with_lags":null}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestTransformHandler(t *testing.T) {
	h, _ := newSearchRouter(t)

	rec := do(t, h, http.MethodPost, "/series/transform",
		`{"operation":"diff_abs","series_data":[["2024-01-01",1],["2024-02-01",4],["2024-03-01",9]],"periods":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ResultData [][2]any `json:"result_data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.ResultData, 3)
	assert.Nil(t, resp.ResultData[0][1])
	assert.EqualValues(t, 3, resp.ResultData[1][1])
	assert.EqualValues(t, 5, resp.ResultData[2][1])

	rec = do(t, h, http.MethodPost, "/series/transform", `{"operation":"cube"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/series/transform", `{"operation":"diff_abs","series_data":[["2024-01-01",1]],"periods":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
