package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/lagsearch/pkg/modelspace"
)

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123")

	assert.NotNil(t, w)
	assert.Equal(t, "job-123", w.jobID)
}

func TestJSONLWriter_WriteResult(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123")

	err := w.WriteResult(context.Background(), &ResultRecord{
		Seq:     4,
		ModelID: "m_4",
		Status:  "completed",
		Data:    json.RawMessage(`{"is_valid":true}`),
	})
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypeResult, record.Type)
	assert.Equal(t, "job-123", record.JobID)
	assert.False(t, record.TS.IsZero())

	var res ResultRecord
	require.NoError(t, record.Decode(TypeResult, &res))
	assert.Equal(t, "m_4", res.ModelID)
	assert.JSONEq(t, `{"is_valid":true}`, string(res.Data))

	assert.Error(t, record.Decode(TypeFit, &res))
}

func TestJSONLWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "")
	require.NoError(t, w.Close())

	err := w.WriteProgress(context.Background(), &ProgressRecord{Status: "running"})
	assert.True(t, errors.Is(err, ErrWriterClosed))
}

func TestJSONLWriter_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteSummary(ctx, &SummaryRecord{Status: "finished"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_ConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.WriteProgress(context.Background(), &ProgressRecord{Status: "running", Progress: i, TotalModels: 50})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, TypeProgress, rec.Type)
	}
}

type shortWriter struct {
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return s.buf.Write(p)
}

func TestJSONLWriter_HandlesShortWrites(t *testing.T) {
	sw := &shortWriter{}
	w := NewJSONLWriter(sw, "job")
	require.NoError(t, w.WriteError(context.Background(), &ErrorRecord{Code: ErrCodeInternal, Message: "boom"}))

	var rec Record
	require.NoError(t, json.Unmarshal(sw.buf.Bytes(), &rec))
	assert.Equal(t, TypeError, rec.Type)
}

func TestDecoder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "")
	ctx := context.Background()

	spec := modelspace.Specification{ID: "m_2", Regressors: []modelspace.Lag{{Name: "b", Lag: 1}, {Name: "a", Lag: 0}}, IncludeConstant: true}
	require.NoError(t, w.Write(ctx, TypeFit, &FitRecord{Seq: 1, Specification: spec}))
	buf.WriteString("\n")
	require.NoError(t, w.Write(ctx, TypeReady, &ReadyRecord{PID: 42}))

	d := NewDecoder(&buf)

	rec, err := d.Next()
	require.NoError(t, err)
	var fit FitRecord
	require.NoError(t, rec.Decode(TypeFit, &fit))
	assert.Equal(t, spec, fit.Specification)

	rec, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeReady, rec.Type)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_Limits(t *testing.T) {
	d := NewDecoder(strings.NewReader(`{"type":"x","data":"` + strings.Repeat("a", 100) + `"}` + "\n"))
	d.SetMaxLineBytes(32)
	_, err := d.Next()
	assert.ErrorIs(t, err, ErrLineTooLong)

	d = NewDecoder(strings.NewReader("not json\n"))
	_, err = d.Next()
	assert.Error(t, err)

	d = NewDecoder(strings.NewReader(`{"data":{}}` + "\n"))
	_, err = d.Next()
	assert.Error(t, err)
}
